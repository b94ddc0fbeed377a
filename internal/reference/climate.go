package reference

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dpeinsight/backend/pkg/utils"
)

//go:embed data/climate_zones.csv
var embeddedClimateZones []byte

// ClimateZoneTable maps a department code to its climate zone (H1, H2, H3).
// It is immutable once loaded and safe for concurrent reads
type ClimateZoneTable struct {
	zones map[string]string
}

// DefaultClimateZones loads the embedded table
func DefaultClimateZones() (*ClimateZoneTable, error) {
	return ReadClimateZones(bytes.NewReader(embeddedClimateZones))
}

// LoadClimateZones reads the table from path, or the embedded one when path is empty
func LoadClimateZones(path string) (*ClimateZoneTable, error) {
	if path == "" {
		return DefaultClimateZones()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reference: failed to open climate zones: %w", err)
	}
	defer f.Close()
	return ReadClimateZones(f)
}

// ReadClimateZones parses a "Departement,Zone climatique" CSV
func ReadClimateZones(r io.Reader) (*ClimateZoneTable, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reference: failed to read climate zones header: %w", err)
	}
	depIdx, zoneIdx := indexOf(header, "Departement"), indexOf(header, "Zone climatique")
	if depIdx < 0 || zoneIdx < 0 {
		return nil, fmt.Errorf("reference: climate zones header %v lacks Departement/Zone climatique", header)
	}

	zones := make(map[string]string)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reference: failed to read climate zones: %w", err)
		}
		dep := NormalizeDepartment(rec[depIdx])
		if dep == "" {
			continue
		}
		zones[dep] = strings.TrimSpace(rec[zoneIdx])
	}
	return &ClimateZoneTable{zones: zones}, nil
}

// Lookup returns the zone of a department. Corsican codes 2A and 2B resolve as 20
func (t *ClimateZoneTable) Lookup(department string) (string, bool) {
	zone, ok := t.zones[NormalizeDepartment(department)]
	return zone, ok
}

// Len returns the number of departments in the table
func (t *ClimateZoneTable) Len() int {
	return len(t.zones)
}

// NormalizeDepartment zero-pads numeric codes to 2 characters and folds the
// Corsican codes onto 20
func NormalizeDepartment(department string) string {
	dep := strings.ToUpper(strings.TrimSpace(department))
	switch {
	case dep == "2A" || dep == "2B":
		return "20"
	case utils.IsDigits(dep):
		return utils.ZeroPad(dep, 2)
	}
	return dep
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
			return i
		}
	}
	return -1
}

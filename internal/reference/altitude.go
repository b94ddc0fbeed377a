package reference

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/pkg/utils"
)

// CommuneAltitudeTable holds the mean altitude of each commune and the mean of
// those altitudes per department. Immutable once loaded
type CommuneAltitudeTable struct {
	communes    map[string]float64
	departments map[string]float64
}

// NewCommuneAltitudeTable builds the table from commune rows.
// Department means are computed over the communes that carry an altitude
func NewCommuneAltitudeTable(rows []CommuneAltitude) *CommuneAltitudeTable {
	t := &CommuneAltitudeTable{
		communes:    make(map[string]float64, len(rows)),
		departments: make(map[string]float64),
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range rows {
		insee := utils.ZeroPad(strings.TrimSpace(r.InseeCode), 5)
		t.communes[insee] = r.Altitude
		dep := utils.ZeroPad(strings.TrimSpace(r.Department), 2)
		sums[dep] += r.Altitude
		counts[dep]++
	}
	for dep, sum := range sums {
		t.departments[dep] = sum / float64(counts[dep])
	}
	return t
}

// CommuneAltitude is one row of the commune reference file
type CommuneAltitude struct {
	InseeCode  string
	Department string
	Altitude   float64
}

// LoadCommuneAltitudes reads the commune CSV at path. A missing file yields an
// empty table so the cleaner leaves altitudes unset
func LoadCommuneAltitudes(path string) (*CommuneAltitudeTable, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Commune altitude table not found, altitudes will stay empty", "path", path)
		return NewCommuneAltitudeTable(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reference: failed to open communes: %w", err)
	}
	defer f.Close()
	return ReadCommuneAltitudes(f)
}

// ReadCommuneAltitudes parses a CSV with code_insee, dep_code and
// altitude_moyenne columns. Extra columns are ignored; rows without an altitude are skipped
func ReadCommuneAltitudes(r io.Reader) (*CommuneAltitudeTable, error) {
	ds, err := domain.ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("reference: failed to read communes: %w", err)
	}
	for _, col := range []string{"code_insee", "dep_code", domain.ColAltitude} {
		if !ds.HasColumn(col) {
			return nil, fmt.Errorf("reference: communes file lacks column %q", col)
		}
	}

	rows := make([]CommuneAltitude, 0, ds.Len())
	for _, rec := range ds.Rows {
		alt, ok := rec.Float(domain.ColAltitude)
		if !ok {
			continue
		}
		insee, _ := rec.String("code_insee")
		dep, _ := rec.String("dep_code")
		rows = append(rows, CommuneAltitude{InseeCode: insee, Department: dep, Altitude: alt})
	}
	return NewCommuneAltitudeTable(rows), nil
}

// Commune returns the altitude of a commune by INSEE code
func (t *CommuneAltitudeTable) Commune(insee string) (float64, bool) {
	alt, ok := t.communes[insee]
	return alt, ok
}

// Department returns the mean commune altitude of a department
func (t *CommuneAltitudeTable) Department(dep string) (float64, bool) {
	alt, ok := t.departments[dep]
	return alt, ok
}

// Len returns the number of communes in the table
func (t *CommuneAltitudeTable) Len() int {
	return len(t.communes)
}

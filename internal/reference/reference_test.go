package reference

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedClimateZones(t *testing.T) {
	table, err := DefaultClimateZones()
	require.NoError(t, err)
	assert.Equal(t, 95, table.Len())

	tests := []struct {
		dep  string
		want string
	}{
		{"75", "H1"},
		{"69", "H1"},
		{"1", "H1"},
		{"33", "H2"},
		{"13", "H3"},
		{"2A", "H3"},
		{"2b", "H3"},
	}
	for _, tt := range tests {
		zone, ok := table.Lookup(tt.dep)
		assert.True(t, ok, tt.dep)
		assert.Equal(t, tt.want, zone, tt.dep)
	}

	_, ok := table.Lookup("971")
	assert.False(t, ok)
}

func TestNormalizeDepartment(t *testing.T) {
	assert.Equal(t, "20", NormalizeDepartment("2A"))
	assert.Equal(t, "20", NormalizeDepartment("2B"))
	assert.Equal(t, "01", NormalizeDepartment("1"))
	assert.Equal(t, "974", NormalizeDepartment("974"))
}

func TestReadClimateZonesRejectsBadHeader(t *testing.T) {
	_, err := ReadClimateZones(strings.NewReader("dep,zone\n01,H1\n"))
	assert.Error(t, err)
}

func TestCommuneAltitudes(t *testing.T) {
	csv := "code_insee,nom,dep_code,altitude_moyenne\n" +
		"69123,Lyon,69,237\n" +
		"69266,Villeurbanne,69,173\n" +
		"1001,L'Abergement,1,242\n" +
		"75056,Paris,75,\n"
	table, err := ReadCommuneAltitudes(strings.NewReader(csv))
	require.NoError(t, err)

	alt, ok := table.Commune("69123")
	require.True(t, ok)
	assert.Equal(t, 237.0, alt)

	alt, ok = table.Commune("01001")
	require.True(t, ok)
	assert.Equal(t, 242.0, alt)

	mean, ok := table.Department("69")
	require.True(t, ok)
	assert.InDelta(t, 205.0, mean, 1e-9)

	_, ok = table.Commune("75056")
	assert.False(t, ok)
	_, ok = table.Department("75")
	assert.False(t, ok)
}

func TestLoadCommuneAltitudesMissingFile(t *testing.T) {
	table, err := LoadCommuneAltitudes(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}

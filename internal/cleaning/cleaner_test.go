package cleaning

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeinsight/backend/internal/domain"
	"github.com/dpeinsight/backend/internal/reference"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

func newTestCleaner(t *testing.T) *Cleaner {
	t.Helper()
	zones, err := reference.DefaultClimateZones()
	require.NoError(t, err)
	altitudes := reference.NewCommuneAltitudeTable([]reference.CommuneAltitude{
		{InseeCode: "69123", Department: "69", Altitude: 237},
		{InseeCode: "69266", Department: "69", Altitude: 173},
		{InseeCode: "2A004", Department: "2A", Altitude: 38},
	})
	return NewCleaner(zones, altitudes,
		WithClock(fixedNow),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// rawRow returns a complete raw ADEME record located in Lyon.
func rawRow(overrides domain.Record) domain.Record {
	r := domain.Record{
		domain.ColTotalCost:        1200.0,
		domain.ColHeatingCost:      800.0,
		domain.ColLightingCost:     50.0,
		domain.ColCoolingCost:      0.0,
		domain.ColAuxiliaryCost:    60.0,
		domain.ColHotWaterCost:     290.0,
		domain.ColTotalConsumption: 9000.0,
		domain.ColHeatingConso:     6000.0,
		domain.ColLightingConso:    300.0,
		domain.ColAuxiliaryConso:   400.0,
		domain.ColHotWaterConso:    2300.0,
		domain.ColCoolingConso:     0.0,
		domain.ColLivingArea:       80.0,
		domain.ColFloorCount:       2.0,
		domain.ColBuildingType:     domain.BuildingHouse,
		domain.ColConstructionYear: 1975.0,
		domain.ColInseeCode:        "69123",
		domain.ColDepartment:       "69",
		domain.ColDPELabel:         "D",
		domain.ColGESLabel:         "E",
		domain.ColCityName:         "Lyon",
		domain.ColPostalCode:       "69001",
		domain.ColGESHeating:       1500.0,
		domain.ColGESLighting:      10.0,
		domain.ColGESHotWater:      300.0,
		domain.ColGESTotal:         1850.0,
		domain.ColGESAuxiliary:     40.0,
		domain.ColGESCooling:       0.0,
		domain.ColGeopoint:         "45.764,4.8357",
		domain.ColHeatingEnergy:    domain.HeatingNaturalGas,
		"numero_dpe":               "2369E0001",
	}
	for k, v := range overrides {
		r[k] = v
	}
	return r
}

func datasetOf(rows ...domain.Record) *domain.Dataset {
	return domain.NewDataset(rows)
}

func TestCleanDropsSurfaceOutlier(t *testing.T) {
	c := newTestCleaner(t)
	ds := datasetOf(
		rawRow(domain.Record{domain.ColLivingArea: 40.0}),
		rawRow(domain.Record{domain.ColLivingArea: 60.0}),
		rawRow(domain.Record{domain.ColLivingArea: 100000.0}),
		rawRow(domain.Record{domain.ColLivingArea: 80.0}),
		rawRow(domain.Record{domain.ColLivingArea: 120.0}),
	)

	out, report, err := c.Clean(ds)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())

	var areas []float64
	for _, r := range out.Rows {
		v, ok := r.Float(domain.ColLivingArea)
		require.True(t, ok)
		areas = append(areas, v)
	}
	assert.Equal(t, []float64{40, 60, 80, 120}, areas)
	assert.Equal(t, 5, report.RowsIn)
	assert.Equal(t, 4, report.RowsOut)
	assert.Len(t, report.Stages, 11)
}

func TestCleanOutputSchema(t *testing.T) {
	c := newTestCleaner(t)
	out, _, err := c.Clean(datasetOf(rawRow(nil)))
	require.NoError(t, err)

	var want []string
	for _, col := range RequiredColumns {
		if col != domain.ColGeopoint {
			want = append(want, col)
		}
	}
	want = append(want, domain.ColLatitude, domain.ColLongitude, domain.ColClimateZone, domain.ColAltitude)
	assert.Equal(t, want, out.Columns)

	row := out.Rows[0]
	assert.NotContains(t, row, "numero_dpe")
	assert.NotContains(t, row, domain.ColGeopoint)
	assert.Equal(t, "H1", row[domain.ColClimateZone])
	assert.Equal(t, 237.0, row[domain.ColAltitude])
}

func TestCleanTreatsInfiniteAsMissing(t *testing.T) {
	c := newTestCleaner(t)
	out, _, err := c.Clean(datasetOf(
		rawRow(domain.Record{domain.ColHotWaterConso: "inf"}),
		rawRow(domain.Record{domain.ColHotWaterConso: "-Inf", domain.ColDPELabel: "E"}),
	))
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	for _, r := range out.Rows {
		assert.Nil(t, r[domain.ColHotWaterConso])
	}
	assert.NotEqual(t, out.RowFingerprint(out.Rows[0]), out.RowFingerprint(out.Rows[1]))
}

func TestCleanSchemaError(t *testing.T) {
	c := newTestCleaner(t)
	row := rawRow(nil)
	delete(row, domain.ColTotalCost)
	delete(row, domain.ColGeopoint)

	_, _, err := c.Clean(datasetOf(row))

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{domain.ColTotalCost, domain.ColGeopoint}, schemaErr.Missing)
	assert.Contains(t, err.Error(), domain.ColTotalCost)
}

func TestConstructionYear(t *testing.T) {
	c := newTestCleaner(t)

	t.Run("absent column uses current year", func(t *testing.T) {
		row := rawRow(nil)
		delete(row, domain.ColConstructionYear)
		ds := datasetOf(row)

		require.NoError(t, c.constructionYear(ds))
		assert.Equal(t, 2025, ds.Rows[0][domain.ColConstructionYear])
		assert.Equal(t, 0, ds.Rows[0][domain.ColBuildingAge])
	})

	t.Run("missing values get the median", func(t *testing.T) {
		ds := datasetOf(
			rawRow(domain.Record{domain.ColConstructionYear: 1960.0}),
			rawRow(domain.Record{domain.ColConstructionYear: nil}),
			rawRow(domain.Record{domain.ColConstructionYear: "1980"}),
			rawRow(domain.Record{domain.ColConstructionYear: 2001.0}),
		)
		require.NoError(t, c.constructionYear(ds))

		assert.Equal(t, 1960, ds.Rows[0][domain.ColConstructionYear])
		assert.Equal(t, 1980, ds.Rows[1][domain.ColConstructionYear])
		assert.Equal(t, 45, ds.Rows[1][domain.ColBuildingAge])
		assert.Equal(t, 24, ds.Rows[3][domain.ColBuildingAge])
	})

	t.Run("all missing uses current year", func(t *testing.T) {
		ds := datasetOf(rawRow(domain.Record{domain.ColConstructionYear: nil}))
		require.NoError(t, c.constructionYear(ds))
		assert.Equal(t, 2025, ds.Rows[0][domain.ColConstructionYear])
	})
}

func TestCollapseEnergyTypes(t *testing.T) {
	c := newTestCleaner(t)
	var rows []domain.Record
	for i := 0; i < 100; i++ {
		energy := "Gaz naturel"
		switch {
		case i >= 90:
			energy = "Bois"
		case i >= 70:
			energy = "Électricité"
		}
		rows = append(rows, domain.Record{domain.ColHeatingEnergy: energy})
	}
	rows = append(rows, domain.Record{domain.ColHeatingEnergy: nil})
	ds := datasetOf(rows...)

	require.NoError(t, c.collapseEnergyTypes(ds))

	counts := map[any]int{}
	for _, r := range ds.Rows {
		counts[r[domain.ColHeatingEnergy]]++
	}
	assert.Equal(t, 70, counts["Gaz naturel"])
	assert.Equal(t, 20, counts["Électricité"])
	assert.Equal(t, 10, counts["Autre"])
	assert.Equal(t, 1, counts[nil])
	assert.Zero(t, counts["Bois"])
}

func TestCollapseEnergyTypesKeepsExactThreshold(t *testing.T) {
	c := newTestCleaner(t)
	var rows []domain.Record
	for i := 0; i < 20; i++ {
		energy := "Gaz naturel"
		if i < 3 {
			energy = "Fioul domestique"
		}
		rows = append(rows, domain.Record{domain.ColHeatingEnergy: energy})
	}
	ds := datasetOf(rows...)

	require.NoError(t, c.collapseEnergyTypes(ds))
	// 3/20 is exactly 15%
	assert.Equal(t, "Fioul domestique", ds.Rows[0][domain.ColHeatingEnergy])
}

func TestFilterIQRIsIdempotentOnFilteredColumn(t *testing.T) {
	var rows []domain.Record
	for _, v := range []float64{10, 11, 12, 13, 14, 100} {
		rows = append(rows, domain.Record{domain.ColTotalCost: v})
	}
	rows = append(rows, domain.Record{domain.ColTotalCost: nil})
	ds := datasetOf(rows...)

	assert.Equal(t, 2, FilterIQR(ds, domain.ColTotalCost))
	assert.Equal(t, 5, ds.Len())
	assert.Equal(t, 0, FilterIQR(ds, domain.ColTotalCost))
	assert.Equal(t, 5, ds.Len())
}

func TestQuantileLinear(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, Quantile(sorted, 0.25), 1e-9)
	assert.InDelta(t, 2.5, Quantile(sorted, 0.5), 1e-9)
	assert.InDelta(t, 3.25, Quantile(sorted, 0.75), 1e-9)
	assert.Equal(t, 7.0, Quantile([]float64{7}, 0.75))
}

func TestFloorCountBounds(t *testing.T) {
	c := newTestCleaner(t)
	ds := datasetOf(
		domain.Record{domain.ColFloorCount: 0.0},
		domain.Record{domain.ColFloorCount: 1.0},
		domain.Record{domain.ColFloorCount: 10.0},
		domain.Record{domain.ColFloorCount: 11.0},
		domain.Record{domain.ColFloorCount: nil},
	)
	require.NoError(t, c.floorCount(ds))
	assert.Equal(t, 2, ds.Len())
}

func TestCodeNormalization(t *testing.T) {
	c := newTestCleaner(t)
	ds := datasetOf(
		domain.Record{domain.ColInseeCode: 1001.0, domain.ColDepartment: 1.0},
		domain.Record{domain.ColInseeCode: "1001", domain.ColDepartment: "1"},
		domain.Record{domain.ColInseeCode: "2A004", domain.ColDepartment: "2A"},
		domain.Record{domain.ColInseeCode: nil, domain.ColDepartment: nil},
	)
	require.NoError(t, c.normalizeInsee(ds))
	require.NoError(t, c.normalizeDepartment(ds))

	assert.Equal(t, "01001", ds.Rows[0][domain.ColInseeCode])
	assert.Equal(t, "01", ds.Rows[0][domain.ColDepartment])
	assert.Equal(t, "01001", ds.Rows[1][domain.ColInseeCode])
	assert.Equal(t, "2A004", ds.Rows[2][domain.ColInseeCode])
	assert.Equal(t, "2A", ds.Rows[2][domain.ColDepartment])
	assert.Nil(t, ds.Rows[3][domain.ColInseeCode])
	assert.Nil(t, ds.Rows[3][domain.ColDepartment])
}

func TestGeopointRoundTrip(t *testing.T) {
	lat, lon, err := ParseGeopoint("48.85,2.35")
	require.NoError(t, err)
	assert.InDelta(t, 48.85, lat, 1e-12)
	assert.InDelta(t, 2.35, lon, 1e-12)

	rejoined := fmt.Sprintf("%v,%v", lat, lon)
	lat2, lon2, err := ParseGeopoint(rejoined)
	require.NoError(t, err)
	assert.InDelta(t, lat, lat2, 1e-12)
	assert.InDelta(t, lon, lon2, 1e-12)
}

func TestSplitCoordinates(t *testing.T) {
	c := newTestCleaner(t)
	ds := datasetOf(
		domain.Record{domain.ColGeopoint: "48.85, 2.35"},
		domain.Record{domain.ColGeopoint: nil},
	)
	require.NoError(t, c.splitCoordinates(ds))

	assert.False(t, ds.HasColumn(domain.ColGeopoint))
	assert.Equal(t, 48.85, ds.Rows[0][domain.ColLatitude])
	assert.Equal(t, 2.35, ds.Rows[0][domain.ColLongitude])
	assert.Nil(t, ds.Rows[1][domain.ColLatitude])
	assert.Nil(t, ds.Rows[1][domain.ColLongitude])
}

func TestSplitCoordinatesMalformed(t *testing.T) {
	c := newTestCleaner(t)
	for _, bad := range []string{"48.85", "48.85,2.35,1", "north,2.35", "48.85,east"} {
		ds := datasetOf(
			domain.Record{domain.ColGeopoint: "45.0,4.0"},
			domain.Record{domain.ColGeopoint: bad},
		)
		err := c.splitCoordinates(ds)

		var coordErr *CoordinateError
		require.True(t, errors.As(err, &coordErr), bad)
		assert.Equal(t, 1, coordErr.Row)
		assert.Equal(t, bad, coordErr.Value)
	}
}

func TestCleanSurfacesMalformedGeopoint(t *testing.T) {
	c := newTestCleaner(t)
	_, _, err := c.Clean(datasetOf(rawRow(domain.Record{domain.ColGeopoint: "not a point"})))
	var coordErr *CoordinateError
	assert.True(t, errors.As(err, &coordErr))
}

// Unmapped departments get no zone here, while the city resolver falls back to H1.
func TestMapClimateZonesLeavesUnmappedEmpty(t *testing.T) {
	c := newTestCleaner(t)
	ds := datasetOf(
		domain.Record{domain.ColDepartment: "13"},
		domain.Record{domain.ColDepartment: "2A"},
		domain.Record{domain.ColDepartment: "2B"},
		domain.Record{domain.ColDepartment: "971"},
		domain.Record{domain.ColDepartment: nil},
	)
	require.NoError(t, c.mapClimateZones(ds))

	assert.Equal(t, "H3", ds.Rows[0][domain.ColClimateZone])
	assert.Equal(t, "H3", ds.Rows[1][domain.ColClimateZone])
	assert.Equal(t, "H3", ds.Rows[2][domain.ColClimateZone])
	assert.Nil(t, ds.Rows[3][domain.ColClimateZone])
	assert.Nil(t, ds.Rows[4][domain.ColClimateZone])
}

func TestEnrichAltitudeFallsBackToDepartmentMean(t *testing.T) {
	c := newTestCleaner(t)
	ds := datasetOf(
		domain.Record{domain.ColInseeCode: "69266", domain.ColDepartment: "69"},
		domain.Record{domain.ColInseeCode: "69001", domain.ColDepartment: "69"},
		domain.Record{domain.ColInseeCode: "2A999", domain.ColDepartment: "2A"},
		domain.Record{domain.ColInseeCode: "75056", domain.ColDepartment: "75"},
	)
	require.NoError(t, c.enrichAltitude(ds))

	assert.Equal(t, 173.0, ds.Rows[0][domain.ColAltitude])
	assert.InDelta(t, 205.0, ds.Rows[1][domain.ColAltitude], 1e-9)
	assert.InDelta(t, 38.0, ds.Rows[2][domain.ColAltitude], 1e-9)
	assert.Nil(t, ds.Rows[3][domain.ColAltitude])
}

func TestCleanFromCSV(t *testing.T) {
	header := strings.Join(append([]string{"numero_dpe"}, RequiredColumns[:len(RequiredColumns)-1]...), ",")
	var values []string
	row := rawRow(nil)
	for _, col := range RequiredColumns[:len(RequiredColumns)-1] {
		v := fmt.Sprint(row[col])
		if col == domain.ColGeopoint {
			v = `"45.764,4.8357"`
		}
		values = append(values, v)
	}
	line := "X1," + strings.Join(values, ",")

	ds, err := domain.ReadCSV(strings.NewReader(header + "\n" + line + "\n"))
	require.NoError(t, err)

	c := newTestCleaner(t)
	out, _, err := c.Clean(ds)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, 1200.0, out.Rows[0][domain.ColTotalCost])
	assert.Equal(t, 45.764, out.Rows[0][domain.ColLatitude])
	assert.Equal(t, 50, out.Rows[0][domain.ColBuildingAge])
}

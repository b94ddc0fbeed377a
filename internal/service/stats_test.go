package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpeinsight/backend/internal/domain"
)

func TestDescribeNumericColumns(t *testing.T) {
	ds := &domain.Dataset{
		Columns: []string{domain.ColDPELabel, domain.ColTotalCost, domain.ColAltitude},
		Rows: []domain.Record{
			{domain.ColDPELabel: "A", domain.ColTotalCost: 1.0, domain.ColAltitude: nil},
			{domain.ColDPELabel: "B", domain.ColTotalCost: 2.0, domain.ColAltitude: nil},
			{domain.ColDPELabel: "C", domain.ColTotalCost: 3.0},
			{domain.ColDPELabel: "D", domain.ColTotalCost: 4, domain.ColAltitude: 120.0},
			{domain.ColDPELabel: "E", domain.ColTotalCost: 5.0, domain.ColAltitude: nil},
			{domain.ColDPELabel: "F", domain.ColTotalCost: nil},
		},
	}

	stats := Describe(ds)
	require.Len(t, stats, 2)

	cost := stats[0]
	assert.Equal(t, domain.ColTotalCost, cost.Column)
	assert.Equal(t, 5, cost.Count)
	assert.InDelta(t, 3.0, cost.Mean, 1e-9)
	assert.InDelta(t, 1.5811, cost.Std, 1e-4)
	assert.Equal(t, 1.0, cost.Min)
	assert.Equal(t, 3.0, cost.Median)
	assert.Equal(t, 5.0, cost.Max)
	assert.LessOrEqual(t, cost.Q1, cost.Median)
	assert.GreaterOrEqual(t, cost.Q3, cost.Median)

	alt := stats[1]
	assert.Equal(t, 1, alt.Count)
	assert.Equal(t, 0.0, alt.Std)
	assert.Equal(t, 120.0, alt.Max)
}

func TestDescribeInterpolatesQuartiles(t *testing.T) {
	ds := &domain.Dataset{Columns: []string{domain.ColLivingArea}}
	for _, v := range []float64{4, 1, 3, 2} {
		ds.Rows = append(ds.Rows, domain.Record{domain.ColLivingArea: v})
	}

	stats := Describe(ds)
	require.Len(t, stats, 1)
	assert.InDelta(t, 1.75, stats[0].Q1, 1e-9)
	assert.InDelta(t, 2.5, stats[0].Median, 1e-9)
	assert.InDelta(t, 3.25, stats[0].Q3, 1e-9)
}

func TestDescribeSkipsTextColumns(t *testing.T) {
	ds := &domain.Dataset{
		Columns: []string{domain.ColPostalCode},
		Rows:    []domain.Record{{domain.ColPostalCode: "69001"}, {domain.ColPostalCode: 69002.0}},
	}
	assert.Empty(t, Describe(ds))
}

func TestToGeoJSON(t *testing.T) {
	ds := &domain.Dataset{
		Columns: []string{domain.ColDPELabel, domain.ColLatitude, domain.ColLongitude, domain.ColCityName},
		Rows: []domain.Record{
			{domain.ColDPELabel: "C", domain.ColLatitude: 45.764, domain.ColLongitude: 4.8357, domain.ColCityName: "Lyon"},
			{domain.ColDPELabel: "F", domain.ColLatitude: nil, domain.ColLongitude: nil, domain.ColCityName: "Nulle Part"},
		},
	}

	fc, err := ToGeoJSON(ds)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, ds.Rows[0].Fingerprint(ds.Columns), fc.Features[0].ID)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "FeatureCollection", decoded.Type)
	assert.Equal(t, "Point", decoded.Features[0].Geometry.Type)
	assert.Equal(t, []float64{4.8357, 45.764}, decoded.Features[0].Geometry.Coordinates)
	assert.Equal(t, "C", decoded.Features[0].Properties[domain.ColDPELabel])
	assert.Equal(t, "Lyon", decoded.Features[0].Properties[domain.ColCityName])
	assert.NotContains(t, decoded.Features[0].Properties, domain.ColAltitude)
}

func TestToGeoJSONEmpty(t *testing.T) {
	fc, err := ToGeoJSON(&domain.Dataset{})
	require.NoError(t, err)

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(raw))
}

package service

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/go-gota/gota/series"

	"github.com/dpeinsight/backend/internal/cleaning"
	"github.com/dpeinsight/backend/internal/domain"
)

// ColumnStats describes one numeric column of a dataset
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"25%"`
	Median float64 `json:"50%"`
	Q3     float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// Describe summarizes the numeric columns of ds, in column order. A column is
// numeric when every present value is a number; missing values are skipped.
// Quartiles interpolate linearly, like the cleaner's outlier bounds
func Describe(ds *domain.Dataset) []ColumnStats {
	var out []ColumnStats
	for _, col := range ds.Columns {
		values, ok := numericValues(ds, col)
		if !ok || len(values) == 0 {
			continue
		}
		s := series.New(values, series.Float, col)
		sorted := s.Float()
		sort.Float64s(sorted)
		st := ColumnStats{
			Column: col,
			Count:  s.Len(),
			Mean:   s.Mean(),
			Std:    s.StdDev(),
			Min:    s.Min(),
			Q1:     cleaning.Quantile(sorted, 0.25),
			Median: cleaning.Quantile(sorted, 0.5),
			Q3:     cleaning.Quantile(sorted, 0.75),
			Max:    s.Max(),
		}
		if st.Count == 1 || math.IsNaN(st.Std) {
			st.Std = 0
		}
		out = append(out, st)
	}
	return out
}

func numericValues(ds *domain.Dataset, col string) ([]float64, bool) {
	values := make([]float64, 0, ds.Len())
	for _, v := range ds.Column(col) {
		if v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			values = append(values, n)
		case float32:
			values = append(values, float64(n))
		case int:
			values = append(values, float64(n))
		case int64:
			values = append(values, float64(n))
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, false
			}
			values = append(values, f)
		default:
			return nil, false
		}
	}
	return values, true
}

package cleaning

import (
	"math"
	"sort"

	"github.com/dpeinsight/backend/internal/domain"
)

// Quantile returns the q-quantile of sorted using linear interpolation
// between the closest ranks. sorted must be ascending and non-empty
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// IQRBounds returns [Q1 - 1.5*IQR, Q3 + 1.5*IQR] over values. ok is false when
// values is empty
func IQRBounds(values []float64) (lower, upper float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr, true
}

// FilterIQR drops rows whose col value is missing or outside the IQR fence
// computed on the current rows. It returns the number of dropped rows
func FilterIQR(ds *domain.Dataset, col string) int {
	before := ds.Len()
	ds.Filter(func(r domain.Record) bool {
		_, ok := r.Float(col)
		return ok
	})

	values := make([]float64, 0, ds.Len())
	for _, r := range ds.Rows {
		v, _ := r.Float(col)
		values = append(values, v)
	}
	lower, upper, ok := IQRBounds(values)
	if ok {
		ds.Filter(func(r domain.Record) bool {
			v, _ := r.Float(col)
			return v >= lower && v <= upper
		})
	}
	return before - ds.Len()
}

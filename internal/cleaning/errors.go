package cleaning

import (
	"fmt"
	"strings"
)

// SchemaError reports required columns absent from the input dataset
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("cleaning: missing required column(s): %s", strings.Join(e.Missing, ", "))
}

// CoordinateError reports a geopoint value that is not a "lat,lon" pair
type CoordinateError struct {
	Row   int
	Value string
	Err   error
}

func (e *CoordinateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cleaning: malformed geopoint %q at row %d: %v", e.Value, e.Row, e.Err)
	}
	return fmt.Sprintf("cleaning: malformed geopoint %q at row %d", e.Value, e.Row)
}

func (e *CoordinateError) Unwrap() error { return e.Err }

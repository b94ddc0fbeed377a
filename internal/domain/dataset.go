package domain

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Dataset is a tabular batch of housing records with an ordered column set
type Dataset struct {
	Columns []string
	Rows    []Record
}

// NewDataset builds a dataset from raw records. Columns are the union of the
// record keys in first-seen order, the way a table built from JSON lines is
func NewDataset(records []Record) *Dataset {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		keys := make([]string, 0, len(r))
		for k := range r {
			if _, ok := seen[k]; !ok {
				keys = append(keys, k)
			}
		}
		// map iteration order is random; keep the new keys stable
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return &Dataset{Columns: cols, Rows: records}
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// HasColumn reports whether col belongs to the dataset schema
func (d *Dataset) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// AddColumn appends col to the schema if it is not already present
func (d *Dataset) AddColumn(col string) {
	if !d.HasColumn(col) {
		d.Columns = append(d.Columns, col)
	}
}

// DropColumn removes col from the schema and from every row
func (d *Dataset) DropColumn(col string) {
	out := d.Columns[:0]
	for _, c := range d.Columns {
		if c != col {
			out = append(out, c)
		}
	}
	d.Columns = out
	for _, r := range d.Rows {
		delete(r, col)
	}
}

// Filter keeps only the rows for which keep returns true
func (d *Dataset) Filter(keep func(Record) bool) {
	out := d.Rows[:0]
	for _, r := range d.Rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	for i := len(out); i < len(d.Rows); i++ {
		d.Rows[i] = nil
	}
	d.Rows = out
}

// Column returns the values of col for every row, missing values as nil
func (d *Dataset) Column(col string) []any {
	out := make([]any, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Value(col)
	}
	return out
}

// ReadCSV loads a dataset from CSV with a header row. Empty cells are missing
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	ds := &Dataset{Columns: header}
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		row := make(Record, len(header))
		for i, col := range header {
			if i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				row[col] = nil
				continue
			}
			row[col] = rec[i]
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// WriteCSV writes the dataset with a header row. Missing values become empty cells
func (d *Dataset) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(d.Columns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	rec := make([]string, len(d.Columns))
	for _, r := range d.Rows {
		for i, col := range d.Columns {
			v := r.Value(col)
			if v == nil {
				rec[i] = ""
				continue
			}
			rec[i] = cast.ToString(v)
		}
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// RowFingerprint identifies r by its values over the dataset columns taken in
// name order, so it does not depend on column position
func (d *Dataset) RowFingerprint(r Record) string {
	cols := append([]string(nil), d.Columns...)
	sort.Strings(cols)
	return r.Fingerprint(cols)
}

// AppendDistinct merges the columns of other and appends its rows that are
// not already present. It returns the number of rows added
func (d *Dataset) AppendDistinct(other *Dataset) int {
	for _, c := range other.Columns {
		d.AddColumn(c)
	}
	seen := make(map[string]struct{}, len(d.Rows)+other.Len())
	for _, r := range d.Rows {
		seen[d.RowFingerprint(r)] = struct{}{}
	}
	added := 0
	for _, r := range other.Rows {
		fp := d.RowFingerprint(r)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		d.Rows = append(d.Rows, r.Clone())
		added++
	}
	return added
}

// Clone returns a copy of the dataset with copied rows
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{Columns: append([]string(nil), d.Columns...), Rows: make([]Record, len(d.Rows))}
	for i, r := range d.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Package dataset holds the in-memory tabular representation used by the
// cleaning step and its CSV codec.
//
// A Dataset keeps every field as the raw text it was read from, so rows that
// survive a filter are written back unchanged. Numeric interpretation happens
// on demand through ParseFloat.
package dataset

import (
	"math"
	"strconv"
	"strings"
)

// Dataset is an ordered table: a header of unique column names followed by
// rows of raw field values. Every row has len(Header) fields.
type Dataset struct {
	Header []string
	Rows   [][]string
}

// New creates a dataset with the given header and rows.
// The header slice is copied; rows are referenced as-is.
func New(header []string, rows [][]string) *Dataset {
	h := make([]string, len(header))
	copy(h, header)
	return &Dataset{Header: h, Rows: rows}
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex returns the position of name in the header.
// Returns a *SchemaError when the column does not exist.
func (d *Dataset) ColumnIndex(name string) (int, error) {
	for i, h := range d.Header {
		if h == name {
			return i, nil
		}
	}
	return -1, &SchemaError{Column: name, Available: append([]string(nil), d.Header...)}
}

// Filter returns a new dataset holding the rows for which keep returns true,
// in their original order. The receiver is not modified.
func (d *Dataset) Filter(keep func(row []string) bool) *Dataset {
	out := New(d.Header, make([][]string, 0, len(d.Rows)))
	for _, row := range d.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// ParseFloat interprets a raw field as a number.
// Empty fields, NaN and anything strconv cannot parse report ok=false.
func ParseFloat(field string) (float64, bool) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

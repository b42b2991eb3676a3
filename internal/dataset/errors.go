package dataset

import (
	"errors"
	"fmt"
)

// ErrMissingHeader is returned when the input stream has no header row.
var ErrMissingHeader = errors.New("missing header row")

// SchemaError is returned when a required column is not part of the header.
type SchemaError struct {
	// Column is the name of the missing column.
	Column string
	// Available lists the columns that were found, in header order.
	Available []string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("column %q not found (available: %v)", e.Column, e.Available)
}

// ParseError reports malformed CSV input with its location.
type ParseError struct {
	// Line is the 1-based line of the offending record (0 if unknown).
	Line int
	// Column is the 1-based field or byte column (0 if unknown).
	Column int
	// Message describes the problem.
	Message string
	// Err is the underlying decoder error, if any.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	default:
		return e.Message
	}
}

// Unwrap returns the underlying decoder error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

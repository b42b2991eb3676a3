package config

import (
	"fmt"
	"strings"
)

// Step file formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseError categories.
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)

// ParseResult contains the result of decoding a step document.
type ParseResult struct {
	// Data is the decoded document
	Data map[string]interface{}
	// Errors contains any decoding errors encountered
	Errors []ParseError
	// FilePath is the source file (empty if parsed from a string)
	FilePath string
	// Format is the detected format (json, yaml)
	Format string
}

// IsValid returns true if no parsing errors occurred.
func (r *ParseResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ParseError represents a decoding error with location information.
type ParseError struct {
	// Path is the file path where the error occurred
	Path string
	// Line is the line number (1-based, 0 if unknown)
	Line int
	// Column is the column number (1-based, 0 if unknown)
	Column int
	// Offset is the byte offset in the file (0 if unknown)
	Offset int64
	// Message is the error message
	Message string
	// Type categorizes the error (syntax, io, format)
	Type string
}

// Error implements the error interface.
func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationResult contains the result of validating a step document.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// ValidationError represents a schema or semantic validation error.
type ValidationError struct {
	// Path is the JSON pointer of the offending value (e.g. "/step/filter/config")
	Path string
	// Type is the error type (required, type, pattern, enum, ...)
	Type string
	// Message is the error message
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Result contains the combined result of loading a step: decoding, flag and
// environment overrides, and validation.
type Result struct {
	// Data is the merged document that was validated
	Data map[string]interface{}
	// ParseErrors contains decoding errors
	ParseErrors []ParseError
	// ValidationErrors contains validation errors
	ValidationErrors []ValidationError
	// FilePath is the step file, if one was given
	FilePath string
	// Format is the detected format (json, yaml)
	Format string
}

// IsValid returns true if no errors occurred.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors returns parse and validation errors as a single slice.
func (r *Result) AllErrors() []error {
	all := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		all = append(all, e)
	}
	for _, e := range r.ValidationErrors {
		all = append(all, e)
	}
	return all
}

// Package config loads cleaning step configuration. A step is described by
// a JSON or YAML document, overlaid with command-line flags and environment
// variables, validated against an embedded JSON schema and converted to a
// step.Step.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile decodes a step file. The format is taken from the extension
// (.json, .yaml, .yml) and otherwise detected from the content.
func ParseFile(path string) *ParseResult {
	content, err := os.ReadFile(path)
	if err != nil {
		return &ParseResult{
			FilePath: path,
			Errors: []ParseError{{
				Path:    path,
				Message: fmt.Sprintf("failed to read file: %v", err),
				Type:    ErrorTypeIO,
			}},
		}
	}

	result := ParseBytes(content, DetectFormat(path))
	result.FilePath = path
	for i := range result.Errors {
		if result.Errors[i].Path == "" {
			result.Errors[i].Path = path
		}
	}
	return result
}

// ParseBytes decodes a step document. If format is empty it is detected
// from the content.
func ParseBytes(content []byte, format string) *ParseResult {
	if format == "" {
		switch {
		case IsJSON(content):
			format = FormatJSON
		case IsYAML(content):
			format = FormatYAML
		default:
			return &ParseResult{Errors: []ParseError{{
				Message: "unable to detect configuration format: not valid JSON or YAML",
				Type:    ErrorTypeFormat,
			}}}
		}
	}

	result := &ParseResult{Format: format}
	if len(bytes.TrimSpace(content)) == 0 {
		result.Errors = append(result.Errors, ParseError{
			Message: "empty content: expected a step document",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	var data interface{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(content, &data)
		if err != nil {
			result.Errors = append(result.Errors, jsonParseError(err, content))
			return result
		}
	case FormatYAML:
		err = yaml.Unmarshal(content, &data)
		if err != nil {
			result.Errors = append(result.Errors, yamlParseError(err))
			return result
		}
	default:
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("unsupported format: %s", format),
			Type:    ErrorTypeFormat,
		})
		return result
	}

	doc, ok := data.(map[string]interface{})
	if !ok {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid step document: expected an object, got %T", data),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	result.Data = doc
	return result
}

// DetectFormat detects the format from a file extension.
// Returns "json", "yaml", or empty string if the extension is not recognized.
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// IsJSON reports whether content looks like a JSON document.
func IsJSON(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// IsYAML reports whether content decodes as a non-empty YAML document.
// JSON is also valid YAML.
func IsYAML(content []byte) bool {
	if len(bytes.TrimSpace(content)) == 0 {
		return false
	}
	var data interface{}
	return yaml.Unmarshal(content, &data) == nil && data != nil
}

// jsonParseError extracts the location of a JSON decoding error.
func jsonParseError(err error, content []byte) ParseError {
	parseErr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		parseErr.Offset = syntaxErr.Offset
		parseErr.Line, parseErr.Column = offsetToLineColumn(content, syntaxErr.Offset)
		parseErr.Message = fmt.Sprintf("JSON syntax error: %s", syntaxErr.Error())
	case errors.As(err, &typeErr):
		parseErr.Offset = typeErr.Offset
		parseErr.Line, parseErr.Column = offsetToLineColumn(content, typeErr.Offset)
		parseErr.Message = fmt.Sprintf("type error at field '%s': expected %s, got %s",
			typeErr.Field, typeErr.Type.String(), typeErr.Value)
	}
	return parseErr
}

// offsetToLineColumn converts a byte offset to line and column numbers (1-based).
func offsetToLineColumn(content []byte, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}

// yamlParseError extracts the location of a YAML decoding error.
// yaml.v3 reports it in the message as "yaml: line N: ...".
func yamlParseError(err error) ParseError {
	parseErr := ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		parseErr.Message = fmt.Sprintf("YAML type error: %s", strings.Join(typeErr.Errors, "; "))
	}

	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
		parseErr.Line = line
	}
	return parseErr
}

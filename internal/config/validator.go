package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/canectors/basic-cleaning/internal/artifact"
)

//go:embed schema/step-schema.json
var embeddedSchema []byte

const schemaURL = "https://canectors.io/schemas/basic-cleaning/v1.0.0/step-schema.json"

var printer = message.NewPrinter(language.English)

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// GetEmbeddedSchema returns the embedded step schema.
func GetEmbeddedSchema() []byte {
	return embeddedSchema
}

// getCompiledSchema returns the compiled JSON schema, compiling it once.
func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var schemaDoc interface{}
		if err := json.Unmarshal(embeddedSchema, &schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}

		var err error
		compiledSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", err)
		}
	})
	return compiledSchema, schemaInitErr
}

// ValidateConfig validates a step document against the step schema, then
// checks what the schema cannot express (artifact reference syntax).
func ValidateConfig(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}
	fail := func(errs ...ValidationError) *ValidationResult {
		result.Valid = false
		result.Errors = append(result.Errors, errs...)
		return result
	}

	if len(data) == 0 {
		return fail(ValidationError{Path: "/", Type: "required", Message: "step document is empty"})
	}

	if errs := checkFiniteBounds(data); len(errs) > 0 {
		return fail(errs...)
	}

	schema, err := getCompiledSchema()
	if err != nil {
		return fail(ValidationError{Path: "/", Type: "schema", Message: fmt.Sprintf("failed to load schema: %v", err)})
	}

	if err := schema.Validate(data); err != nil {
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			return fail(convertValidationErrors(detailed)...)
		}
		return fail(ValidationError{Path: "/", Type: "validation", Message: err.Error()})
	}

	if ref, ok := lookupString(data, "step", "input", "config", "artifact"); ok && moduleType(data, "input") == "artifact" {
		if _, err := artifact.ParseRef(ref); err != nil {
			return fail(ValidationError{
				Path:    "/step/input/config/artifact",
				Type:    "pattern",
				Message: err.Error(),
			})
		}
	}

	return result
}

// convertValidationErrors flattens a jsonschema error tree into leaf errors.
func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		return []ValidationError{{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: leafMessage(err),
		}}
	}
	var out []ValidationError
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

// leafMessage returns the message of a single error without its location
// prefix and without nested causes.
func leafMessage(err *jsonschema.ValidationError) string {
	if err.ErrorKind == nil {
		return err.Error()
	}
	return err.ErrorKind.LocalizedString(printer)
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

// extractErrorType maps a jsonschema error to a short type name.
func extractErrorType(err *jsonschema.ValidationError) string {
	if err.ErrorKind == nil {
		return "validation"
	}
	kw := err.ErrorKind.KeywordPath()
	if len(kw) == 0 {
		return "validation"
	}
	switch last := kw[len(kw)-1]; last {
	case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum":
		return "range"
	case "const":
		return "enum"
	default:
		return last
	}
}

// checkFiniteBounds rejects infinite or NaN price bounds, which YAML can
// express (.inf, .nan) but which no row can be compared against.
func checkFiniteBounds(data map[string]interface{}) []ValidationError {
	step, _ := data["step"].(map[string]interface{})
	filter, _ := step["filter"].(map[string]interface{})
	cfg, _ := filter["config"].(map[string]interface{})
	var errs []ValidationError
	for _, key := range []string{"minPrice", "maxPrice"} {
		if f, ok := cfg[key].(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
			errs = append(errs, ValidationError{
				Path:    "/step/filter/config/" + key,
				Type:    "range",
				Message: fmt.Sprintf("%s must be a finite number, got %v", key, f),
			})
		}
	}
	return errs
}

func lookupString(data map[string]interface{}, keys ...string) (string, bool) {
	var cur interface{} = data
	for _, k := range keys {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur = m[k]
	}
	s, ok := cur.(string)
	return s, ok
}

func moduleType(data map[string]interface{}, section string) string {
	t, _ := lookupString(data, "step", section, "type")
	return t
}

package config

import (
	"github.com/spf13/viper"

	"github.com/canectors/basic-cleaning/pkg/step"
)

// Load builds a step from an optional step file and the overrides in v.
//
// The file (if path is not empty) is decoded, overrides are applied on top,
// and the merged document is validated. The step is nil whenever the
// result carries errors.
func Load(path string, v *viper.Viper) (*step.Step, *Result) {
	result := &Result{FilePath: path}

	var doc map[string]interface{}
	if path != "" {
		parsed := ParseFile(path)
		result.Format = parsed.Format
		result.ParseErrors = parsed.Errors
		if !parsed.IsValid() {
			return nil, result
		}
		doc = parsed.Data
	}

	doc, overrideErrs := ApplyOverrides(doc, v)
	result.Data = doc
	if len(overrideErrs) > 0 {
		result.ValidationErrors = overrideErrs
		return nil, result
	}

	validation := ValidateConfig(doc)
	result.ValidationErrors = validation.Errors
	if !result.IsValid() {
		return nil, result
	}

	st, err := ConvertToStep(doc)
	if err != nil {
		result.ValidationErrors = append(result.ValidationErrors, ValidationError{
			Path:    "/step",
			Type:    "conversion",
			Message: err.Error(),
		})
		return nil, result
	}
	return st, result
}

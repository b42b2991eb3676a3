package runtime

import (
	"errors"

	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/errhandling"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// Error codes for step execution errors
const (
	ErrCodeInputFailed  = "INPUT_FAILED"
	ErrCodeFilterFailed = "FILTER_FAILED"
	ErrCodeOutputFailed = "OUTPUT_FAILED"
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// Error types reported in step.ExecutionError.ErrorType
const (
	ErrorTypeFatal     = "fatal"
	ErrorTypeTransient = "transient"
)

// Common errors
var (
	// ErrNilStep is returned when the step configuration is nil
	ErrNilStep = errors.New("step configuration is nil")

	// ErrNilInputModule is returned when input module is nil
	ErrNilInputModule = errors.New("input module is nil")

	// ErrNilFilterModule is returned when filter module is nil
	ErrNilFilterModule = errors.New("filter module is nil")

	// ErrNilOutputModule is returned when output module is nil
	ErrNilOutputModule = errors.New("output module is nil")

	// ErrNoDataset is returned when an input or filter yields no dataset
	ErrNoDataset = errors.New("module returned no dataset")
)

// buildExecutionError creates an ExecutionError with classified category and type.
func buildExecutionError(code, module string, err error) *step.ExecutionError {
	ex := &step.ExecutionError{
		Code:    code,
		Message: err.Error(),
		Module:  module,
	}
	ex.ErrorCategory = string(errhandling.GetErrorCategory(err))
	if code == ErrCodeInvalidInput || errhandling.IsFatal(err) {
		ex.ErrorType = ErrorTypeFatal
	} else {
		ex.ErrorType = ErrorTypeTransient
	}
	return ex
}

// logStageFailure logs a failed stage with whatever location the error carries.
func logStageFailure(execCtx logger.ExecutionContext, ex *step.ExecutionError, err error, artifactRef string) {
	errCtx := logger.ErrorContext{
		RunID:        execCtx.RunID,
		StepName:     execCtx.StepName,
		Stage:        execCtx.Stage,
		ModuleType:   execCtx.ModuleType,
		ErrorCode:    ex.Code,
		ErrorMessage: ex.Message,
		Err:          err,
		Artifact:     artifactRef,
	}

	var pe *dataset.ParseError
	if errors.As(err, &pe) {
		errCtx.Line = pe.Line
	}
	var se *dataset.SchemaError
	if errors.As(err, &se) {
		errCtx.Column = se.Column
		errCtx.Extra = map[string]interface{}{"available_columns": se.Available}
	}

	logger.LogError("step stage failed", errCtx)
}

// Package step provides public types describing a cleaning step and the
// result of running it. It is importable by orchestration code that launches
// the step and inspects its outcome.
package step

import "time"

// DefaultJobType is the job type recorded for runs of this step.
const DefaultJobType = "basic_cleaning"

// Step is a fully resolved step configuration: where the data comes from,
// how it is filtered and where the result goes.
type Step struct {
	// ID is the unique identifier for this step
	ID string `json:"id"`

	// Name is the human-readable name of the step
	Name string `json:"name"`

	// Description provides additional context about the step
	Description string `json:"description,omitempty"`

	// JobType is recorded with the run in the artifact store
	JobType string `json:"jobType"`

	// Store selects and configures the artifact store
	Store *StoreConfig `json:"store,omitempty"`

	// Input defines the data source module
	Input *ModuleConfig `json:"input"`

	// Filter defines the single row filter applied to the input
	Filter *ModuleConfig `json:"filter"`

	// Output defines the data destination module
	Output *ModuleConfig `json:"output"`

	// Metrics configures where run metrics are exported
	Metrics *MetricsConfig `json:"metrics,omitempty"`

	// WorkDir is where intermediate files (the cleaned CSV) are written
	WorkDir string `json:"workDir,omitempty"`
}

// ModuleConfig represents the configuration for a step module.
type ModuleConfig struct {
	// Type identifies the module type (e.g., "artifact", "file", "priceRange")
	Type string `json:"type"`

	// Config contains the module-specific configuration
	Config map[string]interface{} `json:"config"`
}

// StoreConfig selects the artifact store implementation.
type StoreConfig struct {
	// Type is "local" or "http"
	Type string `json:"type"`

	// Root is the local store directory
	Root string `json:"root,omitempty"`

	// Endpoint is the base URL of a remote store
	Endpoint string `json:"endpoint,omitempty"`

	// Token is sent as a bearer token to a remote store
	Token string `json:"-"`

	// TimeoutSeconds bounds each remote request (0 uses the default)
	TimeoutSeconds float64 `json:"timeoutSeconds,omitempty"`
}

// MetricsConfig configures run metrics export.
type MetricsConfig struct {
	// Textfile is the path of a Prometheus text exposition file written at
	// the end of the run
	Textfile string `json:"textfile,omitempty"`
}

// ExecutionResult represents the result of a step execution.
type ExecutionResult struct {
	// RunID identifies this execution in the artifact store
	RunID string `json:"runId"`

	// StepID is the ID of the executed step
	StepID string `json:"stepId"`

	// Status is the execution status ("success", "error")
	Status string `json:"status"`

	// DryRun is true when the output stage was skipped
	DryRun bool `json:"dryRun,omitempty"`

	// StartedAt is when execution started
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when execution completed
	CompletedAt time.Time `json:"completedAt"`

	// RowsRead is the number of data rows in the input
	RowsRead int `json:"rowsRead"`

	// RowsKept is the number of rows that passed the filter
	RowsKept int `json:"rowsKept"`

	// RowsDropped is RowsRead minus RowsKept
	RowsDropped int `json:"rowsDropped"`

	// RowsWritten is the number of rows handed to the destination
	RowsWritten int `json:"rowsWritten"`

	// Input describes the consumed artifact, when the input is an artifact
	Input *ArtifactInfo `json:"input,omitempty"`

	// Output describes the published artifact, when the output is an artifact
	Output *ArtifactInfo `json:"output,omitempty"`

	// Error contains error details if execution failed
	Error *ExecutionError `json:"error,omitempty"`
}

// Duration returns the wall-clock time of the execution.
func (r *ExecutionResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ArtifactInfo summarizes an artifact version touched by a run.
type ArtifactInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Type     string `json:"type,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Size     int64  `json:"size"`
	Digest   string `json:"digest,omitempty"`
}

// ExecutionError contains details about an execution failure.
type ExecutionError struct {
	// Code is the error code (INPUT_FAILED, FILTER_FAILED, ...)
	Code string `json:"code"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Module is the stage where the error occurred
	Module string `json:"module,omitempty"`

	// ErrorCategory is the classified category (schema, parse, io, ...)
	ErrorCategory string `json:"errorCategory,omitempty"`

	// ErrorType is "fatal" or "transient"
	ErrorType string `json:"errorType,omitempty"`
}

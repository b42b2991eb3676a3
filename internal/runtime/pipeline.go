// Package runtime provides the step execution engine.
// It orchestrates the execution of the Input, Filter and Output modules.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/internal/modules/filter"
	"github.com/canectors/basic-cleaning/internal/modules/input"
	"github.com/canectors/basic-cleaning/internal/modules/output"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// Execution status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Stage names used in logs, results and metrics
const (
	StageInput  = "input"
	StageFilter = "filter"
	StageOutput = "output"
)

// Reasons reported to an Observer for dropped rows.
const (
	DropOutOfRange = "out_of_range"
	DropNonNumeric = "non_numeric"
	DropFiltered   = "filtered"
)

// Observer receives measurements of a single execution.
// *metrics.Run satisfies it.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveRows(read, kept int, dropped map[string]int)
	ObserveBytes(n int64)
}

// Optional module capabilities inspected after each stage.
type (
	artifactTracker interface {
		Artifact() *artifact.Artifact
	}
	rangeStatsReporter interface {
		Stats() filter.RangeStats
	}
	byteCounter interface {
		BytesWritten() int64
	}
)

// Executor is responsible for executing a cleaning step.
// It orchestrates the execution flow: Input → Filter → Output.
//
// The Executor only interacts with modules through their public interfaces.
// Richer reporting (artifact versions, drop reasons, bytes written) is picked
// up when a module also implements the matching optional interface.
type Executor struct {
	inputModule  input.Module
	filterModule filter.Module
	outputModule output.Module
	dryRun       bool

	runID    string
	observer Observer
}

// NewExecutor creates a new step executor with all modules configured.
//
// Parameters:
//   - inputModule: fetches the dataset
//   - filterModule: selects the rows to keep
//   - outputModule: publishes the cleaned dataset (may be nil in dry-run mode)
//   - dryRun: if true, skips the output stage
func NewExecutor(inputModule input.Module, filterModule filter.Module, outputModule output.Module, dryRun bool) *Executor {
	return &Executor{
		inputModule:  inputModule,
		filterModule: filterModule,
		outputModule: outputModule,
		dryRun:       dryRun,
	}
}

// SetRunID sets the run identifier reported in logs and results.
func (e *Executor) SetRunID(runID string) {
	e.runID = runID
}

// SetObserver registers an observer for stage timings and row counts.
func (e *Executor) SetObserver(o Observer) {
	e.observer = o
}

// stageTimings holds timing measurements for each execution stage
type stageTimings struct {
	inputDuration  time.Duration
	filterDuration time.Duration
	outputDuration time.Duration
}

// Execute runs the step with the given context.
//
// Execution flow:
//  1. Validate the step and modules
//  2. Execute the Input module to fetch the dataset
//  3. Execute the Filter module
//  4. Execute the Output module (unless dry-run mode)
//  5. Return ExecutionResult with status, row counts and artifact info
//
// The input module is closed as soon as the fetch completes, even on error.
// The output module is closed at the end of execution. An Executor may run
// Execute again afterwards, so modules must accept use after Close.
//
// Returns both result and error; the result is never nil.
func (e *Executor) Execute(ctx context.Context, st *step.Step) (*step.ExecutionResult, error) {
	startedAt := time.Now()
	result := &step.ExecutionResult{
		RunID:     e.runID,
		StartedAt: startedAt,
		Status:    StatusError,
		DryRun:    e.dryRun,
	}
	var timings stageTimings

	if err := e.validateExecution(st, result); err != nil {
		if st != nil {
			execCtx := e.executionContext(st)
			logger.LogExecutionStart(execCtx)
			logger.LogExecutionEnd(execCtx, StatusError, 0, time.Since(startedAt))
		}
		return result, err
	}
	result.StepID = st.ID

	execCtx := e.executionContext(st)
	logger.LogExecutionStart(execCtx)

	if e.outputModule != nil {
		defer e.closeModule(execCtx, StageOutput, e.outputModule)
	}

	ds, inputDuration, err := e.executeInput(ctx, st, result)
	timings.inputDuration = inputDuration
	e.observeStage(StageInput, inputDuration)

	e.closeModule(execCtx, StageInput, e.inputModule)

	if err != nil {
		e.fail(execCtx, result, startedAt)
		return result, err
	}
	result.RowsRead = ds.Len()

	kept, filterDuration, err := e.executeFilter(ctx, st, ds, result)
	timings.filterDuration = filterDuration
	e.observeStage(StageFilter, filterDuration)
	if err != nil {
		e.fail(execCtx, result, startedAt)
		return result, err
	}
	result.RowsKept = kept.Len()
	result.RowsDropped = result.RowsRead - result.RowsKept
	e.observeRows(result)

	var bytesWritten int64
	if e.dryRun {
		logger.WithExecution(execCtx).Info("dry-run mode: skipping output stage",
			slog.Int("rows_would_write", kept.Len()),
		)
	} else {
		outputDuration, err := e.executeOutput(ctx, st, kept, result)
		timings.outputDuration = outputDuration
		e.observeStage(StageOutput, outputDuration)
		if err != nil {
			e.fail(execCtx, result, startedAt)
			return result, err
		}
		if bc, ok := e.outputModule.(byteCounter); ok {
			bytesWritten = bc.BytesWritten()
			if e.observer != nil {
				e.observer.ObserveBytes(bytesWritten)
			}
		}
	}

	e.finalizeSuccess(execCtx, result, startedAt, timings, bytesWritten)
	return result, nil
}

func (e *Executor) executionContext(st *step.Step) logger.ExecutionContext {
	return logger.ExecutionContext{
		RunID:    e.runID,
		StepName: st.Name,
		DryRun:   e.dryRun,
	}
}

func stageContext(execCtx logger.ExecutionContext, stage string, cfg *step.ModuleConfig) logger.ExecutionContext {
	execCtx.Stage = stage
	if cfg != nil {
		execCtx.ModuleType = cfg.Type
	}
	return execCtx
}

// validateExecution validates the step and modules before execution.
func (e *Executor) validateExecution(st *step.Step, result *step.ExecutionResult) error {
	var module string
	var err error
	switch {
	case st == nil:
		err = ErrNilStep
	case e.inputModule == nil:
		module, err = StageInput, ErrNilInputModule
	case e.filterModule == nil:
		module, err = StageFilter, ErrNilFilterModule
	case e.outputModule == nil && !e.dryRun:
		module, err = StageOutput, ErrNilOutputModule
	default:
		return nil
	}

	logger.Error("step execution failed: "+err.Error(), slog.String("run_id", e.runID))
	result.CompletedAt = time.Now()
	result.Error = buildExecutionError(ErrCodeInvalidInput, module, err)
	return err
}

// moduleCloser interface for modules that can be closed.
type moduleCloser interface {
	Close() error
}

// closeModule closes a module and logs any error.
func (e *Executor) closeModule(execCtx logger.ExecutionContext, stage string, m moduleCloser) {
	if m == nil {
		return
	}
	if err := m.Close(); err != nil {
		execCtx.Stage = stage
		logger.WithExecution(execCtx).Warn("failed to close module",
			slog.String("error", err.Error()),
		)
	}
}

// executeInput executes the input module and returns the fetched dataset and duration.
func (e *Executor) executeInput(ctx context.Context, st *step.Step, result *step.ExecutionResult) (*dataset.Dataset, time.Duration, error) {
	stageCtx := stageContext(e.executionContext(st), StageInput, st.Input)
	logger.LogStageStart(stageCtx)

	start := time.Now()
	ds, err := e.inputModule.Fetch(ctx)
	duration := time.Since(start)
	if err == nil && ds == nil {
		err = ErrNoDataset
	}

	if t, ok := e.inputModule.(artifactTracker); ok {
		if a := t.Artifact(); a != nil {
			result.Input = a.Info()
		}
	}

	if err != nil {
		result.CompletedAt = time.Now()
		result.Error = buildExecutionError(ErrCodeInputFailed, StageInput, err)
		logger.LogStageEnd(stageCtx, 0, duration, &logger.ExecutionError{
			Code:     ErrCodeInputFailed,
			Category: result.Error.ErrorCategory,
			Message:  err.Error(),
		})
		logStageFailure(stageCtx, result.Error, err, moduleString(st.Input, "artifact"))
		return nil, duration, fmt.Errorf("executing input module: %w", err)
	}

	logger.LogStageEnd(stageCtx, ds.Len(), duration, nil)
	return ds, duration, nil
}

// executeFilter executes the filter module and returns the kept rows and duration.
func (e *Executor) executeFilter(ctx context.Context, st *step.Step, ds *dataset.Dataset, result *step.ExecutionResult) (*dataset.Dataset, time.Duration, error) {
	stageCtx := stageContext(e.executionContext(st), StageFilter, st.Filter)
	logger.LogStageStart(stageCtx)

	start := time.Now()
	kept, err := e.filterModule.Process(ctx, ds)
	duration := time.Since(start)
	if err == nil && kept == nil {
		err = ErrNoDataset
	}

	if err != nil {
		result.CompletedAt = time.Now()
		result.Error = buildExecutionError(ErrCodeFilterFailed, StageFilter, err)
		logger.LogStageEnd(stageCtx, ds.Len(), duration, &logger.ExecutionError{
			Code:     ErrCodeFilterFailed,
			Category: result.Error.ErrorCategory,
			Message:  err.Error(),
		})
		logStageFailure(stageCtx, result.Error, err, "")
		return nil, duration, fmt.Errorf("executing filter module: %w", err)
	}

	logger.LogStageEnd(stageCtx, kept.Len(), duration, nil)
	return kept, duration, nil
}

// executeOutput executes the output module and updates result.
func (e *Executor) executeOutput(ctx context.Context, st *step.Step, ds *dataset.Dataset, result *step.ExecutionResult) (time.Duration, error) {
	stageCtx := stageContext(e.executionContext(st), StageOutput, st.Output)
	logger.LogStageStart(stageCtx)

	start := time.Now()
	written, err := e.outputModule.Send(ctx, ds)
	duration := time.Since(start)
	result.RowsWritten = written

	if err != nil {
		result.CompletedAt = time.Now()
		result.Error = buildExecutionError(ErrCodeOutputFailed, StageOutput, err)
		logger.LogStageEnd(stageCtx, ds.Len(), duration, &logger.ExecutionError{
			Code:     ErrCodeOutputFailed,
			Category: result.Error.ErrorCategory,
			Message:  err.Error(),
		})
		logStageFailure(stageCtx, result.Error, err, moduleString(st.Output, "name"))
		return duration, fmt.Errorf("executing output module: %w", err)
	}

	if t, ok := e.outputModule.(artifactTracker); ok {
		if a := t.Artifact(); a != nil {
			result.Output = a.Info()
		}
	}

	logger.LogStageEnd(stageCtx, written, duration, nil)
	return duration, nil
}

func (e *Executor) fail(execCtx logger.ExecutionContext, result *step.ExecutionResult, startedAt time.Time) {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	logger.LogExecutionEnd(execCtx, StatusError, result.RowsWritten, time.Since(startedAt))
}

// finalizeSuccess marks the execution as successful and logs completion with metrics.
func (e *Executor) finalizeSuccess(execCtx logger.ExecutionContext, result *step.ExecutionResult, startedAt time.Time, timings stageTimings, bytesWritten int64) {
	result.Status = StatusSuccess
	result.CompletedAt = time.Now()
	result.Error = nil

	totalDuration := time.Since(startedAt)
	var rowsPerSecond float64
	if result.RowsRead > 0 && totalDuration > 0 {
		rowsPerSecond = float64(result.RowsRead) / totalDuration.Seconds()
	}

	logger.LogExecutionEnd(execCtx, StatusSuccess, result.RowsWritten, totalDuration)
	logger.LogMetrics(execCtx, logger.ExecutionMetrics{
		TotalDuration:  totalDuration,
		InputDuration:  timings.inputDuration,
		FilterDuration: timings.filterDuration,
		OutputDuration: timings.outputDuration,
		RowsRead:       result.RowsRead,
		RowsKept:       result.RowsKept,
		RowsDropped:    result.RowsDropped,
		BytesWritten:   bytesWritten,
		RowsPerSecond:  rowsPerSecond,
	})
}

func (e *Executor) observeStage(stage string, d time.Duration) {
	if e.observer != nil {
		e.observer.ObserveStage(stage, d)
	}
}

func (e *Executor) observeRows(result *step.ExecutionResult) {
	if e.observer == nil {
		return
	}
	dropped := map[string]int{}
	if r, ok := e.filterModule.(rangeStatsReporter); ok {
		stats := r.Stats()
		dropped[DropOutOfRange] = stats.OutOfRange
		dropped[DropNonNumeric] = stats.NonNumeric
	} else {
		dropped[DropFiltered] = result.RowsDropped
	}
	e.observer.ObserveRows(result.RowsRead, result.RowsKept, dropped)
}

func moduleString(cfg *step.ModuleConfig, key string) string {
	if cfg == nil {
		return ""
	}
	s, _ := cfg.Config[key].(string)
	return s
}

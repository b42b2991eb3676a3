package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/cli"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/internal/metrics"
	"github.com/canectors/basic-cleaning/internal/modules/output"
	"github.com/canectors/basic-cleaning/internal/registry"
	"github.com/canectors/basic-cleaning/internal/runtime"
	"github.com/canectors/basic-cleaning/pkg/step"
)

func runStep(cmd *cobra.Command, path string, opts *options) int {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ctx := cmd.Context()

	if !opts.quiet && path != "" {
		fmt.Fprintf(out, "Loading step: %s\n", path)
	}
	st, result, code := loadStep(cmd, path, opts)
	if code != ExitSuccess {
		return code
	}
	if !opts.quiet && path != "" {
		fmt.Fprintf(out, "✓ Step loaded successfully (format: %s)\n", result.Format)
	}

	runID := uuid.NewString()

	store, err := artifact.Open(st.Store)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to open artifact store: %v\n", err)
		return ExitRuntimeError
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close artifact store", slog.String("error", err.Error()))
		}
	}()

	runConfig, err := runConfigOf(st)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to record step configuration: %v\n", err)
		return ExitRuntimeError
	}
	run := &artifact.Run{
		ID:        runID,
		JobType:   st.JobType,
		Config:    runConfig,
		StartedAt: time.Now().UTC(),
	}
	if err := store.BeginRun(ctx, run); err != nil {
		fmt.Fprintf(errOut, "✗ Failed to register run: %v\n", err)
		return ExitRuntimeError
	}

	deps := registry.Deps{Store: store, RunID: runID, WorkDir: st.WorkDir}
	inputModule, err := registry.NewInput(st.Input, deps)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to create input module: %v\n", err)
		return ExitRuntimeError
	}
	filterModule, err := registry.NewFilter(st.Filter, deps)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to create filter module: %v\n", err)
		return ExitRuntimeError
	}
	var outputModule output.Module
	if !opts.dryRun {
		outputModule, err = registry.NewOutput(st.Output, deps)
		if err != nil {
			fmt.Fprintf(errOut, "✗ Failed to create output module: %v\n", err)
			return ExitRuntimeError
		}
	}

	runMetrics := metrics.NewRun(runID, st.JobType)
	executor := runtime.NewExecutor(inputModule, filterModule, outputModule, opts.dryRun)
	executor.SetRunID(runID)
	executor.SetObserver(runMetrics)

	if !opts.quiet {
		if opts.dryRun {
			fmt.Fprintln(out, "Executing step (dry-run mode - output will not be published)...")
		} else {
			fmt.Fprintln(out, "Executing step...")
		}
	}

	execResult, err := executor.Execute(ctx, st)
	writeMetrics(st, runMetrics, execResult)

	cli.PrintExecutionResult(out, errOut, execResult, err, opts.output())
	if err != nil {
		return ExitRuntimeError
	}
	return ExitSuccess
}

// runConfigOf returns the step as the generic document stored with the run.
// The store token is not part of it.
func runConfigOf(st *step.Step) (map[string]interface{}, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeMetrics records the final status and exports the registry when the
// step asks for a textfile. Export failures are logged, never fatal.
func writeMetrics(st *step.Step, m *metrics.Run, result *step.ExecutionResult) {
	status := runtime.StatusError
	if result != nil && result.Status != "" {
		status = result.Status
	}
	m.Complete(status, time.Now())

	if st.Metrics == nil || st.Metrics.Textfile == "" {
		return
	}
	if err := m.WriteTextfile(st.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics textfile",
			slog.String("path", st.Metrics.Textfile),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("metrics textfile written", slog.String("path", st.Metrics.Textfile))
}

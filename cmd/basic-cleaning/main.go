// Package main provides the CLI entry point for the basic-cleaning step.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/cli"
	"github.com/canectors/basic-cleaning/internal/config"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
)

var (
	// Build information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// options holds the flags shared by every command.
type options struct {
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string

	// run command
	dryRun bool
}

func (o *options) output() cli.OutputOptions {
	return cli.OutputOptions{Verbose: o.verbose, Quiet: o.quiet}
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func exitWith(code int) error {
	if code == ExitSuccess {
		return nil
	}
	return &exitError{code: code}
}

// exitCode maps the error returned by a command to a process exit code.
// Errors raised by cobra itself (unknown flag, wrong arity) are runtime errors.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitRuntimeError
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	logger.CloseLogFile()
	os.Exit(code)
}

// execute runs the CLI with args and returns the exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		fmt.Fprintf(stderr, "✗ %v\n", err)
	}
	return exitCode(err)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "basic-cleaning",
		Short: "basic-cleaning - Price range cleaning step",
		Long: `basic-cleaning fetches a CSV artifact, keeps the rows whose price lies
within [min_price, max_price] and publishes the result as a new artifact
version.

The step is described by a JSON/YAML step file, by flags, or by
BASIC_CLEANING_* environment variables. Flags and environment override
the step file.

Examples:
  # Run a step file
  basic-cleaning run step.yaml

  # Run from flags alone
  basic-cleaning run --input-artifact sample.csv:latest \
    --output-artifact clean_sample.csv --output-type clean_sample \
    --output-description "Data with outliers removed" \
    --min-price 10 --max-price 350

  # List the versions of an artifact
  basic-cleaning artifacts clean_sample.csv`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configureLogging(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "Log format (json or human)")
	rootCmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")

	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newArtifactsCmd(opts))
	rootCmd.AddCommand(newLineageCmd(opts))
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func configureLogging(cmd *cobra.Command, opts *options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	} else if opts.quiet {
		level = slog.LevelError
	}
	format, err := logger.ParseFormat(opts.logFormat)
	if err != nil {
		return err
	}
	if opts.logFile != "" {
		return logger.SetLogFile(opts.logFile, level, format)
	}
	logger.SetOutput(cmd.OutOrStdout(), level, format)
	return nil
}

func newValidateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <step-file>",
		Short: "Validate a step file",
		Long: `Validate a step file against the step schema.

Supports both JSON and YAML formats. The format is auto-detected
based on file extension (.json, .yaml, .yml) or content. Override
flags and environment variables are applied before validation.

Exit codes:
  0 - Step is valid
  1 - Validation errors (schema violations)
  2 - Parse errors (invalid JSON/YAML syntax)

Examples:
  basic-cleaning validate step.json
  basic-cleaning validate --verbose step.yaml
  basic-cleaning validate step.yaml --max-price 500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitWith(runValidate(cmd, args[0], opts))
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runValidate(cmd *cobra.Command, path string, opts *options) int {
	out := cmd.OutOrStdout()
	if !opts.quiet {
		fmt.Fprintf(out, "Validating step: %s\n", path)
	}

	st, result, code := loadStep(cmd, path, opts)
	if code != ExitSuccess {
		return code
	}

	if !opts.quiet {
		fmt.Fprintf(out, "✓ Step is valid (format: %s)\n", result.Format)
		if opts.verbose {
			cli.PrintStepSummary(out, st)
		}
	}
	return ExitSuccess
}

// loadStep loads and validates a step, printing any errors. The returned
// code is ExitSuccess when st is usable.
func loadStep(cmd *cobra.Command, path string, opts *options) (*step.Step, *config.Result, int) {
	v, err := config.NewSettings(cmd.Flags())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "✗ Failed to read flags: %v\n", err)
		return nil, nil, ExitRuntimeError
	}

	st, result := config.Load(path, v)
	if !result.IsValid() {
		logger.Debug("step configuration rejected",
			slog.String("path", path),
			slog.String("error", errors.Join(result.AllErrors()...).Error()),
		)
	}
	if len(result.ParseErrors) > 0 {
		cli.PrintParseErrors(cmd.ErrOrStderr(), result.ParseErrors, opts.verbose)
		return nil, result, ExitParseError
	}
	if len(result.ValidationErrors) > 0 {
		cli.PrintValidationErrors(cmd.ErrOrStderr(), result.ValidationErrors, opts.verbose, opts.quiet)
		return nil, result, ExitValidationError
	}
	return st, result, ExitSuccess
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [step-file]",
		Short: "Run the cleaning step",
		Long: `Run the cleaning step described by the step file and/or flags.

The merged step is first validated against the schema. If validation
fails, nothing is fetched or published.

Flags:
  --dry-run   Fetch and filter without publishing the output

Exit codes:
  0 - Step executed successfully
  1 - Validation errors
  2 - Parse errors
  3 - Runtime errors

Examples:
  basic-cleaning run step.yaml
  basic-cleaning run --dry-run step.yaml
  basic-cleaning run step.yaml --min-price 20 --store-root ./artifacts`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return exitWith(runStep(cmd, path, opts))
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Fetch and filter without publishing the output")
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newArtifactsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts <name>",
		Short: "List the versions of an artifact",
		Long: `List every version of an artifact held by the artifact store,
newest first, with its aliases, size and digest.

Examples:
  basic-cleaning artifacts clean_sample.csv
  basic-cleaning artifacts sample.csv --store-root ./artifacts
  basic-cleaning artifacts sample.csv --store http --store-endpoint https://store.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitWith(runArtifacts(cmd, args[0], opts))
		},
	}
	config.RegisterStoreFlags(cmd.Flags())
	return cmd
}

func runArtifacts(cmd *cobra.Command, name string, _ *options) int {
	errOut := cmd.ErrOrStderr()
	if err := artifact.ValidateName(name); err != nil {
		fmt.Fprintf(errOut, "✗ %v\n", err)
		return ExitValidationError
	}

	v, err := config.NewSettings(cmd.Flags())
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to read flags: %v\n", err)
		return ExitRuntimeError
	}

	store, err := artifact.Open(config.StoreFromSettings(v))
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to open artifact store: %v\n", err)
		return ExitRuntimeError
	}
	defer store.Close()

	versions, err := store.Versions(cmd.Context(), name)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to list versions of %s: %v\n", name, err)
		return ExitRuntimeError
	}
	cli.PrintArtifactVersions(cmd.OutOrStdout(), name, versions)
	return ExitSuccess
}

func newLineageCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage <run-id>",
		Short: "Show the artifacts a run used and logged",
		Long: `Show a recorded run with the artifact versions it consumed and the
versions it published. A run whose output matched the latest version
lists that existing version.

Only the local store keeps lineage.

Examples:
  basic-cleaning lineage 3f2a9c1e-0b7d-4f7e-9a51-2c7d0e8b6a14
  basic-cleaning lineage 3f2a9c1e-0b7d-4f7e-9a51-2c7d0e8b6a14 --store-root ./artifacts`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitWith(runLineage(cmd, args[0], opts))
		},
	}
	config.RegisterStoreFlags(cmd.Flags())
	return cmd
}

func runLineage(cmd *cobra.Command, runID string, _ *options) int {
	errOut := cmd.ErrOrStderr()
	v, err := config.NewSettings(cmd.Flags())
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to read flags: %v\n", err)
		return ExitRuntimeError
	}

	store, err := artifact.Open(config.StoreFromSettings(v))
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to open artifact store: %v\n", err)
		return ExitRuntimeError
	}
	defer store.Close()

	lr, ok := store.(artifact.LineageReader)
	if !ok {
		fmt.Fprintln(errOut, "✗ This artifact store does not record lineage")
		return ExitRuntimeError
	}

	ctx := cmd.Context()
	run, err := lr.Run(ctx, runID)
	if err != nil {
		fmt.Fprintf(errOut, "✗ %v\n", err)
		return ExitRuntimeError
	}
	used, err := lr.Usages(ctx, runID)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to read usages: %v\n", err)
		return ExitRuntimeError
	}
	logged, err := lr.Outputs(ctx, runID)
	if err != nil {
		fmt.Fprintf(errOut, "✗ Failed to read outputs: %v\n", err)
		return ExitRuntimeError
	}
	cli.PrintRunLineage(cmd.OutOrStdout(), run, used, logged)
	return ExitSuccess
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the step JSON schema",
		Long:  "Print the JSON schema that step files are validated against.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.OutOrStdout().Write(config.GetEmbeddedSchema())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print version, commit hash, and build date information.",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

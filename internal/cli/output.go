package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// PrintExecutionResult displays the outcome of a run. Failures go to errW,
// the success summary to w.
func PrintExecutionResult(w, errW io.Writer, result *step.ExecutionResult, err error, opts OutputOptions) {
	if result == nil {
		fmt.Fprintln(errW, "✗ No execution result available")
		return
	}

	if err != nil {
		fmt.Fprintln(errW, "✗ Step execution failed")
		if result.Error != nil {
			fmt.Fprintf(errW, "  Stage: %s\n", result.Error.Module)
			fmt.Fprintf(errW, "  Code: %s\n", result.Error.Code)
			if result.Error.ErrorCategory != "" {
				fmt.Fprintf(errW, "  Category: %s (%s)\n", result.Error.ErrorCategory, result.Error.ErrorType)
			}
			fmt.Fprintf(errW, "  Error: %s\n", result.Error.Message)
		} else {
			fmt.Fprintf(errW, "  Error: %v\n", err)
		}
		return
	}

	if opts.Quiet {
		return
	}

	if result.DryRun {
		fmt.Fprintln(w, "✓ Dry run completed (nothing was published)")
	} else {
		fmt.Fprintln(w, "✓ Step executed successfully")
	}

	rows := [][]string{
		{"Run", result.RunID},
		{"Status", result.Status},
		{"Rows read", strconv.Itoa(result.RowsRead)},
		{"Rows kept", strconv.Itoa(result.RowsKept)},
		{"Rows dropped", strconv.Itoa(result.RowsDropped)},
	}
	if !result.DryRun {
		rows = append(rows, []string{"Rows written", strconv.Itoa(result.RowsWritten)})
	}
	if result.Input != nil {
		rows = append(rows, []string{"Input", artifactLabel(result.Input)})
	}
	if result.Output != nil {
		rows = append(rows, []string{"Output", artifactLabel(result.Output) + " (" + humanize.Bytes(uint64(max(result.Output.Size, 0))) + ")"})
	}
	if opts.Verbose {
		rows = append(rows, []string{"Duration", result.Duration().Round(time.Millisecond).String()})
		if result.Output != nil && result.Output.Digest != "" {
			rows = append(rows, []string{"Digest", result.Output.Digest})
		}
	}

	renderTable(w, []string{"Field", "Value"}, rows)
	if opts.Verbose {
		fmt.Fprintln(w, logger.FormatMetricsHuman(executionMetrics(result)))
	}
}

func executionMetrics(result *step.ExecutionResult) logger.ExecutionMetrics {
	m := logger.ExecutionMetrics{
		TotalDuration: result.Duration(),
		RowsRead:      result.RowsRead,
		RowsKept:      result.RowsKept,
		RowsDropped:   result.RowsDropped,
	}
	if result.Output != nil {
		m.BytesWritten = result.Output.Size
	}
	if m.TotalDuration > 0 {
		m.RowsPerSecond = float64(result.RowsRead) / m.TotalDuration.Seconds()
	}
	return m
}

func artifactLabel(info *step.ArtifactInfo) string {
	return info.Name + ":" + info.Version
}

// PrintArtifactVersions lists the versions of an artifact, newest first.
func PrintArtifactVersions(w io.Writer, name string, versions []*artifact.Artifact) {
	if len(versions) == 0 {
		fmt.Fprintf(w, "No versions of %s\n", name)
		return
	}

	rows := make([][]string, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		a := versions[i]
		rows = append(rows, []string{
			a.VersionTag(),
			strings.Join(a.Aliases, ","),
			a.Type,
			humanize.Bytes(uint64(max(a.Size, 0))),
			shortDigest(a.Digest),
			humanize.Time(a.CreatedAt),
			a.RunID,
		})
	}
	fmt.Fprintf(w, "%s (%d %s)\n", name, len(versions), pluralize(len(versions), "version", "versions"))
	renderTable(w, []string{"Version", "Aliases", "Type", "Size", "Digest", "Created", "Run"}, rows)
}

// PrintRunLineage prints a run with the artifact versions it used and logged.
func PrintRunLineage(w io.Writer, run *artifact.Run, used, logged []string) {
	fmt.Fprintf(w, "Run %s (%s, started %s)\n", run.ID, run.JobType, humanize.Time(run.StartedAt))
	if len(used) == 0 && len(logged) == 0 {
		fmt.Fprintln(w, "No artifacts recorded")
		return
	}
	rows := make([][]string, 0, len(used)+len(logged))
	for _, ref := range used {
		rows = append(rows, []string{"used", ref})
	}
	for _, ref := range logged {
		rows = append(rows, []string{"logged", ref})
	}
	renderTable(w, []string{"Direction", "Artifact"}, rows)
}

// PrintStepSummary prints what a validated step will do.
func PrintStepSummary(w io.Writer, st *step.Step) {
	if st == nil {
		return
	}
	fmt.Fprintf(w, "  Step: %s\n", st.Name)
	if st.Input != nil {
		fmt.Fprintf(w, "  Input: %s %s\n", st.Input.Type, describeConfig(st.Input.Config, "artifact", "path"))
	}
	if st.Filter != nil {
		fmt.Fprintf(w, "  Filter: %s [%v, %v]\n", st.Filter.Type, st.Filter.Config["minPrice"], st.Filter.Config["maxPrice"])
	}
	if st.Output != nil {
		fmt.Fprintf(w, "  Output: %s %s\n", st.Output.Type, describeConfig(st.Output.Config, "name", "path"))
	}
	if st.Store != nil {
		target := st.Store.Root
		if st.Store.Type == artifact.StoreHTTP {
			target = st.Store.Endpoint
		}
		fmt.Fprintf(w, "  Store: %s %s\n", st.Store.Type, target)
	}
}

func describeConfig(cfg map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := cfg[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	table.Header(cells...)
	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
}

// shortDigest drops the algorithm prefix and keeps 12 hex digits.
func shortDigest(d string) string {
	if _, hex, ok := strings.Cut(d, ":"); ok {
		d = hex
	}
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

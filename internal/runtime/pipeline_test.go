package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/errhandling"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/internal/modules/filter"
	"github.com/canectors/basic-cleaning/internal/modules/input"
	"github.com/canectors/basic-cleaning/internal/modules/output"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// =============================================================================
// Mock Implementations for Testing
// =============================================================================

// MockInputModule is a test mock for input.Module interface
type MockInputModule struct {
	data        *dataset.Dataset
	err         error
	fetchCalled bool
	closed      bool
}

func NewMockInputModule(data *dataset.Dataset, err error) *MockInputModule {
	return &MockInputModule{data: data, err: err}
}

func (m *MockInputModule) Fetch(_ context.Context) (*dataset.Dataset, error) {
	m.fetchCalled = true
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func (m *MockInputModule) Close() error {
	m.closed = true
	return nil
}

var _ input.Module = (*MockInputModule)(nil)

// MockFilterModule is a test mock for filter.Module interface
type MockFilterModule struct {
	keep          func(row []string) bool
	err           error
	processCalled bool
	received      *dataset.Dataset
}

func (m *MockFilterModule) Process(_ context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	m.processCalled = true
	m.received = ds
	if m.err != nil {
		return nil, m.err
	}
	if m.keep == nil {
		return ds, nil
	}
	return ds.Filter(m.keep), nil
}

var _ filter.Module = (*MockFilterModule)(nil)

// MockOutputModule is a test mock for output.Module interface
type MockOutputModule struct {
	sent       *dataset.Dataset
	err        error
	sendCalled bool
	closed     bool
}

func NewMockOutputModule(err error) *MockOutputModule {
	return &MockOutputModule{err: err}
}

func (m *MockOutputModule) Send(_ context.Context, ds *dataset.Dataset) (int, error) {
	m.sendCalled = true
	if m.err != nil {
		return 0, m.err
	}
	m.sent = ds
	return ds.Len(), nil
}

func (m *MockOutputModule) Close() error {
	m.closed = true
	return nil
}

func (m *MockOutputModule) BytesWritten() int64 {
	if m.sent == nil {
		return 0
	}
	return 42
}

var _ output.Module = (*MockOutputModule)(nil)

// recordingObserver collects what the executor reports.
type recordingObserver struct {
	stages  []string
	read    int
	kept    int
	dropped map[string]int
	bytes   int64
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveRows(read, kept int, dropped map[string]int) {
	o.read, o.kept, o.dropped = read, kept, dropped
}

func (o *recordingObserver) ObserveBytes(n int64) {
	o.bytes = n
}

func listings() *dataset.Dataset {
	return dataset.New([]string{"id", "price"}, [][]string{
		{"1", "5"},
		{"2", "150"},
		{"3", "999"},
		{"4", "50"},
		{"5", "n/a"},
	})
}

func testStep() *step.Step {
	return &step.Step{
		ID:      "clean-1",
		Name:    "Basic cleaning",
		JobType: step.DefaultJobType,
		Input:   &step.ModuleConfig{Type: "file", Config: map[string]interface{}{"path": "sample.csv"}},
		Filter:  &step.ModuleConfig{Type: "priceRange", Config: map[string]interface{}{"minPrice": 10.0, "maxPrice": 200.0}},
		Output:  &step.ModuleConfig{Type: "file", Config: map[string]interface{}{"path": "clean.csv"}},
	}
}

func priceRange(t *testing.T, lo, hi float64) *filter.RangeModule {
	t.Helper()
	m, err := filter.NewRangeFromConfig(filter.RangeConfig{MinPrice: lo, MaxPrice: hi})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := logger.Logger
	logger.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	t.Cleanup(func() { logger.Logger = original })
	return &buf
}

func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// =============================================================================
// Unit Tests for Step Execution
// =============================================================================

func TestExecutor_Execute_Success(t *testing.T) {
	mockInput := NewMockInputModule(listings(), nil)
	mockOutput := NewMockOutputModule(nil)
	obs := &recordingObserver{}

	executor := NewExecutor(mockInput, priceRange(t, 10, 200), mockOutput, false)
	executor.SetRunID("run-1")
	executor.SetObserver(obs)

	result, err := executor.Execute(context.Background(), testStep())
	if err != nil {
		t.Fatalf("Execute() returned unexpected error: %v", err)
	}

	if result.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", result.Status, StatusSuccess)
	}
	if result.RunID != "run-1" || result.StepID != "clean-1" {
		t.Errorf("RunID/StepID = %q/%q", result.RunID, result.StepID)
	}
	if result.RowsRead != 5 || result.RowsKept != 2 || result.RowsDropped != 3 || result.RowsWritten != 2 {
		t.Errorf("rows read/kept/dropped/written = %d/%d/%d/%d, want 5/2/3/2",
			result.RowsRead, result.RowsKept, result.RowsDropped, result.RowsWritten)
	}
	if result.Error != nil {
		t.Errorf("Error = %+v, want nil", result.Error)
	}
	if result.CompletedAt.Before(result.StartedAt) {
		t.Error("CompletedAt should not be before StartedAt")
	}

	var ids []string
	for i := 0; i < mockOutput.sent.Len(); i++ {
		ids = append(ids, mockOutput.sent.Rows[i][0])
	}
	if strings.Join(ids, ",") != "2,4" {
		t.Errorf("sent ids = %v, want [2 4]", ids)
	}

	if strings.Join(obs.stages, ",") != "input,filter,output" {
		t.Errorf("observed stages = %v", obs.stages)
	}
	if obs.read != 5 || obs.kept != 2 {
		t.Errorf("observed rows = %d/%d", obs.read, obs.kept)
	}
	if obs.dropped[DropOutOfRange] != 2 || obs.dropped[DropNonNumeric] != 1 {
		t.Errorf("observed dropped = %v", obs.dropped)
	}
	if obs.bytes != 42 {
		t.Errorf("observed bytes = %d, want 42", obs.bytes)
	}
}

func TestExecutor_Execute_ClosesModules(t *testing.T) {
	tests := []struct {
		name       string
		inputErr   error
		filterErr  error
		outputErr  error
		wantSend   bool
		wantFilter bool
	}{
		{name: "success", wantSend: true, wantFilter: true},
		{name: "input error", inputErr: errors.New("boom")},
		{name: "filter error", filterErr: errors.New("boom"), wantFilter: true},
		{name: "output error", outputErr: errors.New("boom"), wantSend: true, wantFilter: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockInput := NewMockInputModule(listings(), tt.inputErr)
			mockFilter := &MockFilterModule{err: tt.filterErr}
			mockOutput := NewMockOutputModule(tt.outputErr)

			_, _ = NewExecutor(mockInput, mockFilter, mockOutput, false).Execute(context.Background(), testStep())

			if !mockInput.closed {
				t.Error("input module should be closed")
			}
			if !mockOutput.closed {
				t.Error("output module should be closed")
			}
			if mockFilter.processCalled != tt.wantFilter {
				t.Errorf("filter called = %v, want %v", mockFilter.processCalled, tt.wantFilter)
			}
			if mockOutput.sendCalled != tt.wantSend {
				t.Errorf("send called = %v, want %v", mockOutput.sendCalled, tt.wantSend)
			}
		})
	}
}

func TestExecutor_Execute_StageErrors(t *testing.T) {
	schemaErr := &dataset.SchemaError{Column: "price", Available: []string{"id"}}
	parseErr := &dataset.ParseError{Line: 3, Message: "wrong number of fields"}

	tests := []struct {
		name         string
		inputErr     error
		filterErr    error
		outputErr    error
		wantCode     string
		wantModule   string
		wantCategory errhandling.ErrorCategory
		wantType     string
	}{
		{
			name:         "malformed input",
			inputErr:     parseErr,
			wantCode:     ErrCodeInputFailed,
			wantModule:   StageInput,
			wantCategory: errhandling.CategoryParse,
			wantType:     ErrorTypeFatal,
		},
		{
			name:         "unknown artifact",
			inputErr:     errhandling.NewNotFoundError("artifact sample.csv:v9 not found", artifact.ErrNotFound),
			wantCode:     ErrCodeInputFailed,
			wantModule:   StageInput,
			wantCategory: errhandling.CategoryNotFound,
			wantType:     ErrorTypeFatal,
		},
		{
			name:         "missing column",
			filterErr:    schemaErr,
			wantCode:     ErrCodeFilterFailed,
			wantModule:   StageFilter,
			wantCategory: errhandling.CategorySchema,
			wantType:     ErrorTypeFatal,
		},
		{
			name:         "store unavailable",
			outputErr:    errhandling.ClassifyHTTPStatus(503, "maintenance"),
			wantCode:     ErrCodeOutputFailed,
			wantModule:   StageOutput,
			wantCategory: errhandling.CategoryServer,
			wantType:     ErrorTypeTransient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(
				NewMockInputModule(listings(), tt.inputErr),
				&MockFilterModule{err: tt.filterErr},
				NewMockOutputModule(tt.outputErr),
				false,
			)

			result, err := executor.Execute(context.Background(), testStep())
			if err == nil {
				t.Fatal("Execute() should fail")
			}
			want := tt.inputErr
			if want == nil {
				want = tt.filterErr
			}
			if want == nil {
				want = tt.outputErr
			}
			if !errors.Is(err, want) {
				t.Errorf("error %v should wrap %v", err, want)
			}
			if result == nil || result.Error == nil {
				t.Fatal("result should carry error details")
			}
			if result.Status != StatusError {
				t.Errorf("Status = %q, want %q", result.Status, StatusError)
			}
			if result.Error.Code != tt.wantCode || result.Error.Module != tt.wantModule {
				t.Errorf("Code/Module = %s/%s, want %s/%s", result.Error.Code, result.Error.Module, tt.wantCode, tt.wantModule)
			}
			if result.Error.ErrorCategory != string(tt.wantCategory) {
				t.Errorf("ErrorCategory = %q, want %q", result.Error.ErrorCategory, tt.wantCategory)
			}
			if result.Error.ErrorType != tt.wantType {
				t.Errorf("ErrorType = %q, want %q", result.Error.ErrorType, tt.wantType)
			}
			if result.CompletedAt.IsZero() {
				t.Error("CompletedAt should be set")
			}
		})
	}
}

func TestExecutor_Execute_EmptyInput(t *testing.T) {
	mockOutput := NewMockOutputModule(nil)
	executor := NewExecutor(
		NewMockInputModule(dataset.New([]string{"id", "price"}, nil), nil),
		priceRange(t, 10, 200),
		mockOutput,
		false,
	)

	result, err := executor.Execute(context.Background(), testStep())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowsRead != 0 || result.RowsKept != 0 {
		t.Errorf("rows = %d/%d, want 0/0", result.RowsRead, result.RowsKept)
	}
	if mockOutput.sent == nil || len(mockOutput.sent.Header) != 2 {
		t.Error("output should receive the header even with no rows")
	}
}

func TestExecutor_Execute_NilDatasetIsInputFailure(t *testing.T) {
	executor := NewExecutor(NewMockInputModule(nil, nil), &MockFilterModule{}, NewMockOutputModule(nil), false)
	result, err := executor.Execute(context.Background(), testStep())
	if !errors.Is(err, ErrNoDataset) {
		t.Fatalf("error = %v, want ErrNoDataset", err)
	}
	if result.Error.Code != ErrCodeInputFailed {
		t.Errorf("Code = %s, want %s", result.Error.Code, ErrCodeInputFailed)
	}
}

func TestExecutor_Execute_InvalidInput(t *testing.T) {
	in := func() input.Module { return NewMockInputModule(listings(), nil) }
	tests := []struct {
		name    string
		input   input.Module
		filter  filter.Module
		output  output.Module
		dryRun  bool
		step    *step.Step
		wantErr error
	}{
		{name: "nil step", input: in(), filter: &MockFilterModule{}, output: NewMockOutputModule(nil), step: nil, wantErr: ErrNilStep},
		{name: "nil input", filter: &MockFilterModule{}, output: NewMockOutputModule(nil), step: testStep(), wantErr: ErrNilInputModule},
		{name: "nil filter", input: in(), output: NewMockOutputModule(nil), step: testStep(), wantErr: ErrNilFilterModule},
		{name: "nil output", input: in(), filter: &MockFilterModule{}, step: testStep(), wantErr: ErrNilOutputModule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewExecutor(tt.input, tt.filter, tt.output, tt.dryRun).Execute(context.Background(), tt.step)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if result.Error == nil || result.Error.Code != ErrCodeInvalidInput {
				t.Errorf("Error = %+v, want code %s", result.Error, ErrCodeInvalidInput)
			}
			if result.Error.ErrorType != ErrorTypeFatal {
				t.Errorf("ErrorType = %q, want fatal", result.Error.ErrorType)
			}
		})
	}
}

func TestExecutor_DryRun(t *testing.T) {
	mockInput := NewMockInputModule(listings(), nil)
	mockOutput := NewMockOutputModule(nil)
	obs := &recordingObserver{}

	executor := NewExecutor(mockInput, priceRange(t, 10, 200), mockOutput, true)
	executor.SetObserver(obs)

	result, err := executor.Execute(context.Background(), testStep())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if mockOutput.sendCalled {
		t.Error("output module should not be called in dry-run mode")
	}
	if !mockOutput.closed {
		t.Error("output module should still be closed")
	}
	if !result.DryRun || result.Status != StatusSuccess {
		t.Errorf("DryRun/Status = %v/%q", result.DryRun, result.Status)
	}
	if result.RowsKept != 2 || result.RowsWritten != 0 {
		t.Errorf("RowsKept/RowsWritten = %d/%d, want 2/0", result.RowsKept, result.RowsWritten)
	}
	if strings.Join(obs.stages, ",") != "input,filter" {
		t.Errorf("observed stages = %v", obs.stages)
	}

	// No output module is needed at all in dry-run mode.
	if _, err := NewExecutor(NewMockInputModule(listings(), nil), &MockFilterModule{}, nil, true).Execute(context.Background(), testStep()); err != nil {
		t.Errorf("dry run without output module: %v", err)
	}
}

func TestExecutor_GenericFilterDropReason(t *testing.T) {
	obs := &recordingObserver{}
	executor := NewExecutor(
		NewMockInputModule(listings(), nil),
		&MockFilterModule{keep: func(row []string) bool { return row[0] == "1" }},
		NewMockOutputModule(nil),
		false,
	)
	executor.SetObserver(obs)

	if _, err := executor.Execute(context.Background(), testStep()); err != nil {
		t.Fatal(err)
	}
	if obs.dropped[DropFiltered] != 4 {
		t.Errorf("dropped = %v, want %s=4", obs.dropped, DropFiltered)
	}
}

func TestExecutor_Execute_Twice(t *testing.T) {
	mockInput := NewMockInputModule(listings(), nil)
	mockOutput := NewMockOutputModule(nil)
	executor := NewExecutor(mockInput, priceRange(t, 10, 200), mockOutput, false)

	for i := 1; i <= 2; i++ {
		mockInput.fetchCalled = false
		result, err := executor.Execute(context.Background(), testStep())
		if err != nil {
			t.Fatalf("Execute() #%d error = %v", i, err)
		}
		if !mockInput.fetchCalled {
			t.Errorf("Execute() #%d did not fetch", i)
		}
		if result.Status != StatusSuccess || result.RowsKept != 2 {
			t.Errorf("Execute() #%d Status/RowsKept = %q/%d", i, result.Status, result.RowsKept)
		}
	}
}

// closeFailingInput fetches like MockInputModule but fails to close.
type closeFailingInput struct {
	*MockInputModule
}

func (m closeFailingInput) Close() error {
	return errors.New("handle already released")
}

func TestExecutor_LogsCarryExecutionContext(t *testing.T) {
	buf := captureLogs(t)

	executor := NewExecutor(closeFailingInput{NewMockInputModule(listings(), nil)}, priceRange(t, 10, 200), nil, true)
	executor.SetRunID("run-ctx")
	if _, err := executor.Execute(context.Background(), testStep()); err != nil {
		t.Fatal(err)
	}

	seen := map[string]map[string]any{}
	for _, entry := range logEntries(t, buf) {
		if msg, _ := entry["msg"].(string); msg != "" {
			seen[msg] = entry
		}
	}

	skip, ok := seen["dry-run mode: skipping output stage"]
	if !ok {
		t.Fatal("missing dry-run skip log")
	}
	if skip["run_id"] != "run-ctx" || skip["step_name"] != "Basic cleaning" || skip["dry_run"] != true {
		t.Errorf("dry-run skip entry = %v", skip)
	}
	if skip["rows_would_write"] != float64(2) {
		t.Errorf("rows_would_write = %v, want 2", skip["rows_would_write"])
	}

	closeWarn, ok := seen["failed to close module"]
	if !ok {
		t.Fatal("missing close failure log")
	}
	if closeWarn["run_id"] != "run-ctx" || closeWarn["stage"] != StageInput || closeWarn["error"] != "handle already released" {
		t.Errorf("close failure entry = %v", closeWarn)
	}
}

func TestExecutor_Execute_Logs(t *testing.T) {
	buf := captureLogs(t)

	executor := NewExecutor(NewMockInputModule(listings(), nil), priceRange(t, 10, 200), NewMockOutputModule(nil), false)
	executor.SetRunID("run-logs")
	if _, err := executor.Execute(context.Background(), testStep()); err != nil {
		t.Fatal(err)
	}

	var started, metrics bool
	stages := map[string]bool{}
	for _, entry := range logEntries(t, buf) {
		switch entry["msg"] {
		case "execution started":
			started = true
			if entry["run_id"] != "run-logs" || entry["step_name"] != "Basic cleaning" {
				t.Errorf("execution started entry = %v", entry)
			}
		case "stage completed":
			stages[entry["stage"].(string)] = true
			if entry["stage"] == StageFilter && entry["module_type"] != "priceRange" {
				t.Errorf("filter stage module_type = %v", entry["module_type"])
			}
		case "execution metrics":
			metrics = true
			if entry["rows_read"] != float64(5) || entry["rows_kept"] != float64(2) || entry["rows_dropped"] != float64(3) {
				t.Errorf("metrics entry = %v", entry)
			}
		}
	}
	if !started || !metrics {
		t.Errorf("started=%v metrics=%v", started, metrics)
	}
	for _, s := range []string{StageInput, StageFilter, StageOutput} {
		if !stages[s] {
			t.Errorf("missing stage completed log for %s", s)
		}
	}
}

func TestExecutor_Execute_LogsFailureLocation(t *testing.T) {
	buf := captureLogs(t)

	executor := NewExecutor(
		NewMockInputModule(dataset.New([]string{"id", "cost"}, [][]string{{"1", "5"}}), nil),
		priceRange(t, 10, 200),
		NewMockOutputModule(nil),
		false,
	)
	if _, err := executor.Execute(context.Background(), testStep()); !dataset.IsSchemaError(err) {
		t.Fatalf("error = %v, want schema error", err)
	}

	found := false
	for _, entry := range logEntries(t, buf) {
		if entry["msg"] == "step stage failed" {
			found = true
			if entry["column"] != "price" || entry["error_code"] != ErrCodeFilterFailed {
				t.Errorf("failure entry = %v", entry)
			}
		}
	}
	if !found {
		t.Error("expected a 'step stage failed' log entry")
	}
}

// TestExecutor_ArtifactRoundTrip runs the real artifact modules against a
// local store: the published version is recorded in the result and its
// content is exactly the kept rows.
func TestExecutor_ArtifactRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	raw := "id,name,price\n1,Tiny,5\n2,\"Loft, Brooklyn\",150\n3,Penthouse,999\n4,Room,50\n"
	if err := store.BeginRun(ctx, &artifact.Run{ID: "seed", JobType: "download"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Log(ctx, "seed", artifact.Spec{Name: "sample.csv", Type: "raw_data"}, strings.NewReader(raw)); err != nil {
		t.Fatal(err)
	}
	if err := store.BeginRun(ctx, &artifact.Run{ID: "run-1", JobType: step.DefaultJobType}); err != nil {
		t.Fatal(err)
	}

	st := &step.Step{
		ID:     "clean",
		Input:  &step.ModuleConfig{Type: "artifact", Config: map[string]interface{}{"artifact": "sample.csv:latest"}},
		Filter: &step.ModuleConfig{Type: "priceRange", Config: map[string]interface{}{"minPrice": 10.0, "maxPrice": 200.0}},
		Output: &step.ModuleConfig{Type: "artifact", Config: map[string]interface{}{
			"name": "clean_sample.csv", "type": "clean_sample", "description": "Data with outliers removed",
		}},
	}
	in, err := input.NewArtifactInputFromConfig(st.Input, store, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	out, err := output.NewArtifactOutputFromConfig(st.Output, store, "run-1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(in, priceRange(t, 10, 200), out, false)
	executor.SetRunID("run-1")
	result, err := executor.Execute(ctx, st)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.Input == nil || result.Input.Name != "sample.csv" || result.Input.Version != "v1" {
		t.Errorf("Input = %+v", result.Input)
	}
	if result.Output == nil || result.Output.Name != "clean_sample.csv" || result.Output.Version != "v1" {
		t.Errorf("Output = %+v", result.Output)
	}

	_, rc, err := store.Use(ctx, "run-1", artifact.Ref{Name: "clean_sample.csv"})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	want := "id,name,price\n2,\"Loft, Brooklyn\",150\n4,Room,50\n"
	if string(got) != want {
		t.Errorf("published = %q, want %q", got, want)
	}
}

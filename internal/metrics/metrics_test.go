package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunObservations(t *testing.T) {
	r := NewRun("run-1", "basic_cleaning")

	r.ObserveRows(5, 2, map[string]int{"out_of_range": 2, "non_numeric": 1})
	r.ObserveBytes(2048)
	r.ObserveStage("input", 1500*time.Millisecond)
	r.ObserveStage("filter", 250*time.Millisecond)

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"rows read", r.RowsRead, 5},
		{"rows kept", r.RowsKept, 2},
		{"out of range", r.RowsDropped.WithLabelValues("out_of_range"), 2},
		{"non numeric", r.RowsDropped.WithLabelValues("non_numeric"), 1},
		{"bytes written", r.BytesWritten, 2048},
		{"input duration", r.StageDuration.WithLabelValues("input"), 1.5},
		{"filter duration", r.StageDuration.WithLabelValues("filter"), 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunsAreIsolated(t *testing.T) {
	a := NewRun("a", "basic_cleaning")
	b := NewRun("b", "basic_cleaning")
	a.ObserveBytes(10)

	if got := testutil.ToFloat64(b.BytesWritten); got != 0 {
		t.Errorf("second run bytes = %v, want 0", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := NewRun("run-42", "basic_cleaning")
	r.ObserveRows(3, 1, map[string]int{"filtered": 2})
	r.Complete("success", time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "textfile", "basic_cleaning.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"# TYPE basic_cleaning_rows_read gauge",
		`basic_cleaning_rows_read{job_type="basic_cleaning",run_id="run-42"} 3`,
		`basic_cleaning_rows_dropped{job_type="basic_cleaning",reason="filtered",run_id="run-42"} 2`,
		`basic_cleaning_last_run_timestamp_seconds{job_type="basic_cleaning",run_id="run-42",status="success"} 1.7e+09`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q\n%s", want, text)
		}
	}

	if err := r.WriteTextfile(""); err == nil {
		t.Error("WriteTextfile(\"\") should fail")
	}
}

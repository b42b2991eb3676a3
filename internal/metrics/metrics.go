// Package metrics collects the measurements of a single cleaning run in a
// dedicated Prometheus registry and exports them in text exposition format,
// ready for a node-exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "basic_cleaning"

// Label names
var (
	StageLabel  = "stage"
	ReasonLabel = "reason"
	StatusLabel = "status"
)

// Run holds the collectors for one execution. It satisfies runtime.Observer.
type Run struct {
	registry *prometheus.Registry

	RowsRead      prometheus.Gauge
	RowsKept      prometheus.Gauge
	RowsDropped   *prometheus.GaugeVec
	BytesWritten  prometheus.Gauge
	StageDuration *prometheus.GaugeVec
	LastRun       *prometheus.GaugeVec
}

// NewRun creates the collectors for a run. runID and jobType are attached to
// every series as constant labels.
func NewRun(runID, jobType string) *Run {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"run_id": runID, "job_type": jobType}
	factory := promauto.With(reg)

	return &Run{
		registry: reg,
		RowsRead: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "rows_read",
			Help:        "Data rows read from the input.",
			ConstLabels: labels,
		}),
		RowsKept: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "rows_kept",
			Help:        "Data rows that passed the filter.",
			ConstLabels: labels,
		}),
		RowsDropped: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "rows_dropped",
			Help:        "Data rows removed by the filter, by reason.",
			ConstLabels: labels,
		}, []string{ReasonLabel}),
		BytesWritten: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "bytes_written",
			Help:        "Size of the published CSV in bytes.",
			ConstLabels: labels,
		}),
		StageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "stage_duration_seconds",
			Help:        "Wall-clock duration of each execution stage.",
			ConstLabels: labels,
		}, []string{StageLabel}),
		LastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the run completed, by final status.",
			ConstLabels: labels,
		}, []string{StatusLabel}),
	}
}

// Registry returns the registry holding the run's collectors.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long a stage took.
func (r *Run) ObserveStage(stage string, d time.Duration) {
	r.StageDuration.With(prometheus.Labels{StageLabel: stage}).Set(d.Seconds())
}

// ObserveRows records the filter outcome.
func (r *Run) ObserveRows(read, kept int, dropped map[string]int) {
	r.RowsRead.Set(float64(read))
	r.RowsKept.Set(float64(kept))
	for reason, n := range dropped {
		r.RowsDropped.With(prometheus.Labels{ReasonLabel: reason}).Set(float64(n))
	}
}

// ObserveBytes records the size of the published file.
func (r *Run) ObserveBytes(n int64) {
	r.BytesWritten.Set(float64(n))
}

// Complete records the final status of the run.
func (r *Run) Complete(status string, at time.Time) {
	r.LastRun.With(prometheus.Labels{StatusLabel: status}).Set(float64(at.Unix()))
}

// WriteTextfile writes the registry to path in text exposition format.
// The parent directory is created if needed; the file is replaced atomically.
func (r *Run) WriteTextfile(path string) error {
	if path == "" {
		return fmt.Errorf("metrics textfile path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

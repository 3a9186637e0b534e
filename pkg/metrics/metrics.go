// Package metrics records sync outcomes as Prometheus metrics. rsyncer is a
// short-lived CLI, so metrics are written to a node_exporter textfile
// instead of being scraped from a listener.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Registry holds all rsyncer metrics. A nil *Registry records nothing.
type Registry struct {
	reg         *prometheus.Registry
	syncs       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	exitCode    *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsyncer_sync_total",
			Help: "Completed rsync runs by job and result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsyncer_sync_duration_seconds",
			Help:    "Wall-clock duration of rsync runs.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"job"}),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsyncer_last_exit_code",
			Help: "Exit code of the most recent rsync run; -1 when it was signalled.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsyncer_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful rsync run.",
		}, []string{"job"}),
	}
	r.reg.MustRegister(r.syncs, r.duration, r.exitCode, r.lastSuccess)
	return r
}

// Gatherer exposes the underlying registry. A nil *Registry gathers
// nothing.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.Gatherers{}
	}
	return r.reg
}

// RecordSync records a finished rsync run.
func (r *Registry) RecordSync(job string, exitCode int, duration time.Duration) {
	if r == nil {
		return
	}
	result := ResultSuccess
	if exitCode != 0 {
		result = ResultFailure
	}
	r.syncs.WithLabelValues(job, result).Inc()
	r.duration.WithLabelValues(job).Observe(duration.Seconds())
	r.exitCode.WithLabelValues(job).Set(float64(exitCode))
	if exitCode == 0 {
		r.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordError records a run that never produced an exit code, such as a
// spawn failure.
func (r *Registry) RecordError(job string) {
	if r == nil {
		return
	}
	r.syncs.WithLabelValues(job, ResultError).Inc()
}

// WriteTextfile atomically writes all metrics in the text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.Gatherer()); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// Count returns the rsyncer_sync_total value for job and result.
func (r *Registry) Count(job, result string) float64 {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		if mf.GetName() != "rsyncer_sync_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["job"] == job && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// LastExitCode returns the last recorded exit code for job.
func (r *Registry) LastExitCode(job string) (int, bool) {
	families, err := r.Gatherer().Gather()
	if err != nil {
		return 0, false
	}
	for _, mf := range families {
		if mf.GetName() != "rsyncer_last_exit_code" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "job" && lp.GetValue() == job {
					return int(m.GetGauge().GetValue()), true
				}
			}
		}
	}
	return 0, false
}

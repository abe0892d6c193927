package metrics

/*
tagex — fast tool in Go for extracting tags from unstructured text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	registry      = prometheus.NewRegistry()
	serverMu      sync.Mutex
	metricsServer *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry
	enabled  atomic.Bool

	// Extraction metrics
	TagMatchesTotal  *prometheus.CounterVec
	TagDiscardsTotal *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	InputBytesTotal  *prometheus.CounterVec
	ReportLinesTotal prometheus.Counter

	// Batch metrics
	SourcesTotal *prometheus.CounterVec

	// Worker metrics
	WorkerBusy      *prometheus.GaugeVec
	WorkerProcessed *prometheus.CounterVec
	WorkerPanics    *prometheus.CounterVec
	QueueSize       *prometheus.GaugeVec
	QueueCapacity   *prometheus.GaugeVec

	// Scheduler metrics
	SchedulerWorkSubmitted prometheus.Counter
	SchedulerWorkRejected  prometheus.Counter
	SchedulerRateLimitWait prometheus.Histogram
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance, registered on the
// registry served by StartMetricsServer.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		globalMetrics = NewMetrics(registry)
	})
	return globalMetrics
}

// EnableMetrics enables collection on the global instance.
func EnableMetrics() {
	GetMetrics().Enable()
}

// IsMetricsEnabled returns whether the global instance collects.
func IsMetricsEnabled() bool {
	return GetMetrics().Enabled()
}

// NewMetrics creates all metrics on reg. Collection starts disabled.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	buckets := []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TagMatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagex_tag_matches_total",
				Help: "Matches reported per tag after refinement",
			},
			[]string{"tag"},
		),
		TagDiscardsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagex_tag_discards_total",
				Help: "Raw matches dropped by refinement per tag",
			},
			[]string{"tag"},
		),
		ScanDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tagex_scan_duration_seconds",
				Help:    "Time spent scanning text for one tag",
				Buckets: buckets,
			},
			[]string{"tag"},
		),
		InputBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagex_input_bytes_total",
				Help: "Bytes of text read per source kind",
			},
			[]string{"kind"},
		),
		ReportLinesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tagex_report_lines_total",
				Help: "Report lines written",
			},
		),

		SourcesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagex_batch_sources_total",
				Help: "Batch sources by outcome",
			},
			[]string{"status"},
		),

		WorkerBusy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tagex_worker_busy",
				Help: "Whether a worker is currently busy (1) or idle (0)",
			},
			[]string{"worker_id"},
		),
		WorkerProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagex_worker_processed_total",
				Help: "Total number of items processed by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerPanics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tagex_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
		QueueSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tagex_queue_size",
				Help: "Current size of work queues",
			},
			[]string{"worker_id"},
		),
		QueueCapacity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tagex_queue_capacity",
				Help: "Maximum capacity of work queues",
			},
			[]string{"worker_id"},
		),

		SchedulerWorkSubmitted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tagex_scheduler_work_submitted_total",
				Help: "Work items accepted by the scheduler",
			},
		),
		SchedulerWorkRejected: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tagex_scheduler_work_rejected_total",
				Help: "Work items rejected because a queue was full or the scheduler stopped",
			},
		),
		SchedulerRateLimitWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tagex_scheduler_rate_limit_wait_seconds",
				Help:    "Time spent waiting for the submission rate limiter",
				Buckets: buckets,
			},
		),
	}
}

// Enable turns collection on.
func (m *Metrics) Enable() { m.enabled.Store(true) }

// Enabled reports whether collection is on.
func (m *Metrics) Enabled() bool { return m != nil && m.enabled.Load() }

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveScan records one tag scan. It satisfies tags.Observer.
func (m *Metrics) ObserveScan(tag string, raw, kept int, elapsed time.Duration) {
	if !m.Enabled() {
		return
	}
	m.TagMatchesTotal.WithLabelValues(tag).Add(float64(kept))
	if raw > kept {
		m.TagDiscardsTotal.WithLabelValues(tag).Add(float64(raw - kept))
	}
	m.ScanDuration.WithLabelValues(tag).Observe(elapsed.Seconds())
}

// AddInputBytes records text read from a source of the given kind.
func (m *Metrics) AddInputBytes(kind string, n int) {
	if !m.Enabled() {
		return
	}
	m.InputBytesTotal.WithLabelValues(kind).Add(float64(n))
}

// AddReportLines records written report lines.
func (m *Metrics) AddReportLines(n int) {
	if !m.Enabled() {
		return
	}
	m.ReportLinesTotal.Add(float64(n))
}

// SourceDone records the outcome of one batch source.
func (m *Metrics) SourceDone(ok bool) {
	if !m.Enabled() {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.SourcesTotal.WithLabelValues(status).Inc()
}

// SetWorkerBusy flips the busy gauge of a worker.
func (m *Metrics) SetWorkerBusy(workerID int, busy bool) {
	if !m.Enabled() {
		return
	}
	v := 0.0
	if busy {
		v = 1
	}
	m.WorkerBusy.WithLabelValues(strconv.Itoa(workerID)).Set(v)
}

// WorkerDone counts a processed item, and a recovered panic when panicked is set.
func (m *Metrics) WorkerDone(workerID int, panicked bool) {
	if !m.Enabled() {
		return
	}
	id := strconv.Itoa(workerID)
	m.WorkerProcessed.WithLabelValues(id).Inc()
	if panicked {
		m.WorkerPanics.WithLabelValues(id).Inc()
	}
}

// UpdateQueueMetrics updates queue metrics for a worker
func (m *Metrics) UpdateQueueMetrics(workerID, queueSize, queueCapacity int) {
	if !m.Enabled() {
		return
	}
	id := strconv.Itoa(workerID)
	m.QueueSize.WithLabelValues(id).Set(float64(queueSize))
	m.QueueCapacity.WithLabelValues(id).Set(float64(queueCapacity))
}

// Submitted counts a scheduler submission attempt.
func (m *Metrics) Submitted(accepted bool) {
	if !m.Enabled() {
		return
	}
	if accepted {
		m.SchedulerWorkSubmitted.Inc()
	} else {
		m.SchedulerWorkRejected.Inc()
	}
}

// ObserveRateLimitWait records time spent in the submission limiter.
func (m *Metrics) ObserveRateLimitWait(d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.SchedulerRateLimitWait.Observe(d.Seconds())
}

// WriteToTextfile dumps the registry in the text exposition format, for
// node_exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartMetricsServer serves the global registry on addr under /metrics. It
// returns once the listener is bound, with the bound address.
func StartMetricsServer(addr string, logger *zap.Logger) (string, error) {
	serverMu.Lock()
	defer serverMu.Unlock()

	if metricsServer != nil {
		return metricsServer.Addr, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := GetMetrics()
	m.Enable()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer = srv

	go func() {
		logger.Info("metrics server listening", zap.String("addr", srv.Addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv.Addr, nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	serverMu.Lock()
	srv := metricsServer
	metricsServer = nil
	serverMu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

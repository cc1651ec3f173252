// Package telemetry backs the engine's consumed Telemetry interface (spec
// §6: startSpan/recordError) and the ambient metrics surface. Counters and
// gauges are adapted from the teacher's internal/telemetry/metrics.go,
// renamed from the task-scheduler domain to the download-job domain;
// tracing is new (the teacher never wires one) and is grounded on
// ncobase-ncore's go.mod, the nearest pack repo carrying an OpenTelemetry
// stack.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsInitiated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_initiated_total", Help: "Total Initiate calls that created a new job"})
	JobsDuplicate   = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_duplicate_total", Help: "Initiate calls resolved via the idempotency index"})
	JobsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_completed_total", Help: "Jobs that completed successfully"})
	JobsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_failed_total", Help: "Jobs terminally failed"})
	JobsRetried     = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_retried_total", Help: "Transient failures that were requeued"})
	JobsCancelled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_cancelled_total", Help: "Jobs cancelled before completion"})
	JobsExpired     = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_expired_total", Help: "Jobs expired by the sweeper"})
	ServiceBusy     = prometheus.NewCounter(prometheus.CounterOpts{Name: "downloads_service_busy_total", Help: "Initiate calls rejected because the queue was full"})
	QueueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "downloads_queue_depth", Help: "Work queue depth by priority class"}, []string{"priority"})
	InFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "downloads_inflight", Help: "Jobs currently being worked"})
)

// Handler exposes /metrics with a process-wide singleton registry, matching
// the teacher's Handler().
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsInitiated,
			JobsDuplicate,
			JobsCompleted,
			JobsFailed,
			JobsRetried,
			JobsCancelled,
			JobsExpired,
			ServiceBusy,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}

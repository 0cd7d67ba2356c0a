// Package metrics records sync telemetry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics defines the interface for sync telemetry.
type Metrics interface {
	// Classification
	AddActions(op string, n int)

	// Dispatch
	IncBatch(mode string)
	IncBatchFailure(mode, reason string)
	ObserveDispatchLatency(mode string, duration time.Duration)

	// Re-index
	AddReindexDocuments(label string, n int)
	IncReindexBatch(label string)
}

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (m *NoopMetrics) AddActions(op string, n int) {
	_ = op
}
func (m *NoopMetrics) IncBatch(mode string) {
	_ = mode
}
func (m *NoopMetrics) IncBatchFailure(mode, reason string) {
	_ = mode
}
func (m *NoopMetrics) ObserveDispatchLatency(mode string, duration time.Duration) {
	_ = mode
}
func (m *NoopMetrics) AddReindexDocuments(label string, n int) {
	_ = label
}
func (m *NoopMetrics) IncReindexBatch(label string) {
	_ = label
}

// Prometheus implements Metrics with Prometheus collectors.
type Prometheus struct {
	ActionsClassified *prometheus.CounterVec
	BatchesDispatched *prometheus.CounterVec
	BatchFailures     *prometheus.CounterVec
	DispatchLatency   *prometheus.HistogramVec
	ReindexDocuments  *prometheus.CounterVec
	ReindexBatches    *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them on reg. A nil reg
// uses the default registerer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		ActionsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_actions_classified_total",
			Help: "The total number of document actions produced by the classifier",
		}, []string{"op"}),

		BatchesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_batches_dispatched_total",
			Help: "The total number of bulk batches dispatched",
		}, []string{"mode"}),

		BatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_batch_failures_total",
			Help: "The total number of failed bulk batches",
		}, []string{"mode", "reason"}),

		DispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "graphsync_dispatch_latency_seconds",
			Help: "The latency of bulk dispatch",
		}, []string{"mode"}),

		ReindexDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_reindex_documents_total",
			Help: "The total number of nodes visited by re-index jobs",
		}, []string{"label"}),

		ReindexBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphsync_reindex_batches_total",
			Help: "The total number of batches flushed by re-index jobs",
		}, []string{"label"}),
	}

	for _, c := range []prometheus.Collector{
		p.ActionsClassified,
		p.BatchesDispatched,
		p.BatchFailures,
		p.DispatchLatency,
		p.ReindexDocuments,
		p.ReindexBatches,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) AddActions(op string, n int) {
	p.ActionsClassified.WithLabelValues(op).Add(float64(n))
}

func (p *Prometheus) IncBatch(mode string) {
	p.BatchesDispatched.WithLabelValues(mode).Inc()
}

func (p *Prometheus) IncBatchFailure(mode, reason string) {
	p.BatchFailures.WithLabelValues(mode, reason).Inc()
}

func (p *Prometheus) ObserveDispatchLatency(mode string, duration time.Duration) {
	p.DispatchLatency.WithLabelValues(mode).Observe(duration.Seconds())
}

func (p *Prometheus) AddReindexDocuments(label string, n int) {
	p.ReindexDocuments.WithLabelValues(label).Add(float64(n))
}

func (p *Prometheus) IncReindexBatch(label string) {
	p.ReindexBatches.WithLabelValues(label).Inc()
}

// Package metrics defines the counters collector injected into the anti-spam
// pipeline, with a prometheus-backed implementation and a noop for tests.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the sink for pipeline counters. Implementations must be safe
// for concurrent use.
type Collector interface {
	IncProcessed()
	IncSpamBlocked()
	IncAIRequests()
	IncErrors()
	SetQueueSize(n int)
}

// Snapshot is a point-in-time view of the counters for the status endpoint.
type Snapshot struct {
	Processed   uint64 `json:"processed"`
	SpamBlocked uint64 `json:"spam_blocked"`
	AIRequests  uint64 `json:"ai_requests"`
	Errors      uint64 `json:"errors"`
	QueueSize   int64  `json:"queue_size"`
}

// Prom is a prometheus-backed collector which also keeps atomic counters so
// the status endpoint can report without scraping.
type Prom struct {
	processed   atomic.Uint64
	spamBlocked atomic.Uint64
	aiRequests  atomic.Uint64
	errors      atomic.Uint64
	queueSize   atomic.Int64

	registry     *prometheus.Registry
	cProcessed   prometheus.Counter
	cSpamBlocked prometheus.Counter
	cAIRequests  prometheus.Counter
	cErrors      prometheus.Counter
	gQueueSize   prometheus.Gauge
}

// NewProm makes a collector with its own registry.
func NewProm() *Prom {
	res := &Prom{
		registry: prometheus.NewRegistry(),
		cProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgguard", Name: "messages_processed_total", Help: "Messages taken off the queue and processed."}),
		cSpamBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgguard", Name: "spam_blocked_total", Help: "Messages deleted as spam."}),
		cAIRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgguard", Name: "ai_requests_total", Help: "Messages sent to the AI moderator."}),
		cErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tgguard", Name: "errors_total", Help: "Processing errors."}),
		gQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tgguard", Name: "queue_size", Help: "Tasks waiting in the queue."}),
	}
	res.registry.MustRegister(res.cProcessed, res.cSpamBlocked, res.cAIRequests, res.cErrors, res.gQueueSize)
	return res
}

// IncProcessed counts a message taken off the queue.
func (p *Prom) IncProcessed() { p.processed.Add(1); p.cProcessed.Inc() }

// IncSpamBlocked counts a deleted message.
func (p *Prom) IncSpamBlocked() { p.spamBlocked.Add(1); p.cSpamBlocked.Inc() }

// IncAIRequests counts a message sent to the AI moderator.
func (p *Prom) IncAIRequests() { p.aiRequests.Add(1); p.cAIRequests.Inc() }

// IncErrors counts a processing error.
func (p *Prom) IncErrors() { p.errors.Add(1); p.cErrors.Inc() }

// SetQueueSize publishes the current queue depth.
func (p *Prom) SetQueueSize(n int) { p.queueSize.Store(int64(n)); p.gQueueSize.Set(float64(n)) }

// Snapshot returns the current counter values.
func (p *Prom) Snapshot() Snapshot {
	return Snapshot{
		Processed:   p.processed.Load(),
		SpamBlocked: p.spamBlocked.Load(),
		AIRequests:  p.aiRequests.Load(),
		Errors:      p.errors.Load(),
		QueueSize:   p.queueSize.Load(),
	}
}

// Handler returns the scrape endpoint for this collector's registry.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Noop is a collector that does nothing, for tests and disabled metrics.
type Noop struct{}

// IncProcessed does nothing
func (Noop) IncProcessed() {}

// IncSpamBlocked does nothing
func (Noop) IncSpamBlocked() {}

// IncAIRequests does nothing
func (Noop) IncAIRequests() {}

// IncErrors does nothing
func (Noop) IncErrors() {}

// SetQueueSize does nothing
func (Noop) SetQueueSize(int) {}

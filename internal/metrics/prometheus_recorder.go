package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "pmbus"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	published       *prom.CounterVec
	delivered       *prom.CounterVec
	handled         *prom.CounterVec
	handlerDuration *prom.HistogramVec
	acked           *prom.CounterVec
	readErrors      prom.Counter
	reclaimed       *prom.CounterVec
	deadLettered    *prom.CounterVec
	relayed         *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the bus metrics on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		published: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Events appended by publishers, by stream and result",
		}, []string{"stream", "result"}),
		delivered: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "Messages handed to this consumer by group reads",
		}, []string{"stream"}),
		handled: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "handled_total",
			Help:      "Handler invocations by stream and result",
		}, []string{"stream", "result"}),
		handlerDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Duration of handler invocations",
			Buckets:   prom.DefBuckets,
		}, []string{"stream"}),
		acked: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "acked_total",
			Help:      "Messages acknowledged",
		}, []string{"stream"}),
		readErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Failed group reads followed by a backoff",
		}),
		reclaimed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_total",
			Help:      "Idle pending messages claimed by the redelivery sweep",
		}, []string{"stream"}),
		deadLettered: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Messages moved to a dead-letter stream",
		}, []string{"stream"}),
		relayed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_total",
			Help:      "Insights relayed to NATS by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.published, pr.delivered, pr.handled, pr.handlerDuration, pr.acked,
		pr.readErrors, pr.reclaimed, pr.deadLettered, pr.relayed)
	return pr
}

func (p *PrometheusRecorder) IncPublished(stream string, result ResultLabel) {
	if p == nil {
		return
	}
	p.published.WithLabelValues(stream, string(result)).Inc()
}

func (p *PrometheusRecorder) AddDelivered(stream string, n int) {
	if p == nil {
		return
	}
	p.delivered.WithLabelValues(stream).Add(float64(n))
}

func (p *PrometheusRecorder) IncHandled(stream string, result ResultLabel) {
	if p == nil {
		return
	}
	p.handled.WithLabelValues(stream, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveHandlerDuration(stream string, d time.Duration) {
	if p == nil {
		return
	}
	p.handlerDuration.WithLabelValues(stream).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddAcked(stream string, n int64) {
	if p == nil {
		return
	}
	p.acked.WithLabelValues(stream).Add(float64(n))
}

func (p *PrometheusRecorder) IncReadError() {
	if p == nil {
		return
	}
	p.readErrors.Inc()
}

func (p *PrometheusRecorder) AddReclaimed(stream string, n int) {
	if p == nil {
		return
	}
	p.reclaimed.WithLabelValues(stream).Add(float64(n))
}

func (p *PrometheusRecorder) IncDeadLettered(stream string) {
	if p == nil {
		return
	}
	p.deadLettered.WithLabelValues(stream).Inc()
}

func (p *PrometheusRecorder) IncRelayed(result ResultLabel) {
	if p == nil {
		return
	}
	p.relayed.WithLabelValues(string(result)).Inc()
}

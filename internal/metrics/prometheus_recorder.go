package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "livedocs"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	routed            *prom.CounterVec
	overwrites        prom.Counter
	executionDuration *prom.HistogramVec
	executions        *prom.CounterVec
	superseded        *prom.CounterVec
	connected         prom.Gauge
	reconnects        prom.Counter
	saves             *prom.CounterVec
	activeBlocks      prom.Gauge
}

// NewPrometheusRecorder constructs and registers the runtime metrics on reg.
// A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		routed: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_routed_total",
			Help:      "Inbound envelopes by router disposition",
		}, []string{"outcome"}),
		overwrites: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "handler_overwrites_total",
			Help:      "Handler registrations that replaced an existing binding",
		}),
		executionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Duration of block executions",
			Buckets:   prom.DefBuckets,
		}, []string{"language"}),
		executions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Block executions by language and outcome",
		}, []string{"language", "outcome"}),
		superseded: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "executions_superseded_total",
			Help:      "Executions canceled by a newer run of the same block",
		}, []string{"language"}),
		connected: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "1 while the shared connection is established",
		}),
		reconnects: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Shared connection dial attempts after a drop",
		}),
		saves: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_saves_total",
			Help:      "Persisted edit writes by result",
		}, []string{"result"}),
		activeBlocks: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_blocks",
			Help:      "Blocks discovered on the current page",
		}),
	}
	reg.MustRegister(pr.routed, pr.overwrites, pr.executionDuration, pr.executions,
		pr.superseded, pr.connected, pr.reconnects, pr.saves, pr.activeBlocks)
	return pr
}

func (p *PrometheusRecorder) IncRouted(outcome RouteOutcome) {
	if p == nil {
		return
	}
	p.routed.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncHandlerOverwrite() {
	if p == nil {
		return
	}
	p.overwrites.Inc()
}

func (p *PrometheusRecorder) ObserveExecution(language, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.executionDuration.WithLabelValues(language).Observe(d.Seconds())
	p.executions.WithLabelValues(language, outcome).Inc()
}

func (p *PrometheusRecorder) IncSuperseded(language string) {
	if p == nil {
		return
	}
	p.superseded.WithLabelValues(language).Inc()
}

func (p *PrometheusRecorder) SetConnected(connected bool) {
	if p == nil {
		return
	}
	if connected {
		p.connected.Set(1)
		return
	}
	p.connected.Set(0)
}

func (p *PrometheusRecorder) IncReconnectAttempt() {
	if p == nil {
		return
	}
	p.reconnects.Inc()
}

func (p *PrometheusRecorder) IncPersistenceSave(success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.saves.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) SetActiveBlocks(n int) {
	if p == nil {
		return
	}
	p.activeBlocks.Set(float64(n))
}

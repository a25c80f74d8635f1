package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors fed by Hooks. It owns its registry so several
// instances can coexist, e.g. in tests.
type Metrics struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	handoffs     *prometheus.CounterVec
	commits      prometheus.Counter
	exhausted    prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_turns_total",
			Help: "Reasoning engine calls by agent.",
		}, []string{"agent"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_turn_duration_seconds",
			Help:    "Duration of reasoning engine calls, replays included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_tool_calls_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "concierge_tool_duration_seconds",
			Help:    "Duration of tool invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_handoffs_total",
			Help: "Handoffs between agents.",
		}, []string{"from", "to"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_commits_total",
			Help: "Committed invocations.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concierge_turn_budget_exhausted_total",
			Help: "Invocations that stopped at the turn budget.",
		}),
	}
	m.registry.MustRegister(m.turns, m.turnDuration, m.toolCalls, m.toolDuration, m.handoffs, m.commits, m.exhausted)
	return m
}

// Registry exposes the registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Gauge registers a gauge sampled from f at scrape time.
func (m *Metrics) Gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, f))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnEnd: func(_ context.Context, e *domain.TurnEvent) {
			m.turns.WithLabelValues(e.Agent).Inc()
			m.turnDuration.WithLabelValues(e.Agent).Observe(e.Took.Seconds())
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.toolCalls.WithLabelValues(e.ToolName, outcome).Inc()
			m.toolDuration.WithLabelValues(e.ToolName).Observe(e.Took.Seconds())
		},
		OnHandoff: func(_ context.Context, e *domain.HandoffEvent) {
			m.handoffs.WithLabelValues(e.From, e.To).Inc()
		},
		OnCommit: func(_ context.Context, e *domain.CommitEvent) {
			m.commits.Inc()
			if e.BudgetExhausted {
				m.exhausted.Inc()
			}
		},
	}
}

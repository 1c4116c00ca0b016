package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	TurnsTotal       *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	GiveUps          *prometheus.CounterVec
	Summarizations   *prometheus.CounterVec
	PersistRetries   prometheus.Counter
	GenerationErrors *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	TurnLatency      prometheus.Histogram

	turnStages *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions with a turn in flight or queued.",
		}),
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		GiveUps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_giveups_total",
			Help:      "Degraded turns by give-up reason.",
		}, []string{"reason"}),
		Summarizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizations_total",
			Help:      "Summarization attempts by outcome.",
		}, []string{"outcome"}),
		PersistRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_retries_total",
			Help:      "Session save retries.",
		}),
		GenerationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Generator errors by kind.",
		}, []string{"kind"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		turnStages: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.turnStages.Observe(stage, ms)
	if stage == StageTurnTotal {
		m.TurnLatency.Observe(ms)
	}
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.turnStages.ObserveIndicator(name)
}

func (m *Metrics) TurnStageSnapshot() TurnStageSnapshot {
	if m == nil {
		return newTurnStageWindow(1).Snapshot()
	}
	return m.turnStages.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	if m == nil {
		return
	}
	m.turnStages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsObserver turns engine and controller events into counter updates.
type MetricsObserver struct {
	m *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) OnEvent(_ context.Context, event Event) {
	if o == nil || o.m == nil {
		return
	}
	switch event.Type {
	case EventTurnCompleted:
		outcome := "ok"
		if degraded, _ := event.Data["degraded"].(bool); degraded {
			outcome = "degraded"
		}
		o.m.TurnsTotal.WithLabelValues(outcome).Inc()
	case EventTurnFailed:
		o.m.TurnsTotal.WithLabelValues("failed").Inc()
	case EventTurnReplayed:
		o.m.TurnsTotal.WithLabelValues("replayed").Inc()
		o.m.ObserveIndicator("replayed_turn")
	case EventToolResult:
		o.m.ToolCalls.WithLabelValues(stringData(event, "tool"), "ok").Inc()
	case EventToolFailed:
		o.m.ToolCalls.WithLabelValues(stringData(event, "tool"), stringData(event, "error_kind")).Inc()
	case EventGiveUp:
		reason := stringData(event, "reason")
		o.m.GiveUps.WithLabelValues(reason).Inc()
		if reason != "iteration_budget_exceeded" {
			o.m.GenerationErrors.WithLabelValues(reason).Inc()
		}
	case EventAmbiguousDecision:
		o.m.ObserveIndicator("ambiguous_decision")
	case EventSummarizeApplied:
		o.m.Summarizations.WithLabelValues("applied").Inc()
	case EventSummarizeFailed:
		o.m.Summarizations.WithLabelValues("failed").Inc()
	case EventPersistRetry:
		o.m.PersistRetries.Inc()
	}
}

func stringData(event Event, key string) string {
	if v, ok := event.Data[key].(string); ok && v != "" {
		return v
	}
	return "unknown"
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	Turns              *prometheus.CounterVec
	RetrievalErrors    *prometheus.CounterVec
	GenerationFailures prometheus.Counter
	SummaryRequests    *prometheus.CounterVec
	PersistFailures    *prometheus.CounterVec
	Erasures           *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	StageLatency       *prometheus.HistogramVec

	Stages *StageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled messages by path (generated, fallback, crisis, farewell, empty).",
		}, []string{"path"}),
		RetrievalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_errors_total",
			Help:      "Retrieval failures degraded to empty context, by source.",
		}, []string{"source"}),
		GenerationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generation calls replaced by the fallback reply.",
		}),
		SummaryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_requests_total",
			Help:      "History summary lookups by outcome (cached, generated, skipped, failed).",
		}, []string{"outcome"}),
		PersistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Memory writes that failed, by store.",
		}, []string{"store"}),
		Erasures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "erasures_total",
			Help:      "Memory erasure requests by result.",
		}, []string{"result"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Per-stage message handling latency in milliseconds.",
			Buckets:   []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		Stages: NewStageWindow(256),
	}
}

// ObserveStage records a stage duration in both the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
	m.Stages.Observe(stage, d)
}

// ObserveTurn counts a handled message by path.
func (m *Metrics) ObserveTurn(path string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(path).Inc()
	m.Stages.ObservePath(path)
}

// CountPersistFailure counts a failed write to one of the memory stores.
func (m *Metrics) CountPersistFailure(store string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(store).Inc()
}

func (m *Metrics) CountErasure(result string) {
	if m == nil {
		return
	}
	m.Erasures.WithLabelValues(result).Inc()
}

func (m *Metrics) CountRetrievalError(source string) {
	if m == nil {
		return
	}
	m.RetrievalErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) CountSummary(outcome string) {
	if m == nil {
		return
	}
	m.SummaryRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CountGenerationFailure() {
	if m == nil {
		return
	}
	m.GenerationFailures.Inc()
}

func (m *Metrics) CountWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects per-run counters on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls      *prometheus.CounterVec
	llmRetries    *prometheus.CounterVec
	itemsFailed   *prometheus.CounterVec
	itemsWritten  *prometheus.GaugeVec
	stageDuration *prometheus.GaugeVec
	stageStatus   *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge",
			Name:      "llm_calls_total",
			Help:      "LLM calls by provider, purpose and outcome.",
		}, []string{"provider", "purpose", "outcome"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge",
			Name:      "llm_retries_total",
			Help:      "LLM retries by purpose and reason (transport or content).",
		}, []string{"purpose", "reason"}),
		itemsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "challenge",
			Name:      "items_failed_total",
			Help:      "Per-item failures isolated by a stage.",
		}, []string{"stage"}),
		itemsWritten: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "challenge",
			Name:      "stage_items",
			Help:      "Records written by the most recent run of a stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "challenge",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the most recent run of a stage.",
		}, []string{"stage"}),
		stageStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "challenge",
			Name:      "stage_success",
			Help:      "1 when the most recent run of a stage succeeded, 0 otherwise.",
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "challenge",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last pipeline run finished.",
		}),
	}
	m.registry.MustRegister(m.llmCalls, m.llmRetries, m.itemsFailed, m.itemsWritten, m.stageDuration, m.stageStatus, m.lastRun)
	return m
}

func (m *Metrics) LLMCall(provider, purpose, outcome string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, purpose, outcome).Inc()
}

func (m *Metrics) LLMRetry(purpose, reason string) {
	if m == nil {
		return
	}
	m.llmRetries.WithLabelValues(purpose, reason).Inc()
}

func (m *Metrics) ItemFailed(stage string) {
	if m == nil {
		return
	}
	m.itemsFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) ItemsWritten(stage string, n int) {
	if m == nil {
		return
	}
	m.itemsWritten.WithLabelValues(stage).Set(float64(n))
}

func (m *Metrics) StageFinished(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Set(d.Seconds())
	ok := 1.0
	if err != nil {
		ok = 0
	}
	m.stageStatus.WithLabelValues(stage).Set(ok)
}

func (m *Metrics) RunFinished(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

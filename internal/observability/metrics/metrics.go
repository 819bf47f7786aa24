package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for message pipeline runs.
type PipelineMetrics struct {
	runsTotal        *prometheus.CounterVec
	threatsTotal     *prometheus.CounterVec
	scopeTotal       *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	outboxDeliveries *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instabids",
			Subsystem: "messaging",
			Name:      "pipeline_runs_total",
			Help:      "Total pipeline runs by resulting action and status",
		}, []string{"action", "status"}),
		threatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instabids",
			Subsystem: "messaging",
			Name:      "threats_detected_total",
			Help:      "Total detected threats by kind",
		}, []string{"kind"}),
		scopeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instabids",
			Subsystem: "messaging",
			Name:      "scope_candidates_total",
			Help:      "Total scope-change candidates by change kind and qualification",
		}, []string{"change_kind", "qualified"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instabids",
			Subsystem: "messaging",
			Name:      "stage_latency_seconds",
			Help:      "Latency of individual pipeline stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		outboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instabids",
			Subsystem: "messaging",
			Name:      "update_outbox_deliveries_total",
			Help:      "Total bid-record update deliveries by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal, m.threatsTotal, m.scopeTotal, m.stageLatency, m.outboxDeliveries)
	return m
}

func (m *PipelineMetrics) ObserveRun(action, status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(action, status).Inc()
}

func (m *PipelineMetrics) ObserveThreat(kind string) {
	if m == nil {
		return
	}
	m.threatsTotal.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) ObserveScopeCandidate(changeKind string, qualified bool) {
	if m == nil {
		return
	}
	label := "false"
	if qualified {
		label = "true"
	}
	m.scopeTotal.WithLabelValues(changeKind, label).Inc()
}

func (m *PipelineMetrics) ObserveStageLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *PipelineMetrics) ObserveOutboxDelivery(outcome string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.WithLabelValues(outcome).Inc()
}

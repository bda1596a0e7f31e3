package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	WorkflowOutcomes *prometheus.CounterVec
	WorkflowLatency  *prometheus.HistogramVec
	CardWaits        *prometheus.CounterVec
	Busy             prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		WorkflowOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_workflow_outcomes_total",
				Help: "Terminal workflow outcomes by workflow, status and reason.",
			},
			[]string{"workflow", "status", "reason"},
		),
		WorkflowLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_workflow_duration_seconds",
				Help:    "Workflow duration in seconds, including operator and card waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"workflow"},
		),
		CardWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_card_waits_total",
				Help: "Card waits by outcome.",
			},
			[]string{"outcome"},
		),
		Busy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_workflow_busy_total",
				Help: "Workflow requests rejected because another workflow was running.",
			},
		),
	}

	registry.MustRegister(m.WorkflowOutcomes, m.WorkflowLatency, m.CardWaits, m.Busy)
	return m
}

func (m *Metrics) ObserveWorkflow(workflow, status, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowOutcomes.WithLabelValues(workflow, status, reason).Inc()
	m.WorkflowLatency.WithLabelValues(workflow).Observe(duration.Seconds())
}

func (m *Metrics) ObserveCardWait(outcome WaitOutcome) {
	if m == nil {
		return
	}
	m.CardWaits.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveBusy() {
	if m == nil {
		return
	}
	m.Busy.Inc()
}

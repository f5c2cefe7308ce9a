package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the kernel's Prometheus registration surface, built once at
// startup the way the reference repo's observability.Metrics is: one
// struct of promauto-registered vectors, one Record* method per
// subsystem.
type Metrics struct {
	// PipelineStepDuration measures how long each pipeline step takes.
	// Labels: step (propose|validate|approve|execute|verify|compensate),
	// tool_name, outcome (success|error)
	PipelineStepDuration *prometheus.HistogramVec

	// PipelineStepTotal counts pipeline step completions.
	// Labels: step, tool_name, outcome
	PipelineStepTotal *prometheus.CounterVec

	// ApprovalDecisions counts Approval Gate decisions.
	// Labels: requirement (none|automated|human|dual), decision (granted|denied|timed_out)
	ApprovalDecisions *prometheus.CounterVec

	// DriftScore is the Persona Drift Monitor's latest score by entity.
	// Labels: entity
	DriftScore *prometheus.GaugeVec

	// SafeModeTransitions counts Safe-Mode Controller transitions.
	// Labels: direction (entered|exited)
	SafeModeTransitions *prometheus.CounterVec

	// IncidentsOpened counts compensation incidents by reason.
	// Labels: reason
	IncidentsOpened *prometheus.CounterVec

	// MemoryGateDecisions counts Memory Gate admission outcomes.
	// Labels: action (allow|quarantine|reject)
	MemoryGateDecisions *prometheus.CounterVec

	// MemoryQuarantineBacklog is the current size of the Memory Gate's
	// quarantine queue, sampled by the retention/review scheduler.
	MemoryQuarantineBacklog prometheus.Gauge
}

// NewMetrics registers every kernel metric with Prometheus's default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autonomy_kernel_pipeline_step_duration_seconds",
				Help:    "Duration of each execution pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"step", "tool_name", "outcome"},
		),
		PipelineStepTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonomy_kernel_pipeline_step_total",
				Help: "Total number of execution pipeline steps by tool and outcome",
			},
			[]string{"step", "tool_name", "outcome"},
		),
		ApprovalDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonomy_kernel_approval_decisions_total",
				Help: "Total number of approval gate decisions by requirement and decision",
			},
			[]string{"requirement", "decision"},
		),
		DriftScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autonomy_kernel_persona_drift_score",
				Help: "Latest persona drift score by entity",
			},
			[]string{"entity"},
		),
		SafeModeTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonomy_kernel_safe_mode_transitions_total",
				Help: "Total number of safe-mode entries and exits",
			},
			[]string{"direction"},
		),
		IncidentsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonomy_kernel_incidents_opened_total",
				Help: "Total number of compensation incidents opened, by reason",
			},
			[]string{"reason"},
		),
		MemoryGateDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autonomy_kernel_memory_gate_decisions_total",
				Help: "Total number of memory gate admission decisions by action",
			},
			[]string{"action"},
		),
		MemoryQuarantineBacklog: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "autonomy_kernel_memory_quarantine_backlog",
				Help: "Current number of memory candidates held in quarantine awaiting review",
			},
		),
	}
}

// RecordPipelineStep records one pipeline step's duration and outcome.
func (m *Metrics) RecordPipelineStep(step, toolName, outcome string, durationSeconds float64) {
	m.PipelineStepTotal.WithLabelValues(step, toolName, outcome).Inc()
	m.PipelineStepDuration.WithLabelValues(step, toolName, outcome).Observe(durationSeconds)
}

// RecordApprovalDecision records one Approval Gate decision.
func (m *Metrics) RecordApprovalDecision(requirement, decision string) {
	m.ApprovalDecisions.WithLabelValues(requirement, decision).Inc()
}

// SetDriftScore records the Persona Drift Monitor's latest score for entity.
func (m *Metrics) SetDriftScore(entity string, score float64) {
	m.DriftScore.WithLabelValues(entity).Set(score)
}

// RecordSafeModeTransition records a safe-mode entry ("entered") or
// exit ("exited").
func (m *Metrics) RecordSafeModeTransition(direction string) {
	m.SafeModeTransitions.WithLabelValues(direction).Inc()
}

// RecordIncidentOpened records one compensation incident by reason.
func (m *Metrics) RecordIncidentOpened(reason string) {
	m.IncidentsOpened.WithLabelValues(reason).Inc()
}

// RecordMemoryGateDecision records one Memory Gate admission outcome.
func (m *Metrics) RecordMemoryGateDecision(action string) {
	m.MemoryGateDecisions.WithLabelValues(action).Inc()
}

// SetMemoryQuarantineBacklog records the Memory Gate's current quarantine
// queue depth.
func (m *Metrics) SetMemoryQuarantineBacklog(size int) {
	m.MemoryQuarantineBacklog.Set(float64(size))
}

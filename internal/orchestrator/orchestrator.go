// Package orchestrator implements the Orchestrator & Roles component
// (spec §4.14): five adapters — Planner, Executor, Verifier, MemoryWriter,
// Auditor — of which Run sequences the Planner, Executor, MemoryWriter and
// Auditor over a goal, halting on critical failure or safe-mode. Run does
// not call the Verifier adapter.
//
// Grounded on the reference repo's multiagent.Orchestrator
// (internal/multiagent/orchestrator.go): an explicit struct holding one
// field per collaborating component (router, context manager, supervisor,
// handoff tool) rather than closures or package-level state, plus an
// eventCallback hook for observing the sequence as it runs. This package
// keeps that shape but swaps the reference's agent-handoff roles for the
// five fixed roles the specification names.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/open-autonomy/kernel/internal/drift"
	"github.com/open-autonomy/kernel/internal/kernel"
	"github.com/open-autonomy/kernel/internal/klog"
	"github.com/open-autonomy/kernel/internal/kmodel"
	"github.com/open-autonomy/kernel/internal/memorygate"
	"github.com/open-autonomy/kernel/internal/pipeline"
	"github.com/open-autonomy/kernel/internal/telemetry"
)

// stringifyOutput renders a handler's result as text for anything that
// needs a single string: memory-candidate content, drift scoring input.
func stringifyOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(output)
		if err != nil {
			return fmt.Sprintf("%v", output)
		}
		return string(b)
	}
}

func marshalParams(params map[string]any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal step params: %w", err)
	}
	return b, nil
}

// Step is one unit of work a Planner produces for the Executor to run.
// Handler carries the tool's side-effecting logic the way the pipeline
// itself takes one per Propose call; a Planner producing a step for a
// registered tool is expected to resolve its handler from whatever
// handler registry the surrounding agent runtime owns.
type Step struct {
	RequestID     string
	CorrelationID string
	Tool          string
	Version       string
	Params        map[string]any
	Source        kmodel.Source
	Handler       pipeline.Handler
}

// Planner produces an ordered step list for a goal.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]Step, error)
}

// Executor drives one step through the Execution Pipeline. It owns
// marshaling Step.Params into the pipeline's ProposedToolCall shape.
type Executor interface {
	Execute(ctx context.Context, step Step) pipeline.Result
}

// Verifier delegates to the Post-Condition Verifier for a completed step.
// In the default wiring, the Pipeline already runs verification as part of
// Execute, so this role only re-inspects pipeline.Result; a custom
// implementation may run additional checks the pipeline's own verifier
// does not know about.
type Verifier interface {
	Verify(ctx context.Context, result pipeline.Result) (kmodel.VerificationResult, error)
}

// MemoryWriter delegates admission of observations produced during a run
// to the Memory Gate.
type MemoryWriter interface {
	Write(ctx context.Context, candidate kmodel.MemoryCandidate) kmodel.GateDecision
}

// AuditReport is what the Auditor role returns after a run: the Persona
// Drift Monitor's latest report plus any anomalous requestIds it found by
// querying the Event Store.
type AuditReport struct {
	Drift     drift.Report
	Anomalies []string
}

// Auditor runs the Drift Monitor and inspects the Event Store for
// anomalies (e.g. broken hash chains, failed requests) across a run.
type Auditor interface {
	Audit(ctx context.Context, requestIDs []string) (AuditReport, error)
}

// RunResult is the outcome of sequencing one goal through Run.
type RunResult struct {
	Steps       []Step
	Executions  []pipeline.Result
	Memories    []kmodel.GateDecision
	Audit       AuditReport
	Halted      bool
	HaltReason  string
}

// EventCallback observes orchestration progress the way the reference
// repo's eventCallback observes handoffs and agent selection.
type EventCallback func(event Event)

// Event is one orchestration lifecycle notification.
type Event struct {
	Type      string
	RequestID string
	Message   string
	Timestamp time.Time
}

// Orchestrator composes the five role adapters plus the kernel state
// machine it consults for halt-on-safe-mode semantics.
type Orchestrator struct {
	Planner      Planner
	Executor     Executor
	VerifierRole Verifier
	MemoryWriter MemoryWriter
	Auditor      Auditor
	SafeMode     *kernel.SafeModeController
	Logger       *klog.Logger
	OnEvent      EventCallback
}

// Run plans goal, executes each step in order, and halts early on a
// critical execution failure or once safe mode is active. It always runs
// the Auditor role over whatever steps completed, even on early halt.
// VerifierRole is not called; the MemoryWriter is gated on the
// verification result the pipeline itself attaches to each step.
func (o *Orchestrator) Run(ctx context.Context, goal string) (RunResult, error) {
	steps, err := o.Planner.Plan(ctx, goal)
	if err != nil {
		return RunResult{}, fmt.Errorf("orchestrator: planning failed: %w", err)
	}

	result := RunResult{Steps: steps}
	var requestIDs []string

	for _, step := range steps {
		if o.SafeMode != nil && o.SafeMode.RestrictsToReadOnly() {
			result.Halted = true
			result.HaltReason = "kernel entered safe mode"
			o.emit("halted", step.RequestID, result.HaltReason)
			break
		}

		o.emit("executing_step", step.RequestID, step.Tool)
		execResult := o.Executor.Execute(ctx, step)
		result.Executions = append(result.Executions, execResult)
		requestIDs = append(requestIDs, step.RequestID)

		if !execResult.Success {
			o.emit("step_failed", step.RequestID, execResult.Error)
			if isCriticalFailure(execResult.ErrorKind) {
				result.Halted = true
				result.HaltReason = fmt.Sprintf("critical failure on %s: %s", step.RequestID, execResult.Error)
				break
			}
			continue
		}

		if o.MemoryWriter != nil && execResult.Verification != nil {
			content := stringifyOutput(execResult.Output)
			if content == "" {
				content = fmt.Sprintf("%s succeeded", step.Tool)
			}
			decision := o.MemoryWriter.Write(ctx, kmodel.MemoryCandidate{
				Content:   content,
				Source:    step.Source,
				Timestamp: time.Now().UTC(),
			})
			result.Memories = append(result.Memories, decision)
		}
	}

	if o.Auditor != nil {
		report, err := o.Auditor.Audit(ctx, requestIDs)
		if err != nil {
			o.log().Warn(ctx, "orchestrator: audit failed", "err", err)
		} else {
			result.Audit = report
		}
	}

	return result, nil
}

// isCriticalFailure reports which pipeline error kinds halt the run
// outright rather than allowing the Planner's remaining steps to proceed.
func isCriticalFailure(kind kmodel.ErrorKind) bool {
	switch kind {
	case kmodel.ErrStateMachineRejected, kmodel.ErrCompensationFailed:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) emit(eventType, requestID, message string) {
	if o.OnEvent == nil {
		return
	}
	o.OnEvent(Event{Type: eventType, RequestID: requestID, Message: message, Timestamp: time.Now().UTC()})
}

func (o *Orchestrator) log() *klog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return klog.Global()
}

// DefaultExecutor adapts a *pipeline.Pipeline into the Executor role. When
// Drift and Scorer are both set, every successful step's output is scored
// and folded into the Drift Monitor's sliding window, giving the Auditor
// role's later Analyze() call real data to report on instead of an
// always-empty window.
type DefaultExecutor struct {
	Pipeline *pipeline.Pipeline
	Drift    *drift.Monitor
	Scorer   drift.DimensionScorer
}

func (e DefaultExecutor) Execute(ctx context.Context, step Step) pipeline.Result {
	paramsJSON, err := marshalParams(step.Params)
	if err != nil {
		return pipeline.Result{Success: false, RequestID: step.RequestID, Error: err.Error(), ErrorKind: kmodel.ErrInvalidParams}
	}
	call := kmodel.ProposedToolCall{
		Tool: step.Tool, Version: step.Version, Params: paramsJSON,
		Source: step.Source, RequestID: step.RequestID, CorrelationID: step.CorrelationID,
	}
	result := e.Pipeline.Propose(ctx, call, step.Handler)
	if result.Success && e.Drift != nil && e.Scorer != nil {
		e.Drift.Observe(e.Scorer.Score(stringifyOutput(result.Output), step.Source))
	}
	return result
}

// DefaultVerifier adapts a pipeline.Result directly into a
// kmodel.VerificationResult, for callers who accept the Pipeline's own
// verification pass and don't need a second opinion.
type DefaultVerifier struct{}

func (DefaultVerifier) Verify(ctx context.Context, result pipeline.Result) (kmodel.VerificationResult, error) {
	if result.Verification != nil {
		return *result.Verification, nil
	}
	return kmodel.VerificationResult{}, fmt.Errorf("orchestrator: result %s carries no verification outcome", result.RequestID)
}

// DefaultMemoryWriter adapts a memorygate.Gate (seeded with a fixed trust
// score) into the MemoryWriter role.
type DefaultMemoryWriter struct {
	Gate       *memorygate.Gate
	TrustScore float64
	Metrics    *telemetry.Metrics
}

func (w DefaultMemoryWriter) Write(ctx context.Context, candidate kmodel.MemoryCandidate) kmodel.GateDecision {
	decision := w.Gate.Write(candidate, w.TrustScore)
	if w.Metrics != nil {
		w.Metrics.RecordMemoryGateDecision(string(decision.Action))
	}
	return decision
}

// EventStore is the subset of eventstore.Store the Auditor role needs;
// declared locally so this package does not force a direct dependency on
// any one Store implementation's full surface.
type EventStore interface {
	GetByRequestID(ctx context.Context, requestID string) ([]kmodel.Event, error)
	VerifyChain(ctx context.Context, requestID string) (ok bool, brokenAt string, err error)
}

// DefaultAuditor runs the Drift Monitor and flags requestIds whose event
// chain is broken or whose last recorded event is tool:failed.
type DefaultAuditor struct {
	Drift  *drift.Monitor
	Events EventStore

	// Entity labels Metrics.DriftScore; defaults to "default" when unset.
	Entity  string
	Metrics *telemetry.Metrics
}

func (a DefaultAuditor) Audit(ctx context.Context, requestIDs []string) (AuditReport, error) {
	report := AuditReport{}
	if a.Drift != nil {
		report.Drift = a.Drift.Analyze()
		if a.Metrics != nil {
			entity := a.Entity
			if entity == "" {
				entity = "default"
			}
			a.Metrics.SetDriftScore(entity, report.Drift.Composite)
		}
	}

	for _, id := range requestIDs {
		if a.Events == nil {
			continue
		}
		if ok, brokenAt, err := a.Events.VerifyChain(ctx, id); err != nil {
			return report, fmt.Errorf("orchestrator: verify chain for %s: %w", id, err)
		} else if !ok {
			report.Anomalies = append(report.Anomalies, fmt.Sprintf("%s: broken hash chain at %s", id, brokenAt))
			continue
		}

		events, err := a.Events.GetByRequestID(ctx, id)
		if err != nil {
			return report, fmt.Errorf("orchestrator: fetch events for %s: %w", id, err)
		}
		if len(events) > 0 && events[len(events)-1].Type == kmodel.EventToolFailed {
			report.Anomalies = append(report.Anomalies, fmt.Sprintf("%s: ended in tool:failed", id))
		}
	}
	return report, nil
}

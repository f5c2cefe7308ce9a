// Package pipeline implements the Execution Pipeline (spec §4.8): the
// twelve-step sequence that takes a ProposedToolCall and a handler from
// proposal through validation, approval, execution, verification, and
// compensation, emitting one kmodel.Event per step and returning a single
// PipelineResult.
//
// Grounded on the reference repo's ToolExecutor — context-threaded handler
// invocation inside a contract timeout, with panic recovery turning an
// unexpected handler failure into a typed error instead of crashing the
// request goroutine (internal/agent/executor.go's handler-invocation
// shape, generalized from one error classification into this package's
// ErrorKind taxonomy).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/open-autonomy/kernel/internal/approval"
	"github.com/open-autonomy/kernel/internal/compensate"
	"github.com/open-autonomy/kernel/internal/eventstore"
	"github.com/open-autonomy/kernel/internal/governance"
	"github.com/open-autonomy/kernel/internal/kernel"
	"github.com/open-autonomy/kernel/internal/klog"
	"github.com/open-autonomy/kernel/internal/kmodel"
	"github.com/open-autonomy/kernel/internal/registry"
	"github.com/open-autonomy/kernel/internal/telemetry"
	"github.com/open-autonomy/kernel/internal/trust"
	"github.com/open-autonomy/kernel/internal/verify"
)

// Handler invokes a tool's side-effecting logic. The pipeline recovers a
// panic from Handler and classifies it as kmodel.ErrHandlerError; a
// Handler that does not return before the contract's timeout elapses is
// classified as kmodel.ErrHandlerTimeout.
type Handler func(ctx context.Context, params map[string]any) (result any, err error)

// Result is the outcome of one proposeTool call (spec §4.8, step 12).
type Result struct {
	Success      bool
	RequestID    string
	Validation   []registry.ParamError
	Approval     *kmodel.ApprovalRecord
	Verification *kmodel.VerificationResult
	Compensation *compensate.Outcome
	Incident     *kmodel.CompensationIncident
	Error        string
	ErrorKind    kmodel.ErrorKind
	DurationMS   int64
	// Output is whatever the Handler returned on success, for a caller
	// (e.g. the orchestrator's MemoryWriter or Auditor roles) that needs
	// the tool's actual result rather than just a success/failure signal.
	Output any
}

// GovernancePolicyID names the policy the pipeline consults for every
// proposal when a governance engine is wired in.
const GovernancePolicyID = "default"

// Pipeline composes every subsystem the execution sequence touches.
type Pipeline struct {
	Registry    *registry.Registry
	Events      eventstore.Store
	Approval    *approval.Gate
	Verifier    *verify.Verifier
	Compensator *compensate.Registry
	Incidents   *compensate.IncidentManager
	Governance  *governance.Engine
	Trust       *trust.Scorer
	Machine     *kernel.Machine
	SafeMode    *kernel.SafeModeController
	Logger      *klog.Logger
	Tracer      *telemetry.Tracer
	Metrics     *telemetry.Metrics
}

// Propose drives call through the twelve-step execution sequence using
// handler as the tool's side-effecting logic.
func (p *Pipeline) Propose(ctx context.Context, call kmodel.ProposedToolCall, handler Handler) Result {
	start := time.Now()
	reqID := call.RequestID
	log := p.log()

	if p.Tracer != nil {
		var span trace.Span
		ctx, span = p.Tracer.TracePipelineStep(ctx, "propose", reqID, call.Tool)
		defer span.End()
	}

	p.appendEvent(ctx, reqID, kmodel.EventToolProposed, call.CorrelationID, map[string]any{
		"tool": call.Tool, "version": call.Version, "source": call.Source.Key(),
	})

	// Per the concurrency model (spec §5), a safe-mode restriction rejects
	// a non-read-only call without touching the state machine at all, so
	// this check precedes the idle->validating transition below.
	if contract, ok := p.Registry.Get(call.Tool, call.Version); ok {
		if p.SafeMode != nil && p.SafeMode.RestrictsToReadOnly() && !contract.RiskClass.ReadOnly() {
			return p.fail(ctx, reqID, call.Tool, kmodel.ErrUnapproved, "kernel is in safe mode; only read-only tools are permitted", nil, start)
		}
	}

	if err := p.Machine.Transition(kmodel.StateValidating); err != nil {
		return p.fail(ctx, reqID, call.Tool, kmodel.ErrStateMachineRejected, "cannot enter validating state", err, start)
	}

	contract, ok := p.Registry.Get(call.Tool, call.Version)
	if !ok {
		p.Machine.RecordFailure()
		p.transitionOrLog(ctx, kmodel.StateError)
		return p.fail(ctx, reqID, call.Tool, kmodel.ErrUnknownTool, fmt.Sprintf("tool %q is not registered", call.Tool), nil, start)
	}

	validationErrs := registry.ValidateParams(contract.ParamsSchema, call.Params)
	if len(validationErrs) > 0 {
		p.Machine.RecordFailure()
		p.transitionOrLog(ctx, kmodel.StateError)
		res := p.fail(ctx, reqID, call.Tool, kmodel.ErrInvalidParams, "parameter validation failed", nil, start)
		res.Validation = validationErrs
		return res
	}
	p.appendEvent(ctx, reqID, kmodel.EventToolValidated, call.CorrelationID, nil)

	requirement, _ := p.resolveApproval(ctx, call, contract)
	var approvalRecord *kmodel.ApprovalRecord
	if requirement != kmodel.RequireNone {
		if err := p.Machine.Transition(kmodel.StateAwaitApproval); err != nil {
			return p.fail(ctx, reqID, call.Tool, kmodel.ErrStateMachineRejected, "cannot enter awaiting_approval state", err, start)
		}
		p.appendEvent(ctx, reqID, kmodel.EventToolApprovalRequested, call.CorrelationID, map[string]any{"requirement": requirement})

		rec, err := p.Approval.Evaluate(ctx, approval.Request{
			RequestID: reqID, ToolName: call.Tool, RiskClass: contract.RiskClass,
			Requirement: requirement, Source: call.Source,
		})
		if err != nil {
			return p.fail(ctx, reqID, call.Tool, kmodel.ErrUnapproved, "approval resolution failed", err, start)
		}
		approvalRecord = rec

		if rec.Decision == kmodel.ApprovalPending {
			// Evaluate parked the record rather than resolving it
			// immediately; this is the actual suspension point, blocking
			// the request until GrantHuman/GrantAutomated/Deny arrives out
			// of band or the approval window elapses.
			awaited, err := p.Approval.Await(ctx, rec.ID, 0)
			if err != nil {
				p.appendEvent(ctx, reqID, kmodel.EventToolFailed, call.CorrelationID, map[string]any{"reason": "approval wait failed", "err": err.Error()})
				if txErr := p.Machine.Transition(kmodel.StateIdle); txErr != nil {
					log.Warn(ctx, "pipeline: failed returning to idle after approval wait error", "requestId", reqID, "err", txErr)
				}
				res := p.fail(ctx, reqID, call.Tool, kmodel.ErrUnapproved, "approval wait failed", err, start)
				res.Approval = approvalRecord
				return res
			}
			rec = awaited
			approvalRecord = rec
		}
		if p.Metrics != nil {
			p.Metrics.RecordApprovalDecision(string(requirement), string(rec.Decision))
		}

		if !rec.Satisfied() {
			eventType := kmodel.EventToolApprovalDenied
			if rec.Decision == kmodel.ApprovalTimedOut {
				eventType = kmodel.EventToolFailed
			}
			p.appendEvent(ctx, reqID, eventType, call.CorrelationID, map[string]any{"decision": rec.Decision, "reason": rec.Reason})
			if err := p.Machine.Transition(kmodel.StateIdle); err != nil {
				log.Warn(ctx, "pipeline: failed returning to idle after denial", "requestId", reqID, "err", err)
			}
			res := p.fail(ctx, reqID, call.Tool, kmodel.ErrUnapproved, "approval was not granted", nil, start)
			res.Approval = approvalRecord
			return res
		}
		p.appendEvent(ctx, reqID, kmodel.EventToolApprovalGranted, call.CorrelationID, map[string]any{"decision": rec.Decision})
	} else if p.Approval != nil {
		// A none requirement still goes through the gate without parking:
		// it grants immediately unless the tool is denylisted.
		rec, err := p.Approval.Evaluate(ctx, approval.Request{
			RequestID: reqID, ToolName: call.Tool, RiskClass: contract.RiskClass,
			Requirement: requirement, Source: call.Source,
		})
		if err != nil || !rec.Satisfied() {
			p.transitionOrLog(ctx, kmodel.StateIdle)
			res := p.fail(ctx, reqID, call.Tool, kmodel.ErrUnapproved, "approval was not granted", err, start)
			res.Approval = rec
			return res
		}
		approvalRecord = rec
	}

	if err := p.Machine.Transition(kmodel.StateExecuting); err != nil {
		return p.fail(ctx, reqID, call.Tool, kmodel.ErrStateMachineRejected, "cannot enter executing state", err, start)
	}
	p.appendEvent(ctx, reqID, kmodel.EventToolExecuting, call.CorrelationID, nil)

	params := map[string]any{}
	_ = json.Unmarshal(call.Params, &params)

	execResult, execErr, errKind := p.invoke(ctx, contract, params, handler)
	p.appendEvent(ctx, reqID, kmodel.EventToolExecuted, call.CorrelationID, map[string]any{
		"success": execErr == nil,
	})

	if execErr != nil {
		p.Machine.RecordFailure()
		return p.compensateAndFail(ctx, call, contract, reqID, params, execResult, errKind, execErr, approvalRecord, start)
	}
	p.Machine.RecordSuccess()

	if err := p.Machine.Transition(kmodel.StateVerifying); err != nil {
		return p.fail(ctx, reqID, call.Tool, kmodel.ErrStateMachineRejected, "cannot enter verifying state", err, start)
	}

	verification := p.Verifier.Run(ctx, verify.ExecutionContext{
		ToolName: call.Tool, RequestID: reqID, Params: params, Result: execResult,
	})

	if verification.Status == kmodel.VerificationFailed {
		p.Machine.RecordFailure()
		return p.compensateAndFail(ctx, call, contract, reqID, params, execResult, kmodel.ErrVerificationFailed,
			fmt.Errorf("critical post-condition check failed"), approvalRecord, start)
	}

	p.appendEvent(ctx, reqID, kmodel.EventToolVerified, call.CorrelationID, map[string]any{"status": verification.Status})
	if err := p.Machine.Transition(kmodel.StateIdle); err != nil {
		log.Warn(ctx, "pipeline: failed returning to idle after verification", "requestId", reqID, "err", err)
	}

	p.recordTrust(call.Source, true)
	duration := time.Since(start)
	if p.Metrics != nil {
		p.Metrics.RecordPipelineStep("propose", call.Tool, "success", duration.Seconds())
	}
	return Result{
		Success: true, RequestID: reqID, Approval: approvalRecord,
		Verification: &verification, DurationMS: duration.Milliseconds(),
		Output: execResult,
	}
}

func (p *Pipeline) resolveApproval(ctx context.Context, call kmodel.ProposedToolCall, contract kmodel.ToolContract) (kmodel.ApprovalRequirement, float64) {
	sourceTrust := p.Trust.GetSourceTrust(call.Source)
	if call.SourceTrust != nil {
		sourceTrust = *call.SourceTrust
	}
	if p.Governance == nil {
		if contract.ApprovalRequired {
			return kmodel.RequireHuman, sourceTrust
		}
		return kmodel.RequireNone, sourceTrust
	}
	decision, err := p.Governance.Evaluate(ctx, GovernancePolicyID, kmodel.GovernanceContext{
		RiskClass: contract.RiskClass, SourceTrust: sourceTrust, ToolName: call.Tool, Source: call.Source,
	})
	if err != nil {
		return kmodel.RequireHuman, sourceTrust
	}
	if !decision.Approved && decision.ApprovalRequirement == kmodel.RequireNone {
		return kmodel.RequireHuman, sourceTrust
	}
	if decision.Approved && decision.ApprovalRequirement == kmodel.RequireAutomated {
		// The automated requirement exists precisely to let a
		// sufficiently-trusted source clear it without parking: the
		// governance engine already confirmed the trust floor and every
		// compliance check, so there is nothing left for the Approval
		// Gate to resolve.
		return kmodel.RequireNone, sourceTrust
	}
	return decision.ApprovalRequirement, sourceTrust
}

func (p *Pipeline) invoke(ctx context.Context, contract kmodel.ToolContract, params map[string]any, handler Handler) (result any, err error, kind kmodel.ErrorKind) {
	timeout := contract.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		res, herr := handler(execCtx, params)
		done <- outcome{result: res, err: herr}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return o.result, o.err, kmodel.ErrHandlerError
		}
		return o.result, nil, ""
	case <-execCtx.Done():
		return nil, execCtx.Err(), kmodel.ErrHandlerTimeout
	}
}

func (p *Pipeline) compensateAndFail(ctx context.Context, call kmodel.ProposedToolCall, contract kmodel.ToolContract, reqID string, params map[string]any, execResult any, kind kmodel.ErrorKind, cause error, approvalRecord *kmodel.ApprovalRecord, start time.Time) Result {
	if err := p.Machine.Transition(kmodel.StateCompensating); err != nil {
		return p.fail(ctx, reqID, call.Tool, kmodel.ErrStateMachineRejected, "cannot enter compensating state", err, start)
	}

	outcome := p.Compensator.Compensate(ctx, call.Tool, reqID, params, execResult)
	p.appendEvent(ctx, reqID, kmodel.EventToolCompensated, call.CorrelationID, map[string]any{
		"attempted": outcome.Attempted, "succeeded": outcome.Succeeded, "reason": outcome.Reason,
	})

	var incident *kmodel.CompensationIncident
	if !outcome.Succeeded {
		inc, err := p.Incidents.Handle(ctx, reqID, call.Tool, outcome)
		if err != nil {
			p.log().Error(ctx, "pipeline: failed to open compensation incident", "requestId", reqID, "err", err)
		} else {
			incident = inc
			if p.Metrics != nil {
				p.Metrics.RecordIncidentOpened(string(inc.Reason))
			}
		}
	}

	nextState := kmodel.StateIdle
	if p.SafeMode != nil {
		if entered, _ := p.SafeMode.MaybeEnter(); entered {
			nextState = kmodel.StateSafeMode
			if p.Metrics != nil {
				p.Metrics.RecordSafeModeTransition("entered")
			}
		}
	}
	if err := p.Machine.Transition(nextState); err != nil {
		p.log().Warn(ctx, "pipeline: failed leaving compensating state", "requestId", reqID, "err", err)
	}

	p.recordTrust(call.Source, false)

	res := p.fail(ctx, reqID, call.Tool, kind, cause.Error(), cause, start)
	res.Approval = approvalRecord
	res.Compensation = &outcome
	res.Incident = incident
	return res
}

func (p *Pipeline) fail(ctx context.Context, reqID, tool string, kind kmodel.ErrorKind, message string, cause error, start time.Time) Result {
	pipeErr := newError(kind, reqID, tool, message, cause)
	p.appendEvent(ctx, reqID, kmodel.EventToolFailed, "", map[string]any{"kind": string(kind), "message": message})
	duration := time.Since(start)
	if p.Metrics != nil {
		p.Metrics.RecordPipelineStep("propose", tool, "error", duration.Seconds())
	}
	if p.Tracer != nil {
		p.Tracer.RecordError(trace.SpanFromContext(ctx), pipeErr)
	}
	return Result{
		Success: false, RequestID: reqID, Error: pipeErr.Error(), ErrorKind: kind,
		DurationMS: duration.Milliseconds(),
	}
}

func (p *Pipeline) recordTrust(src kmodel.Source, success bool) {
	if p.Trust == nil {
		return
	}
	p.Trust.RecordOutcome(src, trust.Outcome{Success: success, Weight: 1})
}

func (p *Pipeline) transitionOrLog(ctx context.Context, to kmodel.State) {
	if err := p.Machine.Transition(to); err != nil {
		p.log().Warn(ctx, "pipeline: transition failed", "to", to, "err", err)
	}
}

func (p *Pipeline) appendEvent(ctx context.Context, requestID string, eventType kmodel.EventType, correlationID string, payload map[string]any) {
	if p.Events == nil {
		return
	}
	if _, err := p.Events.Append(ctx, requestID, eventType, correlationID, payload); err != nil {
		p.log().Error(ctx, "pipeline: failed to append event", "requestId", requestID, "type", eventType, "err", err)
	}
}

func (p *Pipeline) log() *klog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return klog.Global()
}

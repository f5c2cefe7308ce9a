// Package governance implements the Governance Policy Engine (spec §4.13):
// a sequential approval-resolution and compliance-check pipeline evaluated
// against a named GovernancePolicy, grounded on the retrieved
// governance-engine.go reference's fixed evaluation order (trust, then
// domain checks, then an always-written audit record) — generalized here
// from a fixed trust/budget/consent triad into an arbitrary ordered list of
// ComplianceCheckFuncs plus the risk-class approval-rule lookup the
// specification requires.
package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// ComplianceCheckFunc evaluates one registered compliance check against a
// proposed call's context. It must not block indefinitely; ctx carries
// whatever deadline the pipeline step imposes.
type ComplianceCheckFunc func(ctx context.Context, gctx kmodel.GovernanceContext) kmodel.ComplianceResult

// AuditFunc is invoked once per Evaluate call, regardless of outcome,
// mirroring the reference engine's always-audit-regardless-of-outcome rule.
type AuditFunc func(ctx context.Context, policy kmodel.GovernancePolicy, gctx kmodel.GovernanceContext, decision kmodel.GovernanceDecision)

// Engine evaluates proposed calls against named GovernancePolicies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]kmodel.GovernancePolicy
	checks   map[string][]checkEntry // policyID -> ordered checks
	audit    AuditFunc
}

type checkEntry struct {
	check kmodel.ComplianceCheck
	fn    ComplianceCheckFunc
}

// New returns an Engine. audit may be nil, in which case Evaluate simply
// skips the audit step.
func New(audit AuditFunc) *Engine {
	return &Engine{
		policies: make(map[string]kmodel.GovernancePolicy),
		checks:   make(map[string][]checkEntry),
		audit:    audit,
	}
}

// RegisterPolicy adds or replaces a named policy.
func (e *Engine) RegisterPolicy(policy kmodel.GovernancePolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.ID] = policy
}

// RegisterCheck attaches an executable ComplianceCheckFunc to one of
// policy's declared ComplianceChecks, matched by ID. Checks run in
// registration order.
func (e *Engine) RegisterCheck(policyID string, check kmodel.ComplianceCheck, fn ComplianceCheckFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks[policyID] = append(e.checks[policyID], checkEntry{check: check, fn: fn})
}

// Policy returns the named policy.
func (e *Engine) Policy(policyID string) (kmodel.GovernancePolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[policyID]
	return p, ok
}

// Evaluate runs policyID's approval-rule lookup and compliance checks
// against gctx, in the reference engine's fixed order: resolve the
// approval requirement for gctx.RiskClass first (an unmet trust floor
// short-circuits with Approved=false before any compliance check runs),
// then run every registered compliance check in order, continuing past
// individual failures so the decision always reports a complete
// ComplianceResults list. The audit hook fires exactly once, regardless of
// outcome.
func (e *Engine) Evaluate(ctx context.Context, policyID string, gctx kmodel.GovernanceContext) (kmodel.GovernanceDecision, error) {
	if err := ctx.Err(); err != nil {
		return kmodel.GovernanceDecision{}, err
	}

	e.mu.RLock()
	policy, ok := e.policies[policyID]
	checks := append([]checkEntry(nil), e.checks[policyID]...)
	e.mu.RUnlock()

	if !ok {
		return kmodel.GovernanceDecision{}, fmt.Errorf("governance: unknown policy %q", policyID)
	}

	decision := kmodel.GovernanceDecision{Approved: true, OverallCompliant: true}

	rule, ok := policy.ApprovalRules[gctx.RiskClass]
	if !ok {
		decision.Approved = false
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("no approval rule for risk class %q", gctx.RiskClass))
		e.runAudit(ctx, policy, gctx, decision)
		return decision, nil
	}
	decision.ApprovalRequirement = rule.Requirement

	if rule.TrustFloor != nil && gctx.SourceTrust < *rule.TrustFloor {
		decision.Approved = false
		decision.Reasons = append(decision.Reasons, fmt.Sprintf(
			"source trust %.2f is below the required floor %.2f for risk class %q",
			gctx.SourceTrust, *rule.TrustFloor, gctx.RiskClass))
		e.runAudit(ctx, policy, gctx, decision)
		return decision, nil
	}

	for _, entry := range checks {
		result := entry.fn(ctx, gctx)
		result.CheckID = entry.check.ID
		decision.ComplianceResults = append(decision.ComplianceResults, result)
		if !result.Passed {
			decision.OverallCompliant = false
			decision.Approved = false
			decision.Reasons = append(decision.Reasons, fmt.Sprintf("compliance check %q failed: %s", entry.check.ID, result.Reason))
		}
	}

	e.runAudit(ctx, policy, gctx, decision)
	return decision, nil
}

func (e *Engine) runAudit(ctx context.Context, policy kmodel.GovernancePolicy, gctx kmodel.GovernanceContext, decision kmodel.GovernanceDecision) {
	if e.audit != nil {
		e.audit(ctx, policy, gctx, decision)
	}
}

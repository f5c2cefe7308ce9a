// Package approval implements the Approval Gate (spec §4.6): it resolves
// the ApprovalRequirement a risk class and policy imply into a decision,
// parks human-approval requests until granted, denied, or timed out, and
// tracks dual-requirement records to completion regardless of which leg
// (human or automated) is satisfied first.
//
// Grounded on the reference repo's ApprovalChecker/ApprovalPolicy/
// ApprovalStore split (internal/agent/approval.go): an allowlist/denylist/
// require-approval pattern policy evaluated by a checker that owns the
// pending-request store, generalized here from a fixed three-way decision
// to the specification's four ApprovalRequirement values including "dual".
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-autonomy/kernel/internal/kmodel"
	"github.com/open-autonomy/kernel/internal/registry"
)

// DefaultHumanTimeout is how long a parked human-approval request waits
// before it expires into kmodel.ApprovalTimedOut, matching
// config.ApprovalConfig.HumanTimeout's documented default.
const DefaultHumanTimeout = 10 * time.Minute

// Policy configures pattern-based auto-decisions the way the reference
// repo's ApprovalPolicy does, ahead of any risk-class/requirement
// resolution: an exact or wildcard match against Allowlist short-circuits
// to an immediate grant, Denylist to an immediate deny, before the
// gate falls through to the requirement implied by risk class.
type Policy struct {
	// Allowlist tools are always allowed without further resolution.
	// Supports exact names and "prefix.*" wildcards (registry.MatchesAny).
	Allowlist []string
	// Denylist tools are always denied without further resolution.
	Denylist []string
	// HumanTimeout bounds how long a parked human approval request may
	// remain pending before it expires.
	HumanTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.HumanTimeout <= 0 {
		p.HumanTimeout = DefaultHumanTimeout
	}
	return p
}

// Store persists pending approval records, mirroring the reference
// repo's ApprovalStore interface.
type Store interface {
	Create(ctx context.Context, rec *kmodel.ApprovalRecord) error
	Get(ctx context.Context, id string) (*kmodel.ApprovalRecord, error)
	Update(ctx context.Context, rec *kmodel.ApprovalRecord) error
	ListPending(ctx context.Context) ([]*kmodel.ApprovalRecord, error)
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// Request is what a pipeline step asks the gate to resolve.
type Request struct {
	RequestID   string
	ToolName    string
	RiskClass   kmodel.RiskClass
	Requirement kmodel.ApprovalRequirement
	Source      kmodel.Source
}

// Gate evaluates proposed tool calls against a Policy and, for
// requirements that cannot be resolved immediately, parks an
// ApprovalRecord in Store awaiting GrantHuman/GrantAutomated/Deny.
type Gate struct {
	mu      sync.Mutex
	policy  Policy
	store   Store
	seq     int64
	clock   func() time.Time
	waiters map[string][]chan struct{}
}

// New returns a Gate backed by store, applying policy's defaults.
func New(policy Policy, store Store) *Gate {
	return &Gate{policy: policy.withDefaults(), store: store, clock: time.Now}
}

// Evaluate resolves req into a decision. A denylist match denies
// immediately; RequireNone and an allowlist match grant immediately;
// RequireHuman/RequireDual/RequireAutomated with no list match parks a
// pending ApprovalRecord and returns kmodel.ApprovalPending.
func (g *Gate) Evaluate(ctx context.Context, req Request) (*kmodel.ApprovalRecord, error) {
	if registry.MatchesAny(g.policy.Denylist, req.ToolName) {
		return g.finalize(ctx, req, kmodel.ApprovalDenied, "system", "tool is denylisted")
	}
	if registry.MatchesAny(g.policy.Allowlist, req.ToolName) {
		return g.finalize(ctx, req, kmodel.ApprovalGranted, "system", "tool is allowlisted")
	}

	switch req.Requirement {
	case kmodel.RequireNone:
		return g.finalize(ctx, req, kmodel.ApprovalGranted, "system", "risk class requires no approval")
	case kmodel.RequireAutomated, kmodel.RequireHuman, kmodel.RequireDual:
		return g.park(ctx, req)
	default:
		return nil, fmt.Errorf("approval: unknown requirement %q", req.Requirement)
	}
}

func (g *Gate) nextID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("apr-%d", g.seq)
}

func (g *Gate) finalize(ctx context.Context, req Request, decision kmodel.ApprovalDecision, approver, reason string) (*kmodel.ApprovalRecord, error) {
	now := g.clock().UTC()
	rec := &kmodel.ApprovalRecord{
		ID:          g.nextID(),
		RequestID:   req.RequestID,
		RiskClass:   req.RiskClass,
		Requirement: req.Requirement,
		RequestedAt: now,
		DecidedAt:   &now,
		Decision:    decision,
		Approver:    approver,
		Reason:      reason,
	}
	if err := g.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: persist decision: %w", err)
	}
	return rec, nil
}

func (g *Gate) park(ctx context.Context, req Request) (*kmodel.ApprovalRecord, error) {
	rec := &kmodel.ApprovalRecord{
		ID:          g.nextID(),
		RequestID:   req.RequestID,
		RiskClass:   req.RiskClass,
		Requirement: req.Requirement,
		RequestedAt: g.clock().UTC(),
		Decision:    kmodel.ApprovalPending,
	}
	if err := g.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: park pending request: %w", err)
	}
	return rec, nil
}

// Await blocks until the record id reaches a terminal decision, timeout
// elapses (falling back to policy.HumanTimeout when timeout <= 0), or ctx
// is cancelled. This is the suspension point a parked Propose call uses to
// resume once GrantHuman, GrantAutomated, or Deny arrives out of band.
func (g *Gate) Await(ctx context.Context, id string, timeout time.Duration) (*kmodel.ApprovalRecord, error) {
	if timeout <= 0 {
		timeout = g.policy.HumanTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		ch := g.registerWaiter(id)
		rec, err := g.store.Get(ctx, id)
		if err != nil {
			g.deregisterWaiter(id, ch)
			return nil, err
		}
		if rec.Decision.Terminal() {
			g.deregisterWaiter(id, ch)
			return rec, nil
		}

		select {
		case <-ch:
			continue
		case <-timer.C:
			g.deregisterWaiter(id, ch)
			return g.expireOne(ctx, id)
		case <-ctx.Done():
			g.deregisterWaiter(id, ch)
			return nil, ctx.Err()
		}
	}
}

func (g *Gate) registerWaiter(id string) chan struct{} {
	ch := make(chan struct{})
	g.mu.Lock()
	if g.waiters == nil {
		g.waiters = make(map[string][]chan struct{})
	}
	g.waiters[id] = append(g.waiters[id], ch)
	g.mu.Unlock()
	return ch
}

func (g *Gate) deregisterWaiter(id string, ch chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	chans := g.waiters[id]
	for i, c := range chans {
		if c == ch {
			g.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(g.waiters[id]) == 0 {
		delete(g.waiters, id)
	}
}

// signal wakes every goroutine parked in Await for id. Safe to call for an
// id with no registered waiters.
func (g *Gate) signal(id string) {
	g.mu.Lock()
	chans := g.waiters[id]
	delete(g.waiters, id)
	g.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

func (g *Gate) expireOne(ctx context.Context, id string) (*kmodel.ApprovalRecord, error) {
	rec, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Decision.Terminal() {
		return rec, nil
	}
	now := g.clock().UTC()
	rec.Decision = kmodel.ApprovalTimedOut
	rec.DecidedAt = &now
	rec.Reason = "human approval timed out"
	if err := g.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: persist timeout for %q: %w", id, err)
	}
	g.signal(id)
	return rec, nil
}

// GrantHuman records the human leg of an approval. For a RequireHuman
// record this alone satisfies it; for RequireDual it only satisfies the
// record once GrantAutomated has also been recorded (or vice versa),
// per DESIGN.md's resolution of the dual-approval-ordering Open Question.
func (g *Gate) GrantHuman(ctx context.Context, id, approver string) (*kmodel.ApprovalRecord, error) {
	return g.grant(ctx, id, approver, func(rec *kmodel.ApprovalRecord) {
		rec.DualHumanGranted = true
	})
}

// GrantAutomated records the automated leg of an approval, symmetric
// with GrantHuman.
func (g *Gate) GrantAutomated(ctx context.Context, id, approver string) (*kmodel.ApprovalRecord, error) {
	return g.grant(ctx, id, approver, func(rec *kmodel.ApprovalRecord) {
		rec.DualAutomatedGranted = true
	})
}

func (g *Gate) grant(ctx context.Context, id, approver string, mark func(*kmodel.ApprovalRecord)) (*kmodel.ApprovalRecord, error) {
	rec, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Decision.Terminal() {
		return rec, fmt.Errorf("approval: record %q already decided (%s)", id, rec.Decision)
	}

	mark(rec)
	if rec.Requirement != kmodel.RequireDual {
		// RequireHuman and RequireAutomated are single-leg: whichever
		// grant call is used, the record is immediately satisfied.
		rec.DualHumanGranted = true
		rec.DualAutomatedGranted = true
	}
	rec.Approver = approver

	if rec.Satisfied() {
		now := g.clock().UTC()
		rec.Decision = kmodel.ApprovalGranted
		rec.DecidedAt = &now
	}

	if err := g.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: persist grant: %w", err)
	}
	g.signal(id)
	return rec, nil
}

// Deny records a terminal denial regardless of requirement shape.
func (g *Gate) Deny(ctx context.Context, id, approver, reason string) (*kmodel.ApprovalRecord, error) {
	rec, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Decision.Terminal() {
		return rec, fmt.Errorf("approval: record %q already decided (%s)", id, rec.Decision)
	}
	now := g.clock().UTC()
	rec.Decision = kmodel.ApprovalDenied
	rec.DecidedAt = &now
	rec.Approver = approver
	rec.Reason = reason
	if err := g.store.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("approval: persist denial: %w", err)
	}
	g.signal(id)
	return rec, nil
}

// ExpirePending marks every still-pending record requested before the
// gate's clock minus timeout as kmodel.ApprovalTimedOut, returning the
// records it expired. A pipeline step (or a scheduled sweep) calls this
// to enforce the configured human-approval timeout.
func (g *Gate) ExpirePending(ctx context.Context, timeout time.Duration) ([]*kmodel.ApprovalRecord, error) {
	if timeout <= 0 {
		timeout = g.policy.HumanTimeout
	}
	pending, err := g.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := g.clock().UTC().Add(-timeout)
	var expired []*kmodel.ApprovalRecord
	for _, rec := range pending {
		if rec.RequestedAt.After(cutoff) {
			continue
		}
		now := g.clock().UTC()
		rec.Decision = kmodel.ApprovalTimedOut
		rec.DecidedAt = &now
		rec.Reason = "human approval timed out"
		if err := g.store.Update(ctx, rec); err != nil {
			return expired, fmt.Errorf("approval: persist timeout for %q: %w", rec.ID, err)
		}
		g.signal(rec.ID)
		expired = append(expired, rec)
	}
	return expired, nil
}

// Package kernel is the Autonomy Kernel's public inward-facing API (spec
// §6): a single InitKernel composition root wiring every internal
// subsystem from a resolved config.Config, plus the small set of exported
// operations an embedding agent runtime calls — registering contracts,
// proposing tool calls, admitting memories, resolving parked approvals,
// requesting a safe-mode exit, and querying the event log.
//
// The reference repo wires its subsystems ad hoc per CLI command rather
// than through one central constructor; this package instead follows the
// shape of its pkg/pluginsdk: a single facade type over the internal
// packages, returned by one constructor that never panics and reports
// configuration problems as an issues list instead of a fatal error.
package kernel

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/open-autonomy/kernel/internal/approval"
	"github.com/open-autonomy/kernel/internal/compensate"
	"github.com/open-autonomy/kernel/internal/config"
	"github.com/open-autonomy/kernel/internal/drift"
	"github.com/open-autonomy/kernel/internal/eventstore"
	"github.com/open-autonomy/kernel/internal/governance"
	ikernel "github.com/open-autonomy/kernel/internal/kernel"
	"github.com/open-autonomy/kernel/internal/klog"
	"github.com/open-autonomy/kernel/internal/kmodel"
	"github.com/open-autonomy/kernel/internal/memorygate"
	"github.com/open-autonomy/kernel/internal/orchestrator"
	"github.com/open-autonomy/kernel/internal/persistence"
	"github.com/open-autonomy/kernel/internal/pipeline"
	"github.com/open-autonomy/kernel/internal/registry"
	"github.com/open-autonomy/kernel/internal/schedule"
	"github.com/open-autonomy/kernel/internal/telemetry"
	"github.com/open-autonomy/kernel/internal/trust"
	"github.com/open-autonomy/kernel/internal/verify"
)

// Kernel is the wired-up Autonomy Kernel. Every exported method is safe
// for concurrent use; the subsystems it composes carry their own locking.
type Kernel struct {
	cfg config.Config

	Registry    *registry.Registry
	Events      eventstore.Store
	Trust       *trust.Scorer
	MemoryGate  *memorygate.Gate
	Drift       *drift.Monitor
	Machine     *ikernel.Machine
	SafeMode    *ikernel.SafeModeController
	Governance  *governance.Engine
	Approval    *approval.Gate
	Verifier    *verify.Verifier
	Compensator *compensate.Registry
	Incidents   *compensate.IncidentManager
	Pipeline    *pipeline.Pipeline
	Orchestrator *orchestrator.Orchestrator
	Tracer      *telemetry.Tracer
	Metrics     *telemetry.Metrics
	Scheduler   *schedule.Scheduler

	Goals      persistence.GoalManager
	Approvals  persistence.ApprovalLog
	Identities persistence.IdentityStore
	Memories   persistence.MemoryStore
	Retention  persistence.RetentionManager

	logger       *klog.Logger
	db           *sql.DB
	shutdownFunc func(context.Context) error
}

// InitResult reports whether InitKernel succeeded and any non-fatal
// configuration issues it resolved with defaults along the way, matching
// config.Load's {enabled, issues[]} contract.
type InitResult struct {
	Enabled bool
	Issues  []string
}

// InitKernel resolves cfg into a fully wired Kernel. It only fails to
// enable when the storage driver cannot be opened; every other
// configuration defect is recorded in InitResult.Issues and papered over
// with defaults by config.Validate before this function ever runs.
func InitKernel(cfg config.Config, issues []string) (*Kernel, InitResult) {
	logger := klog.New(klog.Config{
		Level:      klog.Level(cfg.Logging.Level),
		JSON:       cfg.Logging.JSON,
		SampleRate: cfg.Logging.SampleRate,
	})

	k := &Kernel{cfg: cfg, logger: logger}

	if err := k.wireStorage(); err != nil {
		return nil, InitResult{Enabled: false, Issues: append(issues, err.Error())}
	}

	k.Registry = registry.New()
	k.Trust = trust.New(trust.Config{
		Baselines:  cfg.Trust.Baselines,
		MaxStep:    cfg.Trust.MaxStep,
		WindowSize: cfg.Trust.WindowSize,
	})
	k.MemoryGate = memorygate.New(memorygate.Config{
		WriteThreshold:      cfg.MemoryGate.WriteThreshold,
		QuarantineThreshold: cfg.MemoryGate.QuarantineThreshold,
		MaxQuarantineSize:   cfg.MemoryGate.MaxQuarantineSize,
	})
	k.Drift = drift.New(drift.Config{
		WindowSize:      cfg.Drift.WindowSize,
		Weights:         convertDriftWeights(cfg.Drift.Weights),
		HighThreshold:   cfg.Drift.HighThreshold,
		MediumThreshold: cfg.Drift.MediumThreshold,
	})

	k.Machine = ikernel.NewMachine(cfg.SafeMode.ConsecutiveErrorThreshold, k.onStateTransition)
	k.SafeMode = ikernel.NewSafeModeController(k.Machine, ikernel.SafeModeConfig{
		ExitTrustFloor: cfg.SafeMode.ExitTrustFloor,
	})

	k.Governance = governance.New(k.onGovernanceAudit)
	k.Governance.RegisterPolicy(defaultGovernancePolicy(cfg))

	k.Approval = approval.New(approval.Policy{
		HumanTimeout: cfg.Approval.HumanTimeout,
	}, approval.NewMemoryStore())

	k.Verifier = verify.New()
	k.Compensator = compensate.NewRegistry()
	k.Incidents = compensate.NewIncidentManager(compensate.NewMemoryIncidentStore())

	if cfg.Telemetry.Enabled {
		tracer, shutdown := telemetry.NewTracer(telemetry.TraceConfig{
			ServiceName: cfg.Telemetry.ServiceName,
		})
		k.Tracer = tracer
		k.shutdownFunc = shutdown
		k.Metrics = telemetry.NewMetrics()
	}

	k.Pipeline = &pipeline.Pipeline{
		Registry:    k.Registry,
		Events:      k.Events,
		Approval:    k.Approval,
		Verifier:    k.Verifier,
		Compensator: k.Compensator,
		Incidents:   k.Incidents,
		Governance:  k.Governance,
		Trust:       k.Trust,
		Machine:     k.Machine,
		SafeMode:    k.SafeMode,
		Logger:      logger,
		Tracer:      k.Tracer,
		Metrics:     k.Metrics,
	}

	k.Orchestrator = &orchestrator.Orchestrator{
		Executor: orchestrator.DefaultExecutor{
			Pipeline: k.Pipeline,
			Drift:    k.Drift,
			Scorer:   drift.HeuristicScorer{BoundaryMarkers: cfg.Drift.BoundaryMarkers},
		},
		VerifierRole: orchestrator.DefaultVerifier{},
		MemoryWriter: orchestrator.DefaultMemoryWriter{Gate: k.MemoryGate, TrustScore: cfg.Trust.Baselines["system"], Metrics: k.Metrics},
		Auditor: orchestrator.DefaultAuditor{
			Drift:   k.Drift,
			Events:  k.Events,
			Metrics: k.Metrics,
		},
		SafeMode: k.SafeMode,
		Logger:   logger,
	}

	k.Scheduler = schedule.New(logger)
	if cfg.Retention.SweepCron != "" {
		if err := k.Scheduler.AddFunc("retention-sweep", cfg.Retention.SweepCron, func(ctx context.Context) error {
			_, _, err := k.SweepRetention(ctx)
			return err
		}); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if cfg.MemoryGate.ReviewInterval > 0 {
		reviewExpr := fmt.Sprintf("@every %s", cfg.MemoryGate.ReviewInterval)
		if err := k.Scheduler.AddFunc("memory-quarantine-review", reviewExpr, k.reportQuarantineBacklog); err != nil {
			issues = append(issues, err.Error())
		}
	}

	logger.Info(context.Background(), "kernel: initialized", "storage_driver", cfg.Storage.Driver, "telemetry", cfg.Telemetry.Enabled)
	return k, InitResult{Enabled: true, Issues: issues}
}

// StartScheduler begins running the retention sweep and quarantine-backlog
// jobs registered during InitKernel, off the cron expressions in
// config.RetentionConfig.SweepCron and config.MemoryGateConfig.ReviewInterval.
// It returns immediately; the jobs run in a background goroutine until ctx
// is cancelled or StopScheduler is called.
func (k *Kernel) StartScheduler(ctx context.Context) error {
	return k.Scheduler.Start(ctx)
}

// StopScheduler cancels the background scheduler loop and waits for the
// in-flight tick to finish.
func (k *Kernel) StopScheduler() {
	k.Scheduler.Stop()
}

// reportQuarantineBacklog surfaces the Memory Gate's pending-review queue to
// the configured reviewer: it does not resolve entries itself (that
// requires a human or policy decision via ResolveQuarantine), only records
// the backlog depth so a stuck queue is visible.
func (k *Kernel) reportQuarantineBacklog(ctx context.Context) error {
	pending := k.MemoryGate.PendingReview()
	if k.Metrics != nil {
		k.Metrics.SetMemoryQuarantineBacklog(len(pending))
	}
	if len(pending) > 0 {
		k.logger.Info(ctx, "kernel: memory quarantine awaiting review", "count", len(pending))
	}
	return nil
}

// wireStorage opens the configured storage driver and wires every
// persistence.* contract plus the eventstore.Store behind it. Storage
// "memory" never fails; "sqlite" fails only if the database cannot be
// opened or migrated.
func (k *Kernel) wireStorage() error {
	switch k.cfg.Storage.Driver {
	case "sqlite":
		db, err := persistence.Open(k.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("kernel: open storage: %w", err)
		}
		k.db = db
		k.Events = eventstore.NewSQLite(db)
		k.Goals = persistence.NewSQLiteGoalManager(db)
		k.Approvals = persistence.NewSQLiteApprovalLog(db)
		k.Identities = persistence.NewSQLiteIdentityStore(db)
		k.Memories = persistence.NewSQLiteMemoryStore(db)
		k.Retention = persistence.NewSQLiteRetentionManager(db)
	default:
		k.Events = eventstore.NewMemory()
		k.Goals = persistence.NewMemoryGoalManager()
		k.Approvals = persistence.NewMemoryApprovalLog()
		k.Identities = persistence.NewMemoryIdentityStore()
		k.Memories = persistence.NewMemoryStoreImpl()
		k.Retention = persistence.NewMemoryRetentionManager()
	}
	return nil
}

// Close stops the background scheduler and releases the kernel's storage
// handle and telemetry exporter, if any were opened.
func (k *Kernel) Close(ctx context.Context) error {
	k.Scheduler.Stop()
	if k.shutdownFunc != nil {
		if err := k.shutdownFunc(ctx); err != nil {
			return err
		}
	}
	if k.db != nil {
		return k.db.Close()
	}
	return nil
}

func (k *Kernel) onStateTransition(from, to kmodel.State) {
	ctx := context.Background()
	if _, err := k.Events.Append(ctx, "", kmodel.EventStateTransition, "", map[string]any{
		"from": string(from), "to": string(to),
	}); err != nil {
		k.logger.Warn(ctx, "kernel: failed to record state transition event", "err", err)
	}
	if k.Metrics != nil {
		switch to {
		case kmodel.StateSafeMode:
			k.Metrics.RecordSafeModeTransition("entered")
		case kmodel.StateIdle:
			if from == kmodel.StateSafeMode {
				k.Metrics.RecordSafeModeTransition("exited")
			}
		}
	}
}

func (k *Kernel) onGovernanceAudit(ctx context.Context, policy kmodel.GovernancePolicy, gctx kmodel.GovernanceContext, decision kmodel.GovernanceDecision) {
	if _, err := k.Events.Append(ctx, "", kmodel.EventIdentityDriftReport, "", map[string]any{
		"policy":   policy.ID,
		"tool":     gctx.ToolName,
		"approved": decision.Approved,
	}); err != nil {
		k.logger.Warn(ctx, "kernel: failed to record governance audit event", "err", err)
	}
}

// convertDriftWeights adapts config.DriftConfig's string-keyed weights
// into drift.Config's Dimension-keyed map. Unknown keys are dropped rather
// than rejected outright, since config.Validate only checks the weights
// sum to 1.0 and does not know the dimension name set.
func convertDriftWeights(weights map[string]float64) map[drift.Dimension]float64 {
	if weights == nil {
		return nil
	}
	out := make(map[drift.Dimension]float64, len(weights))
	for k, v := range weights {
		out[drift.Dimension(k)] = v
	}
	return out
}

// defaultGovernancePolicy derives a GovernancePolicy named
// pipeline.GovernancePolicyID from cfg's approval trust floors, mapping
// each configured risk class string to the requirement the spec's
// built-in fallback table would otherwise assign, so the pipeline always
// has a policy to evaluate against even when the operator's config
// declares no policies of its own.
func defaultGovernancePolicy(cfg config.Config) kmodel.GovernancePolicy {
	rules := map[kmodel.RiskClass]kmodel.ApprovalRule{
		kmodel.RiskReadOnly:     {Requirement: kmodel.RequireNone},
		kmodel.RiskReversible:   {Requirement: kmodel.RequireAutomated},
		kmodel.RiskIrreversible: {Requirement: kmodel.RequireHuman},
	}
	for class, rule := range rules {
		if floor, ok := cfg.Approval.TrustFloors[string(class)]; ok {
			f := floor
			rule.TrustFloor = &f
			rules[class] = rule
		}
	}
	return kmodel.GovernancePolicy{
		ID:            pipeline.GovernancePolicyID,
		ApprovalRules: rules,
		Retention: kmodel.RetentionPolicy{
			EventMs:              cfg.Retention.EventTTL.Milliseconds(),
			AuditMs:              cfg.Retention.AuditTTL.Milliseconds(),
			ExportBeforeEviction: cfg.Retention.ExportBeforeEviction,
		},
	}
}

// RegisterToolContract publishes contract to the Tool Registry. Contracts
// are immutable once registered (spec §4.1): re-registering the same
// name/version pair returns an error.
func (k *Kernel) RegisterToolContract(contract kmodel.ToolContract) error {
	return k.Registry.Register(contract)
}

// ProposeTool drives call through the twelve-step execution sequence,
// using handler as the tool's side-effecting logic.
func (k *Kernel) ProposeTool(ctx context.Context, call kmodel.ProposedToolCall, handler pipeline.Handler) pipeline.Result {
	return k.Pipeline.Propose(ctx, call, handler)
}

// WriteMemory admits, quarantines, or rejects candidate using trustScore
// as the acting source's current trust.
func (k *Kernel) WriteMemory(candidate kmodel.MemoryCandidate, trustScore float64) kmodel.GateDecision {
	return k.MemoryGate.Write(candidate, trustScore)
}

// GrantApproval resolves a parked human-approval request by id.
func (k *Kernel) GrantApproval(ctx context.Context, id, approver string) (*kmodel.ApprovalRecord, error) {
	return k.Approval.GrantHuman(ctx, id, approver)
}

// DenyApproval denies a parked approval request by id.
func (k *Kernel) DenyApproval(ctx context.Context, id, approver, reason string) (*kmodel.ApprovalRecord, error) {
	return k.Approval.Deny(ctx, id, approver, reason)
}

// ExitSafeMode requests the Safe-Mode Controller transition the kernel
// back to idle, gated on source being user or system and callerTrust
// meeting the effective exit floor.
func (k *Kernel) ExitSafeMode(source kmodel.SourceKind, callerTrust float64) (ikernel.ExitResult, error) {
	return k.SafeMode.RequestExit(source, callerTrust, nil)
}

// EventQuery selects the event log slice an embedding caller wants to
// inspect: exactly one of RequestID or CorrelationID should be set.
type EventQuery struct {
	RequestID     string
	CorrelationID string
}

// QueryEvents returns the matching event log slice for query.
func (k *Kernel) QueryEvents(ctx context.Context, query EventQuery) ([]kmodel.Event, error) {
	if query.RequestID != "" {
		return k.Events.GetByRequestID(ctx, query.RequestID)
	}
	if query.CorrelationID != "" {
		return k.Events.GetByCorrelationID(ctx, query.CorrelationID)
	}
	return nil, fmt.Errorf("kernel: QueryEvents requires a RequestID or CorrelationID")
}

// VerifyResult is the outcome of checking a request's hash-chain linkage.
type VerifyResult struct {
	Valid      bool
	FirstBroken string
}

// VerifyEventChain recomputes requestID's hash-chain linkage and reports
// the first broken link, if any.
func (k *Kernel) VerifyEventChain(ctx context.Context, requestID string) (VerifyResult, error) {
	ok, brokenAt, err := k.Events.VerifyChain(ctx, requestID)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{Valid: ok, FirstBroken: brokenAt}, nil
}

// RunGoal plans and executes goal through the five-role Orchestrator.
func (k *Kernel) RunGoal(ctx context.Context, goal string) (orchestrator.RunResult, error) {
	if k.Orchestrator.Planner == nil {
		return orchestrator.RunResult{}, fmt.Errorf("kernel: no Planner registered; set Orchestrator.Planner before calling RunGoal")
	}
	return k.Orchestrator.Run(ctx, goal)
}

// SweepRetention runs the configured retention policy once: exporting and
// evicting expired audit records per cfg.Retention. InitKernel already
// registers this against cfg.Retention.SweepCron on the Kernel's own
// Scheduler; it's exported separately so a caller can also trigger an
// out-of-band sweep.
func (k *Kernel) SweepRetention(ctx context.Context) (exported int, evicted int, err error) {
	if k.cfg.Retention.ExportBeforeEviction {
		records, exportErr := k.Retention.ExportExpired(ctx, time.Now().UTC())
		if exportErr != nil {
			return 0, 0, fmt.Errorf("kernel: export expired audit records: %w", exportErr)
		}
		exported = len(records)
	}
	evicted, err = k.Retention.EvictExpired(ctx, time.Now().UTC())
	if err != nil {
		return exported, evicted, fmt.Errorf("kernel: evict expired audit records: %w", err)
	}
	return exported, evicted, nil
}

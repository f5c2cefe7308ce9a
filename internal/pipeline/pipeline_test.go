package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-autonomy/kernel/internal/approval"
	"github.com/open-autonomy/kernel/internal/compensate"
	"github.com/open-autonomy/kernel/internal/eventstore"
	"github.com/open-autonomy/kernel/internal/governance"
	"github.com/open-autonomy/kernel/internal/kernel"
	"github.com/open-autonomy/kernel/internal/kmodel"
	"github.com/open-autonomy/kernel/internal/registry"
	"github.com/open-autonomy/kernel/internal/trust"
	"github.com/open-autonomy/kernel/internal/verify"
)

const schemaDoc = `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"],"additionalProperties":false}`

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(kmodel.ToolContract{
		Name: "read_file", Version: "1.0.0", RiskClass: kmodel.RiskReadOnly,
		ParamsSchema: json.RawMessage(schemaDoc), Timeout: time.Second,
	}))
	require.NoError(t, reg.Register(kmodel.ToolContract{
		Name: "shell_exec", Version: "1.0.0", RiskClass: kmodel.RiskIrreversible,
		ParamsSchema: json.RawMessage(schemaDoc), Timeout: time.Second, ApprovalRequired: true,
	}))

	return &Pipeline{
		Registry:    reg,
		Events:      eventstore.NewMemory(),
		Approval:    approval.New(approval.Policy{}, approval.NewMemoryStore()),
		Verifier:    verify.New(),
		Compensator: compensate.NewRegistry(),
		Incidents:   compensate.NewIncidentManager(compensate.NewMemoryIncidentStore()),
		Trust:       trust.New(trust.Config{}),
		Machine:     kernel.NewMachine(3, nil),
	}
}

func call(tool, requestID string, params string) kmodel.ProposedToolCall {
	return kmodel.ProposedToolCall{
		Tool: tool, Version: "1.0.0", Params: json.RawMessage(params),
		Source: kmodel.Source{Kind: kmodel.SourceUser}, RequestID: requestID,
	}
}

func TestPropose_ReadOnlyHappyPath(t *testing.T) {
	p := newTestPipeline(t)
	result := p.Propose(context.Background(), call("read_file", "r1", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		return "contents", nil
	})
	assert.True(t, result.Success)
	assert.Equal(t, kmodel.StateIdle, p.Machine.State())
	assert.NotNil(t, result.Verification)
}

func TestPropose_InvalidParamsFails(t *testing.T) {
	p := newTestPipeline(t)
	result := p.Propose(context.Background(), call("read_file", "r2", `{"wrong":"field"}`), func(ctx context.Context, params map[string]any) (any, error) {
		t.Fatal("handler should not run")
		return nil, nil
	})
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrInvalidParams, result.ErrorKind)
	assert.NotEmpty(t, result.Validation)
}

func TestPropose_UnknownToolFails(t *testing.T) {
	p := newTestPipeline(t)
	result := p.Propose(context.Background(), call("does_not_exist", "r3", `{}`), nil)
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrUnknownTool, result.ErrorKind)
}

func TestPropose_IrreversibleRequiresApprovalAndGrantsIt(t *testing.T) {
	p := newTestPipeline(t)

	// Pre-allowlist the tool so approval resolves to an immediate grant,
	// since this pipeline has no governance engine wired in and falls back
	// to the contract's ApprovalRequired flag (which always parks).
	p.Approval = approval.New(approval.Policy{Allowlist: []string{"shell_exec"}}, approval.NewMemoryStore())

	result := p.Propose(context.Background(), call("shell_exec", "r4", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		return "ran", nil
	})
	require.True(t, result.Success)
	require.NotNil(t, result.Approval)
	assert.Equal(t, kmodel.ApprovalGranted, result.Approval.Decision)
}

func TestPropose_ApprovalDeniedFailsWithoutExecuting(t *testing.T) {
	p := newTestPipeline(t)
	p.Approval = approval.New(approval.Policy{Denylist: []string{"shell_exec"}}, approval.NewMemoryStore())

	ran := false
	result := p.Propose(context.Background(), call("shell_exec", "r5", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		ran = true
		return nil, nil
	})
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrUnapproved, result.ErrorKind)
	assert.False(t, ran)
	assert.Equal(t, kmodel.StateIdle, p.Machine.State())
}

func TestPropose_HandlerErrorTriggersSuccessfulCompensation(t *testing.T) {
	p := newTestPipeline(t)
	p.Compensator.Register("read_file", 0, func(ctx context.Context, requestID string, params map[string]any, result any) error {
		return nil
	})

	result := p.Propose(context.Background(), call("read_file", "r6", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("disk full")
	})
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrHandlerError, result.ErrorKind)
	require.NotNil(t, result.Compensation)
	assert.True(t, result.Compensation.Succeeded)
	assert.Nil(t, result.Incident)
}

func TestPropose_CriticalVerificationFailureWithNoCompensationOpensIncident(t *testing.T) {
	p := newTestPipeline(t)
	p.Verifier.Register("read_file", "output_nonempty", "output must not be empty", kmodel.SeverityCritical, 0,
		func(ctx context.Context, execCtx verify.ExecutionContext) error {
			return errors.New("output was empty")
		})

	result := p.Propose(context.Background(), call("read_file", "r7", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		return "", nil
	})
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrVerificationFailed, result.ErrorKind)
	require.NotNil(t, result.Compensation)
	assert.False(t, result.Compensation.Attempted)
	require.NotNil(t, result.Incident)
	assert.Equal(t, kmodel.IncidentNoCompensation, result.Incident.Reason)
}

func TestPropose_AutomatedApprovalWithSufficientTrustGrantsWithoutParking(t *testing.T) {
	p := newTestPipeline(t)
	p.Governance = governance.New(nil)
	floor := 0.5
	p.Governance.RegisterPolicy(kmodel.GovernancePolicy{
		ID: GovernancePolicyID,
		ApprovalRules: map[kmodel.RiskClass]kmodel.ApprovalRule{
			kmodel.RiskIrreversible: {Requirement: kmodel.RequireAutomated, TrustFloor: &floor},
		},
	})
	trusted := 0.9
	proposedCall := call("shell_exec", "r11", `{"path":"/tmp/x"}`)
	proposedCall.SourceTrust = &trusted

	ran := false
	result := p.Propose(context.Background(), proposedCall, func(ctx context.Context, params map[string]any) (any, error) {
		ran = true
		return "ran", nil
	})
	require.True(t, result.Success)
	assert.True(t, ran)
	require.NotNil(t, result.Approval)
	assert.Equal(t, kmodel.ApprovalGranted, result.Approval.Decision)
}

func TestPropose_ParkedApprovalResumesOnAsyncGrant(t *testing.T) {
	p := newTestPipeline(t)
	store := approval.NewMemoryStore()
	p.Approval = approval.New(approval.Policy{}, store)

	type outcome struct {
		result Result
		ran    bool
	}
	done := make(chan outcome, 1)
	go func() {
		ran := false
		result := p.Propose(context.Background(), call("shell_exec", "r9", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
			ran = true
			return "ran", nil
		})
		done <- outcome{result: result, ran: ran}
	}()

	var pendingID string
	require.Eventually(t, func() bool {
		pending, err := store.ListPending(context.Background())
		if err != nil || len(pending) == 0 {
			return false
		}
		pendingID = pending[0].ID
		return true
	}, time.Second, 5*time.Millisecond, "approval never parked")

	rec, err := p.Approval.GrantHuman(context.Background(), pendingID, "ops-oncall")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalGranted, rec.Decision)

	select {
	case got := <-done:
		assert.True(t, got.result.Success)
		assert.True(t, got.ran)
		require.NotNil(t, got.result.Approval)
		assert.Equal(t, kmodel.ApprovalGranted, got.result.Approval.Decision)
	case <-time.After(time.Second):
		t.Fatal("Propose never resumed after GrantHuman")
	}
}

func TestPropose_ParkedApprovalTimesOutAndFails(t *testing.T) {
	p := newTestPipeline(t)
	p.Approval = approval.New(approval.Policy{HumanTimeout: 20 * time.Millisecond}, approval.NewMemoryStore())

	ran := false
	result := p.Propose(context.Background(), call("shell_exec", "r10", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		ran = true
		return nil, nil
	})
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrUnapproved, result.ErrorKind)
	assert.False(t, ran)
	require.NotNil(t, result.Approval)
	assert.Equal(t, kmodel.ApprovalTimedOut, result.Approval.Decision)
}

func TestPropose_SafeModeRestrictsToReadOnly(t *testing.T) {
	p := newTestPipeline(t)
	p.SafeMode = kernel.NewSafeModeController(p.Machine, kernel.SafeModeConfig{})
	require.NoError(t, p.Machine.Transition(kmodel.StateValidating))
	require.NoError(t, p.Machine.Transition(kmodel.StateExecuting))
	p.Machine.RecordFailure()
	p.Machine.RecordFailure()
	p.Machine.RecordFailure()
	entered, err := p.SafeMode.MaybeEnter()
	require.NoError(t, err)
	require.True(t, entered)

	result := p.Propose(context.Background(), call("shell_exec", "r8", `{"path":"/tmp/x"}`), func(ctx context.Context, params map[string]any) (any, error) {
		t.Fatal("handler should not run while restricted to read-only")
		return nil, nil
	})
	assert.False(t, result.Success)
	assert.Equal(t, kmodel.ErrUnapproved, result.ErrorKind)
	assert.Equal(t, kmodel.StateSafeMode, p.Machine.State())
}

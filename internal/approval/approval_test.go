package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func newGate() *Gate {
	return New(Policy{}, NewMemoryStore())
}

func TestEvaluate_RequireNoneGrantsImmediately(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "read_file",
		RiskClass: kmodel.RiskReadOnly, Requirement: kmodel.RequireNone,
	})
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalGranted, rec.Decision)
}

func TestEvaluate_DenylistDeniesImmediately(t *testing.T) {
	g := New(Policy{Denylist: []string{"shell.*"}}, NewMemoryStore())
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalDenied, rec.Decision)
}

func TestEvaluate_AllowlistGrantsImmediatelyEvenIfHumanRequired(t *testing.T) {
	g := New(Policy{Allowlist: []string{"cat"}}, NewMemoryStore())
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "cat",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalGranted, rec.Decision)
}

func TestEvaluate_RequireHumanParksPending(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalPending, rec.Decision)
}

func TestGrantHuman_SatisfiesSingleLegRequirement(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)

	granted, err := g.GrantHuman(context.Background(), rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalGranted, granted.Decision)
}

func TestDualApproval_RequiresBothLegsRegardlessOfOrder(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "deploy",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireDual,
	})
	require.NoError(t, err)

	afterAutomated, err := g.GrantAutomated(context.Background(), rec.ID, "ci-bot")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalPending, afterAutomated.Decision, "dual approval needs both legs")

	afterHuman, err := g.GrantHuman(context.Background(), rec.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalGranted, afterHuman.Decision)
}

func TestDeny_IsTerminalAndRejectsFurtherGrants(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)

	denied, err := g.Deny(context.Background(), rec.ID, "alice", "looks unsafe")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalDenied, denied.Decision)

	_, err = g.GrantHuman(context.Background(), rec.ID, "bob")
	assert.Error(t, err)
}

func TestExpirePending_TimesOutAgedRequests(t *testing.T) {
	store := NewMemoryStore()
	g := New(Policy{}, store)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.clock = func() time.Time { return fixed }

	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)

	g.clock = func() time.Time { return fixed.Add(11 * time.Minute) }
	expired, err := g.ExpirePending(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, rec.ID, expired[0].ID)
	assert.Equal(t, kmodel.ApprovalTimedOut, expired[0].Decision)
}

func TestAwait_ReturnsImmediatelyForAlreadyTerminalRecord(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "read_file",
		RiskClass: kmodel.RiskReadOnly, Requirement: kmodel.RequireNone,
	})
	require.NoError(t, err)

	awaited, err := g.Await(context.Background(), rec.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalGranted, awaited.Decision)
}

func TestAwait_UnblocksWhenGrantedConcurrently(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)

	done := make(chan *kmodel.ApprovalRecord, 1)
	go func() {
		awaited, err := g.Await(context.Background(), rec.ID, time.Second)
		require.NoError(t, err)
		done <- awaited
	}()

	time.Sleep(10 * time.Millisecond)
	_, err = g.GrantHuman(context.Background(), rec.ID, "alice")
	require.NoError(t, err)

	select {
	case awaited := <-done:
		assert.Equal(t, kmodel.ApprovalGranted, awaited.Decision)
	case <-time.After(time.Second):
		t.Fatal("Await never unblocked after GrantHuman")
	}
}

func TestAwait_TimesOutAndMarksRecordTimedOut(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)

	awaited, err := g.Await(context.Background(), rec.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalTimedOut, awaited.Decision)
}

func TestAwait_ReturnsErrorWhenContextCancelled(t *testing.T) {
	g := newGate()
	rec, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "shell.exec",
		RiskClass: kmodel.RiskIrreversible, Requirement: kmodel.RequireHuman,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Await(ctx, rec.ID, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_UnknownRequirementErrors(t *testing.T) {
	g := newGate()
	_, err := g.Evaluate(context.Background(), Request{
		RequestID: "r1", ToolName: "x", Requirement: kmodel.ApprovalRequirement("bogus"),
	})
	assert.Error(t, err)
}

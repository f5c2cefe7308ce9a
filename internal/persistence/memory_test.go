package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func TestMemoryGoalManager_CreateGetUpdateList(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryGoalManager()

	goal := Goal{ID: "g1", Description: "ship the thing", Status: GoalOpen, CreatedAt: time.Now().UTC()}
	require.NoError(t, m.Create(ctx, goal))
	assert.Error(t, m.Create(ctx, goal), "duplicate create should fail")

	got, err := m.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, goal.Description, got.Description)

	got.Status = GoalCompleted
	require.NoError(t, m.Update(ctx, got))

	open, err := m.ListByStatus(ctx, GoalOpen)
	require.NoError(t, err)
	assert.Empty(t, open)

	completed, err := m.ListByStatus(ctx, GoalCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
}

func TestMemoryApprovalLog_AppendIsImmutableHistory(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryApprovalLog()

	rec := kmodel.ApprovalRecord{ID: "apr-1", RequestID: "req-1", Decision: kmodel.ApprovalPending, RequestedAt: time.Now().UTC()}
	require.NoError(t, l.Append(ctx, rec))

	granted := rec
	granted.Decision = kmodel.ApprovalGranted
	require.Error(t, l.Append(ctx, granted), "a record is never rewritten after its first append")

	history, err := l.ListByRequestID(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, history, 1, "a rejected duplicate append leaves history unchanged")

	got, err := l.Get(ctx, "apr-1")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalPending, got.Decision)
}

func TestMemoryIdentityStore_LinkAndResolvePeer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdentityStore()

	identity := IdentityRecord{CanonicalID: "entity-1", DisplayName: "ops-bot", LinkedPeers: []string{"slack:U123"}}
	require.NoError(t, s.Create(ctx, identity))

	resolved, err := s.ResolveByPeer(ctx, "slack:U123")
	require.NoError(t, err)
	assert.Equal(t, "entity-1", resolved.CanonicalID)

	require.NoError(t, s.LinkPeer(ctx, "entity-1", "github:ops-bot"))
	resolved, err = s.ResolveByPeer(ctx, "github:ops-bot")
	require.NoError(t, err)
	assert.Equal(t, "entity-1", resolved.CanonicalID)

	_, err = s.ResolveByPeer(ctx, "unknown")
	assert.Error(t, err)
}

func TestMemoryStoreImpl_SaveGetListDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoreImpl()
	source := kmodel.Source{Kind: kmodel.SourceLLM, Name: "planner"}

	mem := kmodel.Memory{
		MemoryCandidate: kmodel.MemoryCandidate{Content: "observed X", Source: source, Timestamp: time.Now().UTC()},
		ID:              "mem-1", TrustScore: 0.8,
	}
	require.NoError(t, s.Save(ctx, mem))

	got, err := s.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "observed X", got.Content)

	bySource, err := s.ListBySource(ctx, source)
	require.NoError(t, err)
	assert.Len(t, bySource, 1)

	require.NoError(t, s.Delete(ctx, "mem-1"))
	_, err = s.Get(ctx, "mem-1")
	assert.Error(t, err)
}

func TestMemoryRetentionManager_ExportThenEvict(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRetentionManager()
	now := time.Now().UTC()

	require.NoError(t, r.Record(ctx, AuditRecord{ID: "a1", Type: AuditRecordEvent, RetainUntil: now.Add(-time.Hour)}))
	require.NoError(t, r.Record(ctx, AuditRecord{ID: "a2", Type: AuditRecordEvent, RetainUntil: now.Add(time.Hour)}))

	exported, err := r.ExportExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, "a1", exported[0].ID)

	again, err := r.ExportExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again, "already-exported rows are not re-exported")

	evicted, err := r.EvictExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	evicted, err = r.EvictExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, evicted, "a2 has not been exported yet, so it is not evicted even once its window passes")
}

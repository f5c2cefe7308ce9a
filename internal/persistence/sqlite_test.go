package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func TestOpen_IsIdempotentAcrossRepeatedMigration(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))
}

func TestSQLiteGoalManager_CreateGetUpdateList(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	mgr := NewSQLiteGoalManager(db)

	goal := Goal{ID: "goal-1", Description: "ship it", Status: GoalOpen, CreatedAt: time.Now().UTC()}
	require.NoError(t, mgr.Create(ctx, goal))

	got, err := mgr.Get(ctx, "goal-1")
	require.NoError(t, err)
	assert.Equal(t, "ship it", got.Description)
	assert.Equal(t, GoalOpen, got.Status)

	completed := time.Now().UTC()
	got.Status = GoalCompleted
	got.CompletedAt = &completed
	require.NoError(t, mgr.Update(ctx, got))

	open, err := mgr.ListByStatus(ctx, GoalOpen)
	require.NoError(t, err)
	assert.Empty(t, open)

	done, err := mgr.ListByStatus(ctx, GoalCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.NotNil(t, done[0].CompletedAt)
}

func TestSQLiteApprovalLog_AppendIsImmutableHistory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	log := NewSQLiteApprovalLog(db)

	rec := kmodel.ApprovalRecord{
		ID: "appr-1", RequestID: "req-1", RiskClass: kmodel.RiskIrreversible,
		Requirement: kmodel.RequireHuman, RequestedAt: time.Now().UTC(), Decision: kmodel.ApprovalPending,
	}
	require.NoError(t, log.Append(ctx, rec))

	got, err := log.Get(ctx, "appr-1")
	require.NoError(t, err)
	assert.Equal(t, kmodel.ApprovalPending, got.Decision)

	byReq, err := log.ListByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, byReq, 1)
}

func TestSQLiteIdentityStore_LinkAndResolvePeer(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	store := NewSQLiteIdentityStore(db)

	require.NoError(t, store.Create(ctx, IdentityRecord{
		CanonicalID: "entity-1", DisplayName: "ops-bot", LinkedPeers: []string{"slack:U1"},
	}))
	require.NoError(t, store.LinkPeer(ctx, "entity-1", "discord:D1"))

	resolved, err := store.ResolveByPeer(ctx, "discord:D1")
	require.NoError(t, err)
	assert.Equal(t, "entity-1", resolved.CanonicalID)
	assert.ElementsMatch(t, []string{"slack:U1", "discord:D1"}, resolved.LinkedPeers)
}

func TestSQLiteMemoryStore_SaveGetListDelete(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	store := NewSQLiteMemoryStore(db)

	source := kmodel.Source{Kind: kmodel.SourceSystem}
	mem := kmodel.Memory{
		MemoryCandidate: kmodel.MemoryCandidate{Content: "build succeeded", Source: source, Timestamp: time.Now().UTC()},
		ID:              "mem-1", TrustScore: 0.9, MemoryType: kmodel.MemoryObservation,
	}
	require.NoError(t, store.Save(ctx, mem))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "build succeeded", got.Content)

	list, err := store.ListBySource(ctx, source)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, "mem-1"))
	_, err = store.Get(ctx, "mem-1")
	assert.Error(t, err)
}

func TestSQLiteRetentionManager_ExportThenEvict(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	mgr := NewSQLiteRetentionManager(db)

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, mgr.Record(ctx, AuditRecord{
		ID: "audit-1", Type: AuditRecordEvent, Data: []byte(`{}`), RetainUntil: past,
	}))

	exported, err := mgr.ExportExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, exported, 1)

	reExported, err := mgr.ExportExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, reExported)

	evicted, err := mgr.EvictExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
}

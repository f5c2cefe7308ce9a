package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMockDB wires a driver-level mock in place of the real sqlite driver,
// grounded on the reference repo's CockroachStore tests
// (internal/sessions/cockroach_test.go): exercising error paths a live
// sqlite file can't deterministically reproduce (a dropped connection, a
// constraint violation surfaced mid-transaction) without a real failing
// database underneath.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestSQLiteGoalManager_CreateSurfacesDriverError(t *testing.T) {
	db, mock := setupMockDB(t)
	mgr := NewSQLiteGoalManager(db)

	mock.ExpectExec("INSERT INTO autonomy_goals").WillReturnError(sql.ErrConnDone)

	err := mgr.Create(context.Background(), Goal{ID: "goal-1", Status: GoalOpen, CreatedAt: time.Now()})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteGoalManager_UpdateReportsNotFoundOnZeroRowsAffected(t *testing.T) {
	db, mock := setupMockDB(t)
	mgr := NewSQLiteGoalManager(db)

	mock.ExpectExec("UPDATE autonomy_goals").WillReturnResult(sqlmock.NewResult(0, 0))

	err := mgr.Update(context.Background(), Goal{ID: "missing-goal", Status: GoalCompleted})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteIdentityStore_CreateRollsBackOnPeerLinkFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewSQLiteIdentityStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO canonical_entities").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO autonomy_identity").WillReturnError(sql.ErrTxDone)
	mock.ExpectRollback()

	err := store.Create(context.Background(), IdentityRecord{
		CanonicalID: "entity-1", LinkedPeers: []string{"slack:U1"},
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRetentionManager_RecordSurfacesDriverError(t *testing.T) {
	db, mock := setupMockDB(t)
	mgr := NewSQLiteRetentionManager(db)

	mock.ExpectExec("INSERT INTO autonomy_audit").WillReturnError(sql.ErrConnDone)

	err := mgr.Record(context.Background(), AuditRecord{ID: "audit-1", Type: AuditRecordEvent, RetainUntil: time.Now()})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SQLiteGoalManager is a GoalManager backed by the autonomy_goals table.
type SQLiteGoalManager struct {
	db *sql.DB
}

// NewSQLiteGoalManager wraps an already-migrated database handle.
func NewSQLiteGoalManager(db *sql.DB) *SQLiteGoalManager {
	return &SQLiteGoalManager{db: db}
}

func (m *SQLiteGoalManager) Create(ctx context.Context, goal Goal) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO autonomy_goals (id, description, status, created_at, completed_at) VALUES (?, ?, ?, ?, ?)`,
		goal.ID, goal.Description, string(goal.Status), unixNano(goal.CreatedAt), completedAtParam(goal.CompletedAt))
	if err != nil {
		return fmt.Errorf("persistence: insert goal: %w", err)
	}
	return nil
}

func (m *SQLiteGoalManager) Get(ctx context.Context, id string) (Goal, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, description, status, created_at, completed_at FROM autonomy_goals WHERE id = ?`, id)
	return scanGoal(row)
}

func (m *SQLiteGoalManager) Update(ctx context.Context, goal Goal) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE autonomy_goals SET description = ?, status = ?, completed_at = ? WHERE id = ?`,
		goal.Description, string(goal.Status), completedAtParam(goal.CompletedAt), goal.ID)
	if err != nil {
		return fmt.Errorf("persistence: update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persistence: goal %q not found", goal.ID)
	}
	return nil
}

func (m *SQLiteGoalManager) ListByStatus(ctx context.Context, status GoalStatus) ([]Goal, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, description, status, created_at, completed_at FROM autonomy_goals WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("persistence: list goals: %w", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func completedAtParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixNano(*t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (Goal, error) {
	var (
		id, description, status string
		createdAt               int64
		completedAt             sql.NullInt64
	)
	if err := row.Scan(&id, &description, &status, &createdAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return Goal{}, fmt.Errorf("persistence: goal not found: %w", err)
		}
		return Goal{}, fmt.Errorf("persistence: scan goal: %w", err)
	}
	g := Goal{ID: id, Description: description, Status: GoalStatus(status), CreatedAt: fromUnixNano(createdAt)}
	if completedAt.Valid {
		t := fromUnixNano(completedAt.Int64)
		g.CompletedAt = &t
	}
	return g, nil
}

// SQLiteApprovalLog is an append-only ApprovalLog backed by the
// autonomy_approvals table.
type SQLiteApprovalLog struct {
	db *sql.DB
}

// NewSQLiteApprovalLog wraps an already-migrated database handle.
func NewSQLiteApprovalLog(db *sql.DB) *SQLiteApprovalLog {
	return &SQLiteApprovalLog{db: db}
}

func (l *SQLiteApprovalLog) Append(ctx context.Context, rec kmodel.ApprovalRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO autonomy_approvals
			(id, request_id, tool_name, risk_class, requirement, decision,
			 dual_human_granted, dual_automated_granted, approver, reason, requested_at, decided_at)
		 VALUES (?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, string(rec.RiskClass), string(rec.Requirement), string(rec.Decision),
		boolToInt(rec.DualHumanGranted), boolToInt(rec.DualAutomatedGranted),
		rec.Approver, rec.Reason, unixNano(rec.RequestedAt), decidedAtParam(rec.DecidedAt))
	if err != nil {
		return fmt.Errorf("persistence: append approval record: %w", err)
	}
	return nil
}

func (l *SQLiteApprovalLog) Get(ctx context.Context, id string) (kmodel.ApprovalRecord, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, request_id, risk_class, requirement, decision,
			dual_human_granted, dual_automated_granted, approver, reason, requested_at, decided_at
		 FROM autonomy_approvals WHERE id = ?`, id)
	return scanApprovalRecord(row)
}

func (l *SQLiteApprovalLog) ListByRequestID(ctx context.Context, requestID string) ([]kmodel.ApprovalRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, request_id, risk_class, requirement, decision,
			dual_human_granted, dual_automated_granted, approver, reason, requested_at, decided_at
		 FROM autonomy_approvals WHERE request_id = ? ORDER BY requested_at ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list approvals by request: %w", err)
	}
	defer rows.Close()

	var out []kmodel.ApprovalRecord
	for rows.Next() {
		rec, err := scanApprovalRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decidedAtParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unixNano(*t)
}

func scanApprovalRecord(row rowScanner) (kmodel.ApprovalRecord, error) {
	var (
		id, requestID, riskClass, requirement, decision, approver, reason string
		dualHuman, dualAutomated                                         int
		requestedAt                                                      int64
		decidedAt                                                        sql.NullInt64
	)
	if err := row.Scan(&id, &requestID, &riskClass, &requirement, &decision,
		&dualHuman, &dualAutomated, &approver, &reason, &requestedAt, &decidedAt); err != nil {
		if err == sql.ErrNoRows {
			return kmodel.ApprovalRecord{}, fmt.Errorf("persistence: approval record not found: %w", err)
		}
		return kmodel.ApprovalRecord{}, fmt.Errorf("persistence: scan approval record: %w", err)
	}
	rec := kmodel.ApprovalRecord{
		ID: id, RequestID: requestID,
		RiskClass:            kmodel.RiskClass(riskClass),
		Requirement:          kmodel.ApprovalRequirement(requirement),
		Decision:             kmodel.ApprovalDecision(decision),
		DualHumanGranted:     dualHuman != 0,
		DualAutomatedGranted: dualAutomated != 0,
		Approver:             approver,
		Reason:               reason,
		RequestedAt:          fromUnixNano(requestedAt),
	}
	if decidedAt.Valid {
		t := fromUnixNano(decidedAt.Int64)
		rec.DecidedAt = &t
	}
	return rec, nil
}

// SQLiteIdentityStore is an IdentityStore backed by canonical_entities and
// autonomy_identity (the peer-to-canonical-ID index), mirroring the
// in-memory primary-map-plus-secondary-index split.
type SQLiteIdentityStore struct {
	db *sql.DB
}

// NewSQLiteIdentityStore wraps an already-migrated database handle.
func NewSQLiteIdentityStore(db *sql.DB) *SQLiteIdentityStore {
	return &SQLiteIdentityStore{db: db}
}

func (s *SQLiteIdentityStore) Create(ctx context.Context, identity IdentityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback()

	metadataJSON, err := json.Marshal(identity.Metadata)
	if err != nil {
		return fmt.Errorf("persistence: marshal identity metadata: %w", err)
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO canonical_entities (canonical_id, display_name, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		identity.CanonicalID, identity.DisplayName, metadataJSON, unixNano(now), unixNano(now)); err != nil {
		return fmt.Errorf("persistence: insert identity: %w", err)
	}
	for _, peer := range identity.LinkedPeers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO autonomy_identity (peer, canonical_id) VALUES (?, ?)`, peer, identity.CanonicalID); err != nil {
			return fmt.Errorf("persistence: link peer %q: %w", peer, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteIdentityStore) Get(ctx context.Context, canonicalID string) (IdentityRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT canonical_id, display_name, metadata, created_at, updated_at FROM canonical_entities WHERE canonical_id = ?`, canonicalID)
	identity, err := scanIdentity(row)
	if err != nil {
		return IdentityRecord{}, err
	}
	identity.LinkedPeers, err = s.peersFor(ctx, canonicalID)
	return identity, err
}

func (s *SQLiteIdentityStore) peersFor(ctx context.Context, canonicalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT peer FROM autonomy_identity WHERE canonical_id = ?`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("persistence: list linked peers: %w", err)
	}
	defer rows.Close()
	var peers []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, fmt.Errorf("persistence: scan linked peer: %w", err)
		}
		peers = append(peers, peer)
	}
	return peers, rows.Err()
}

func (s *SQLiteIdentityStore) Update(ctx context.Context, identity IdentityRecord) error {
	metadataJSON, err := json.Marshal(identity.Metadata)
	if err != nil {
		return fmt.Errorf("persistence: marshal identity metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE canonical_entities SET display_name = ?, metadata = ?, updated_at = ? WHERE canonical_id = ?`,
		identity.DisplayName, metadataJSON, unixNano(time.Now().UTC()), identity.CanonicalID)
	if err != nil {
		return fmt.Errorf("persistence: update identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persistence: identity %q not found", identity.CanonicalID)
	}
	return nil
}

func (s *SQLiteIdentityStore) LinkPeer(ctx context.Context, canonicalID, peer string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO autonomy_identity (peer, canonical_id) VALUES (?, ?)`, peer, canonicalID); err != nil {
		return fmt.Errorf("persistence: link peer %q: %w", peer, err)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE canonical_entities SET updated_at = ? WHERE canonical_id = ?`,
		unixNano(time.Now().UTC()), canonicalID)
	return err
}

func (s *SQLiteIdentityStore) ResolveByPeer(ctx context.Context, peer string) (IdentityRecord, error) {
	var canonicalID string
	if err := s.db.QueryRowContext(ctx, `SELECT canonical_id FROM autonomy_identity WHERE peer = ?`, peer).
		Scan(&canonicalID); err != nil {
		if err == sql.ErrNoRows {
			return IdentityRecord{}, fmt.Errorf("persistence: no identity linked to peer %q: %w", peer, err)
		}
		return IdentityRecord{}, fmt.Errorf("persistence: resolve peer %q: %w", peer, err)
	}
	return s.Get(ctx, canonicalID)
}

func scanIdentity(row rowScanner) (IdentityRecord, error) {
	var (
		canonicalID, displayName string
		metadataJSON             []byte
		createdAt, updatedAt     int64
	)
	if err := row.Scan(&canonicalID, &displayName, &metadataJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return IdentityRecord{}, fmt.Errorf("persistence: identity not found: %w", err)
		}
		return IdentityRecord{}, fmt.Errorf("persistence: scan identity: %w", err)
	}
	var metadata map[string]string
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return IdentityRecord{}, fmt.Errorf("persistence: unmarshal identity metadata: %w", err)
		}
	}
	return IdentityRecord{
		CanonicalID: canonicalID, DisplayName: displayName, Metadata: metadata,
		CreatedAt: fromUnixNano(createdAt), UpdatedAt: fromUnixNano(updatedAt),
	}, nil
}

// SQLiteMemoryStore is a MemoryStore backed by the entity_memories table.
type SQLiteMemoryStore struct {
	db *sql.DB
}

// NewSQLiteMemoryStore wraps an already-migrated database handle.
func NewSQLiteMemoryStore(db *sql.DB) *SQLiteMemoryStore {
	return &SQLiteMemoryStore{db: db}
}

func (s *SQLiteMemoryStore) Save(ctx context.Context, memory kmodel.Memory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_memories (id, source_kind, source_name, content, trust_score, memory_type, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		memory.ID, string(memory.Source.Kind), memory.Source.Name, memory.Content,
		memory.TrustScore, string(memory.MemoryType), unixNano(memory.Timestamp))
	if err != nil {
		return fmt.Errorf("persistence: save memory: %w", err)
	}
	return nil
}

func (s *SQLiteMemoryStore) Get(ctx context.Context, id string) (kmodel.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_kind, source_name, content, trust_score, memory_type, ts FROM entity_memories WHERE id = ?`, id)
	return scanMemory(row)
}

func (s *SQLiteMemoryStore) ListBySource(ctx context.Context, source kmodel.Source) ([]kmodel.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_kind, source_name, content, trust_score, memory_type, ts
		 FROM entity_memories WHERE source_kind = ? AND source_name = ?`, string(source.Kind), source.Name)
	if err != nil {
		return nil, fmt.Errorf("persistence: list memories by source: %w", err)
	}
	defer rows.Close()

	var out []kmodel.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteMemoryStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entity_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("persistence: delete memory: %w", err)
	}
	return nil
}

func scanMemory(row rowScanner) (kmodel.Memory, error) {
	var (
		id, sourceKind, sourceName, content, memoryType string
		trustScore                                      float64
		ts                                               int64
	)
	if err := row.Scan(&id, &sourceKind, &sourceName, &content, &trustScore, &memoryType, &ts); err != nil {
		if err == sql.ErrNoRows {
			return kmodel.Memory{}, fmt.Errorf("persistence: memory not found: %w", err)
		}
		return kmodel.Memory{}, fmt.Errorf("persistence: scan memory: %w", err)
	}
	return kmodel.Memory{
		MemoryCandidate: kmodel.MemoryCandidate{
			Content:   content,
			Source:    kmodel.Source{Kind: kmodel.SourceKind(sourceKind), Name: sourceName},
			Timestamp: fromUnixNano(ts),
		},
		ID:         id,
		TrustScore: trustScore,
		MemoryType: kmodel.MemoryType(memoryType),
	}, nil
}

// SQLiteRetentionManager is a RetentionManager backed by the autonomy_audit
// table.
type SQLiteRetentionManager struct {
	db *sql.DB
}

// NewSQLiteRetentionManager wraps an already-migrated database handle.
func NewSQLiteRetentionManager(db *sql.DB) *SQLiteRetentionManager {
	return &SQLiteRetentionManager{db: db}
}

func (r *SQLiteRetentionManager) Record(ctx context.Context, rec AuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO autonomy_audit (id, type, data, retain_until, exported_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), rec.Data, unixNano(rec.RetainUntil), decidedAtParam(rec.ExportedAt))
	if err != nil {
		return fmt.Errorf("persistence: record audit row: %w", err)
	}
	return nil
}

func (r *SQLiteRetentionManager) ExportExpired(ctx context.Context, now time.Time) ([]AuditRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, type, data, retain_until, exported_at FROM autonomy_audit WHERE exported_at IS NULL AND retain_until <= ?`,
		unixNano(now))
	if err != nil {
		return nil, fmt.Errorf("persistence: query expired audit rows: %w", err)
	}

	var ids []string
	var out []AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		exportedAt := now
		rec.ExportedAt = &exportedAt
		out = append(out, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE autonomy_audit SET exported_at = ? WHERE id = ?`, unixNano(now), id); err != nil {
			return nil, fmt.Errorf("persistence: mark audit row %q exported: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("persistence: commit export: %w", err)
	}
	return out, nil
}

func (r *SQLiteRetentionManager) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM autonomy_audit WHERE exported_at IS NOT NULL AND retain_until < ?`, unixNano(now))
	if err != nil {
		return 0, fmt.Errorf("persistence: evict expired audit rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("persistence: read rows affected: %w", err)
	}
	return int(n), nil
}

func scanAuditRecord(row rowScanner) (AuditRecord, error) {
	var (
		id, typ     string
		data        []byte
		retainUntil int64
		exportedAt  sql.NullInt64
	)
	if err := row.Scan(&id, &typ, &data, &retainUntil, &exportedAt); err != nil {
		return AuditRecord{}, fmt.Errorf("persistence: scan audit record: %w", err)
	}
	rec := AuditRecord{ID: id, Type: AuditRecordType(typ), Data: data, RetainUntil: fromUnixNano(retainUntil)}
	if exportedAt.Valid {
		t := fromUnixNano(exportedAt.Int64)
		rec.ExportedAt = &t
	}
	return rec, nil
}

// Package persistence implements the outward persistence contracts (spec
// §6): GoalManager, ApprovalLog, IdentityStore, MemoryStore, and
// RetentionManager, each with an in-memory and a modernc.org/sqlite-backed
// implementation sharing one interface, plus the golang-migrate-driven
// schema migrations that create the table layout §6 names.
//
// Grounded on the reference repo's identity.Store split
// (internal/identity/store.go): an interface with CRUD-plus-query
// operations, a channel:peer_id-style secondary index alongside the
// primary map, backed first by an in-memory implementation and later by a
// persistent one behind the same interface.
package persistence

import (
	"context"
	"time"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// Goal is a high-level objective the Orchestrator's Planner role decomposes
// into pipeline steps.
type Goal struct {
	ID          string
	Description string
	Status      GoalStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// GoalStatus tracks a goal's lifecycle.
type GoalStatus string

const (
	GoalOpen      GoalStatus = "open"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// GoalManager persists Goals.
type GoalManager interface {
	Create(ctx context.Context, goal Goal) error
	Get(ctx context.Context, id string) (Goal, error)
	Update(ctx context.Context, goal Goal) error
	ListByStatus(ctx context.Context, status GoalStatus) ([]Goal, error)
}

// ApprovalLog persists the full history of kmodel.ApprovalRecords, distinct
// from internal/approval.Store's live-lookup role: the log never mutates a
// record after it is first written, so it can serve audits and retention
// sweeps without racing the live Approval Gate.
type ApprovalLog interface {
	Append(ctx context.Context, rec kmodel.ApprovalRecord) error
	Get(ctx context.Context, id string) (kmodel.ApprovalRecord, error)
	ListByRequestID(ctx context.Context, requestID string) ([]kmodel.ApprovalRecord, error)
}

// IdentityRecord links a canonical entity to the peer identities it has
// been observed acting as, plus free-form metadata about the entity.
type IdentityRecord struct {
	CanonicalID  string
	DisplayName  string
	LinkedPeers  []string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdentityStore persists canonical identities and their linked peers,
// grounded on the reference repo's identity.Store contract.
type IdentityStore interface {
	Create(ctx context.Context, identity IdentityRecord) error
	Get(ctx context.Context, canonicalID string) (IdentityRecord, error)
	Update(ctx context.Context, identity IdentityRecord) error
	LinkPeer(ctx context.Context, canonicalID, peer string) error
	ResolveByPeer(ctx context.Context, peer string) (IdentityRecord, error)
}

// MemoryStore persists admitted kmodel.Memory entries (post Memory-Gate
// admission) plus the entities they are attributed to, backing
// canonical_entities/entity_memories from the §6 table layout.
type MemoryStore interface {
	Save(ctx context.Context, memory kmodel.Memory) error
	Get(ctx context.Context, id string) (kmodel.Memory, error)
	ListBySource(ctx context.Context, source kmodel.Source) ([]kmodel.Memory, error)
	Delete(ctx context.Context, id string) error
}

// AuditRecordType distinguishes an autonomy_audit row's origin.
type AuditRecordType string

const (
	AuditRecordEvent AuditRecordType = "event"
	AuditRecordAudit AuditRecordType = "audit"
)

// AuditRecord is one row eligible for retention sweeping (spec §6's
// autonomy_audit table).
type AuditRecord struct {
	ID         string
	Type       AuditRecordType
	Data       []byte
	RetainUntil time.Time
	ExportedAt *time.Time
}

// RetentionManager enforces retain_until across audit records: exportExpired
// marks and returns rows past their retention window as a JSONL-ready
// stream, evictExpired deletes rows that have already been exported.
type RetentionManager interface {
	Record(ctx context.Context, rec AuditRecord) error
	ExportExpired(ctx context.Context, now time.Time) ([]AuditRecord, error)
	EvictExpired(ctx context.Context, now time.Time) (int, error)
}

package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// MemoryGoalManager is an in-memory GoalManager.
type MemoryGoalManager struct {
	mu    sync.RWMutex
	goals map[string]Goal
}

// NewMemoryGoalManager returns an empty MemoryGoalManager.
func NewMemoryGoalManager() *MemoryGoalManager {
	return &MemoryGoalManager{goals: make(map[string]Goal)}
}

func (m *MemoryGoalManager) Create(ctx context.Context, goal Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.goals[goal.ID]; exists {
		return fmt.Errorf("persistence: goal %q already exists", goal.ID)
	}
	m.goals[goal.ID] = goal
	return nil
}

func (m *MemoryGoalManager) Get(ctx context.Context, id string) (Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[id]
	if !ok {
		return Goal{}, fmt.Errorf("persistence: goal %q not found", id)
	}
	return g, nil
}

func (m *MemoryGoalManager) Update(ctx context.Context, goal Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[goal.ID]; !ok {
		return fmt.Errorf("persistence: goal %q not found", goal.ID)
	}
	m.goals[goal.ID] = goal
	return nil
}

func (m *MemoryGoalManager) ListByStatus(ctx context.Context, status GoalStatus) ([]Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Goal
	for _, g := range m.goals {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out, nil
}

// MemoryApprovalLog is an in-memory, append-only ApprovalLog.
type MemoryApprovalLog struct {
	mu      sync.RWMutex
	records map[string]kmodel.ApprovalRecord
	byReq   map[string][]string
}

// NewMemoryApprovalLog returns an empty MemoryApprovalLog.
func NewMemoryApprovalLog() *MemoryApprovalLog {
	return &MemoryApprovalLog{
		records: make(map[string]kmodel.ApprovalRecord),
		byReq:   make(map[string][]string),
	}
}

func (l *MemoryApprovalLog) Append(ctx context.Context, rec kmodel.ApprovalRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[rec.ID]; exists {
		return fmt.Errorf("persistence: approval record %q already exists", rec.ID)
	}
	l.records[rec.ID] = rec
	l.byReq[rec.RequestID] = append(l.byReq[rec.RequestID], rec.ID)
	return nil
}

func (l *MemoryApprovalLog) Get(ctx context.Context, id string) (kmodel.ApprovalRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return kmodel.ApprovalRecord{}, fmt.Errorf("persistence: approval record %q not found", id)
	}
	return rec, nil
}

func (l *MemoryApprovalLog) ListByRequestID(ctx context.Context, requestID string) ([]kmodel.ApprovalRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byReq[requestID]
	out := make([]kmodel.ApprovalRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.records[id])
	}
	return out, nil
}

// MemoryIdentityStore is an in-memory IdentityStore, grounded on the
// reference repo's identity.MemoryStore: a primary map plus a
// peer-to-canonical-ID secondary index.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]IdentityRecord
	peerIndex  map[string]string
}

// NewMemoryIdentityStore returns an empty MemoryIdentityStore.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		identities: make(map[string]IdentityRecord),
		peerIndex:  make(map[string]string),
	}
}

func (s *MemoryIdentityStore) Create(ctx context.Context, identity IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identities[identity.CanonicalID]; exists {
		return fmt.Errorf("persistence: identity %q already exists", identity.CanonicalID)
	}
	s.identities[identity.CanonicalID] = identity
	for _, peer := range identity.LinkedPeers {
		s.peerIndex[peer] = identity.CanonicalID
	}
	return nil
}

func (s *MemoryIdentityStore) Get(ctx context.Context, canonicalID string) (IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[canonicalID]
	if !ok {
		return IdentityRecord{}, fmt.Errorf("persistence: identity %q not found", canonicalID)
	}
	return id, nil
}

func (s *MemoryIdentityStore) Update(ctx context.Context, identity IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.CanonicalID]; !ok {
		return fmt.Errorf("persistence: identity %q not found", identity.CanonicalID)
	}
	identity.UpdatedAt = time.Now().UTC()
	s.identities[identity.CanonicalID] = identity
	for _, peer := range identity.LinkedPeers {
		s.peerIndex[peer] = identity.CanonicalID
	}
	return nil
}

func (s *MemoryIdentityStore) LinkPeer(ctx context.Context, canonicalID, peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[canonicalID]
	if !ok {
		return fmt.Errorf("persistence: identity %q not found", canonicalID)
	}
	identity.LinkedPeers = append(identity.LinkedPeers, peer)
	identity.UpdatedAt = time.Now().UTC()
	s.identities[canonicalID] = identity
	s.peerIndex[peer] = canonicalID
	return nil
}

func (s *MemoryIdentityStore) ResolveByPeer(ctx context.Context, peer string) (IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	canonicalID, ok := s.peerIndex[peer]
	if !ok {
		return IdentityRecord{}, fmt.Errorf("persistence: no identity linked to peer %q", peer)
	}
	return s.identities[canonicalID], nil
}

// MemoryStoreImpl is an in-memory MemoryStore (the package already exports
// a MemoryStore interface, hence the Impl suffix here to avoid collision).
type MemoryStoreImpl struct {
	mu       sync.RWMutex
	memories map[string]kmodel.Memory
}

// NewMemoryStoreImpl returns an empty MemoryStoreImpl.
func NewMemoryStoreImpl() *MemoryStoreImpl {
	return &MemoryStoreImpl{memories: make(map[string]kmodel.Memory)}
}

func (s *MemoryStoreImpl) Save(ctx context.Context, memory kmodel.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[memory.ID] = memory
	return nil
}

func (s *MemoryStoreImpl) Get(ctx context.Context, id string) (kmodel.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return kmodel.Memory{}, fmt.Errorf("persistence: memory %q not found", id)
	}
	return m, nil
}

func (s *MemoryStoreImpl) ListBySource(ctx context.Context, source kmodel.Source) ([]kmodel.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kmodel.Memory
	for _, m := range s.memories {
		if m.Source.Key() == source.Key() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStoreImpl) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, id)
	return nil
}

// MemoryRetentionManager is an in-memory RetentionManager.
type MemoryRetentionManager struct {
	mu      sync.Mutex
	records map[string]AuditRecord
}

// NewMemoryRetentionManager returns an empty MemoryRetentionManager.
func NewMemoryRetentionManager() *MemoryRetentionManager {
	return &MemoryRetentionManager{records: make(map[string]AuditRecord)}
}

func (r *MemoryRetentionManager) Record(ctx context.Context, rec AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

// ExportExpired returns every record whose RetainUntil has passed and has
// not yet been exported, marking each with the export timestamp.
func (r *MemoryRetentionManager) ExportExpired(ctx context.Context, now time.Time) ([]AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditRecord
	for id, rec := range r.records {
		if rec.ExportedAt != nil || rec.RetainUntil.After(now) {
			continue
		}
		exportedAt := now
		rec.ExportedAt = &exportedAt
		r.records[id] = rec
		out = append(out, rec)
	}
	return out, nil
}

// EvictExpired deletes every already-exported record past its retention
// window, returning the count deleted.
func (r *MemoryRetentionManager) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, rec := range r.records {
		if rec.ExportedAt != nil && rec.RetainUntil.Before(now) {
			delete(r.records, id)
			evicted++
		}
	}
	return evicted, nil
}

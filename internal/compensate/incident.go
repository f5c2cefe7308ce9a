package compensate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// IncidentStore persists CompensationIncidents. The in-memory implementation
// below is used until internal/persistence wires a sqlite-backed one behind
// the same interface.
type IncidentStore interface {
	Open(ctx context.Context, incident kmodel.CompensationIncident) error
	Resolve(ctx context.Context, id string, resolvedAt time.Time) error
	List(ctx context.Context, status kmodel.IncidentStatus) ([]kmodel.CompensationIncident, error)
}

// MemoryIncidentStore is an in-memory IncidentStore.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]kmodel.CompensationIncident
}

// NewMemoryIncidentStore returns an empty MemoryIncidentStore.
func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{incidents: make(map[string]kmodel.CompensationIncident)}
}

func (s *MemoryIncidentStore) Open(ctx context.Context, incident kmodel.CompensationIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident
	return nil
}

func (s *MemoryIncidentStore) Resolve(ctx context.Context, id string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	incident, ok := s.incidents[id]
	if !ok {
		return fmt.Errorf("compensate: incident %s not found", id)
	}
	incident.Status = kmodel.IncidentResolved
	incident.ResolvedAt = &resolvedAt
	s.incidents[id] = incident
	return nil
}

func (s *MemoryIncidentStore) List(ctx context.Context, status kmodel.IncidentStatus) ([]kmodel.CompensationIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kmodel.CompensationIncident
	for _, incident := range s.incidents {
		if status == "" || incident.Status == status {
			out = append(out, incident)
		}
	}
	return out, nil
}

// IncidentManager opens CompensationIncidents from compensation Outcomes.
type IncidentManager struct {
	store IncidentStore
}

// NewIncidentManager returns an IncidentManager backed by store.
func NewIncidentManager(store IncidentStore) *IncidentManager {
	return &IncidentManager{store: store}
}

// Handle inspects outcome and, if the compensation did not succeed, opens a
// new incident. It returns the opened incident, or nil if outcome succeeded.
func (m *IncidentManager) Handle(ctx context.Context, requestID, toolName string, outcome Outcome) (*kmodel.CompensationIncident, error) {
	if outcome.Succeeded {
		return nil, nil
	}
	incident := kmodel.CompensationIncident{
		ID:        fmt.Sprintf("incident_%s", uuid.NewString()),
		RequestID: requestID,
		ToolName:  toolName,
		Reason:    outcome.Reason,
		Status:    kmodel.IncidentOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Open(ctx, incident); err != nil {
		return nil, fmt.Errorf("compensate: open incident: %w", err)
	}
	return &incident, nil
}

// Package eventstore implements the hash-chained audit event log (spec
// §4.2). Every call carries a requestId; writers for the same requestId are
// serialized through a per-key lock in the style of the teacher's
// ToolRegistry session-lock idiom (internal/agent/tool_registry.go), while
// unrelated requestIds append concurrently.
package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// Store is the Event Store's operation contract (spec §4.2). Both the
// in-memory and sqlite implementations in this package satisfy it.
type Store interface {
	// Append builds a new event from its arguments, computes its hash
	// against the current chain tip for requestID, and persists it. The
	// returned Event carries the assigned ID, Hash, and PrevHash.
	Append(ctx context.Context, requestID string, eventType kmodel.EventType, correlationID string, payload map[string]any) (kmodel.Event, error)
	// GetByRequestID returns every event for requestID in append order.
	GetByRequestID(ctx context.Context, requestID string) ([]kmodel.Event, error)
	// GetByCorrelationID returns every event sharing correlationID, ordered
	// by timestamp across requestIds.
	GetByCorrelationID(ctx context.Context, correlationID string) ([]kmodel.Event, error)
	// VerifyChain recomputes each event's hash and checks PrevHash linkage
	// for requestID. ok is false at the first broken link, and brokenAt
	// names the offending event's ID.
	VerifyChain(ctx context.Context, requestID string) (ok bool, brokenAt string, err error)
	// ProjectRequest folds a requestId's events into the view a reader needs
	// without re-deriving state-machine logic (e.g. for queryEvents).
	ProjectRequest(ctx context.Context, requestID string) (RequestProjection, error)
	// Size returns the total number of events held, for capacity/eviction
	// decisions by the Retention Manager.
	Size(ctx context.Context) (int, error)
}

// RequestProjection is a requestId's event history plus its derived
// terminal status, used by pkg/kernel.QueryEvents.
type RequestProjection struct {
	RequestID string
	Events    []kmodel.Event
	LastType  kmodel.EventType
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lockFor(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Memory is an in-memory Store, the default backend when config.Storage.Driver
// is "memory".
type Memory struct {
	mu       sync.RWMutex
	byReq    map[string][]kmodel.Event
	all      []kmodel.Event
	seq      int
	reqLocks *keyedMutex
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		byReq:    make(map[string][]kmodel.Event),
		reqLocks: newKeyedMutex(),
	}
}

func (m *Memory) Append(ctx context.Context, requestID string, eventType kmodel.EventType, correlationID string, payload map[string]any) (kmodel.Event, error) {
	if !eventType.Valid() {
		return kmodel.Event{}, fmt.Errorf("eventstore: unknown event type %q", eventType)
	}
	unlock := m.reqLocks.lockFor(requestID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.byReq[requestID]
	var prevHash string
	if len(prior) > 0 {
		prevHash = prior[len(prior)-1].Hash
	}

	m.seq++
	evt := kmodel.Event{
		ID:            fmt.Sprintf("evt_%d", m.seq),
		RequestID:     requestID,
		CorrelationID: correlationID,
		Type:          eventType,
		Timestamp:     nowFunc(),
		Payload:       payload,
		PrevHash:      prevHash,
	}
	evt.Hash = kmodel.ComputeHash(evt.Type, evt.Timestamp, evt.Payload, evt.PrevHash)
	evt = *evt.Clone()

	m.byReq[requestID] = append(m.byReq[requestID], evt)
	m.all = append(m.all, evt)
	return *evt.Clone(), nil
}

func (m *Memory) GetByRequestID(ctx context.Context, requestID string) ([]kmodel.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.byReq[requestID]), nil
}

func (m *Memory) GetByCorrelationID(ctx context.Context, correlationID string) ([]kmodel.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []kmodel.Event
	for _, e := range m.all {
		if e.CorrelationID == correlationID {
			out = append(out, *e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) VerifyChain(ctx context.Context, requestID string) (bool, string, error) {
	m.mu.RLock()
	events := cloneAll(m.byReq[requestID])
	m.mu.RUnlock()

	var prev *kmodel.Event
	for i := range events {
		cur := &events[i]
		expected := kmodel.ComputeHash(cur.Type, cur.Timestamp, cur.Payload, cur.PrevHash)
		if expected != cur.Hash {
			return false, cur.ID, nil
		}
		if !kmodel.VerifyLink(prev, cur) {
			return false, cur.ID, nil
		}
		prev = cur
	}
	return true, "", nil
}

func (m *Memory) ProjectRequest(ctx context.Context, requestID string) (RequestProjection, error) {
	events, _ := m.GetByRequestID(ctx, requestID)
	proj := RequestProjection{RequestID: requestID, Events: events}
	if len(events) > 0 {
		proj.LastType = events[len(events)-1].Type
	}
	return proj, nil
}

func (m *Memory) Size(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all), nil
}

func cloneAll(events []kmodel.Event) []kmodel.Event {
	out := make([]kmodel.Event, len(events))
	for i, e := range events {
		out[i] = *e.Clone()
	}
	return out
}

// nowFunc is swappable by tests that need deterministic timestamps.
var nowFunc = defaultNow

package kmodel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// EventType is the closed set of execution-event types the Event Store will
// accept. A switch over EventType anywhere in the kernel must be exhaustive.
type EventType string

const (
	EventToolProposed          EventType = "tool:proposed"
	EventToolValidated         EventType = "tool:validated"
	EventToolApprovalRequested EventType = "tool:approval_requested"
	EventToolApprovalGranted   EventType = "tool:approval_granted"
	EventToolApprovalDenied    EventType = "tool:approval_denied"
	EventToolExecuting         EventType = "tool:executing"
	EventToolExecuted          EventType = "tool:executed"
	EventToolVerified          EventType = "tool:verified"
	EventToolFailed            EventType = "tool:failed"
	EventToolCompensated       EventType = "tool:compensated"
	EventStateTransition       EventType = "state:transition"
	EventMemoryAdmitted        EventType = "memory:admitted"
	EventMemoryQuarantined     EventType = "memory:quarantined"
	EventMemoryRejected        EventType = "memory:rejected"
	EventIdentityDriftReport   EventType = "identity:drift:report"
	EventSafeModeEntered       EventType = "safe_mode:entered"
	EventSafeModeExited        EventType = "safe_mode:exited"
	EventCompensationIncident  EventType = "compensation:incident"
)

// knownEventTypes backs Valid(); kept as a map literal so the exhaustiveness
// is visually obvious next to the const block above.
var knownEventTypes = map[EventType]struct{}{
	EventToolProposed:          {},
	EventToolValidated:         {},
	EventToolApprovalRequested: {},
	EventToolApprovalGranted:   {},
	EventToolApprovalDenied:    {},
	EventToolExecuting:         {},
	EventToolExecuted:          {},
	EventToolVerified:          {},
	EventToolFailed:            {},
	EventToolCompensated:       {},
	EventStateTransition:       {},
	EventMemoryAdmitted:        {},
	EventMemoryQuarantined:     {},
	EventMemoryRejected:        {},
	EventIdentityDriftReport:   {},
	EventSafeModeEntered:       {},
	EventSafeModeExited:        {},
	EventCompensationIncident:  {},
}

// Valid reports whether t is one of the closed set of event types.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Event is one entry in the hash-chained, append-only execution log.
// Events are deeply frozen after Append; callers receive defensive copies.
type Event struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"requestId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
	PrevHash      string         `json:"prevHash"`
	Hash          string         `json:"hash"`
}

// Clone returns a deep copy of e, including a fresh copy of Payload, so
// callers can never mutate the stored record through the returned view.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Payload != nil {
		clone.Payload = deepCopyMap(e.Payload)
	}
	return &clone
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return deepCopyMap(vv)
	case []any:
		cp := make([]any, len(vv))
		for i, item := range vv {
			cp[i] = deepCopyValue(item)
		}
		return cp
	default:
		return v
	}
}

// Canonical produces a deterministic JSON serialization of payload with
// recursively sorted object keys, used as the hashing input so two
// structurally-equal payloads always hash identically regardless of map
// iteration order.
func Canonical(payload map[string]any) []byte {
	var buf bytes.Buffer
	writeCanonical(&buf, payload)
	return buf.Bytes()
}

func writeCanonical(buf *bytes.Buffer, v any) {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, vv[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, item)
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			b = []byte("null")
		}
		buf.Write(b)
	}
}

// ComputeHash implements the spec's hash-chain invariant:
//
//	hash = SHA256(type ‖ timestamp ‖ canonical(payload) ‖ prevHash)
func ComputeHash(eventType EventType, timestamp time.Time, payload map[string]any, prevHash string) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write(Canonical(payload))
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyLink reports whether next correctly chains from prev: next.PrevHash
// must equal prev.Hash, and next.Hash must be the hash ComputeHash would
// produce from next's own fields and that PrevHash.
func VerifyLink(prev, next *Event) bool {
	if next == nil {
		return false
	}
	wantPrev := ""
	if prev != nil {
		wantPrev = prev.Hash
	}
	if next.PrevHash != wantPrev {
		return false
	}
	return next.Hash == ComputeHash(next.Type, next.Timestamp, next.Payload, next.PrevHash)
}

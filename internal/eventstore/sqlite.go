package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// SQLite is a persistent Store backed by a pre-migrated autonomy_events
// table (see internal/persistence for the golang-migrate migration that
// creates it). The kernel opens one *sql.DB with the modernc.org/sqlite
// driver and shares it across every persistence.* and eventstore.SQLite
// instance.
type SQLite struct {
	db       *sql.DB
	reqLocks *keyedMutex
}

// NewSQLite wraps an already-migrated database handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, reqLocks: newKeyedMutex()}
}

func (s *SQLite) Append(ctx context.Context, requestID string, eventType kmodel.EventType, correlationID string, payload map[string]any) (kmodel.Event, error) {
	if !eventType.Valid() {
		return kmodel.Event{}, fmt.Errorf("eventstore: unknown event type %q", eventType)
	}
	unlock := s.reqLocks.lockFor(requestID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kmodel.Event{}, fmt.Errorf("eventstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	row := tx.QueryRowContext(ctx,
		`SELECT hash FROM autonomy_events WHERE request_id = ? ORDER BY seq DESC LIMIT 1`, requestID)
	if err := row.Scan(&prevHash); err != nil && err != sql.ErrNoRows {
		return kmodel.Event{}, fmt.Errorf("eventstore: read chain tip: %w", err)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return kmodel.Event{}, fmt.Errorf("eventstore: marshal payload: %w", err)
	}

	evt := kmodel.Event{
		RequestID:     requestID,
		CorrelationID: correlationID,
		Type:          eventType,
		Timestamp:     nowFunc(),
		Payload:       payload,
		PrevHash:      prevHash,
	}
	evt.Hash = kmodel.ComputeHash(evt.Type, evt.Timestamp, evt.Payload, evt.PrevHash)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO autonomy_events (request_id, correlation_id, type, ts, payload, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.RequestID, evt.CorrelationID, string(evt.Type), evt.Timestamp.UnixNano(), payloadJSON, evt.PrevHash, evt.Hash)
	if err != nil {
		return kmodel.Event{}, fmt.Errorf("eventstore: insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return kmodel.Event{}, fmt.Errorf("eventstore: read inserted id: %w", err)
	}
	evt.ID = fmt.Sprintf("evt_%d", id)

	if err := tx.Commit(); err != nil {
		return kmodel.Event{}, fmt.Errorf("eventstore: commit: %w", err)
	}
	return evt, nil
}

func (s *SQLite) GetByRequestID(ctx context.Context, requestID string) ([]kmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, request_id, correlation_id, type, ts, payload, prev_hash, hash
		 FROM autonomy_events WHERE request_id = ? ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query by request id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) GetByCorrelationID(ctx context.Context, correlationID string) ([]kmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, request_id, correlation_id, type, ts, payload, prev_hash, hash
		 FROM autonomy_events WHERE correlation_id = ? ORDER BY ts ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query by correlation id: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLite) VerifyChain(ctx context.Context, requestID string) (bool, string, error) {
	events, err := s.GetByRequestID(ctx, requestID)
	if err != nil {
		return false, "", err
	}
	var prev *kmodel.Event
	for i := range events {
		cur := &events[i]
		expected := kmodel.ComputeHash(cur.Type, cur.Timestamp, cur.Payload, cur.PrevHash)
		if expected != cur.Hash || !kmodel.VerifyLink(prev, cur) {
			return false, cur.ID, nil
		}
		prev = cur
	}
	return true, "", nil
}

func (s *SQLite) ProjectRequest(ctx context.Context, requestID string) (RequestProjection, error) {
	events, err := s.GetByRequestID(ctx, requestID)
	if err != nil {
		return RequestProjection{}, err
	}
	proj := RequestProjection{RequestID: requestID, Events: events}
	if len(events) > 0 {
		proj.LastType = events[len(events)-1].Type
	}
	return proj, nil
}

func (s *SQLite) Size(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM autonomy_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("eventstore: count: %w", err)
	}
	return n, nil
}

func scanEvents(rows *sql.Rows) ([]kmodel.Event, error) {
	var out []kmodel.Event
	for rows.Next() {
		var (
			seq                             int64
			requestID, correlationID, typ   string
			tsNano                          int64
			payloadJSON                     []byte
			prevHash, hash                  string
		)
		if err := rows.Scan(&seq, &requestID, &correlationID, &typ, &tsNano, &payloadJSON, &prevHash, &hash); err != nil {
			return nil, fmt.Errorf("eventstore: scan event: %w", err)
		}
		var payload map[string]any
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &payload); err != nil {
				return nil, fmt.Errorf("eventstore: unmarshal payload: %w", err)
			}
		}
		out = append(out, kmodel.Event{
			ID:            fmt.Sprintf("evt_%d", seq),
			RequestID:     requestID,
			CorrelationID: correlationID,
			Type:          kmodel.EventType(typ),
			Timestamp:     unixNanoToTime(tsNano),
			Payload:       payload,
			PrevHash:      prevHash,
			Hash:          hash,
		})
	}
	return out, rows.Err()
}

// Package store is the persistence collaborator: a bus.Subscriber that
// appends every event it observes to a SQLite-backed log, and a Load
// method to replay a conversation's history back into []events.Event.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haasonsaas/nexus/pkg/events"
)

// EventStore appends events for one conversation to a SQLite table and
// can replay them back in Seq order. It implements bus.Subscriber, so
// Controller.New's Options.Subscribers (or a later Subscribe call) can
// register it directly; registered first in that list, it observes
// every event before any subscriber added later.
type EventStore struct {
	db             *sql.DB
	conversationID string
}

// Open opens (creating if necessary) a SQLite database at path and
// returns an EventStore scoped to conversationID. path may be ":memory:"
// for a process-local, non-durable store.
func Open(path, conversationID string) (*EventStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	s := &EventStore{db: db, conversationID: conversationID}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_events (
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			id              TEXT NOT NULL,
			kind            TEXT NOT NULL,
			payload         TEXT NOT NULL,
			created_at      DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("store: create table: %w", err)
	}
	_, err = s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_conversation_events_conv
		ON conversation_events(conversation_id)
	`)
	if err != nil {
		return fmt.Errorf("store: create index: %w", err)
	}
	return nil
}

// Emit implements bus.Subscriber. A write failure is discarded
// silently (nothing is logged): Subscriber.Emit has no error return,
// and a persistence hiccup must never abort the step engine's delivery
// to the remaining subscribers. Callers that need the error use Append.
func (s *EventStore) Emit(ctx context.Context, ev events.Event) {
	_ = s.Append(ctx, ev)
}

// Append writes one event as a new row. Called directly by tests or a
// caller that wants the write error; Emit wraps this for bus use.
func (s *EventStore) Append(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: marshal event %s: %w", ev.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversation_events
			(conversation_id, seq, id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.conversationID, ev.Seq, ev.ID, string(ev.Kind), string(payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// Load replays the conversation's events back in Seq order, suitable
// for rebuilding a Controller's state after a process restart.
func (s *EventStore) Load(ctx context.Context) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM conversation_events
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, s.conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("store: unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := events.ValidateLog(out); err != nil {
		return nil, fmt.Errorf("store: replayed log for %q is corrupt: %w", s.conversationID, err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *EventStore) Close() error {
	return s.db.Close()
}

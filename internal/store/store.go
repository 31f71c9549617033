package store

import (
	"context"
	"time"
)

// EventKind names a session lifecycle transition.
type EventKind string

const (
	EventLogin      EventKind = "login"
	EventLogout     EventKind = "logout"
	EventRejected   EventKind = "rejected"
	EventTerminated EventKind = "terminated"
)

// SessionEvent is one journal row. Message bodies are never recorded.
type SessionEvent struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Identity   string    `json:"identity"`
	Kind       EventKind `json:"kind"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// JournalWriter records lifecycle events.
type JournalWriter interface {
	// Record appends ev. A zero CreatedAt is filled with the current time.
	Record(ctx context.Context, ev *SessionEvent) error
}

// JournalReader lists recorded events.
type JournalReader interface {
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]*SessionEvent, error)

	// ForIdentity returns up to limit events for one identity, newest first.
	ForIdentity(ctx context.Context, identity string, limit int) ([]*SessionEvent, error)
}

// Store aggregates the journal and owns the underlying handle.
type Store interface {
	JournalWriter
	JournalReader

	Close() error
}

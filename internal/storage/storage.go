// Package storage defines the transactional persistence contract of the
// session ledger. Backends live in subpackages (postgres, sqlite, memory).
package storage

import (
	"context"
	"errors"

	"example.com/sessionledger/internal/domain"
)

var (
	// ErrNotFound is returned when a session or event row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrActiveSessionExists is returned when an owner already has an active session.
	ErrActiveSessionExists = errors.New("storage: active session exists")
)

// Store runs ledger operations as atomic units.
type Store interface {
	// WithinTx runs fn in one transaction. A non-nil error from fn rolls back
	// every change made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ready reports whether the backend can serve requests.
	Ready(ctx context.Context) error
	Close() error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	// CreateSession inserts s. It returns ErrActiveSessionExists if s is
	// active and its owner already has an active session.
	CreateSession(ctx context.Context, s domain.Session) error
	// LockSession loads a session and holds it against concurrent mutation
	// until the transaction ends.
	LockSession(ctx context.Context, sessionID string) (domain.Session, error)
	// FindActiveSession returns the owner's active session or ErrNotFound.
	FindActiveSession(ctx context.Context, ownerID string) (domain.Session, error)
	// UpdateSession persists the mutable aggregate fields of s.
	UpdateSession(ctx context.Context, s domain.Session) error

	// AppendEvent assigns the next sequence of ev.SessionID atomically and
	// inserts ev. ev.RecordedAt must already be set.
	AppendEvent(ctx context.Context, ev domain.SessionEvent) (domain.SessionEvent, error)
	// GetEvent returns one event or ErrNotFound.
	GetEvent(ctx context.Context, eventID string) (domain.SessionEvent, error)
	// ListEvents returns the session's events in sequence order; an unknown
	// session yields an empty list.
	ListEvents(ctx context.Context, sessionID string) ([]domain.SessionEvent, error)
	// UpdateEvent rewrites the payload and recorded-at of an existing event.
	UpdateEvent(ctx context.Context, ev domain.SessionEvent) error
	// DeleteEvents removes the given events of one session.
	DeleteEvents(ctx context.Context, sessionID string, eventIDs []string) error
}

// Package memory is an in-process storage backend for tests and local runs.
// Transactions are serialised by one mutex and applied copy-on-commit: each
// one copies the whole state, so every operation costs O(sessions + events)
// across all actors. Use the sqlite or postgres backend for real data.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/storage"
)

type state struct {
	sessions map[string]domain.Session
	events   map[string]domain.SessionEvent
}

func (s *state) clone() *state {
	return &state{
		sessions: maps.Clone(s.sessions),
		events:   maps.Clone(s.events),
	}
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: &state{
		sessions: map[string]domain.Session{},
		events:   map[string]domain.SessionEvent{},
	}}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ready(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

type tx struct {
	st *state
}

func (t *tx) CreateSession(_ context.Context, sess domain.Session) error {
	if _, ok := t.st.sessions[sess.ID]; ok {
		return fmt.Errorf("create session: duplicate id %s", sess.ID)
	}
	if sess.Active {
		for _, other := range t.st.sessions {
			if other.Active && other.OwnerID == sess.OwnerID {
				return storage.ErrActiveSessionExists
			}
		}
	}
	t.st.sessions[sess.ID] = sess
	return nil
}

func (t *tx) LockSession(_ context.Context, sessionID string) (domain.Session, error) {
	sess, ok := t.st.sessions[sessionID]
	if !ok {
		return domain.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (t *tx) FindActiveSession(_ context.Context, ownerID string) (domain.Session, error) {
	for _, sess := range t.st.sessions {
		if sess.Active && sess.OwnerID == ownerID {
			return sess, nil
		}
	}
	return domain.Session{}, storage.ErrNotFound
}

func (t *tx) UpdateSession(_ context.Context, sess domain.Session) error {
	cur, ok := t.st.sessions[sess.ID]
	if !ok {
		return storage.ErrNotFound
	}
	// The sequence counter is owned by AppendEvent.
	sess.LastSequence = cur.LastSequence
	t.st.sessions[sess.ID] = sess
	return nil
}

func (t *tx) AppendEvent(_ context.Context, ev domain.SessionEvent) (domain.SessionEvent, error) {
	sess, ok := t.st.sessions[ev.SessionID]
	if !ok {
		return domain.SessionEvent{}, storage.ErrNotFound
	}
	if _, dup := t.st.events[ev.ID]; dup {
		return domain.SessionEvent{}, fmt.Errorf("append event: duplicate id %s", ev.ID)
	}
	sess.LastSequence++
	ev.Sequence = sess.LastSequence
	ev.RecordedAt = domain.NormalizeTime(ev.RecordedAt)
	t.st.sessions[sess.ID] = sess
	t.st.events[ev.ID] = ev
	return ev, nil
}

func (t *tx) GetEvent(_ context.Context, eventID string) (domain.SessionEvent, error) {
	ev, ok := t.st.events[eventID]
	if !ok {
		return domain.SessionEvent{}, storage.ErrNotFound
	}
	return ev, nil
}

func (t *tx) ListEvents(_ context.Context, sessionID string) ([]domain.SessionEvent, error) {
	out := make([]domain.SessionEvent, 0)
	for _, ev := range t.st.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (t *tx) UpdateEvent(_ context.Context, ev domain.SessionEvent) error {
	cur, ok := t.st.events[ev.ID]
	if !ok || cur.SessionID != ev.SessionID {
		return storage.ErrNotFound
	}
	cur.Payload = ev.Payload
	cur.RecordedAt = domain.NormalizeTime(ev.RecordedAt)
	t.st.events[ev.ID] = cur
	return nil
}

func (t *tx) DeleteEvents(_ context.Context, sessionID string, eventIDs []string) error {
	for _, id := range eventIDs {
		ev, ok := t.st.events[id]
		if !ok || ev.SessionID != sessionID {
			return storage.ErrNotFound
		}
	}
	for _, id := range eventIDs {
		delete(t.st.events, id)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/storage"
)

const (
	uniqueViolation     = "23505"
	activeOwnerIndex    = "sessions_one_active_per_owner"
	sessionColumns      = "id, owner_id, store_id, game_type, active, start_time, end_time, initial_buy_in, buy_in_total, cash_out, final_position, initial_stack, last_sequence, tournament"
	sessionEventColumns = "id, session_id, owner_id, event_type, payload, payload_version, sequence, recorded_at"
)

// Store implements storage.Store on a pgx pool.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store { return &Store{db: db} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.db.Pool, func(ptx pgx.Tx) error {
		return fn(ctx, &tx{tx: ptx})
	})
}

func (s *Store) Ready(ctx context.Context) error { return s.db.Ready(ctx) }

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) CreateSession(ctx context.Context, sess domain.Session) error {
	tournament, err := encodeTournament(sess.Tournament)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb)`,
		sess.ID, sess.OwnerID, nullString(sess.StoreID), string(sess.GameType), sess.Active,
		sess.StartTime, sess.EndTime, sess.InitialBuyIn, sess.BuyInTotal, sess.CashOut,
		sess.FinalPosition, sess.InitialStack, sess.LastSequence, tournament,
	)
	if err != nil {
		return mapInsertSessionErr(err)
	}
	return nil
}

func mapInsertSessionErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeOwnerIndex {
		return storage.ErrActiveSessionExists
	}
	return fmt.Errorf("insert session: %w", err)
}

func (t *tx) LockSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = $1 FOR UPDATE", sessionID)
	return scanSession(row)
}

func (t *tx) FindActiveSession(ctx context.Context, ownerID string) (domain.Session, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE owner_id = $1 AND active LIMIT 1", ownerID)
	return scanSession(row)
}

func (t *tx) UpdateSession(ctx context.Context, sess domain.Session) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sessions
SET active = $1, end_time = $2, buy_in_total = $3, cash_out = $4, final_position = $5
WHERE id = $6`,
		sess.Active, sess.EndTime, sess.BuyInTotal, sess.CashOut, sess.FinalPosition, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendEvent bumps the session's sequence counter and inserts the event in
// the same transaction; the row lock taken by the UPDATE serialises
// concurrent appends to one session.
func (t *tx) AppendEvent(ctx context.Context, ev domain.SessionEvent) (domain.SessionEvent, error) {
	payload, err := domain.EncodePayload(ev.Payload)
	if err != nil {
		return domain.SessionEvent{}, err
	}
	var seq int64
	err = t.tx.QueryRow(ctx,
		"UPDATE sessions SET last_sequence = last_sequence + 1 WHERE id = $1 RETURNING last_sequence",
		ev.SessionID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.SessionEvent{}, fmt.Errorf("next sequence: %w", err)
	}

	ev.Sequence = seq
	ev.RecordedAt = domain.NormalizeTime(ev.RecordedAt)
	_, err = t.tx.Exec(ctx, `INSERT INTO session_events (`+sessionEventColumns+`)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		ev.ID, ev.SessionID, ev.OwnerID, string(ev.Type), string(payload), domain.PayloadVersion, ev.Sequence, ev.RecordedAt,
	)
	if err != nil {
		return domain.SessionEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

func (t *tx) GetEvent(ctx context.Context, eventID string) (domain.SessionEvent, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+sessionEventColumns+" FROM session_events WHERE id = $1", eventID)
	return scanEvent(row)
}

func (t *tx) ListEvents(ctx context.Context, sessionID string) ([]domain.SessionEvent, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+sessionEventColumns+" FROM session_events WHERE session_id = $1 ORDER BY sequence ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SessionEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *tx) UpdateEvent(ctx context.Context, ev domain.SessionEvent) error {
	payload, err := domain.EncodePayload(ev.Payload)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		"UPDATE session_events SET payload = $1::jsonb, recorded_at = $2 WHERE id = $3 AND session_id = $4",
		string(payload), domain.NormalizeTime(ev.RecordedAt), ev.ID, ev.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteEvents(ctx context.Context, sessionID string, eventIDs []string) error {
	tag, err := t.tx.Exec(ctx, "DELETE FROM session_events WHERE session_id = $1 AND id = ANY($2)", sessionID, eventIDs)
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	if tag.RowsAffected() != int64(len(eventIDs)) {
		return storage.ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s          domain.Session
		storeID    *string
		gameType   string
		tournament []byte
	)
	err := row.Scan(&s.ID, &s.OwnerID, &storeID, &gameType, &s.Active, &s.StartTime, &s.EndTime,
		&s.InitialBuyIn, &s.BuyInTotal, &s.CashOut, &s.FinalPosition, &s.InitialStack, &s.LastSequence, &tournament)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	if storeID != nil {
		s.StoreID = *storeID
	}
	s.GameType = domain.GameType(gameType)
	s.StartTime = s.StartTime.UTC()
	if s.EndTime != nil {
		end := s.EndTime.UTC()
		s.EndTime = &end
	}
	if len(tournament) > 0 {
		if err := json.Unmarshal(tournament, &s.Tournament); err != nil {
			return domain.Session{}, fmt.Errorf("decode tournament: %w", err)
		}
	}
	return s, nil
}

func scanEvent(row pgx.Row) (domain.SessionEvent, error) {
	var (
		ev         domain.SessionEvent
		eventType  string
		payload    []byte
		version    int16
		recordedAt time.Time
	)
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.OwnerID, &eventType, &payload, &version, &ev.Sequence, &recordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.SessionEvent{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Type = domain.EventType(eventType)
	ev.RecordedAt = recordedAt.UTC()
	ev.Payload, err = domain.DecodePayload(ev.Type, int(version), payload)
	if err != nil {
		return domain.SessionEvent{}, err
	}
	return ev, nil
}

func encodeTournament(t *domain.TournamentSnapshot) (any, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode tournament: %w", err)
	}
	return string(b), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

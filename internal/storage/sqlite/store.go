// Package sqlite is an embedded storage backend on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/storage"
	"example.com/sessionledger/internal/storage/sqlite/migrations"
)

const (
	sessionColumns      = "id, owner_id, store_id, game_type, active, start_time, end_time, initial_buy_in, buy_in_total, cash_out, final_position, initial_stack, last_sequence, tournament"
	sessionEventColumns = "id, session_id, owner_id, event_type, payload, payload_version, sequence, recorded_at"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
// The pool is limited to one connection: SQLite allows a single writer, and
// every ledger operation writes inside its transaction.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Ready(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close is nil-safe so callers can defer it on every startup path.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) CreateSession(ctx context.Context, sess domain.Session) error {
	var tournament sql.NullString
	if sess.Tournament != nil {
		b, err := json.Marshal(sess.Tournament)
		if err != nil {
			return fmt.Errorf("encode tournament: %w", err)
		}
		tournament = sql.NullString{String: string(b), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, nullString(sess.StoreID), string(sess.GameType), boolToInt(sess.Active),
		toMillis(sess.StartTime), toNullMillis(sess.EndTime), sess.InitialBuyIn, sess.BuyInTotal,
		toNullInt64(sess.CashOut), toNullInt(sess.FinalPosition), toNullInt64(sess.InitialStack),
		sess.LastSequence, tournament,
	)
	if err != nil {
		if isActiveOwnerViolation(err) {
			return storage.ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (t *tx) LockSession(ctx context.Context, sessionID string) (domain.Session, error) {
	// The immediate transaction already holds the database write lock.
	row := t.tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)
	return scanSession(row)
}

func (t *tx) FindActiveSession(ctx context.Context, ownerID string) (domain.Session, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE owner_id = ? AND active = 1 LIMIT 1", ownerID)
	return scanSession(row)
}

func (t *tx) UpdateSession(ctx context.Context, sess domain.Session) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sessions
SET active = ?, end_time = ?, buy_in_total = ?, cash_out = ?, final_position = ?
WHERE id = ?`,
		boolToInt(sess.Active), toNullMillis(sess.EndTime), sess.BuyInTotal,
		toNullInt64(sess.CashOut), toNullInt(sess.FinalPosition), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRows(res, 1)
}

func (t *tx) AppendEvent(ctx context.Context, ev domain.SessionEvent) (domain.SessionEvent, error) {
	payload, err := domain.EncodePayload(ev.Payload)
	if err != nil {
		return domain.SessionEvent{}, err
	}
	var seq int64
	err = t.tx.QueryRowContext(ctx,
		"UPDATE sessions SET last_sequence = last_sequence + 1 WHERE id = ? RETURNING last_sequence",
		ev.SessionID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.SessionEvent{}, fmt.Errorf("next sequence: %w", err)
	}

	ev.Sequence = seq
	ev.RecordedAt = domain.NormalizeTime(ev.RecordedAt)
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO session_events (`+sessionEventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.OwnerID, string(ev.Type), string(payload), domain.PayloadVersion,
		ev.Sequence, toMillis(ev.RecordedAt),
	); err != nil {
		return domain.SessionEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

func (t *tx) GetEvent(ctx context.Context, eventID string) (domain.SessionEvent, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+sessionEventColumns+" FROM session_events WHERE id = ?", eventID)
	return scanEvent(row)
}

func (t *tx) ListEvents(ctx context.Context, sessionID string) ([]domain.SessionEvent, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+sessionEventColumns+" FROM session_events WHERE session_id = ? ORDER BY sequence ASC",
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func (t *tx) UpdateEvent(ctx context.Context, ev domain.SessionEvent) error {
	payload, err := domain.EncodePayload(ev.Payload)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		"UPDATE session_events SET payload = ?, recorded_at = ? WHERE id = ? AND session_id = ?",
		string(payload), toMillis(ev.RecordedAt), ev.ID, ev.SessionID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireRows(res, 1)
}

func (t *tx) DeleteEvents(ctx context.Context, sessionID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, sessionID)
	for _, id := range eventIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	res, err := t.tx.ExecContext(ctx,
		"DELETE FROM session_events WHERE session_id = ? AND id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return requireRows(res, int64(len(eventIDs)))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var (
		s             domain.Session
		storeID       sql.NullString
		gameType      string
		active        int64
		startTime     int64
		endTime       sql.NullInt64
		cashOut       sql.NullInt64
		finalPosition sql.NullInt64
		initialStack  sql.NullInt64
		tournament    sql.NullString
	)
	err := row.Scan(&s.ID, &s.OwnerID, &storeID, &gameType, &active, &startTime, &endTime,
		&s.InitialBuyIn, &s.BuyInTotal, &cashOut, &finalPosition, &initialStack, &s.LastSequence, &tournament)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.StoreID = storeID.String
	s.GameType = domain.GameType(gameType)
	s.Active = active != 0
	s.StartTime = fromMillis(startTime)
	s.EndTime = fromNullMillis(endTime)
	s.CashOut = fromNullInt64(cashOut)
	s.InitialStack = fromNullInt64(initialStack)
	if finalPosition.Valid {
		p := int(finalPosition.Int64)
		s.FinalPosition = &p
	}
	if tournament.Valid && tournament.String != "" {
		if err := json.Unmarshal([]byte(tournament.String), &s.Tournament); err != nil {
			return domain.Session{}, fmt.Errorf("decode tournament: %w", err)
		}
	}
	return s, nil
}

func scanEvent(row scanner) (domain.SessionEvent, error) {
	var (
		ev         domain.SessionEvent
		eventType  string
		payload    string
		version    int
		recordedAt int64
	)
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.OwnerID, &eventType, &payload, &version, &ev.Sequence, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionEvent{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.SessionEvent{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Type = domain.EventType(eventType)
	ev.RecordedAt = fromMillis(recordedAt)
	ev.Payload, err = domain.DecodePayload(ev.Type, version, []byte(payload))
	if err != nil {
		return domain.SessionEvent{}, err
	}
	return ev, nil
}

func requireRows(res sql.Result, want int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != want {
		return storage.ErrNotFound
	}
	return nil
}

func isActiveOwnerViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(sqliteErr.Error(), "sessions.owner_id")
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func toNullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package ledger runs the session lifecycle and every event operation. Each
// call is one storage transaction scoped to an explicitly passed actor.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/sessionledger/internal/derive"
	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/storage"
)

const tracerName = "example.com/sessionledger/internal/ledger"

type Service struct {
	store  storage.Store
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
}

type Option func(*Service)

// WithLogger sets the logger; the default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the uuid generator for session and event ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		newID:  uuid.NewString,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "ledger")
	return s
}

// Ready reports whether the underlying store can serve requests.
func (s *Service) Ready(ctx context.Context) error { return s.store.Ready(ctx) }

// SessionView is a session with the live view derived from its events.
type SessionView struct {
	Session domain.Session  `json:"session"`
	View    derive.LiveView `json:"live_view"`
}

func (s *Service) clock() time.Time { return domain.NormalizeTime(s.now()) }

// span starts an operation span; the returned func ends it and records err.
func (s *Service) span(ctx context.Context, op, actor string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	attrs = append(attrs, attribute.String("ledger.actor", actor))
	ctx, sp := s.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			sp.RecordError(*errp)
			sp.SetStatus(codes.Error, (*errp).Error())
			if domain.KindOf(*errp) == "" {
				s.log.ErrorContext(ctx, "operation failed", "op", op, "actor", actor, "err", *errp)
			}
		}
		sp.End()
	}
}

func checkActor(actor string) error {
	if errs := domain.ValidateActor(actor); len(errs) > 0 {
		return domain.InvalidArgument(errs...)
	}
	return nil
}

// lockOwned loads and locks a session belonging to actor. Sessions of other
// actors are reported as missing.
func lockOwned(ctx context.Context, tx storage.Tx, actor, sessionID string) (domain.Session, error) {
	sess, err := tx.LockSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Session{}, domain.NotFound("session not found")
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("lock session: %w", err)
	}
	if sess.OwnerID != actor {
		return domain.Session{}, domain.NotFound("session not found")
	}
	return sess, nil
}

// lockActive is lockOwned restricted to sessions that have not ended.
func lockActive(ctx context.Context, tx storage.Tx, actor, sessionID string) (domain.Session, error) {
	sess, err := lockOwned(ctx, tx, actor, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.Active {
		return domain.Session{}, domain.NotFound("session is not active")
	}
	return sess, nil
}

func listEvents(ctx context.Context, tx storage.Tx, sessionID string) ([]domain.SessionEvent, error) {
	events, err := tx.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// translate maps storage sentinels that escaped a call site onto ledger kinds.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.KindOf(err) != "":
		return err
	case errors.Is(err, storage.ErrActiveSessionExists):
		return &domain.Error{Kind: domain.KindConflict, Message: "an active session already exists", Cause: err}
	case errors.Is(err, storage.ErrNotFound):
		return &domain.Error{Kind: domain.KindNotFound, Message: "not found", Cause: err}
	}
	return err
}

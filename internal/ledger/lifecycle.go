package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/sessionledger/internal/derive"
	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/guard"
	"example.com/sessionledger/internal/storage"
)

type StartInput struct {
	StoreID      string                     `json:"store_id,omitempty"`
	GameType     domain.GameType            `json:"game_type,omitempty"`
	BuyIn        int64                      `json:"buy_in"`
	InitialStack *int64                     `json:"initial_stack,omitempty"`
	Tournament   *domain.TournamentSnapshot `json:"tournament,omitempty"`
}

type StartResult struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
}

type EndInput struct {
	CashOut       int64      `json:"cash_out"`
	FinalPosition *int       `json:"final_position,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

type EndResult struct {
	EndTime    time.Time `json:"end_time"`
	ProfitLoss int64     `json:"profit_loss"`
}

func (in StartInput) validate() error {
	var errs []domain.FieldError
	if len(in.StoreID) > domain.MaxStoreIDLen {
		errs = append(errs, domain.FieldError{Field: "store_id", Msg: fmt.Sprintf("max length %d", domain.MaxStoreIDLen)})
	}
	errs = append(errs, domain.ValidatePayload(in.payload())...)
	if in.Tournament != nil && in.GameType != domain.GameTournament {
		errs = append(errs, domain.FieldError{Field: "tournament", Msg: "only allowed for tournaments"})
	}
	errs = append(errs, domain.ValidateTournament(in.Tournament)...)
	if len(errs) > 0 {
		return domain.InvalidArgument(errs...)
	}
	return nil
}

func (in StartInput) payload() domain.SessionStartPayload {
	return domain.SessionStartPayload{BuyIn: in.BuyIn, GameType: in.GameType, InitialStack: in.InitialStack}
}

// StartSession opens a session for actor. It fails with a conflict while
// the actor has another active session.
func (s *Service) StartSession(ctx context.Context, actor string, in StartInput) (res StartResult, err error) {
	ctx, end := s.span(ctx, "StartSession", actor)
	defer func() { end(&err) }()

	if err := checkActor(actor); err != nil {
		return StartResult{}, err
	}
	if in.GameType == "" {
		in.GameType = domain.GameCash
	}
	if err := in.validate(); err != nil {
		return StartResult{}, err
	}

	now := s.clock()
	sess := domain.Session{
		ID:           s.newID(),
		OwnerID:      actor,
		StoreID:      in.StoreID,
		GameType:     in.GameType,
		Active:       true,
		StartTime:    now,
		InitialBuyIn: in.BuyIn,
		BuyInTotal:   in.BuyIn,
		InitialStack: in.InitialStack,
		Tournament:   in.Tournament,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.FindActiveSession(ctx, actor); err == nil {
			return domain.Conflict("an active session already exists")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("find active session: %w", err)
		}
		if err := tx.CreateSession(ctx, sess); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, s.event(sess, in.payload(), now)); err != nil {
			return fmt.Errorf("append start: %w", err)
		}
		if in.GameType == domain.GameTournament && in.InitialStack != nil {
			stack := domain.StackUpdatePayload{Amount: *in.InitialStack}
			if _, err := tx.AppendEvent(ctx, s.event(sess, stack, now)); err != nil {
				return fmt.Errorf("append initial stack: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return StartResult{}, translate(err)
	}
	s.log.InfoContext(ctx, "session started", "session_id", sess.ID, "actor", actor, "game_type", sess.GameType)
	return StartResult{SessionID: sess.ID, StartTime: now}, nil
}

// EndSession closes an active session. EndedAt backdates the end and must not
// precede the latest event.
func (s *Service) EndSession(ctx context.Context, actor, sessionID string, in EndInput) (res EndResult, err error) {
	ctx, end := s.span(ctx, "EndSession", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()

	if err := checkActor(actor); err != nil {
		return EndResult{}, err
	}
	payload := domain.SessionEndPayload{CashOut: in.CashOut, FinalPosition: in.FinalPosition}
	if errs := domain.ValidatePayload(payload); len(errs) > 0 {
		return EndResult{}, domain.InvalidArgument(errs...)
	}

	now := s.clock()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sess, err := lockActive(ctx, tx, actor, sessionID)
		if err != nil {
			return err
		}
		at := now
		if in.EndedAt != nil {
			events, err := listEvents(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if err := guard.CheckAppendTime(events, *in.EndedAt, now); err != nil {
				return err
			}
			at = domain.NormalizeTime(*in.EndedAt)
		}
		if _, err := tx.AppendEvent(ctx, s.event(sess, payload, at)); err != nil {
			return fmt.Errorf("append end: %w", err)
		}

		cashOut := in.CashOut
		sess.Active = false
		sess.EndTime = &at
		sess.CashOut = &cashOut
		sess.FinalPosition = in.FinalPosition
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		res = EndResult{EndTime: at, ProfitLoss: cashOut - sess.BuyInTotal}
		return nil
	})
	if err != nil {
		return EndResult{}, translate(err)
	}
	s.log.InfoContext(ctx, "session ended", "session_id", sessionID, "actor", actor, "profit_loss", res.ProfitLoss)
	return res, nil
}

// PauseSession starts a break. The session must not already be paused.
func (s *Service) PauseSession(ctx context.Context, actor, sessionID string) (at time.Time, err error) {
	ctx, end := s.span(ctx, "PauseSession", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()

	ev, err := s.appendChecked(ctx, actor, sessionID, domain.SessionPausePayload{}, nil, func(events []domain.SessionEvent) error {
		if derive.IsPaused(events) {
			return domain.InvalidOperation("session is already paused")
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return ev.RecordedAt, nil
}

// ResumeSession closes the open break.
func (s *Service) ResumeSession(ctx context.Context, actor, sessionID string) (at time.Time, err error) {
	ctx, end := s.span(ctx, "ResumeSession", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()

	ev, err := s.appendChecked(ctx, actor, sessionID, domain.SessionResumePayload{}, nil, func(events []domain.SessionEvent) error {
		if !derive.IsPaused(events) {
			return domain.InvalidOperation("session is not paused")
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return ev.RecordedAt, nil
}

// GetActiveSession returns the actor's active session and its live view.
func (s *Service) GetActiveSession(ctx context.Context, actor string) (out SessionView, err error) {
	ctx, end := s.span(ctx, "GetActiveSession", actor)
	defer func() { end(&err) }()

	if err := checkActor(actor); err != nil {
		return SessionView{}, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sess, err := tx.FindActiveSession(ctx, actor)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound("no active session")
		}
		if err != nil {
			return fmt.Errorf("find active session: %w", err)
		}
		events, err := listEvents(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		out = SessionView{Session: sess, View: derive.Derive(sess, events, s.clock())}
		return nil
	})
	if err != nil {
		return SessionView{}, translate(err)
	}
	return out, nil
}

// GetSession returns one of actor's sessions, ended or not, with its view.
func (s *Service) GetSession(ctx context.Context, actor, sessionID string) (out SessionView, err error) {
	ctx, end := s.span(ctx, "GetSession", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()

	if err := checkActor(actor); err != nil {
		return SessionView{}, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sess, err := lockOwned(ctx, tx, actor, sessionID)
		if err != nil {
			return err
		}
		events, err := listEvents(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		out = SessionView{Session: sess, View: derive.Derive(sess, events, s.clock())}
		return nil
	})
	if err != nil {
		return SessionView{}, translate(err)
	}
	return out, nil
}

func (s *Service) event(sess domain.Session, p domain.Payload, at time.Time) domain.SessionEvent {
	return domain.SessionEvent{
		ID:         s.newID(),
		SessionID:  sess.ID,
		OwnerID:    sess.OwnerID,
		Type:       p.EventType(),
		Payload:    p,
		RecordedAt: at,
	}
}

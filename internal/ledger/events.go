package ledger

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/guard"
	"example.com/sessionledger/internal/storage"
)

// BuyInInput records a rebuy or an add-on.
type BuyInInput struct {
	Cost       int64      `json:"cost"`
	Chips      *int64     `json:"chips,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type BuyInResult struct {
	Event      domain.SessionEvent `json:"event"`
	BuyInTotal int64               `json:"buy_in_total"`
}

type AllInInput struct {
	Amount     int64      `json:"amount"`
	Equity     *float64   `json:"equity,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// SeatPlayer records who sits in a seat; a later record for the same seat
// replaces the name.
func (s *Service) SeatPlayer(ctx context.Context, actor, sessionID string, seat int, name string) (ev domain.SessionEvent, err error) {
	ctx, end := s.span(ctx, "SeatPlayer", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.appendChecked(ctx, actor, sessionID, domain.PlayerSeatedPayload{SeatNumber: seat, PlayerName: name}, nil, nil)
}

// UpdateStack records an absolute chip count.
func (s *Service) UpdateStack(ctx context.Context, actor, sessionID string, amount int64, recordedAt *time.Time) (ev domain.SessionEvent, err error) {
	ctx, end := s.span(ctx, "UpdateStack", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.appendChecked(ctx, actor, sessionID, domain.StackUpdatePayload{Amount: amount}, recordedAt, nil)
}

func (s *Service) RecordRebuy(ctx context.Context, actor, sessionID string, in BuyInInput) (res BuyInResult, err error) {
	ctx, end := s.span(ctx, "RecordRebuy", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.recordBuyIn(ctx, actor, sessionID, domain.RebuyPayload{Cost: in.Cost, Chips: in.Chips}, in.RecordedAt)
}

func (s *Service) RecordAddon(ctx context.Context, actor, sessionID string, in BuyInInput) (res BuyInResult, err error) {
	ctx, end := s.span(ctx, "RecordAddon", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.recordBuyIn(ctx, actor, sessionID, domain.AddonPayload{Cost: in.Cost, Chips: in.Chips}, in.RecordedAt)
}

func (s *Service) RecordAllIn(ctx context.Context, actor, sessionID string, in AllInInput) (ev domain.SessionEvent, err error) {
	ctx, end := s.span(ctx, "RecordAllIn", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.appendChecked(ctx, actor, sessionID, domain.AllInPayload{Amount: in.Amount, Equity: in.Equity}, in.RecordedAt, nil)
}

// RecordHandsPassed records a batch of hands played without detail.
func (s *Service) RecordHandsPassed(ctx context.Context, actor, sessionID string, count int) (ev domain.SessionEvent, err error) {
	ctx, end := s.span(ctx, "RecordHandsPassed", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.appendChecked(ctx, actor, sessionID, domain.HandsPassedPayload{Count: count}, nil, nil)
}

func (s *Service) RecordHandComplete(ctx context.Context, actor, sessionID string, position *domain.Position) (ev domain.SessionEvent, err error) {
	ctx, end := s.span(ctx, "RecordHandComplete", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()
	return s.appendChecked(ctx, actor, sessionID, domain.HandCompletePayload{Position: position}, nil, nil)
}

func (s *Service) recordBuyIn(ctx context.Context, actor, sessionID string, p domain.AmountPayload, recordedAt *time.Time) (BuyInResult, error) {
	var res BuyInResult
	err := s.appendTx(ctx, actor, sessionID, p, recordedAt, nil, func(ctx context.Context, tx storage.Tx, sess domain.Session, ev domain.SessionEvent) error {
		total, err := domain.AddBuyIn(sess.BuyInTotal, p.AmountValue())
		if err != nil {
			return err
		}
		sess.BuyInTotal = total
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("update buy-in total: %w", err)
		}
		res = BuyInResult{Event: ev, BuyInTotal: sess.BuyInTotal}
		return nil
	})
	if err != nil {
		return BuyInResult{}, err
	}
	return res, nil
}

// appendChecked appends p to an active session of actor. check, when set,
// sees the current event list and may veto the append.
func (s *Service) appendChecked(ctx context.Context, actor, sessionID string, p domain.Payload, recordedAt *time.Time, check func([]domain.SessionEvent) error) (domain.SessionEvent, error) {
	var out domain.SessionEvent
	err := s.appendTx(ctx, actor, sessionID, p, recordedAt, check, func(_ context.Context, _ storage.Tx, _ domain.Session, ev domain.SessionEvent) error {
		out = ev
		return nil
	})
	if err != nil {
		return domain.SessionEvent{}, err
	}
	return out, nil
}

func (s *Service) appendTx(
	ctx context.Context,
	actor, sessionID string,
	p domain.Payload,
	recordedAt *time.Time,
	check func([]domain.SessionEvent) error,
	after func(ctx context.Context, tx storage.Tx, sess domain.Session, ev domain.SessionEvent) error,
) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	if errs := domain.ValidatePayload(p); len(errs) > 0 {
		return domain.InvalidArgument(errs...)
	}

	now := s.clock()
	var appended domain.SessionEvent
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sess, err := lockActive(ctx, tx, actor, sessionID)
		if err != nil {
			return err
		}
		at := now
		if check != nil || recordedAt != nil {
			events, err := listEvents(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			if check != nil {
				if err := check(events); err != nil {
					return err
				}
			}
			if recordedAt != nil {
				if err := guard.CheckAppendTime(events, *recordedAt, now); err != nil {
					return err
				}
				at = domain.NormalizeTime(*recordedAt)
			}
		}
		appended, err = tx.AppendEvent(ctx, s.event(sess, p, at))
		if err != nil {
			return fmt.Errorf("append %s: %w", p.EventType(), err)
		}
		return after(ctx, tx, sess, appended)
	})
	if err != nil {
		return translate(err)
	}
	s.log.DebugContext(ctx, "event appended",
		"session_id", sessionID, "event_id", appended.ID, "type", appended.Type, "sequence", appended.Sequence)
	return nil
}

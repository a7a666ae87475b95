package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/guard"
	"example.com/sessionledger/internal/storage"
)

// UpdateResult is the edited event and the session's buy-in total after the edit.
type UpdateResult struct {
	Event      domain.SessionEvent `json:"event"`
	BuyInTotal int64               `json:"buy_in_total"`
}

// UpdateEvent edits the amount and/or recorded-at of one event.
func (s *Service) UpdateEvent(ctx context.Context, actor, eventID string, req guard.UpdateRequest) (res UpdateResult, err error) {
	ctx, end := s.span(ctx, "UpdateEvent", actor, attribute.String("ledger.event_id", eventID))
	defer func() { end(&err) }()

	err = s.mutateEvent(ctx, actor, eventID, func(sess domain.Session, events []domain.SessionEvent) (guard.Plan, error) {
		return guard.PlanUpdate(sess, events, eventID, req, s.clock())
	}, func(sess domain.Session, plan guard.Plan) {
		res = UpdateResult{Event: plan.Updated[0], BuyInTotal: sess.BuyInTotal}
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

// DeleteEvent removes one event, or both halves of a paired break. It
// returns the deleted ids in sequence order.
func (s *Service) DeleteEvent(ctx context.Context, actor, eventID string) (ids []string, err error) {
	ctx, end := s.span(ctx, "DeleteEvent", actor, attribute.String("ledger.event_id", eventID))
	defer func() { end(&err) }()

	err = s.mutateEvent(ctx, actor, eventID, func(sess domain.Session, events []domain.SessionEvent) (guard.Plan, error) {
		return guard.PlanDelete(sess, events, eventID)
	}, func(_ domain.Session, plan guard.Plan) {
		ids = plan.DeletedIDs()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteLatestHandComplete undoes the most recent hand_complete.
func (s *Service) DeleteLatestHandComplete(ctx context.Context, actor, sessionID string) (id string, err error) {
	ctx, end := s.span(ctx, "DeleteLatestHandComplete", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()

	if err := checkActor(actor); err != nil {
		return "", err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		sess, err := lockActive(ctx, tx, actor, sessionID)
		if err != nil {
			return err
		}
		events, err := listEvents(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		latest, ok := guard.LatestOfType(events, domain.EventHandComplete)
		if !ok {
			return domain.NotFound("no completed hand to delete")
		}
		plan, err := guard.PlanDelete(sess, events, latest)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx, sess, plan); err != nil {
			return err
		}
		id = latest
		return nil
	})
	if err != nil {
		return "", translate(err)
	}
	return id, nil
}

// ListBySession returns the events of one of actor's sessions, ended or not,
// in sequence order.
func (s *Service) ListBySession(ctx context.Context, actor, sessionID string) (events []domain.SessionEvent, err error) {
	ctx, end := s.span(ctx, "ListBySession", actor, attribute.String("ledger.session_id", sessionID))
	defer func() { end(&err) }()

	if err := checkActor(actor); err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := lockOwned(ctx, tx, actor, sessionID); err != nil {
			return err
		}
		events, err = listEvents(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return events, nil
}

// mutateEvent resolves eventID to actor's session, plans against a fresh
// event list and applies the plan in the same transaction.
func (s *Service) mutateEvent(
	ctx context.Context,
	actor, eventID string,
	plan func(domain.Session, []domain.SessionEvent) (guard.Plan, error),
	done func(domain.Session, guard.Plan),
) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound("event not found")
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if ev.OwnerID != actor {
			return domain.NotFound("event not found")
		}
		sess, err := lockOwned(ctx, tx, actor, ev.SessionID)
		if err != nil {
			return err
		}
		events, err := listEvents(ctx, tx, sess.ID)
		if err != nil {
			return err
		}
		p, err := plan(sess, events)
		if err != nil {
			return err
		}
		total, err := domain.AddBuyIn(sess.BuyInTotal, p.BuyInDelta)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx, sess, p); err != nil {
			return err
		}
		sess.BuyInTotal = total
		done(sess, p)
		return nil
	})
	if err != nil {
		return translate(err)
	}
	s.log.InfoContext(ctx, "event mutated", "event_id", eventID, "actor", actor)
	return nil
}

func apply(ctx context.Context, tx storage.Tx, sess domain.Session, plan guard.Plan) error {
	for _, ev := range plan.Updated {
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return fmt.Errorf("update event: %w", err)
		}
	}
	if ids := plan.DeletedIDs(); len(ids) > 0 {
		if err := tx.DeleteEvents(ctx, sess.ID, ids); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
	}
	if plan.BuyInDelta != 0 {
		total, err := domain.AddBuyIn(sess.BuyInTotal, plan.BuyInDelta)
		if err != nil {
			return err
		}
		sess.BuyInTotal = total
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("update buy-in total: %w", err)
		}
	}
	return nil
}

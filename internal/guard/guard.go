// Package guard validates edits and deletions against a session's ordered
// event list and plans the exact mutations to apply.
//
// Planning is pure. Callers must pass the list read inside the same
// transaction that applies the plan, so neighbour timestamps are never stale.
package guard

import (
	"fmt"
	"time"

	"example.com/sessionledger/internal/derive"
	"example.com/sessionledger/internal/domain"
)

// UpdateRequest carries the optional edits for one event.
type UpdateRequest struct {
	Amount     *int64
	RecordedAt *time.Time
}

// Plan is the complete set of changes for one logical mutation.
type Plan struct {
	Updated    []domain.SessionEvent
	Deleted    []domain.SessionEvent
	BuyInDelta int64
}

// DeletedIDs returns the ids of Deleted in sequence order.
func (p Plan) DeletedIDs() []string {
	ids := make([]string, 0, len(p.Deleted))
	for _, ev := range p.Deleted {
		ids = append(ids, ev.ID)
	}
	return ids
}

// PlanUpdate validates req against the target event and its positional
// neighbours.
func PlanUpdate(s domain.Session, events []domain.SessionEvent, eventID string, req UpdateRequest, now time.Time) (Plan, error) {
	ordered, idx, err := locate(s, events, eventID)
	if err != nil {
		return Plan{}, err
	}
	target := ordered[idx]
	if target.Type.Immutable() {
		return Plan{}, domain.InvalidOperation(fmt.Sprintf("%s events cannot be edited", target.Type))
	}
	if req.Amount == nil && req.RecordedAt == nil {
		return Plan{}, domain.InvalidArgument(domain.FieldError{Field: "amount", Msg: "amount or recorded_at required"})
	}

	var plan Plan
	updated := target
	if req.Amount != nil {
		ap, ok := target.Payload.(domain.AmountPayload)
		if !ok || !target.Type.AmountBearing() {
			return Plan{}, domain.InvalidOperation(fmt.Sprintf("%s events have no editable amount", target.Type))
		}
		if errs := domain.ValidateAmount(target.Type, *req.Amount); len(errs) > 0 {
			return Plan{}, domain.InvalidArgument(errs...)
		}
		if target.Type.AffectsBuyIn() {
			plan.BuyInDelta = *req.Amount - ap.AmountValue()
		}
		updated.Payload = ap.WithAmount(*req.Amount)
	}
	if req.RecordedAt != nil {
		at := domain.NormalizeTime(*req.RecordedAt)
		if idx > 0 && !at.After(ordered[idx-1].RecordedAt) {
			return Plan{}, domain.InvalidOperation("recorded_at must be after the previous event")
		}
		if idx < len(ordered)-1 && !at.Before(ordered[idx+1].RecordedAt) {
			return Plan{}, domain.InvalidOperation("recorded_at must be before the next event")
		}
		if at.After(now) {
			return Plan{}, domain.InvalidOperation("recorded_at must not be in the future")
		}
		updated.RecordedAt = at
	}
	plan.Updated = []domain.SessionEvent{updated}
	return plan, nil
}

// PlanDelete removes the target event. Deleting either half of a paired
// pause/resume removes the whole break.
func PlanDelete(s domain.Session, events []domain.SessionEvent, eventID string) (Plan, error) {
	ordered, idx, err := locate(s, events, eventID)
	if err != nil {
		return Plan{}, err
	}
	target := ordered[idx]
	if target.Type.Immutable() {
		return Plan{}, domain.InvalidOperation(fmt.Sprintf("%s events cannot be deleted", target.Type))
	}

	var plan Plan
	switch target.Type {
	case domain.EventRebuy, domain.EventAddon:
		if ap, ok := target.Payload.(domain.AmountPayload); ok {
			plan.BuyInDelta = -ap.AmountValue()
		}
		plan.Deleted = []domain.SessionEvent{target}
	case domain.EventSessionPause, domain.EventSessionResume:
		pair, ok := derive.PairIndex(ordered, idx)
		switch {
		case !ok:
			plan.Deleted = []domain.SessionEvent{target}
		case pair < idx:
			plan.Deleted = []domain.SessionEvent{ordered[pair], target}
		default:
			plan.Deleted = []domain.SessionEvent{target, ordered[pair]}
		}
	default:
		plan.Deleted = []domain.SessionEvent{target}
	}
	return plan, nil
}

// LatestOfType returns the id of the highest-sequence event of type t.
func LatestOfType(events []domain.SessionEvent, t domain.EventType) (string, bool) {
	var (
		id  string
		seq int64 = -1
	)
	for _, ev := range events {
		if ev.Type == t && ev.Sequence > seq {
			id, seq = ev.ID, ev.Sequence
		}
	}
	return id, seq >= 0
}

// CheckAppendTime validates an explicit recorded-at for a new event: it may
// not precede the latest event nor lie in the future.
func CheckAppendTime(events []domain.SessionEvent, at, now time.Time) error {
	at = domain.NormalizeTime(at)
	if at.After(now) {
		return domain.InvalidOperation("recorded_at must not be in the future")
	}
	var (
		latest time.Time
		seq    int64 = -1
	)
	for _, ev := range events {
		if ev.Sequence > seq {
			latest, seq = ev.RecordedAt, ev.Sequence
		}
	}
	if seq >= 0 && at.Before(latest) {
		return domain.InvalidOperation("recorded_at must not precede the latest event")
	}
	return nil
}

func locate(s domain.Session, events []domain.SessionEvent, eventID string) ([]domain.SessionEvent, int, error) {
	if !s.Active {
		return nil, -1, domain.NotFound("session is not active")
	}
	ordered := derive.Ordered(events)
	for i, ev := range ordered {
		if ev.ID == eventID {
			return ordered, i, nil
		}
	}
	return nil, -1, domain.NotFound("event not found")
}

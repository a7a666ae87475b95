package guard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sessionledger/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

func timep(v time.Time) *time.Time { return &v }

func fixture(payloads ...domain.Payload) (domain.Session, []domain.SessionEvent) {
	s := domain.Session{ID: "s1", OwnerID: "alice", Active: true, StartTime: t0, InitialBuyIn: 100, BuyInTotal: 100}
	all := append([]domain.Payload{domain.SessionStartPayload{BuyIn: 100, GameType: domain.GameCash}}, payloads...)
	events := make([]domain.SessionEvent, 0, len(all))
	for i, p := range all {
		events = append(events, domain.SessionEvent{
			ID:         fmt.Sprintf("e%d", i),
			SessionID:  s.ID,
			OwnerID:    s.OwnerID,
			Type:       p.EventType(),
			Payload:    p,
			Sequence:   int64(i + 1),
			RecordedAt: t0.Add(time.Duration(i) * 10 * time.Minute),
		})
	}
	return s, events
}

func TestPlanUpdateAmount(t *testing.T) {
	s, events := fixture(
		domain.RebuyPayload{Cost: 50, Chips: int64p(50)},
		domain.StackUpdatePayload{Amount: 300},
		domain.AllInPayload{Amount: 300},
	)
	now := t0.Add(time.Hour)

	plan, err := PlanUpdate(s, events, "e1", UpdateRequest{Amount: int64p(80)}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(30), plan.BuyInDelta)
	require.Len(t, plan.Updated, 1)
	assert.Equal(t, domain.RebuyPayload{Cost: 80, Chips: int64p(50)}, plan.Updated[0].Payload)

	plan, err = PlanUpdate(s, events, "e2", UpdateRequest{Amount: int64p(0)}, now)
	require.NoError(t, err)
	assert.Zero(t, plan.BuyInDelta)
	assert.Equal(t, domain.StackUpdatePayload{Amount: 0}, plan.Updated[0].Payload)

	_, err = PlanUpdate(s, events, "e3", UpdateRequest{Amount: int64p(0)}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestPlanUpdateRejections(t *testing.T) {
	s, events := fixture(domain.HandCompletePayload{}, domain.SessionEndPayload{CashOut: 10})
	now := t0.Add(time.Hour)

	cases := map[string]struct {
		eventID string
		req     UpdateRequest
		want    error
	}{
		"start is immutable":        {"e0", UpdateRequest{Amount: int64p(1)}, domain.ErrInvalidOperation},
		"end is immutable":          {"e2", UpdateRequest{RecordedAt: timep(t0.Add(25 * time.Minute))}, domain.ErrInvalidOperation},
		"no amount on hand":         {"e1", UpdateRequest{Amount: int64p(1)}, domain.ErrInvalidOperation},
		"empty request":             {"e1", UpdateRequest{}, domain.ErrInvalidArgument},
		"unknown event":             {"nope", UpdateRequest{Amount: int64p(1)}, domain.ErrNotFound},
		"equal to previous":         {"e1", UpdateRequest{RecordedAt: timep(t0)}, domain.ErrInvalidOperation},
		"equal to next":             {"e1", UpdateRequest{RecordedAt: timep(t0.Add(20 * time.Minute))}, domain.ErrInvalidOperation},
		"sub-millisecond collision": {"e1", UpdateRequest{RecordedAt: timep(t0.Add(500 * time.Microsecond))}, domain.ErrInvalidOperation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := PlanUpdate(s, events, tc.eventID, tc.req, now)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPlanUpdateRecordedAt(t *testing.T) {
	s, events := fixture(domain.StackUpdatePayload{Amount: 10})

	// Last event: only the previous neighbour and now bound it.
	plan, err := PlanUpdate(s, events, "e1", UpdateRequest{RecordedAt: timep(t0.Add(time.Millisecond))}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, t0.Add(time.Millisecond).Equal(plan.Updated[0].RecordedAt))

	_, err = PlanUpdate(s, events, "e1", UpdateRequest{RecordedAt: timep(t0.Add(2 * time.Hour))}, t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestPlanRejectsEndedSession(t *testing.T) {
	s, events := fixture(domain.StackUpdatePayload{Amount: 10})
	s.Active = false

	_, err := PlanUpdate(s, events, "e1", UpdateRequest{Amount: int64p(5)}, t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = PlanDelete(s, events, "e1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlanDelete(t *testing.T) {
	s, events := fixture(
		domain.AddonPayload{Cost: 40},        // e1
		domain.SessionPausePayload{},         // e2: paired with e4
		domain.HandCompletePayload{},         // e3
		domain.SessionResumePayload{},        // e4
		domain.SessionPausePayload{},         // e5: unpaired
		domain.SessionPausePayload{},         // e6: paired with e7
		domain.SessionResumePayload{},        // e7
		domain.SessionEndPayload{CashOut: 1}, // e8
	)

	cases := []struct {
		id    string
		ids   []string
		delta int64
	}{
		{"e1", []string{"e1"}, -40},
		{"e2", []string{"e2", "e4"}, 0},
		{"e4", []string{"e2", "e4"}, 0},
		{"e3", []string{"e3"}, 0},
		{"e5", []string{"e5"}, 0},
		{"e6", []string{"e6", "e7"}, 0},
		{"e7", []string{"e6", "e7"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			plan, err := PlanDelete(s, events, tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.ids, plan.DeletedIDs())
			assert.Equal(t, tc.delta, plan.BuyInDelta)
			assert.Empty(t, plan.Updated)
		})
	}

	for _, id := range []string{"e0", "e8"} {
		_, err := PlanDelete(s, events, id)
		assert.ErrorIs(t, err, domain.ErrInvalidOperation, id)
	}
}

func TestPlanDeleteUsesSequenceOrder(t *testing.T) {
	s, events := fixture(domain.SessionPausePayload{}, domain.SessionResumePayload{})
	reversed := []domain.SessionEvent{events[2], events[1], events[0]}

	plan, err := PlanDelete(s, reversed, "e2")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, plan.DeletedIDs())
}

func TestLatestOfType(t *testing.T) {
	_, events := fixture(domain.HandCompletePayload{}, domain.HandCompletePayload{}, domain.StackUpdatePayload{})
	id, ok := LatestOfType(events, domain.EventHandComplete)
	assert.True(t, ok)
	assert.Equal(t, "e2", id)

	_, ok = LatestOfType(events, domain.EventRebuy)
	assert.False(t, ok)
}

func TestCheckAppendTime(t *testing.T) {
	_, events := fixture(domain.StackUpdatePayload{Amount: 1}) // latest at t0+10m
	now := t0.Add(time.Hour)

	assert.NoError(t, CheckAppendTime(events, t0.Add(10*time.Minute), now))
	assert.NoError(t, CheckAppendTime(events, now, now))
	assert.NoError(t, CheckAppendTime(nil, t0, now))
	assert.ErrorIs(t, CheckAppendTime(events, t0.Add(5*time.Minute), now), domain.ErrInvalidOperation)
	assert.ErrorIs(t, CheckAppendTime(events, now.Add(time.Millisecond), now), domain.ErrInvalidOperation)
}

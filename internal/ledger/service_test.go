package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sessionledger/internal/derive"
	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/guard"
	"example.com/sessionledger/internal/storage"
	"example.com/sessionledger/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	return New(memory.New(), WithClock(clock.Now)), clock
}

func start(t *testing.T, svc *Service, actor string, in StartInput) string {
	t.Helper()
	res, err := svc.StartSession(context.Background(), actor, in)
	require.NoError(t, err)
	return res.SessionID
}

func buyInTotal(t *testing.T, svc *Service, actor string) int64 {
	t.Helper()
	active, err := svc.GetActiveSession(context.Background(), actor)
	require.NoError(t, err)
	return active.Session.BuyInTotal
}

func int64p(v int64) *int64 { return &v }

func timep(v time.Time) *time.Time { return &v }

func TestStartSession(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, "alice", StartInput{StoreID: "casino-1", BuyIn: 10000})
	require.NoError(t, err)
	assert.True(t, t0.Equal(res.StartTime))

	events, err := svc.ListBySession(ctx, "alice", res.SessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSessionStart, events[0].Type)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, domain.SessionStartPayload{BuyIn: 10000, GameType: domain.GameCash}, events[0].Payload)

	active, err := svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, active.Session.ID)
	assert.Equal(t, "casino-1", active.Session.StoreID)
	assert.Equal(t, derive.StateActive, active.View.State)
	assert.Equal(t, int64(10000), active.View.CurrentStack)
}

func TestStartTournamentAppendsInitialStack(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	id := start(t, svc, "alice", StartInput{
		GameType:     domain.GameTournament,
		BuyIn:        109,
		InitialStack: int64p(20000),
		Tournament:   &domain.TournamentSnapshot{Name: "Sunday Major", StartingFee: 109},
	})

	events, err := svc.ListBySession(ctx, "alice", id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventStackUpdate, events[1].Type)
	assert.Equal(t, int64(2), events[1].Sequence)
	assert.Equal(t, domain.StackUpdatePayload{Amount: 20000}, events[1].Payload)

	active, err := svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), active.View.CurrentStack)
	require.NotNil(t, active.Session.Tournament)
	assert.Equal(t, "Sunday Major", active.Session.Tournament.Name)
}

func TestStartSessionValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := map[string]struct {
		actor string
		in    StartInput
		field string
	}{
		"missing actor":        {actor: "", in: StartInput{BuyIn: 100}, field: "actor_id"},
		"negative buy-in":      {actor: "alice", in: StartInput{BuyIn: -1}, field: "buy_in"},
		"unknown game type":    {actor: "alice", in: StartInput{GameType: "omaha"}, field: "game_type"},
		"cash initial stack":   {actor: "alice", in: StartInput{InitialStack: int64p(100)}, field: "initial_stack"},
		"cash tournament info": {actor: "alice", in: StartInput{Tournament: &domain.TournamentSnapshot{Name: "x"}}, field: "tournament"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.StartSession(ctx, tc.actor, tc.in)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
			var de *domain.Error
			require.True(t, errors.As(err, &de))
			require.NotEmpty(t, de.Fields)
			assert.Equal(t, tc.field, de.Fields[0].Field)
		})
	}
}

func TestSingleActiveSessionPerActor(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	id := start(t, svc, "alice", StartInput{BuyIn: 100})
	_, err := svc.StartSession(ctx, "alice", StartInput{BuyIn: 100})
	require.ErrorIs(t, err, domain.ErrConflict)

	start(t, svc, "bob", StartInput{BuyIn: 100})

	_, err = svc.EndSession(ctx, "alice", id, EndInput{CashOut: 50})
	require.NoError(t, err)
	start(t, svc, "alice", StartInput{BuyIn: 100})
}

func TestConcurrentStartsYieldOneSession(t *testing.T) {
	svc, _ := newService(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.StartSession(context.Background(), "alice", StartInput{BuyIn: 100})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestRebuyThenDeleteRestoresBuyIn(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 10000})

	clock.Advance(time.Minute)
	res, err := svc.RecordRebuy(ctx, "alice", id, BuyInInput{Cost: 5000, Chips: int64p(5000)})
	require.NoError(t, err)
	assert.Equal(t, int64(15000), res.BuyInTotal)
	assert.Equal(t, int64(15000), buyInTotal(t, svc, "alice"))

	ids, err := svc.DeleteEvent(ctx, "alice", res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Event.ID}, ids)
	assert.Equal(t, int64(10000), buyInTotal(t, svc, "alice"))
}

func TestAddonEditAdjustsBuyIn(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 1000})

	clock.Advance(time.Minute)
	res, err := svc.RecordAddon(ctx, "alice", id, BuyInInput{Cost: 300})
	require.NoError(t, err)
	assert.Equal(t, int64(1300), res.BuyInTotal)

	upd, err := svc.UpdateEvent(ctx, "alice", res.Event.ID, guard.UpdateRequest{Amount: int64p(500)})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), upd.BuyInTotal)
	assert.Equal(t, domain.AddonPayload{Cost: 500}, upd.Event.Payload)
	assert.Equal(t, int64(1500), buyInTotal(t, svc, "alice"))
}

func TestPauseResumeAccounting(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	clock.Advance(30 * time.Minute)
	pausedAt, err := svc.PauseSession(ctx, "alice", id)
	require.NoError(t, err)

	_, err = svc.PauseSession(ctx, "alice", id)
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	clock.Advance(10 * time.Minute)
	active, err := svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, active.View.Paused)
	assert.Equal(t, derive.StatePaused, active.View.State)
	assert.Equal(t, 30*time.Minute, active.View.ActiveElapsed)
	require.NotNil(t, active.View.PausedSince)
	assert.True(t, pausedAt.Equal(*active.View.PausedSince))

	_, err = svc.ResumeSession(ctx, "alice", id)
	require.NoError(t, err)
	_, err = svc.ResumeSession(ctx, "alice", id)
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	clock.Advance(5 * time.Minute)
	active, err = svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, active.View.Paused)
	assert.Equal(t, 10*time.Minute, active.View.PausedDuration)
	assert.Equal(t, 35*time.Minute, active.View.ActiveElapsed)
	require.Len(t, active.View.Breaks, 1)
}

func TestDeletePausedBreakRemovesPair(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	clock.Advance(time.Minute)
	_, err := svc.PauseSession(ctx, "alice", id)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.ResumeSession(ctx, "alice", id)
	require.NoError(t, err)

	events, err := svc.ListBySession(ctx, "alice", id)
	require.NoError(t, err)
	require.Len(t, events, 3)
	pause, resume := events[1], events[2]

	ids, err := svc.DeleteEvent(ctx, "alice", resume.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{pause.ID, resume.ID}, ids)

	events, err = svc.ListBySession(ctx, "alice", id)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestHandCounting(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	btn := domain.PositionButton
	for i := 0; i < 5; i++ {
		clock.Advance(2 * time.Minute)
		var pos *domain.Position
		if i == 4 {
			pos = &btn
		}
		_, err := svc.RecordHandComplete(ctx, "alice", id, pos)
		require.NoError(t, err)
	}
	_, err := svc.RecordHandsPassed(ctx, "alice", id, 3)
	require.NoError(t, err)

	active, err := svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 8, active.View.HandCount)
	require.Len(t, active.View.HandGroups, 2)
	assert.Equal(t, 5, active.View.HandGroups[0].Hands)
	require.NotNil(t, active.View.LastHand)
	require.NotNil(t, active.View.LastHand.Position)
	assert.Equal(t, domain.PositionButton, *active.View.LastHand.Position)

	deleted, err := svc.DeleteLatestHandComplete(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, active.View.LastHand.EventID, deleted)

	active, err = svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, active.View.HandCount)
	assert.Nil(t, active.View.LastHand.Position)
}

func TestDeleteLatestHandWithoutHands(t *testing.T) {
	svc, _ := newService(t)
	id := start(t, svc, "alice", StartInput{BuyIn: 100})
	_, err := svc.DeleteLatestHandComplete(context.Background(), "alice", id)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEndSessionTwice(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 10000})

	clock.Advance(time.Hour)
	res, err := svc.EndSession(ctx, "alice", id, EndInput{CashOut: 12500})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.ProfitLoss)
	assert.True(t, t0.Add(time.Hour).Equal(res.EndTime))

	_, err = svc.EndSession(ctx, "alice", id, EndInput{CashOut: 12500})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetActiveSession(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Ended sessions stay readable but reject every mutation.
	events, err := svc.ListBySession(ctx, "alice", id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	_, err = svc.UpdateStack(ctx, "alice", id, 100, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.DeleteEvent(ctx, "alice", events[0].ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEndSessionBackdated(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	clock.Advance(10 * time.Minute)
	_, err := svc.UpdateStack(ctx, "alice", id, 150, nil)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	_, err = svc.EndSession(ctx, "alice", id, EndInput{CashOut: 90, EndedAt: timep(t0.Add(5 * time.Minute))})
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = svc.EndSession(ctx, "alice", id, EndInput{CashOut: 90, EndedAt: timep(t0.Add(2 * time.Hour))})
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	res, err := svc.EndSession(ctx, "alice", id, EndInput{CashOut: 90, EndedAt: timep(t0.Add(20 * time.Minute))})
	require.NoError(t, err)
	assert.True(t, t0.Add(20*time.Minute).Equal(res.EndTime))
	assert.Equal(t, int64(-10), res.ProfitLoss)
}

func TestEditRecordedAtBounds(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	clock.Advance(10 * time.Minute)
	mid, err := svc.UpdateStack(ctx, "alice", id, 120, nil)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = svc.UpdateStack(ctx, "alice", id, 140, nil)
	require.NoError(t, err)

	for _, bad := range []time.Time{t0, t0.Add(-time.Minute), t0.Add(20 * time.Minute), t0.Add(time.Hour)} {
		_, err := svc.UpdateEvent(ctx, "alice", mid.ID, guard.UpdateRequest{RecordedAt: timep(bad)})
		require.ErrorIs(t, err, domain.ErrInvalidOperation, "recorded_at %s", bad)
	}

	upd, err := svc.UpdateEvent(ctx, "alice", mid.ID, guard.UpdateRequest{RecordedAt: timep(t0.Add(15 * time.Minute))})
	require.NoError(t, err)
	assert.True(t, t0.Add(15*time.Minute).Equal(upd.Event.RecordedAt))
}

func TestEditRejections(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	clock.Advance(time.Minute)
	hand, err := svc.RecordHandComplete(ctx, "alice", id, nil)
	require.NoError(t, err)
	events, err := svc.ListBySession(ctx, "alice", id)
	require.NoError(t, err)
	startEv := events[0]

	_, err = svc.UpdateEvent(ctx, "alice", startEv.ID, guard.UpdateRequest{Amount: int64p(5)})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	_, err = svc.DeleteEvent(ctx, "alice", startEv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	_, err = svc.UpdateEvent(ctx, "alice", hand.ID, guard.UpdateRequest{Amount: int64p(5)})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	_, err = svc.UpdateEvent(ctx, "alice", hand.ID, guard.UpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.UpdateEvent(ctx, "alice", "missing", guard.UpdateRequest{Amount: int64p(5)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOtherActorsSessionsAreInvisible(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})
	clock.Advance(time.Minute)
	ev, err := svc.UpdateStack(ctx, "alice", id, 90, nil)
	require.NoError(t, err)

	_, err = svc.ListBySession(ctx, "mallory", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.UpdateStack(ctx, "mallory", id, 0, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.DeleteEvent(ctx, "mallory", ev.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.EndSession(ctx, "mallory", id, EndInput{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAppendRecordedAt(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})
	clock.Advance(time.Hour)

	_, err := svc.UpdateStack(ctx, "alice", id, 50, timep(t0.Add(-time.Second)))
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	_, err = svc.UpdateStack(ctx, "alice", id, 50, timep(t0.Add(2*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	ev, err := svc.RecordAllIn(ctx, "alice", id, AllInInput{Amount: 400, RecordedAt: timep(t0.Add(30 * time.Minute))})
	require.NoError(t, err)
	assert.True(t, t0.Add(30*time.Minute).Equal(ev.RecordedAt))
	assert.Equal(t, domain.EventAllIn, ev.Type)
}

func TestSeatPlayer(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 100})

	_, err := svc.SeatPlayer(ctx, "alice", id, 11, "Doyle")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.SeatPlayer(ctx, "alice", id, 3, "Doyle")
	require.NoError(t, err)
	_, err = svc.SeatPlayer(ctx, "alice", id, 3, "Phil")
	require.NoError(t, err)
	_, err = svc.SeatPlayer(ctx, "alice", id, 1, "Daniel")
	require.NoError(t, err)

	active, err := svc.GetActiveSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []derive.Seat{{SeatNumber: 1, PlayerName: "Daniel"}, {SeatNumber: 3, PlayerName: "Phil"}}, active.View.Seats)
}

type failingStore struct {
	storage.Store
	err error
}

func (f failingStore) WithinTx(context.Context, func(context.Context, storage.Tx) error) error {
	return f.err
}

func TestInfrastructureErrorsPassThrough(t *testing.T) {
	boom := errors.New("disk on fire")
	svc := New(failingStore{Store: memory.New(), err: boom})

	_, err := svc.StartSession(context.Background(), "alice", StartInput{BuyIn: 100})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domain.Kind(""), domain.KindOf(err))

	_, err = New(failingStore{Store: memory.New(), err: storage.ErrActiveSessionExists}).
		StartSession(context.Background(), "alice", StartInput{BuyIn: 100})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// countingStore counts UpdateSession calls made inside its transactions.
type countingStore struct {
	storage.Store
	updates *int
}

func (c countingStore) WithinTx(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	return c.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, countingTx{Tx: tx, updates: c.updates})
	})
}

type countingTx struct {
	storage.Tx
	updates *int
}

func (c countingTx) UpdateSession(ctx context.Context, s domain.Session) error {
	*c.updates++
	return c.Tx.UpdateSession(ctx, s)
}

func TestBuyInTotalStaysWithinMaxAmount(t *testing.T) {
	var updates int
	clock := &fakeClock{now: t0}
	svc := New(countingStore{Store: memory.New(), updates: &updates}, WithClock(clock.Now))
	ctx := context.Background()

	_, err := svc.StartSession(ctx, "alice", StartInput{BuyIn: domain.MaxAmount + 1})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	id := start(t, svc, "alice", StartInput{BuyIn: domain.MaxAmount - 10})
	clock.Advance(time.Minute)

	_, err = svc.RecordRebuy(ctx, "alice", id, BuyInInput{Cost: math.MaxInt64})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	res, err := svc.RecordRebuy(ctx, "alice", id, BuyInInput{Cost: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.MaxAmount, res.BuyInTotal)

	before := updates
	_, err = svc.RecordAddon(ctx, "alice", id, BuyInInput{Cost: 1})
	require.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.Equal(t, before, updates)

	_, err = svc.UpdateEvent(ctx, "alice", res.Event.ID, guard.UpdateRequest{Amount: int64p(11)})
	require.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.Equal(t, before, updates)

	events, err := svc.ListBySession(ctx, "alice", id)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, domain.MaxAmount, buyInTotal(t, svc, "alice"))

	end, err := svc.EndSession(ctx, "alice", id, EndInput{CashOut: 0})
	require.NoError(t, err)
	assert.Equal(t, -domain.MaxAmount, end.ProfitLoss)
}

func TestGetSessionIncludesEnded(t *testing.T) {
	svc, clock := newService(t)
	ctx := context.Background()
	id := start(t, svc, "alice", StartInput{BuyIn: 200})

	sv, err := svc.GetSession(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, derive.StateActive, sv.View.State)

	clock.Advance(time.Hour)
	_, err = svc.EndSession(ctx, "alice", id, EndInput{CashOut: 50})
	require.NoError(t, err)

	sv, err = svc.GetSession(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, derive.StateEnded, sv.View.State)
	assert.Equal(t, time.Hour, sv.View.Elapsed)

	_, err = svc.GetSession(ctx, "bob", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetSession(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

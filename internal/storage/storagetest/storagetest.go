// Package storagetest is a behavioural suite every storage.Store backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/sessionledger/internal/domain"
	"example.com/sessionledger/internal/storage"
)

// Factory returns a fresh, empty store. Cleanup is the factory's concern.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

var errRollback = errors.New("rollback")

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFindActive", func(t *testing.T) { testCreateAndFindActive(t, newStore(t)) })
	t.Run("OneActivePerOwner", func(t *testing.T) { testOneActivePerOwner(t, newStore(t)) })
	t.Run("AppendAssignsSequence", func(t *testing.T) { testAppendAssignsSequence(t, newStore(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
	t.Run("UpdateAndDeleteEvents", func(t *testing.T) { testUpdateAndDeleteEvents(t, newStore(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newStore(t)) })
}

func newSession(owner string) domain.Session {
	return domain.Session{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		StoreID:      "store-1",
		GameType:     domain.GameCash,
		Active:       true,
		StartTime:    base,
		InitialBuyIn: 200,
		BuyInTotal:   200,
	}
}

func create(t *testing.T, st storage.Store, sess domain.Session) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateSession(ctx, sess)
	})
	require.NoError(t, err)
}

func appendStack(t *testing.T, st storage.Store, sess domain.Session, amount int64, at time.Time) domain.SessionEvent {
	t.Helper()
	var out domain.SessionEvent
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.AppendEvent(ctx, domain.SessionEvent{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			OwnerID:    sess.OwnerID,
			Type:       domain.EventStackUpdate,
			Payload:    domain.StackUpdatePayload{Amount: amount},
			RecordedAt: at,
		})
		return err
	})
	require.NoError(t, err)
	return out
}

func listEvents(t *testing.T, st storage.Store, sessionID string) []domain.SessionEvent {
	t.Helper()
	var out []domain.SessionEvent
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListEvents(ctx, sessionID)
		return err
	})
	require.NoError(t, err)
	return out
}

func testCreateAndFindActive(t *testing.T, st storage.Store) {
	sess := newSession("alice")
	sess.Tournament = &domain.TournamentSnapshot{
		Name:        "Sunday Major",
		StartingFee: 109,
		BlindLevels: []domain.BlindLevel{{Level: 1, SmallBlind: 25, BigBlind: 50, DurationMinutes: 20}},
	}
	sess.GameType = domain.GameTournament
	stack := int64(20000)
	sess.InitialStack = &stack
	create(t, st, sess)

	var got domain.Session
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		got, err = tx.FindActiveSession(ctx, "alice")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "store-1", got.StoreID)
	assert.True(t, got.Active)
	assert.True(t, base.Equal(got.StartTime))
	assert.Nil(t, got.EndTime)
	require.NotNil(t, got.InitialStack)
	assert.Equal(t, int64(20000), *got.InitialStack)
	require.NotNil(t, got.Tournament)
	assert.Equal(t, "Sunday Major", got.Tournament.Name)
	assert.Len(t, got.Tournament.BlindLevels, 1)

	err = st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.FindActiveSession(ctx, "bob")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testOneActivePerOwner(t *testing.T, st storage.Store) {
	first := newSession("alice")
	create(t, st, first)

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateSession(ctx, newSession("alice"))
	})
	require.ErrorIs(t, err, storage.ErrActiveSessionExists)

	// A different owner is unaffected.
	create(t, st, newSession("bob"))

	// Ending the first session frees the slot.
	err = st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		sess, err := tx.LockSession(ctx, first.ID)
		if err != nil {
			return err
		}
		end := base.Add(2 * time.Hour)
		cash := int64(350)
		sess.Active = false
		sess.EndTime = &end
		sess.CashOut = &cash
		return tx.UpdateSession(ctx, sess)
	})
	require.NoError(t, err)
	create(t, st, newSession("alice"))

	err = st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		sess, err := tx.LockSession(ctx, first.ID)
		if err != nil {
			return err
		}
		assert.False(t, sess.Active)
		require.NotNil(t, sess.CashOut)
		assert.Equal(t, int64(350), *sess.CashOut)
		require.NotNil(t, sess.EndTime)
		assert.True(t, base.Add(2*time.Hour).Equal(*sess.EndTime))
		return nil
	})
	require.NoError(t, err)
}

func testAppendAssignsSequence(t *testing.T, st storage.Store) {
	sess := newSession("alice")
	create(t, st, sess)

	at := base.Add(1500 * time.Microsecond)
	first := appendStack(t, st, sess, 100, at)
	second := appendStack(t, st, sess, 150, base.Add(time.Minute))

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.True(t, base.Add(time.Millisecond).Equal(first.RecordedAt))

	events := listEvents(t, st, sess.ID)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, domain.StackUpdatePayload{Amount: 150}, events[1].Payload)
	assert.True(t, first.RecordedAt.Equal(events[0].RecordedAt))

	assert.Empty(t, listEvents(t, st, uuid.NewString()))
}

func testConcurrentAppends(t *testing.T, st storage.Store) {
	sess := newSession("alice")
	create(t, st, sess)

	const writers = 8
	const perWriter = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
					if _, err := tx.LockSession(ctx, sess.ID); err != nil {
						return err
					}
					_, err := tx.AppendEvent(ctx, domain.SessionEvent{
						ID:         uuid.NewString(),
						SessionID:  sess.ID,
						OwnerID:    sess.OwnerID,
						Type:       domain.EventHandComplete,
						Payload:    domain.HandCompletePayload{},
						RecordedAt: base,
					})
					return err
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events := listEvents(t, st, sess.ID)
	require.Len(t, events, writers*perWriter)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence, "sequence gap at index %d", i)
	}
}

func testUpdateAndDeleteEvents(t *testing.T, st storage.Store) {
	sess := newSession("alice")
	create(t, st, sess)
	a := appendStack(t, st, sess, 100, base)
	b := appendStack(t, st, sess, 200, base.Add(time.Minute))
	c := appendStack(t, st, sess, 300, base.Add(2*time.Minute))

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		b.Payload = domain.StackUpdatePayload{Amount: 250}
		b.RecordedAt = base.Add(90 * time.Second)
		return tx.UpdateEvent(ctx, b)
	})
	require.NoError(t, err)

	err = st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetEvent(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.StackUpdatePayload{Amount: 250}, got.Payload)
		assert.True(t, base.Add(90*time.Second).Equal(got.RecordedAt))
		assert.Equal(t, b.Sequence, got.Sequence)
		return nil
	})
	require.NoError(t, err)

	err = st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteEvents(ctx, sess.ID, []string{a.ID, c.ID})
	})
	require.NoError(t, err)

	events := listEvents(t, st, sess.ID)
	require.Len(t, events, 1)
	assert.Equal(t, b.ID, events[0].ID)

	// Sequences are never reused after deletion.
	d := appendStack(t, st, sess, 400, base.Add(3*time.Minute))
	assert.Equal(t, int64(4), d.Sequence)
}

func testRollback(t *testing.T, st storage.Store) {
	sess := newSession("alice")
	create(t, st, sess)
	kept := appendStack(t, st, sess, 100, base)

	err := st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.AppendEvent(ctx, domain.SessionEvent{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			OwnerID:    sess.OwnerID,
			Type:       domain.EventRebuy,
			Payload:    domain.RebuyPayload{Cost: 100},
			RecordedAt: base.Add(time.Minute),
		}); err != nil {
			return err
		}
		s, err := tx.LockSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		s.BuyInTotal += 100
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}
		if err := tx.DeleteEvents(ctx, sess.ID, []string{kept.ID}); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	events := listEvents(t, st, sess.ID)
	require.Len(t, events, 1)
	assert.Equal(t, kept.ID, events[0].ID)

	err = st.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		s, err := tx.LockSession(ctx, sess.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(200), s.BuyInTotal)
		assert.Equal(t, int64(1), s.LastSequence)
		return nil
	})
	require.NoError(t, err)

	// The sequence consumed by the rolled-back append is handed out again.
	next := appendStack(t, st, sess, 150, base.Add(2*time.Minute))
	assert.Equal(t, int64(2), next.Sequence)
}

func testMissing(t *testing.T, st storage.Store) {
	sess := newSession("alice")
	create(t, st, sess)
	ev := appendStack(t, st, sess, 100, base)

	cases := map[string]func(ctx context.Context, tx storage.Tx) error{
		"lock": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.LockSession(ctx, uuid.NewString())
			return err
		},
		"get event": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.GetEvent(ctx, uuid.NewString())
			return err
		},
		"append to unknown session": func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.AppendEvent(ctx, domain.SessionEvent{
				ID: uuid.NewString(), SessionID: uuid.NewString(), OwnerID: "alice",
				Type: domain.EventHandComplete, Payload: domain.HandCompletePayload{}, RecordedAt: base,
			})
			return err
		},
		"update unknown event": func(ctx context.Context, tx storage.Tx) error {
			return tx.UpdateEvent(ctx, domain.SessionEvent{
				ID: uuid.NewString(), SessionID: sess.ID, Type: domain.EventStackUpdate,
				Payload: domain.StackUpdatePayload{Amount: 1}, RecordedAt: base,
			})
		},
		"delete from other session": func(ctx context.Context, tx storage.Tx) error {
			return tx.DeleteEvents(ctx, uuid.NewString(), []string{ev.ID})
		},
		"update unknown session": func(ctx context.Context, tx storage.Tx) error {
			s := newSession("carol")
			return tx.UpdateSession(ctx, s)
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			err := st.WithinTx(context.Background(), fn)
			assert.ErrorIs(t, err, storage.ErrNotFound, fmt.Sprintf("%s should report not found", name))
		})
	}

	// A failed delete leaves the event in place.
	assert.Len(t, listEvents(t, st, sess.ID), 1)
}

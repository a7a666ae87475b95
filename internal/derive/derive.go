// Package derive replays a session's ordered event list into its live view.
//
// Derive is pure: the same session, events and reference time always give
// the same LiveView. It never fails; malformed sequences (orphan resumes,
// doubled pauses, edited timestamps that run backwards) degrade to best
// effort values instead of errors.
package derive

import (
	"math"
	"sort"
	"time"

	"example.com/sessionledger/internal/domain"
)

type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

// Break is one pause interval. End is nil while the session is still paused.
type Break struct {
	PauseEventID  string        `json:"pause_event_id"`
	ResumeEventID string        `json:"resume_event_id,omitempty"`
	Start         time.Time     `json:"start"`
	End           *time.Time    `json:"end,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// HandGroup collapses a run of consecutive hand_complete events, or holds a
// single hands_passed event.
type HandGroup struct {
	Kind          domain.EventType `json:"kind"`
	FirstSequence int64            `json:"first_sequence"`
	LastSequence  int64            `json:"last_sequence"`
	Hands         int              `json:"hands"`
	Start         time.Time        `json:"start"`
	End           time.Time        `json:"end"`
}

type LastHand struct {
	EventID    string           `json:"event_id"`
	RecordedAt time.Time        `json:"recorded_at"`
	Position   *domain.Position `json:"position,omitempty"`
}

type Seat struct {
	SeatNumber int    `json:"seat_number"`
	PlayerName string `json:"player_name"`
}

// LiveView is the materialised state of a session.
type LiveView struct {
	SessionID      string        `json:"session_id"`
	State          State         `json:"state"`
	CurrentStack   int64         `json:"current_stack"`
	BuyInTotal     int64         `json:"buy_in_total"`
	ProfitLoss     *int64        `json:"profit_loss,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
	ActiveElapsed  time.Duration `json:"active_elapsed"`
	PausedDuration time.Duration `json:"paused_duration"`
	Paused         bool          `json:"paused"`
	PausedSince    *time.Time    `json:"paused_since,omitempty"`
	Breaks         []Break       `json:"breaks"`
	HandCount      int           `json:"hand_count"`
	HandGroups     []HandGroup   `json:"hand_groups"`
	LastHand       *LastHand     `json:"last_hand,omitempty"`
	Seats          []Seat        `json:"seats"`
	AllIns         int           `json:"all_ins"`
	EventCount     int           `json:"event_count"`
	LastSequence   int64         `json:"last_sequence"`
}

type openPause struct {
	eventID string
	at      time.Time
}

// Derive folds events (in any order; they are replayed by sequence) into a
// LiveView. now bounds elapsed time for sessions that have not ended.
func Derive(s domain.Session, events []domain.SessionEvent, now time.Time) LiveView {
	ordered := Ordered(events)

	v := LiveView{
		SessionID:    s.ID,
		CurrentStack: s.InitialBuyIn,
		BuyInTotal:   s.BuyInTotal,
		ProfitLoss:   s.ProfitLoss(),
		StartedAt:    s.StartTime,
		EventCount:   len(ordered),
		LastSequence: s.LastSequence,
		Breaks:       []Break{},
		HandGroups:   []HandGroup{},
		Seats:        []Seat{},
	}

	var pending *openPause
	seats := map[int]string{}
	for i, ev := range ordered {
		if ev.Sequence > v.LastSequence {
			v.LastSequence = ev.Sequence
		}
		switch p := ev.Payload.(type) {
		case domain.SessionStartPayload:
			v.StartedAt = ev.RecordedAt
		case domain.SessionEndPayload:
			at := ev.RecordedAt
			v.EndedAt = &at
		case domain.SessionPausePayload:
			// A pause followed by another pause before any resume is
			// unpaired and contributes nothing.
			pending = &openPause{eventID: ev.ID, at: ev.RecordedAt}
		case domain.SessionResumePayload:
			if pending == nil {
				continue
			}
			end := ev.RecordedAt
			v.Breaks = append(v.Breaks, Break{
				PauseEventID:  pending.eventID,
				ResumeEventID: ev.ID,
				Start:         pending.at,
				End:           &end,
				Duration:      nonNegative(end.Sub(pending.at)),
			})
			pending = nil
		case domain.StackUpdatePayload:
			v.CurrentStack = p.Amount
		case domain.RebuyPayload:
			if p.Chips != nil {
				v.CurrentStack = addChips(v.CurrentStack, *p.Chips)
			}
		case domain.AddonPayload:
			if p.Chips != nil {
				v.CurrentStack = addChips(v.CurrentStack, *p.Chips)
			}
		case domain.AllInPayload:
			v.AllIns++
		case domain.PlayerSeatedPayload:
			seats[p.SeatNumber] = p.PlayerName
		case domain.HandCompletePayload:
			v.HandCount++
			if n := len(v.HandGroups); n > 0 && v.HandGroups[n-1].Kind == domain.EventHandComplete &&
				i > 0 && ordered[i-1].Type == domain.EventHandComplete {
				g := &v.HandGroups[n-1]
				g.Hands++
				g.LastSequence = ev.Sequence
				g.End = ev.RecordedAt
			} else {
				v.HandGroups = append(v.HandGroups, HandGroup{
					Kind:          domain.EventHandComplete,
					FirstSequence: ev.Sequence,
					LastSequence:  ev.Sequence,
					Hands:         1,
					Start:         ev.RecordedAt,
					End:           ev.RecordedAt,
				})
			}
		case domain.HandsPassedPayload:
			v.HandCount += p.Count
			v.HandGroups = append(v.HandGroups, HandGroup{
				Kind:          domain.EventHandsPassed,
				FirstSequence: ev.Sequence,
				LastSequence:  ev.Sequence,
				Hands:         p.Count,
				Start:         ev.RecordedAt,
				End:           ev.RecordedAt,
			})
		}
	}

	ended := !s.Active || v.EndedAt != nil
	if ended && v.EndedAt == nil && s.EndTime != nil {
		at := *s.EndTime
		v.EndedAt = &at
	}
	until := now
	if ended && v.EndedAt != nil {
		until = *v.EndedAt
	}

	if pending != nil {
		b := Break{
			PauseEventID: pending.eventID,
			Start:        pending.at,
			Duration:     nonNegative(until.Sub(pending.at)),
		}
		if ended {
			end := until
			b.End = &end
		} else {
			v.Paused = true
			since := pending.at
			v.PausedSince = &since
		}
		v.Breaks = append(v.Breaks, b)
	}

	for _, b := range v.Breaks {
		v.PausedDuration += b.Duration
	}
	v.Elapsed = nonNegative(until.Sub(v.StartedAt))
	v.ActiveElapsed = nonNegative(v.Elapsed - v.PausedDuration)

	switch {
	case ended:
		v.State = StateEnded
	case v.Paused:
		v.State = StatePaused
	default:
		v.State = StateActive
	}

	v.LastHand = lastHand(ordered)

	for seat, name := range seats {
		v.Seats = append(v.Seats, Seat{SeatNumber: seat, PlayerName: name})
	}
	sort.Slice(v.Seats, func(i, j int) bool { return v.Seats[i].SeatNumber < v.Seats[j].SeatNumber })

	return v
}

// IsPaused reports whether the ordered events end in an unresumed pause.
func IsPaused(events []domain.SessionEvent) bool {
	paused := false
	for _, ev := range Ordered(events) {
		switch ev.Type {
		case domain.EventSessionPause:
			paused = true
		case domain.EventSessionResume:
			paused = false
		}
	}
	return paused
}

// Ordered returns a copy of events sorted by sequence.
func Ordered(events []domain.SessionEvent) []domain.SessionEvent {
	out := make([]domain.SessionEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func lastHand(ordered []domain.SessionEvent) *LastHand {
	for i := len(ordered) - 1; i >= 0; i-- {
		p, ok := ordered[i].Payload.(domain.HandCompletePayload)
		if !ok {
			continue
		}
		return &LastHand{
			EventID:    ordered[i].ID,
			RecordedAt: ordered[i].RecordedAt,
			Position:   p.Position,
		}
	}
	return nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// addChips adds without wrapping; the stack saturates at math.MaxInt64.
func addChips(stack, chips int64) int64 {
	if chips > 0 && stack > math.MaxInt64-chips {
		return math.MaxInt64
	}
	return stack + chips
}

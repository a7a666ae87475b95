package domain

import "time"

// EventType is the closed set of ledger event kinds.
type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventSessionPause  EventType = "session_pause"
	EventSessionResume EventType = "session_resume"
	EventPlayerSeated  EventType = "player_seated"
	EventStackUpdate   EventType = "stack_update"
	EventRebuy         EventType = "rebuy"
	EventAddon         EventType = "addon"
	EventAllIn         EventType = "all_in"
	EventHandComplete  EventType = "hand_complete"
	EventHandsPassed   EventType = "hands_passed"
)

var knownEventTypes = map[EventType]struct{}{
	EventSessionStart:  {},
	EventSessionEnd:    {},
	EventSessionPause:  {},
	EventSessionResume: {},
	EventPlayerSeated:  {},
	EventStackUpdate:   {},
	EventRebuy:         {},
	EventAddon:         {},
	EventAllIn:         {},
	EventHandComplete:  {},
	EventHandsPassed:   {},
}

// Valid reports whether t belongs to the closed enumeration.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Immutable reports whether events of this type can never be edited or deleted.
func (t EventType) Immutable() bool {
	return t == EventSessionStart || t == EventSessionEnd
}

// AmountBearing reports whether the amount of this type may be edited.
func (t EventType) AmountBearing() bool {
	switch t {
	case EventStackUpdate, EventRebuy, EventAddon, EventAllIn:
		return true
	}
	return false
}

// AffectsBuyIn reports whether the payload amount of this type is part of
// the session's aggregate buy-in total.
func (t EventType) AffectsBuyIn() bool {
	return t == EventRebuy || t == EventAddon
}

// SessionEvent is one entry of a session ledger.
// Sequence orders events for replay; RecordedAt is the logical time the
// event represents and may be edited independently of Sequence.
type SessionEvent struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	Type       EventType `json:"type"`
	Payload    Payload   `json:"payload"`
	Sequence   int64     `json:"sequence"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Validation constraints
const (
	MaxSeats         = 10
	MaxPlayerNameLen = 64
	MaxStoreIDLen    = 128
	MaxActorIDLen    = 128
	MaxHandsPassed   = 1_000
	MaxBlindLevels   = 100
	MaxPrizeEntries  = 1_000
	MaxTournamentLen = 256

	// MaxAmount bounds every money and chip value, and the buy-in total, in
	// minor units.
	MaxAmount int64 = 1_000_000_000_000_000
)

// TimePrecision is the resolution every backend persists recorded-at values with.
const TimePrecision = time.Millisecond

// NormalizeTime converts t to the canonical UTC millisecond form used for
// storage and adjacency comparisons.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}

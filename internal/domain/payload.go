package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PayloadVersion is the current shape version of every payload type.
const PayloadVersion = 1

// Payload is the type-specific body of a SessionEvent. Each EventType has
// exactly one payload struct; only the fields valid for that type exist.
type Payload interface {
	EventType() EventType
}

// AmountPayload is implemented by payloads whose amount may be edited.
type AmountPayload interface {
	Payload
	AmountValue() int64
	WithAmount(amount int64) Payload
}

type SessionStartPayload struct {
	BuyIn        int64    `json:"buy_in"`
	GameType     GameType `json:"game_type"`
	InitialStack *int64   `json:"initial_stack,omitempty"`
}

type SessionEndPayload struct {
	CashOut       int64 `json:"cash_out"`
	FinalPosition *int  `json:"final_position,omitempty"`
}

type SessionPausePayload struct{}

type SessionResumePayload struct{}

type PlayerSeatedPayload struct {
	SeatNumber int    `json:"seat_number"`
	PlayerName string `json:"player_name"`
}

// StackUpdatePayload replaces the running stack with Amount.
type StackUpdatePayload struct {
	Amount int64 `json:"amount"`
}

// RebuyPayload adds Cost to the buy-in total and Chips (if any) to the stack.
type RebuyPayload struct {
	Cost  int64  `json:"cost"`
	Chips *int64 `json:"chips,omitempty"`
}

// AddonPayload has the same accounting as RebuyPayload.
type AddonPayload struct {
	Cost  int64  `json:"cost"`
	Chips *int64 `json:"chips,omitempty"`
}

type AllInPayload struct {
	Amount int64    `json:"amount"`
	Equity *float64 `json:"equity,omitempty"`
}

type HandCompletePayload struct {
	Position *Position `json:"position,omitempty"`
}

type HandsPassedPayload struct {
	Count int `json:"count"`
}

func (SessionStartPayload) EventType() EventType  { return EventSessionStart }
func (SessionEndPayload) EventType() EventType    { return EventSessionEnd }
func (SessionPausePayload) EventType() EventType  { return EventSessionPause }
func (SessionResumePayload) EventType() EventType { return EventSessionResume }
func (PlayerSeatedPayload) EventType() EventType  { return EventPlayerSeated }
func (StackUpdatePayload) EventType() EventType   { return EventStackUpdate }
func (RebuyPayload) EventType() EventType         { return EventRebuy }
func (AddonPayload) EventType() EventType         { return EventAddon }
func (AllInPayload) EventType() EventType         { return EventAllIn }
func (HandCompletePayload) EventType() EventType  { return EventHandComplete }
func (HandsPassedPayload) EventType() EventType   { return EventHandsPassed }

func (p StackUpdatePayload) AmountValue() int64 { return p.Amount }
func (p RebuyPayload) AmountValue() int64       { return p.Cost }
func (p AddonPayload) AmountValue() int64       { return p.Cost }
func (p AllInPayload) AmountValue() int64       { return p.Amount }

func (p StackUpdatePayload) WithAmount(amount int64) Payload {
	p.Amount = amount
	return p
}

func (p RebuyPayload) WithAmount(amount int64) Payload {
	p.Cost = amount
	return p
}

func (p AddonPayload) WithAmount(amount int64) Payload {
	p.Cost = amount
	return p
}

func (p AllInPayload) WithAmount(amount int64) Payload {
	p.Amount = amount
	return p
}

// EncodePayload renders p as the JSON document stored next to the event.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: nil payload")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload %s: %w", p.EventType(), err)
	}
	return b, nil
}

// DecodePayload parses a stored document into the payload struct for t.
// Unknown fields and unknown versions are rejected so that only the closed
// set of shapes ever reaches the derivation engine.
func DecodePayload(t EventType, version int, raw []byte) (Payload, error) {
	if version != PayloadVersion {
		return nil, fmt.Errorf("decode payload %s: unsupported version %d", t, version)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case EventSessionStart:
		return decodeInto[SessionStartPayload](t, raw)
	case EventSessionEnd:
		return decodeInto[SessionEndPayload](t, raw)
	case EventSessionPause:
		return decodeInto[SessionPausePayload](t, raw)
	case EventSessionResume:
		return decodeInto[SessionResumePayload](t, raw)
	case EventPlayerSeated:
		return decodeInto[PlayerSeatedPayload](t, raw)
	case EventStackUpdate:
		return decodeInto[StackUpdatePayload](t, raw)
	case EventRebuy:
		return decodeInto[RebuyPayload](t, raw)
	case EventAddon:
		return decodeInto[AddonPayload](t, raw)
	case EventAllIn:
		return decodeInto[AllInPayload](t, raw)
	case EventHandComplete:
		return decodeInto[HandCompletePayload](t, raw)
	case EventHandsPassed:
		return decodeInto[HandsPassedPayload](t, raw)
	}
	return nil, fmt.Errorf("decode payload: unknown event type %q", t)
}

func decodeInto[P Payload](t EventType, raw []byte) (Payload, error) {
	var p P
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", t, err)
	}
	return p, nil
}

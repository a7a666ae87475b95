package domain

import "time"

type GameType string

const (
	GameCash       GameType = "cash"
	GameTournament GameType = "tournament"
)

func (g GameType) Valid() bool { return g == GameCash || g == GameTournament }

// Position is a table-position tag attached to a completed hand.
type Position string

const (
	PositionButton     Position = "BTN"
	PositionSmallBlind Position = "SB"
	PositionBigBlind   Position = "BB"
	PositionUTG        Position = "UTG"
	PositionUTG1       Position = "UTG1"
	PositionUTG2       Position = "UTG2"
	PositionMiddle     Position = "MP"
	PositionLojack     Position = "LJ"
	PositionHijack     Position = "HJ"
	PositionCutoff     Position = "CO"
)

func (p Position) Valid() bool {
	switch p {
	case PositionButton, PositionSmallBlind, PositionBigBlind, PositionUTG, PositionUTG1,
		PositionUTG2, PositionMiddle, PositionLojack, PositionHijack, PositionCutoff:
		return true
	}
	return false
}

// Session is the aggregate root of one playing session.
//
// BuyInTotal is the only aggregate field mutated after start (by rebuy and
// addon events); pause state is never stored and is derived from events.
type Session struct {
	ID            string              `json:"id"`
	OwnerID       string              `json:"owner_id"`
	StoreID       string              `json:"store_id,omitempty"`
	GameType      GameType            `json:"game_type"`
	Active        bool                `json:"active"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       *time.Time          `json:"end_time,omitempty"`
	InitialBuyIn  int64               `json:"initial_buy_in"`
	BuyInTotal    int64               `json:"buy_in_total"`
	CashOut       *int64              `json:"cash_out,omitempty"`
	FinalPosition *int                `json:"final_position,omitempty"`
	InitialStack  *int64              `json:"initial_stack,omitempty"`
	LastSequence  int64               `json:"last_sequence"`
	Tournament    *TournamentSnapshot `json:"tournament,omitempty"`
}

// ProfitLoss is cash-out minus total buy-in, or nil while the session runs.
func (s Session) ProfitLoss() *int64 {
	if s.CashOut == nil {
		return nil
	}
	pl := *s.CashOut - s.BuyInTotal
	return &pl
}

// TournamentSnapshot is a session-local copy of tournament settings taken at
// start, so later edits to shared templates never alter a running session.
type TournamentSnapshot struct {
	Name        string       `json:"name,omitempty"`
	StartingFee int64        `json:"starting_fee,omitempty"`
	Entrants    *int         `json:"entrants,omitempty"`
	BlindLevels []BlindLevel `json:"blind_levels,omitempty"`
	Prizes      []PrizeEntry `json:"prizes,omitempty"`
}

type BlindLevel struct {
	Level           int   `json:"level"`
	SmallBlind      int64 `json:"small_blind"`
	BigBlind        int64 `json:"big_blind"`
	Ante            int64 `json:"ante,omitempty"`
	DurationMinutes int   `json:"duration_minutes"`
}

type PrizeEntry struct {
	Place  int   `json:"place"`
	Amount int64 `json:"amount"`
}

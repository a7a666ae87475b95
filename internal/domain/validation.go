package domain

import (
	"fmt"
	"strings"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidateActor checks the opaque actor identifier passed with every call.
func ValidateActor(actorID string) []FieldError {
	switch {
	case strings.TrimSpace(actorID) == "":
		return []FieldError{{"actor_id", "required"}}
	case len(actorID) > MaxActorIDLen:
		return []FieldError{{"actor_id", fmt.Sprintf("max length %d", MaxActorIDLen)}}
	}
	return nil
}

// ValidatePayload performs the per-type shape checks shared by appends and edits.
func ValidatePayload(p Payload) []FieldError {
	var errs []FieldError
	switch v := p.(type) {
	case SessionStartPayload:
		if !v.GameType.Valid() {
			errs = append(errs, FieldError{"game_type", "must be cash or tournament"})
		}
		errs = appendAmount(errs, "buy_in", v.BuyIn, 0)
		if v.InitialStack != nil {
			if v.GameType != GameTournament {
				errs = append(errs, FieldError{"initial_stack", "only allowed for tournaments"})
			} else {
				errs = appendAmount(errs, "initial_stack", *v.InitialStack, 1)
			}
		}
	case SessionEndPayload:
		errs = appendAmount(errs, "cash_out", v.CashOut, 0)
		if v.FinalPosition != nil && *v.FinalPosition < 1 {
			errs = append(errs, FieldError{"final_position", "must be >= 1"})
		}
	case SessionPausePayload, SessionResumePayload:
	case PlayerSeatedPayload:
		if v.SeatNumber < 1 || v.SeatNumber > MaxSeats {
			errs = append(errs, FieldError{"seat_number", fmt.Sprintf("must be between 1 and %d", MaxSeats)})
		}
		name := strings.TrimSpace(v.PlayerName)
		if name == "" {
			errs = append(errs, FieldError{"player_name", "required"})
		} else if len(name) > MaxPlayerNameLen {
			errs = append(errs, FieldError{"player_name", fmt.Sprintf("max length %d", MaxPlayerNameLen)})
		}
	case StackUpdatePayload:
		errs = appendAmount(errs, "amount", v.Amount, 0)
	case RebuyPayload:
		errs = append(errs, validateCostChips(v.Cost, v.Chips)...)
	case AddonPayload:
		errs = append(errs, validateCostChips(v.Cost, v.Chips)...)
	case AllInPayload:
		errs = appendAmount(errs, "amount", v.Amount, 1)
		if v.Equity != nil && (*v.Equity < 0 || *v.Equity > 100) {
			errs = append(errs, FieldError{"equity", "must be between 0 and 100"})
		}
	case HandCompletePayload:
		if v.Position != nil && !v.Position.Valid() {
			errs = append(errs, FieldError{"position", "unknown table position"})
		}
	case HandsPassedPayload:
		if v.Count < 1 || v.Count > MaxHandsPassed {
			errs = append(errs, FieldError{"count", fmt.Sprintf("must be between 1 and %d", MaxHandsPassed)})
		}
	default:
		errs = append(errs, FieldError{"type", "unknown event type"})
	}
	return errs
}

// ValidateAmount checks a replacement amount for an amount-bearing type.
func ValidateAmount(t EventType, amount int64) []FieldError {
	switch t {
	case EventStackUpdate:
		return appendAmount(nil, "amount", amount, 0)
	case EventRebuy, EventAddon, EventAllIn:
		return appendAmount(nil, "amount", amount, 1)
	}
	return nil
}

func validateCostChips(cost int64, chips *int64) []FieldError {
	errs := appendAmount(nil, "cost", cost, 1)
	if chips != nil {
		errs = appendAmount(errs, "chips", *chips, 0)
	}
	return errs
}

// appendAmount records a field error unless floor <= v <= MaxAmount.
func appendAmount(errs []FieldError, field string, v, floor int64) []FieldError {
	switch {
	case v < floor:
		return append(errs, FieldError{field, fmt.Sprintf("must be >= %d", floor)})
	case v > MaxAmount:
		return append(errs, FieldError{field, fmt.Sprintf("must be <= %d", MaxAmount)})
	}
	return errs
}

// AddBuyIn applies delta to a session's buy-in total, refusing results
// outside [0, MaxAmount].
func AddBuyIn(total, delta int64) (int64, error) {
	next := total + delta
	if next < 0 || next > MaxAmount || (delta > 0 && next < total) {
		return total, InvalidOperation(fmt.Sprintf("buy-in total would leave the range 0..%d", MaxAmount))
	}
	return next, nil
}

// ValidateTournament checks the optional tournament snapshot captured at start.
func ValidateTournament(t *TournamentSnapshot) []FieldError {
	if t == nil {
		return nil
	}
	var errs []FieldError
	if len(t.Name) > MaxTournamentLen {
		errs = append(errs, FieldError{"tournament.name", fmt.Sprintf("max length %d", MaxTournamentLen)})
	}
	errs = appendAmount(errs, "tournament.starting_fee", t.StartingFee, 0)
	if t.Entrants != nil && *t.Entrants < 1 {
		errs = append(errs, FieldError{"tournament.entrants", "must be >= 1"})
	}
	if len(t.BlindLevels) > MaxBlindLevels {
		errs = append(errs, FieldError{"tournament.blind_levels", fmt.Sprintf("max %d items", MaxBlindLevels)})
	} else {
		for i, l := range t.BlindLevels {
			k := fmt.Sprintf("tournament.blind_levels[%d]", i)
			if l.Level < 1 {
				errs = append(errs, FieldError{k + ".level", "must be >= 1"})
			}
			if l.SmallBlind < 0 || l.BigBlind < l.SmallBlind || l.BigBlind > MaxAmount {
				errs = append(errs, FieldError{k + ".big_blind", "must be >= small_blind >= 0"})
			}
			errs = appendAmount(errs, k+".ante", l.Ante, 0)
			if l.DurationMinutes < 1 {
				errs = append(errs, FieldError{k + ".duration_minutes", "must be >= 1"})
			}
		}
	}
	if len(t.Prizes) > MaxPrizeEntries {
		errs = append(errs, FieldError{"tournament.prizes", fmt.Sprintf("max %d items", MaxPrizeEntries)})
	} else {
		for i, p := range t.Prizes {
			k := fmt.Sprintf("tournament.prizes[%d]", i)
			if p.Place < 1 {
				errs = append(errs, FieldError{k + ".place", "must be >= 1"})
			}
			errs = appendAmount(errs, k+".amount", p.Amount, 0)
		}
	}
	return errs
}

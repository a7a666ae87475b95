package transporthttp

import (
	"time"

	"example.com/sessionledger/internal/derive"
)

// Durations leave the API as integer milliseconds.

type breakResp struct {
	PauseEventID  string     `json:"pause_event_id"`
	ResumeEventID string     `json:"resume_event_id,omitempty"`
	Start         time.Time  `json:"start"`
	End           *time.Time `json:"end,omitempty"`
	DurationMS    int64      `json:"duration_ms"`
}

type liveViewResp struct {
	SessionID        string             `json:"session_id"`
	State            derive.State       `json:"state"`
	CurrentStack     int64              `json:"current_stack"`
	BuyInTotal       int64              `json:"buy_in_total"`
	ProfitLoss       *int64             `json:"profit_loss,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	EndedAt          *time.Time         `json:"ended_at,omitempty"`
	ElapsedMS        int64              `json:"elapsed_ms"`
	ActiveElapsedMS  int64              `json:"active_elapsed_ms"`
	PausedDurationMS int64              `json:"paused_duration_ms"`
	Paused           bool               `json:"paused"`
	PausedSince      *time.Time         `json:"paused_since,omitempty"`
	Breaks           []breakResp        `json:"breaks"`
	HandCount        int                `json:"hand_count"`
	HandGroups       []derive.HandGroup `json:"hand_groups"`
	LastHand         *derive.LastHand   `json:"last_hand,omitempty"`
	Seats            []derive.Seat      `json:"seats"`
	AllIns           int                `json:"all_ins"`
	EventCount       int                `json:"event_count"`
	LastSequence     int64              `json:"last_sequence"`
}

func newLiveViewResp(v derive.LiveView) liveViewResp {
	breaks := make([]breakResp, 0, len(v.Breaks))
	for _, b := range v.Breaks {
		breaks = append(breaks, breakResp{
			PauseEventID:  b.PauseEventID,
			ResumeEventID: b.ResumeEventID,
			Start:         b.Start,
			End:           b.End,
			DurationMS:    b.Duration.Milliseconds(),
		})
	}
	return liveViewResp{
		SessionID:        v.SessionID,
		State:            v.State,
		CurrentStack:     v.CurrentStack,
		BuyInTotal:       v.BuyInTotal,
		ProfitLoss:       v.ProfitLoss,
		StartedAt:        v.StartedAt,
		EndedAt:          v.EndedAt,
		ElapsedMS:        v.Elapsed.Milliseconds(),
		ActiveElapsedMS:  v.ActiveElapsed.Milliseconds(),
		PausedDurationMS: v.PausedDuration.Milliseconds(),
		Paused:           v.Paused,
		PausedSince:      v.PausedSince,
		Breaks:           breaks,
		HandCount:        v.HandCount,
		HandGroups:       v.HandGroups,
		LastHand:         v.LastHand,
		Seats:            v.Seats,
		AllIns:           v.AllIns,
		EventCount:       v.EventCount,
		LastSequence:     v.LastSequence,
	}
}

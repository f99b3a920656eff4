package models

import "time"

// MatchState mirrors the match_state ENUM in the database.
//
// Allowed transitions:
//
//	not_started → called → checked_in → in_progress → pending_confirmation → completed
//	pending_confirmation → checked_in (dispute: winner flags cleared, re-report allowed)
//	any non-terminal state → dq
type MatchState string

const (
	MatchStateNotStarted          MatchState = "not_started"
	MatchStateCalled              MatchState = "called"
	MatchStateCheckedIn           MatchState = "checked_in"
	MatchStateInProgress          MatchState = "in_progress"
	MatchStatePendingConfirmation MatchState = "pending_confirmation"
	MatchStateCompleted           MatchState = "completed"
	MatchStateDQ                  MatchState = "dq"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s MatchState) Terminal() bool {
	return s == MatchStateCompleted || s == MatchStateDQ
}

// ReportableStates are the states from which a score report is accepted.
var ReportableStates = []MatchState{MatchStateCheckedIn, MatchStateInProgress}

type Match struct {
	ID              int        `json:"id" db:"id"`
	EventID         int        `json:"event_id" db:"event_id"`
	RemoteSetID     string     `json:"remote_set_id" db:"remote_set_id"`
	Round           string     `json:"round" db:"round"`
	State           MatchState `json:"state" db:"state"`
	ThreadRef       *string    `json:"thread_ref,omitempty" db:"thread_ref"`
	CheckInDeadline *time.Time `json:"check_in_deadline,omitempty" db:"check_in_deadline"`
	SyncPending     bool       `json:"sync_pending" db:"sync_pending"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`

	// Exactly two players per match.
	Players []MatchPlayer `json:"players,omitempty" db:"-"`
}

// PlayerBySlot returns the player occupying the given slot (1 or 2), if loaded.
func (m *Match) PlayerBySlot(slot int) *MatchPlayer {
	for i := range m.Players {
		if m.Players[i].Slot == slot {
			return &m.Players[i]
		}
	}
	return nil
}

// PlayerByUser returns the player linked to the given local user, if any.
func (m *Match) PlayerByUser(userID int) *MatchPlayer {
	for i := range m.Players {
		if m.Players[i].UserID != nil && *m.Players[i].UserID == userID {
			return &m.Players[i]
		}
	}
	return nil
}

type MatchPlayer struct {
	ID              int        `json:"id" db:"id"`
	MatchID         int        `json:"match_id" db:"match_id"`
	Slot            int        `json:"slot" db:"slot"`
	UserID          *int       `json:"user_id,omitempty" db:"user_id"`
	RemoteEntrantID int64      `json:"remote_entrant_id" db:"remote_entrant_id"`
	DisplayName     string     `json:"display_name" db:"display_name"`
	CheckedIn       bool       `json:"checked_in" db:"checked_in"`
	CheckedInAt     *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	Score           *string    `json:"score,omitempty" db:"score"`
	// Winner is nil while the match outcome is undecided.
	Winner       *bool `json:"winner,omitempty" db:"winner"`
	Disqualified bool  `json:"disqualified" db:"disqualified"`
}

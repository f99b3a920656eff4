package models

import "time"

// ResultPushStatus mirrors the result_push_status ENUM in the database.
type ResultPushStatus string

const (
	ResultPushPending ResultPushStatus = "pending"
	ResultPushSent    ResultPushStatus = "sent"
	ResultPushFailed  ResultPushStatus = "failed"
)

// ResultPush is an outbound work item: a locally accepted match result that
// still has to be reported to the remote bracket API. Local state is the
// authority; a failed push never reverses the completed match.
type ResultPush struct {
	ID              int              `json:"id" db:"id"`
	MatchID         int              `json:"match_id" db:"match_id"`
	TournamentID    int              `json:"tournament_id" db:"tournament_id"`
	RemoteSetID     string           `json:"remote_set_id" db:"remote_set_id"`
	WinnerEntrantID int64            `json:"winner_entrant_id" db:"winner_entrant_id"`
	Score           *string          `json:"score,omitempty" db:"score"`
	Status          ResultPushStatus `json:"status" db:"status"`
	Attempts        int              `json:"attempts" db:"attempts"`
	NextAttemptAt   time.Time        `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

package models

import "time"

// EventPhase mirrors the event_phase ENUM in the database.
type EventPhase string

const (
	EventPhaseCreated   EventPhase = "created"
	EventPhaseActive    EventPhase = "active"
	EventPhaseCompleted EventPhase = "completed"
)

type Event struct {
	ID            int        `json:"id" db:"id"`
	TournamentID  int        `json:"tournament_id" db:"tournament_id"`
	RemoteEventID int64      `json:"remote_event_id" db:"remote_event_id"`
	Name          string     `json:"name" db:"name"`
	Phase         EventPhase `json:"phase" db:"phase"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

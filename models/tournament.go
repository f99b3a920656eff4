package models

import "time"

// TournamentPhase mirrors the tournament_phase ENUM in the database.
type TournamentPhase string

const (
	PhaseCreated            TournamentPhase = "created"
	PhaseRegistrationOpen   TournamentPhase = "registration_open"
	PhaseRegistrationClosed TournamentPhase = "registration_closed"
	PhaseInProgress         TournamentPhase = "in_progress"
	PhaseCompleted          TournamentPhase = "completed"
	PhaseCancelled          TournamentPhase = "cancelled"
)

// Terminal reports whether polling for this phase should stop.
func (p TournamentPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Active reports whether the tournament needs the short poll interval.
func (p TournamentPhase) Active() bool {
	return p == PhaseRegistrationOpen || p == PhaseInProgress
}

type Tournament struct {
	ID           int             `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	RemoteSlug   string          `json:"remote_slug" db:"remote_slug"`
	OwnerUserID  int             `json:"owner_user_id" db:"owner_user_id"`
	Phase        TournamentPhase `json:"phase" db:"phase"`
	ChannelRef   *string         `json:"channel_ref,omitempty" db:"channel_ref"`
	LastPolledAt *time.Time      `json:"last_polled_at,omitempty" db:"last_polled_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`

	Events []Event `json:"events,omitempty" db:"-"`
}

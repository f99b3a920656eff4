package models

import "time"

// RegistrationStatus mirrors the registration_status ENUM in the database.
type RegistrationStatus string

const (
	RegistrationPending      RegistrationStatus = "pending"
	RegistrationConfirmed    RegistrationStatus = "confirmed"
	RegistrationDisqualified RegistrationStatus = "disqualified"
	RegistrationCancelled    RegistrationStatus = "cancelled"
)

// Registration links a remote entrant to a local identity for one event.
// UserID is nil for ghost registrations (entrant with no known local user).
// RemoteEntrantID is nil for registrations created locally before the player
// showed up on the remote side.
type Registration struct {
	ID              int                `json:"id" db:"id"`
	EventID         int                `json:"event_id" db:"event_id"`
	UserID          *int               `json:"user_id,omitempty" db:"user_id"`
	RemoteEntrantID *int64             `json:"remote_entrant_id,omitempty" db:"remote_entrant_id"`
	DisplayName     string             `json:"display_name" db:"display_name"`
	Status          RegistrationStatus `json:"status" db:"status"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// Ghost reports whether the registration has no linked local user.
func (r *Registration) Ghost() bool { return r.UserID == nil }

package models

import "time"

// User is a local identity. At least one of ChatPlatformID and RemoteUserID
// must be set, otherwise the row is an orphan nothing can ever match.
type User struct {
	ID             int       `json:"id" db:"id"`
	Tag            string    `json:"tag" db:"tag"`
	ChatPlatformID *string   `json:"chat_platform_id,omitempty" db:"chat_platform_id"`
	RemoteUserID   *string   `json:"remote_user_id,omitempty" db:"remote_user_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

package services

import "errors"

// ReasonCode explains the outcome of a lifecycle operation. Handlers map
// codes to HTTP statuses; chat surfaces map them to user-facing text.
type ReasonCode string

const (
	ReasonOK               ReasonCode = "OK"
	ReasonAlreadyCheckedIn ReasonCode = "ALREADY_CHECKED_IN"
	ReasonInvalidState     ReasonCode = "INVALID_STATE"
	ReasonNotAParticipant  ReasonCode = "NOT_A_PARTICIPANT"
	ReasonStateChanged     ReasonCode = "STATE_CHANGED"
	ReasonSelfConfirm      ReasonCode = "SELF_CONFIRM_FORBIDDEN"
	ReasonMatchNotFound    ReasonCode = "MATCH_NOT_FOUND"
)

var (
	ErrTournamentNotPollable = errors.New("tournament is not pollable")
	ErrNoCredential          = errors.New("no credential configured for tournament")
	ErrSyncFailed            = errors.New("synchronization failed")
)

// ActorIdentity is the authenticated caller of a lifecycle operation,
// extracted from the request by middleware and passed down explicitly.
type ActorIdentity struct {
	UserID int
}

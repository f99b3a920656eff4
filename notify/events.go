package notify

// EventType identifies a lifecycle announcement pushed to subscribers.
type EventType string

const (
	EventMatchReady          EventType = "match_ready"
	EventMatchCalled         EventType = "match_called"
	EventBothCheckedIn       EventType = "both_checked_in"
	EventResultPending       EventType = "result_pending"
	EventResultDisputed      EventType = "result_disputed"
	EventMatchCompleted      EventType = "match_completed"
	EventPlayerDisqualified  EventType = "player_disqualified"
	EventRegistrationsSynced EventType = "registrations_synced"
)

type Event struct {
	Type         EventType   `json:"type"`
	TournamentID int         `json:"tournament_id"`
	Payload      interface{} `json:"payload,omitempty"`
}

// Publisher fans lifecycle events out to whoever is listening for a
// tournament. Implementations must not block the caller.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher discards everything. Used where announcements are optional.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

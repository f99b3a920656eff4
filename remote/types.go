package remote

// SetState is the remote API's lifecycle state for a set.
type SetState string

const (
	// SetStatePending: still waiting on entrants. SetStateReady: both
	// entrants assigned, play not started.
	SetStatePending   SetState = "pending"
	SetStateReady     SetState = "ready"
	SetStateStarted   SetState = "started"
	SetStateCompleted SetState = "completed"
)

// Participant is one person behind an entrant (teams have several).
type Participant struct {
	RemoteUserID *string `json:"remoteUserId"`
	GamerTag     string  `json:"gamerTag"`
}

// SetSlot is one side of a set.
type SetSlot struct {
	EntrantID int64  `json:"entrantId"`
	Name      string `json:"name"`
}

// Set is a single match within the remote bracket.
type Set struct {
	ID              string    `json:"id"`
	Round           string    `json:"round"`
	State           SetState  `json:"state"`
	Slots           []SetSlot `json:"slots"`
	WinnerEntrantID *int64    `json:"winnerEntrantId"`
	DisplayScore    *string   `json:"displayScore"`
}

// Ready reports whether both entrants are assigned and play has not started.
func (s *Set) Ready() bool {
	return s.State == SetStateReady && len(s.Slots) == 2
}

// Entrant is a registered competitor on the remote side.
type Entrant struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Disqualified bool          `json:"disqualified"`
	Participants []Participant `json:"participants"`
}

// Event is one bracket within a remote tournament.
type Event struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Tournament is the remote tournament header.
type Tournament struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	State  string  `json:"state"`
	Events []Event `json:"events"`
}

type pageInfo struct {
	TotalPages int `json:"totalPages"`
}

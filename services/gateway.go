package services

import (
	"context"

	"github.com/bracketlab/bracket-engine/remote"
)

// BracketGateway is the slice of the remote API the synchronization services
// consume. *remote.Gateway satisfies it; tests substitute fakes.
type BracketGateway interface {
	GetTournament(ctx context.Context, token, slug string) (*remote.Tournament, error)
	ListEventSets(ctx context.Context, token string, remoteEventID int64) ([]remote.Set, error)
	ListEventEntrants(ctx context.Context, token string, remoteEventID int64) ([]remote.Entrant, error)
	ReportSetResult(ctx context.Context, token, remoteSetID string, winnerEntrantID int64, displayScore *string) error
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/remote"
	"github.com/bracketlab/bracket-engine/repositories"
	"github.com/bracketlab/bracket-engine/storage"
)

// PollService runs one reconciliation cycle for a tournament: refresh the
// header, upsert events, then fan out per-event registration and match sync.
// Per-event failures are collected and reported together; only an AuthError
// aborts the whole poll, since a bad credential is bad for every event.
type PollService interface {
	// PollTournament returns the tournament's phase after the poll so the
	// caller can pick the next poll interval.
	PollTournament(ctx context.Context, tournamentID int) (models.TournamentPhase, error)
	PollStatus(ctx context.Context, tournamentID int) (*PollStatus, error)
}

type PollStatus struct {
	TournamentID int                    `json:"tournament_id"`
	Phase        models.TournamentPhase `json:"phase"`
	LastPolledAt *time.Time             `json:"last_polled_at,omitempty"`
	NextPollAt   *time.Time             `json:"next_poll_at,omitempty"`
}

type pollService struct {
	gateway        BracketGateway
	credentials    remote.CredentialProvider
	tournamentRepo repositories.TournamentRepository
	eventRepo      repositories.EventRepository
	matchRepo      repositories.MatchRepository
	matchSync      MatchSyncService
	regSync        RegistrationSyncService
	uploader       storage.SnapshotUploader
	pollDeadline   time.Duration
	logger         *slog.Logger
}

func NewPollService(
	gateway BracketGateway,
	credentials remote.CredentialProvider,
	tournamentRepo repositories.TournamentRepository,
	eventRepo repositories.EventRepository,
	matchRepo repositories.MatchRepository,
	matchSync MatchSyncService,
	regSync RegistrationSyncService,
	uploader storage.SnapshotUploader,
	pollDeadline time.Duration,
	logger *slog.Logger,
) PollService {
	return &pollService{
		gateway:        gateway,
		credentials:    credentials,
		tournamentRepo: tournamentRepo,
		eventRepo:      eventRepo,
		matchRepo:      matchRepo,
		matchSync:      matchSync,
		regSync:        regSync,
		uploader:       uploader,
		pollDeadline:   pollDeadline,
		logger:         logger,
	}
}

func (s *pollService) PollTournament(ctx context.Context, tournamentID int) (models.TournamentPhase, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		return "", err
	}
	if tournament.Phase.Terminal() {
		return tournament.Phase, fmt.Errorf("tournament %d: %w", tournamentID, ErrTournamentNotPollable)
	}

	// An abandoned poll leaves last_polled_at unadvanced, so the next
	// scheduled run retries naturally.
	ctx, cancel := context.WithTimeout(ctx, s.pollDeadline)
	defer cancel()

	token, err := s.credentials.Credential(ctx, tournamentID)
	if err != nil {
		return tournament.Phase, fmt.Errorf("%w: tournament %d: %w", ErrNoCredential, tournamentID, err)
	}

	remoteTournament, err := s.gateway.GetTournament(ctx, token, tournament.RemoteSlug)
	if err != nil {
		return tournament.Phase, fmt.Errorf("failed to fetch tournament %d: %w", tournamentID, err)
	}

	phase := tournament.Phase
	if mapped, ok := mapRemotePhase(remoteTournament.State); ok && mapped != phase {
		if err := s.tournamentRepo.UpdatePhase(ctx, tournamentID, mapped); err != nil {
			return phase, err
		}
		s.logger.Info("tournament phase changed",
			slog.Int("tournament_id", tournamentID),
			slog.String("from", string(phase)), slog.String("to", string(mapped)))
		phase = mapped
	}

	events := make([]*models.Event, 0, len(remoteTournament.Events))
	for _, re := range remoteTournament.Events {
		event, err := s.eventRepo.UpsertRemote(ctx, tournamentID, re.ID, re.Name, mapRemoteEventPhase(re.State))
		if err != nil {
			return phase, err
		}
		events = append(events, event)
	}

	if err := s.syncEvents(ctx, token, events); err != nil {
		return phase, err
	}

	if err := s.tournamentRepo.UpdateLastPolledAt(ctx, tournamentID, time.Now()); err != nil {
		return phase, err
	}

	s.exportSnapshot(ctx, tournamentID, events)
	return phase, nil
}

// syncEvents fans out per-event work. Registrations go first so match sync
// can link players to the users it just resolved.
func (s *pollService) syncEvents(ctx context.Context, token string, events []*models.Event) error {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var eventErrs []error
	for _, event := range events {
		event := event
		g.Go(func() error {
			if _, err := s.regSync.SyncEventRegistrations(ctx, token, event); err != nil {
				if remote.IsAuthError(err) {
					return err
				}
				mu.Lock()
				eventErrs = append(eventErrs, fmt.Errorf("registrations of event %d: %w", event.ID, err))
				mu.Unlock()
			}
			if _, err := s.matchSync.SyncEventMatches(ctx, token, event); err != nil {
				if remote.IsAuthError(err) {
					return err
				}
				mu.Lock()
				eventErrs = append(eventErrs, fmt.Errorf("matches of event %d: %w", event.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(eventErrs) > 0 {
		return errors.Join(eventErrs...)
	}
	return nil
}

func (s *pollService) PollStatus(ctx context.Context, tournamentID int) (*PollStatus, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	return &PollStatus{
		TournamentID: tournament.ID,
		Phase:        tournament.Phase,
		LastPolledAt: tournament.LastPolledAt,
	}, nil
}

type bracketSnapshot struct {
	TournamentID int             `json:"tournament_id"`
	TakenAt      time.Time       `json:"taken_at"`
	Events       []eventSnapshot `json:"events"`
}

type eventSnapshot struct {
	Event   *models.Event   `json:"event"`
	Matches []*models.Match `json:"matches"`
}

// exportSnapshot uploads a JSON dump of the bracket for operator audit.
// Strictly best-effort; a failed upload never fails the poll.
func (s *pollService) exportSnapshot(ctx context.Context, tournamentID int, events []*models.Event) {
	if s.uploader == nil {
		return
	}

	snapshot := bracketSnapshot{TournamentID: tournamentID, TakenAt: time.Now()}
	for _, event := range events {
		matches, err := s.matchRepo.MapByRemoteSetID(ctx, event.ID)
		if err != nil {
			s.logger.Warn("skipping snapshot, match load failed",
				slog.Int("tournament_id", tournamentID), slog.Any("error", err))
			return
		}
		es := eventSnapshot{Event: event, Matches: make([]*models.Match, 0, len(matches))}
		for _, m := range matches {
			es.Matches = append(es.Matches, m)
		}
		snapshot.Events = append(snapshot.Events, es)
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("skipping snapshot, marshal failed",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}

	key := fmt.Sprintf("snapshots/%d/%s.json", tournamentID, snapshot.TakenAt.UTC().Format("20060102T150405Z"))
	if _, err := s.uploader.Upload(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		s.logger.Warn("snapshot upload failed",
			slog.Int("tournament_id", tournamentID), slog.String("key", key), slog.Any("error", err))
	}
}

func mapRemotePhase(state string) (models.TournamentPhase, bool) {
	switch state {
	case "created":
		return models.PhaseCreated, true
	case "registration":
		return models.PhaseRegistrationOpen, true
	case "registration_closed":
		return models.PhaseRegistrationClosed, true
	case "active", "in_progress":
		return models.PhaseInProgress, true
	case "completed":
		return models.PhaseCompleted, true
	case "cancelled":
		return models.PhaseCancelled, true
	default:
		return "", false
	}
}

func mapRemoteEventPhase(state string) models.EventPhase {
	switch state {
	case "completed":
		return models.EventPhaseCompleted
	case "active", "in_progress":
		return models.EventPhaseActive
	default:
		return models.EventPhaseCreated
	}
}

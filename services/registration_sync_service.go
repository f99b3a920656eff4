package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/notify"
	"github.com/bracketlab/bracket-engine/remote"
	"github.com/bracketlab/bracket-engine/repositories"
)

// RegistrationSyncService links remote entrants to local identities.
//
// Matching priority per entrant, first match wins:
//  1. an existing registration already tagged with the remote entrant id
//  2. a local user whose remote-service account id matches a participant
//  3. a local user whose tag matches the entrant's name case-insensitively
//  4. none: a ghost registration, so operators still see the entrant
type RegistrationSyncService interface {
	SyncEventRegistrations(ctx context.Context, token string, event *models.Event) (*RegistrationSyncStats, error)
}

type RegistrationSyncStats struct {
	Created int `json:"created"`
	Linked  int `json:"linked"`
	Updated int `json:"updated"`
}

type registrationSyncService struct {
	gateway   BracketGateway
	regRepo   repositories.RegistrationRepository
	userRepo  repositories.UserRepository
	txRunner  repositories.TxRunner
	publisher notify.Publisher
	pageSize  int
	logger    *slog.Logger
}

func NewRegistrationSyncService(
	gateway BracketGateway,
	regRepo repositories.RegistrationRepository,
	userRepo repositories.UserRepository,
	txRunner repositories.TxRunner,
	publisher notify.Publisher,
	pageSize int,
	logger *slog.Logger,
) RegistrationSyncService {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &registrationSyncService{
		gateway:   gateway,
		regRepo:   regRepo,
		userRepo:  userRepo,
		txRunner:  txRunner,
		publisher: publisher,
		pageSize:  pageSize,
		logger:    logger,
	}
}

func (s *registrationSyncService) SyncEventRegistrations(ctx context.Context, token string, event *models.Event) (*RegistrationSyncStats, error) {
	entrants, err := s.gateway.ListEventEntrants(ctx, token, event.RemoteEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entrants for event %d: %w", event.ID, err)
	}

	stats := &RegistrationSyncStats{}
	var entrantErrs []error
	// Candidate users are fetched per chunk, never the whole table: the
	// working set stays proportional to the page size.
	for start := 0; start < len(entrants); start += s.pageSize {
		end := start + s.pageSize
		if end > len(entrants) {
			end = len(entrants)
		}
		chunk := entrants[start:end]

		byRemoteID, byTag, err := s.fetchCandidates(ctx, chunk)
		if err != nil {
			return stats, err
		}

		for i := range chunk {
			entrant := &chunk[i]
			if err := s.syncEntrant(ctx, event, entrant, byRemoteID, byTag, stats); err != nil {
				entrantErrs = append(entrantErrs, fmt.Errorf("entrant %d: %w", entrant.ID, err))
			}
		}
	}

	if len(entrantErrs) > 0 {
		return stats, fmt.Errorf("%w: event %d: %w", ErrSyncFailed, event.ID, errors.Join(entrantErrs...))
	}

	if stats.Created+stats.Linked+stats.Updated > 0 {
		s.publisher.Publish(notify.Event{
			Type:         notify.EventRegistrationsSynced,
			TournamentID: event.TournamentID,
			Payload:      stats,
		})
	}
	return stats, nil
}

func (s *registrationSyncService) fetchCandidates(ctx context.Context, entrants []remote.Entrant) (map[string]*models.User, map[string]*models.User, error) {
	remoteIDs := make([]string, 0)
	tags := make([]string, 0)
	seenID := make(map[string]bool)
	seenTag := make(map[string]bool)
	for i := range entrants {
		entrant := &entrants[i]
		for _, p := range entrant.Participants {
			if p.RemoteUserID != nil && !seenID[*p.RemoteUserID] {
				seenID[*p.RemoteUserID] = true
				remoteIDs = append(remoteIDs, *p.RemoteUserID)
			}
			tag := strings.ToLower(p.GamerTag)
			if tag != "" && !seenTag[tag] {
				seenTag[tag] = true
				tags = append(tags, tag)
			}
		}
		name := strings.ToLower(entrant.Name)
		if name != "" && !seenTag[name] {
			seenTag[name] = true
			tags = append(tags, name)
		}
	}

	byRemoteID := make(map[string]*models.User)
	if users, err := s.userRepo.FindByRemoteUserIDs(ctx, remoteIDs); err != nil {
		return nil, nil, err
	} else {
		for _, u := range users {
			if u.RemoteUserID != nil {
				byRemoteID[*u.RemoteUserID] = u
			}
		}
	}

	byTag := make(map[string]*models.User)
	if users, err := s.userRepo.FindByTags(ctx, tags); err != nil {
		return nil, nil, err
	} else {
		for _, u := range users {
			byTag[strings.ToLower(u.Tag)] = u
		}
	}
	return byRemoteID, byTag, nil
}

// matchUser applies priorities 2 and 3. Priority 1 is checked inside the
// transaction, since it must see concurrent writers.
func (s *registrationSyncService) matchUser(entrant *remote.Entrant, byRemoteID, byTag map[string]*models.User) *models.User {
	for _, p := range entrant.Participants {
		if p.RemoteUserID != nil {
			if u, ok := byRemoteID[*p.RemoteUserID]; ok {
				return u
			}
		}
	}
	if u, ok := byTag[strings.ToLower(entrant.Name)]; ok {
		return u
	}
	for _, p := range entrant.Participants {
		if u, ok := byTag[strings.ToLower(p.GamerTag)]; ok {
			return u
		}
	}
	return nil
}

func (s *registrationSyncService) syncEntrant(ctx context.Context, event *models.Event, entrant *remote.Entrant, byRemoteID, byTag map[string]*models.User, stats *RegistrationSyncStats) error {
	status := models.RegistrationConfirmed
	if entrant.Disqualified {
		status = models.RegistrationDisqualified
	}
	matched := s.matchUser(entrant, byRemoteID, byTag)

	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		// Re-check inside the transaction: a concurrent sync run may have
		// processed this entrant between the batch fetch and now.
		existing, err := s.regRepo.FindByEventAndEntrant(ctx, exec, event.ID, entrant.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status == status {
				return nil
			}
			if err := s.regRepo.UpdateStatus(ctx, exec, existing.ID, status); err != nil {
				return err
			}
			stats.Updated++
			return nil
		}

		if matched != nil {
			local, err := s.regRepo.FindByEventAndUser(ctx, exec, event.ID, matched.ID)
			if err != nil {
				return err
			}
			if local != nil && local.RemoteEntrantID == nil {
				// A registration created locally before the player appeared
				// remotely: link it instead of creating a duplicate.
				if err := s.regRepo.LinkRemoteEntrant(ctx, exec, local.ID, entrant.ID); err != nil {
					return err
				}
				if local.Status != status {
					if err := s.regRepo.UpdateStatus(ctx, exec, local.ID, status); err != nil {
						return err
					}
				}
				stats.Linked++
				return nil
			}
			if local == nil {
				entrantID := entrant.ID
				reg := &models.Registration{
					EventID:         event.ID,
					UserID:          &matched.ID,
					RemoteEntrantID: &entrantID,
					DisplayName:     entrant.Name,
					Status:          status,
				}
				if err := s.regRepo.Create(ctx, exec, reg); err != nil {
					return err
				}
				stats.Created++
				return nil
			}
			// The user already has a registration tied to a different remote
			// entrant. Fall through to a ghost so the entrant stays visible.
		}

		entrantID := entrant.ID
		ghost := &models.Registration{
			EventID:         event.ID,
			RemoteEntrantID: &entrantID,
			DisplayName:     entrant.Name,
			Status:          status,
		}
		if err := s.regRepo.Create(ctx, exec, ghost); err != nil {
			return err
		}
		stats.Created++
		return nil
	})
	if err != nil {
		// Another sync run created the same registration concurrently. The
		// partial unique index resolved the race; this run simply lost.
		if errors.Is(err, repositories.ErrRegistrationConflict) {
			s.logger.Debug("registration already exists, skipping",
				slog.Int("event_id", event.ID), slog.Int64("remote_entrant_id", entrant.ID))
			return nil
		}
		return err
	}
	return nil
}

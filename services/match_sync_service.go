package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/notify"
	"github.com/bracketlab/bracket-engine/remote"
	"github.com/bracketlab/bracket-engine/repositories"
)

// MatchSyncService reconciles the remote bracket's sets into local matches.
// One run issues a constant number of database queries per event regardless
// of set count: one batch load of existing matches, one batch entrant-to-user
// mapping, plus the writes for whatever actually changed.
type MatchSyncService interface {
	SyncEventMatches(ctx context.Context, token string, event *models.Event) (*MatchSyncStats, error)
}

// MatchSyncStats summarizes one reconciliation run.
type MatchSyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

type matchSyncService struct {
	gateway   BracketGateway
	matchRepo repositories.MatchRepository
	regRepo   repositories.RegistrationRepository
	txRunner  repositories.TxRunner
	publisher notify.Publisher
	logger    *slog.Logger
}

func NewMatchSyncService(
	gateway BracketGateway,
	matchRepo repositories.MatchRepository,
	regRepo repositories.RegistrationRepository,
	txRunner repositories.TxRunner,
	publisher notify.Publisher,
	logger *slog.Logger,
) MatchSyncService {
	return &matchSyncService{
		gateway:   gateway,
		matchRepo: matchRepo,
		regRepo:   regRepo,
		txRunner:  txRunner,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *matchSyncService) SyncEventMatches(ctx context.Context, token string, event *models.Event) (*MatchSyncStats, error) {
	sets, err := s.gateway.ListEventSets(ctx, token, event.RemoteEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sets for event %d: %w", event.ID, err)
	}

	existing, err := s.matchRepo.MapByRemoteSetID(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	userByEntrant, err := s.mapNewEntrants(ctx, event.ID, sets, existing)
	if err != nil {
		return nil, err
	}

	stats := &MatchSyncStats{}
	var setErrs []error
	for i := range sets {
		set := &sets[i]
		match, known := existing[set.ID]
		switch {
		case !known && set.Ready():
			created, err := s.createMatch(ctx, event, set, userByEntrant)
			if err != nil {
				setErrs = append(setErrs, fmt.Errorf("set %s: %w", set.ID, err))
			} else if created {
				stats.Created++
			}
		case known && set.State == remote.SetStateCompleted && !match.State.Terminal():
			updated, err := s.applyRemoteResult(ctx, match, set)
			if err != nil {
				setErrs = append(setErrs, fmt.Errorf("set %s: %w", set.ID, err))
			} else if updated {
				stats.Updated++
			}
		}
	}
	if len(setErrs) > 0 {
		return stats, fmt.Errorf("%w: event %d: %w", ErrSyncFailed, event.ID, errors.Join(setErrs...))
	}
	return stats, nil
}

// mapNewEntrants batch-resolves local users for the entrants of sets that do
// not exist locally yet. Sets already known need no lookup.
func (s *matchSyncService) mapNewEntrants(ctx context.Context, eventID int, sets []remote.Set, existing map[string]*models.Match) (map[int64]int, error) {
	seen := make(map[int64]bool)
	entrantIDs := make([]int64, 0)
	for i := range sets {
		set := &sets[i]
		if _, known := existing[set.ID]; known || !set.Ready() {
			continue
		}
		for _, slot := range set.Slots {
			if !seen[slot.EntrantID] {
				seen[slot.EntrantID] = true
				entrantIDs = append(entrantIDs, slot.EntrantID)
			}
		}
	}
	return s.regRepo.MapUserIDsByEntrants(ctx, eventID, entrantIDs)
}

func (s *matchSyncService) createMatch(ctx context.Context, event *models.Event, set *remote.Set, userByEntrant map[int64]int) (bool, error) {
	match := &models.Match{
		EventID:     event.ID,
		RemoteSetID: set.ID,
		Round:       set.Round,
		State:       models.MatchStateNotStarted,
	}
	for i, slot := range set.Slots {
		player := models.MatchPlayer{
			Slot:            i + 1,
			RemoteEntrantID: slot.EntrantID,
			DisplayName:     slot.Name,
		}
		if userID, ok := userByEntrant[slot.EntrantID]; ok {
			player.UserID = &userID
		}
		match.Players = append(match.Players, player)
	}

	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		return s.matchRepo.Create(ctx, exec, match)
	})
	if err != nil {
		// A concurrent sync run created the same match first. The uniqueness
		// constraint did its job; nothing to repair.
		if errors.Is(err, repositories.ErrMatchConflict) {
			s.logger.Debug("match already exists, skipping",
				slog.Int("event_id", event.ID), slog.String("remote_set_id", set.ID))
			return false, nil
		}
		return false, err
	}

	s.publisher.Publish(notify.Event{
		Type:         notify.EventMatchReady,
		TournamentID: event.TournamentID,
		Payload:      map[string]any{"match_id": match.ID, "round": match.Round},
	})
	return true, nil
}

// applyRemoteResult finalizes a local match whose set completed on the remote
// side (reported by a tournament organizer out-of-band). The conditional
// transition keeps this safe against a concurrent local completion.
func (s *matchSyncService) applyRemoteResult(ctx context.Context, match *models.Match, set *remote.Set) (bool, error) {
	if set.WinnerEntrantID == nil {
		s.logger.Warn("remote set completed without a winner, skipping",
			slog.String("remote_set_id", set.ID))
		return false, nil
	}

	var winnerSlot int
	for i := range match.Players {
		if match.Players[i].RemoteEntrantID == *set.WinnerEntrantID {
			winnerSlot = match.Players[i].Slot
			break
		}
	}
	if winnerSlot == 0 {
		return false, fmt.Errorf("winner entrant %d is not a player of match %d", *set.WinnerEntrantID, match.ID)
	}

	nonTerminal := []models.MatchState{
		models.MatchStateNotStarted,
		models.MatchStateCalled,
		models.MatchStateCheckedIn,
		models.MatchStateInProgress,
		models.MatchStatePendingConfirmation,
	}
	winnerTrue, winnerFalse := true, false
	var moved bool
	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, match.ID, nonTerminal, models.MatchStateCompleted)
		if txErr != nil || !moved {
			return txErr
		}
		if txErr := s.matchRepo.SetPlayerWinner(ctx, exec, match.ID, winnerSlot, &winnerTrue); txErr != nil {
			return txErr
		}
		if txErr := s.matchRepo.SetPlayerWinner(ctx, exec, match.ID, opponentSlot(winnerSlot), &winnerFalse); txErr != nil {
			return txErr
		}
		if set.DisplayScore != nil {
			return s.matchRepo.SetPlayerScore(ctx, exec, match.ID, winnerSlot, set.DisplayScore)
		}
		return nil
	})
	return moved, err
}

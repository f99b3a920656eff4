package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/notify"
	"github.com/bracketlab/bracket-engine/repositories"
)

// LifecycleResult is the discriminated outcome of a lifecycle operation.
// Code carries the machine-readable reason; Match is the state after the
// operation when one was loaded.
type LifecycleResult struct {
	Code  ReasonCode    `json:"code"`
	Match *models.Match `json:"match,omitempty"`
}

func (r *LifecycleResult) OK() bool {
	return r != nil && r.Code == ReasonOK
}

// LifecycleService is the match state machine. Every transition is a
// conditional update guarded by the expected current state; a lost race is
// reported as STATE_CHANGED, never retried blindly.
type LifecycleService interface {
	// CallMatch moves a ready match to called, recording the notification
	// thread reference and the check-in deadline.
	CallMatch(ctx context.Context, matchID int, threadRef string) (*LifecycleResult, error)
	CheckIn(ctx context.Context, matchID int, actor ActorIdentity) (*LifecycleResult, error)
	// ReportScore records a result claim. Naming the opponent as winner
	// completes the match immediately (the loser has no reason to lie);
	// naming yourself requires the opponent's confirmation.
	ReportScore(ctx context.Context, matchID int, actor ActorIdentity, winnerSlot int, score *string) (*LifecycleResult, error)
	ConfirmResult(ctx context.Context, matchID int, actor ActorIdentity, accept bool) (*LifecycleResult, error)
	// Disqualify finalizes the match against the target slot. The actor is
	// recorded for the audit trail; authorization is the caller's concern.
	Disqualify(ctx context.Context, matchID int, actor ActorIdentity, targetSlot int) (*LifecycleResult, error)
	GetMatchStatus(ctx context.Context, matchID int) (*LifecycleResult, error)
}

type lifecycleService struct {
	matchRepo     repositories.MatchRepository
	eventRepo     repositories.EventRepository
	pushRepo      repositories.ResultPushRepository
	txRunner      repositories.TxRunner
	publisher     notify.Publisher
	checkInWindow time.Duration
	logger        *slog.Logger
}

func NewLifecycleService(
	matchRepo repositories.MatchRepository,
	eventRepo repositories.EventRepository,
	pushRepo repositories.ResultPushRepository,
	txRunner repositories.TxRunner,
	publisher notify.Publisher,
	checkInWindow time.Duration,
	logger *slog.Logger,
) LifecycleService {
	return &lifecycleService{
		matchRepo:     matchRepo,
		eventRepo:     eventRepo,
		pushRepo:      pushRepo,
		txRunner:      txRunner,
		publisher:     publisher,
		checkInWindow: checkInWindow,
		logger:        logger,
	}
}

func (s *lifecycleService) CallMatch(ctx context.Context, matchID int, threadRef string) (*LifecycleResult, error) {
	match, result, err := s.loadMatch(ctx, matchID)
	if match == nil {
		return result, err
	}
	if match.State != models.MatchStateNotStarted {
		return &LifecycleResult{Code: ReasonInvalidState, Match: match}, nil
	}

	deadline := time.Now().Add(s.checkInWindow)
	var moved bool
	err = s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, matchID, []models.MatchState{models.MatchStateNotStarted}, models.MatchStateCalled)
		if txErr != nil || !moved {
			return txErr
		}
		return s.matchRepo.SetCallDetails(ctx, exec, matchID, threadRef, deadline)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call match %d: %w", matchID, err)
	}
	if !moved {
		return &LifecycleResult{Code: ReasonStateChanged, Match: match}, nil
	}

	s.publishFor(ctx, match, notify.EventMatchCalled, map[string]any{
		"match_id":          matchID,
		"thread_ref":        threadRef,
		"check_in_deadline": deadline,
	})
	return s.reload(ctx, matchID)
}

func (s *lifecycleService) CheckIn(ctx context.Context, matchID int, actor ActorIdentity) (*LifecycleResult, error) {
	match, result, err := s.loadMatch(ctx, matchID)
	if match == nil {
		return result, err
	}
	player := match.PlayerByUser(actor.UserID)
	if player == nil {
		return &LifecycleResult{Code: ReasonNotAParticipant, Match: match}, nil
	}
	// Checked before the state gate: a duplicate check-in must read as a
	// duplicate even when the first one already started the match.
	if player.CheckedIn {
		return &LifecycleResult{Code: ReasonAlreadyCheckedIn, Match: match}, nil
	}
	if match.State != models.MatchStateCalled && match.State != models.MatchStateCheckedIn {
		return &LifecycleResult{Code: ReasonInvalidState, Match: match}, nil
	}

	// The guarded state update runs first: it takes the match-row lock, so a
	// concurrent check-in blocks on it and, once through, counts the other
	// player's committed write. Counting before the lock lets two first
	// check-ins each see only their own write, stranding the match one step
	// short of in_progress.
	var moved bool
	var checkedIn bool
	var bothReady bool
	err = s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, matchID,
			[]models.MatchState{models.MatchStateCalled, models.MatchStateCheckedIn}, models.MatchStateCheckedIn)
		if txErr != nil || !moved {
			return txErr
		}
		checkedIn, txErr = s.matchRepo.CheckInPlayer(ctx, exec, matchID, player.Slot)
		if txErr != nil || !checkedIn {
			return txErr
		}
		count, txErr := s.matchRepo.CountCheckedIn(ctx, exec, matchID)
		if txErr != nil {
			return txErr
		}
		if count == 2 {
			bothReady, txErr = s.matchRepo.UpdateStateIf(ctx, exec, matchID,
				[]models.MatchState{models.MatchStateCheckedIn}, models.MatchStateInProgress)
			return txErr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check in user %d for match %d: %w", actor.UserID, matchID, err)
	}
	if !moved {
		// The match left the check-in window between the snapshot read and
		// the lock. A duplicate check-in still reads as a duplicate.
		current, result, err := s.loadMatch(ctx, matchID)
		if current == nil {
			return result, err
		}
		if p := current.PlayerByUser(actor.UserID); p != nil && p.CheckedIn {
			return &LifecycleResult{Code: ReasonAlreadyCheckedIn, Match: current}, nil
		}
		return &LifecycleResult{Code: ReasonStateChanged, Match: current}, nil
	}
	if !checkedIn {
		return &LifecycleResult{Code: ReasonAlreadyCheckedIn, Match: match}, nil
	}

	if bothReady {
		s.publishFor(ctx, match, notify.EventBothCheckedIn, map[string]any{"match_id": matchID})
	}
	return s.reload(ctx, matchID)
}

func (s *lifecycleService) ReportScore(ctx context.Context, matchID int, actor ActorIdentity, winnerSlot int, score *string) (*LifecycleResult, error) {
	match, result, err := s.loadMatch(ctx, matchID)
	if match == nil {
		return result, err
	}
	reporter := match.PlayerByUser(actor.UserID)
	if reporter == nil {
		return &LifecycleResult{Code: ReasonNotAParticipant, Match: match}, nil
	}
	winner := match.PlayerBySlot(winnerSlot)
	if winner == nil {
		return &LifecycleResult{Code: ReasonNotAParticipant, Match: match}, nil
	}
	if !reportable(match.State) {
		return &LifecycleResult{Code: ReasonInvalidState, Match: match}, nil
	}

	if winnerSlot == reporter.Slot {
		return s.reportSelfWin(ctx, match, reporter, score)
	}
	return s.reportLoserConfirms(ctx, match, reporter, winner, score)
}

// reportSelfWin records a claim that needs the opponent's confirmation.
func (s *lifecycleService) reportSelfWin(ctx context.Context, match *models.Match, reporter *models.MatchPlayer, score *string) (*LifecycleResult, error) {
	winnerTrue := true
	var moved bool
	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, match.ID, models.ReportableStates, models.MatchStatePendingConfirmation)
		if txErr != nil || !moved {
			return txErr
		}
		if txErr = s.matchRepo.SetPlayerWinner(ctx, exec, match.ID, reporter.Slot, &winnerTrue); txErr != nil {
			return txErr
		}
		if txErr = s.matchRepo.SetPlayerWinner(ctx, exec, match.ID, opponentSlot(reporter.Slot), nil); txErr != nil {
			return txErr
		}
		if score != nil {
			return s.matchRepo.SetPlayerScore(ctx, exec, match.ID, reporter.Slot, score)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record report for match %d: %w", match.ID, err)
	}
	if !moved {
		return &LifecycleResult{Code: ReasonStateChanged, Match: match}, nil
	}

	s.publishFor(ctx, match, notify.EventResultPending, map[string]any{
		"match_id":      match.ID,
		"reporter_slot": reporter.Slot,
	})
	return s.reload(ctx, match.ID)
}

// reportLoserConfirms is the shortcut for a player naming the opponent as
// winner: the claim needs no confirmation, the match completes immediately.
func (s *lifecycleService) reportLoserConfirms(ctx context.Context, match *models.Match, reporter, winner *models.MatchPlayer, score *string) (*LifecycleResult, error) {
	winnerTrue, winnerFalse := true, false
	var moved bool
	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, match.ID, models.ReportableStates, models.MatchStateCompleted)
		if txErr != nil || !moved {
			return txErr
		}
		if txErr = s.matchRepo.SetPlayerWinner(ctx, exec, match.ID, winner.Slot, &winnerTrue); txErr != nil {
			return txErr
		}
		if txErr = s.matchRepo.SetPlayerWinner(ctx, exec, match.ID, reporter.Slot, &winnerFalse); txErr != nil {
			return txErr
		}
		if score != nil {
			if txErr = s.matchRepo.SetPlayerScore(ctx, exec, match.ID, winner.Slot, score); txErr != nil {
				return txErr
			}
		}
		return s.enqueuePush(ctx, exec, match, winner.RemoteEntrantID, score)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete match %d: %w", match.ID, err)
	}
	if !moved {
		return &LifecycleResult{Code: ReasonStateChanged, Match: match}, nil
	}

	s.publishFor(ctx, match, notify.EventMatchCompleted, map[string]any{
		"match_id":    match.ID,
		"winner_slot": winner.Slot,
	})
	return s.reload(ctx, match.ID)
}

func (s *lifecycleService) ConfirmResult(ctx context.Context, matchID int, actor ActorIdentity, accept bool) (*LifecycleResult, error) {
	match, result, err := s.loadMatch(ctx, matchID)
	if match == nil {
		return result, err
	}
	confirmer := match.PlayerByUser(actor.UserID)
	if confirmer == nil {
		return &LifecycleResult{Code: ReasonNotAParticipant, Match: match}, nil
	}
	if match.State != models.MatchStatePendingConfirmation {
		return &LifecycleResult{Code: ReasonInvalidState, Match: match}, nil
	}

	// The pending reporter is the player holding the provisional winner flag.
	if accept && confirmer.Winner != nil && *confirmer.Winner {
		return &LifecycleResult{Code: ReasonSelfConfirm, Match: match}, nil
	}

	if !accept {
		return s.dispute(ctx, match)
	}

	winner := match.PlayerBySlot(opponentSlot(confirmer.Slot))
	winnerFalse := false
	var moved bool
	err = s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, matchID,
			[]models.MatchState{models.MatchStatePendingConfirmation}, models.MatchStateCompleted)
		if txErr != nil || !moved {
			return txErr
		}
		if txErr = s.matchRepo.SetPlayerWinner(ctx, exec, matchID, confirmer.Slot, &winnerFalse); txErr != nil {
			return txErr
		}
		return s.enqueuePush(ctx, exec, match, winner.RemoteEntrantID, winner.Score)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to confirm result of match %d: %w", matchID, err)
	}
	if !moved {
		return &LifecycleResult{Code: ReasonStateChanged, Match: match}, nil
	}

	s.publishFor(ctx, match, notify.EventMatchCompleted, map[string]any{
		"match_id":    matchID,
		"winner_slot": winner.Slot,
	})
	return s.reload(ctx, matchID)
}

// dispute rewinds a pending result so a fresh report can be made. The state
// must go back to checked_in explicitly; clearing the flags while staying in
// pending_confirmation would leave the match unable to accept any report.
func (s *lifecycleService) dispute(ctx context.Context, match *models.Match) (*LifecycleResult, error) {
	var moved bool
	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, match.ID,
			[]models.MatchState{models.MatchStatePendingConfirmation}, models.MatchStateCheckedIn)
		if txErr != nil || !moved {
			return txErr
		}
		return s.matchRepo.ClearWinners(ctx, exec, match.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispute result of match %d: %w", match.ID, err)
	}
	if !moved {
		return &LifecycleResult{Code: ReasonStateChanged, Match: match}, nil
	}

	s.publishFor(ctx, match, notify.EventResultDisputed, map[string]any{"match_id": match.ID})
	return s.reload(ctx, match.ID)
}

func (s *lifecycleService) Disqualify(ctx context.Context, matchID int, actor ActorIdentity, targetSlot int) (*LifecycleResult, error) {
	match, result, err := s.loadMatch(ctx, matchID)
	if match == nil {
		return result, err
	}
	target := match.PlayerBySlot(targetSlot)
	if target == nil {
		return &LifecycleResult{Code: ReasonNotAParticipant, Match: match}, nil
	}
	if match.State.Terminal() {
		return &LifecycleResult{Code: ReasonInvalidState, Match: match}, nil
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
	err = s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		var txErr error
		moved, txErr = s.matchRepo.UpdateStateIf(ctx, exec, matchID, nonTerminal, models.MatchStateDQ)
		if txErr != nil || !moved {
			return txErr
		}
		if txErr = s.matchRepo.MarkPlayerDisqualified(ctx, exec, matchID, targetSlot); txErr != nil {
			return txErr
		}
		if txErr = s.matchRepo.SetPlayerWinner(ctx, exec, matchID, targetSlot, &winnerFalse); txErr != nil {
			return txErr
		}
		return s.matchRepo.SetPlayerWinner(ctx, exec, matchID, opponentSlot(targetSlot), &winnerTrue)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to disqualify slot %d of match %d: %w", targetSlot, matchID, err)
	}
	if !moved {
		return &LifecycleResult{Code: ReasonStateChanged, Match: match}, nil
	}

	s.logger.Info("player disqualified",
		slog.Int("match_id", matchID), slog.Int("target_slot", targetSlot),
		slog.Int("by_user_id", actor.UserID))
	s.publishFor(ctx, match, notify.EventPlayerDisqualified, map[string]any{
		"match_id":    matchID,
		"target_slot": targetSlot,
		"by_user_id":  actor.UserID,
	})
	return s.reload(ctx, matchID)
}

func (s *lifecycleService) GetMatchStatus(ctx context.Context, matchID int) (*LifecycleResult, error) {
	return s.reload(ctx, matchID)
}

// enqueuePush records the accepted result in the outbox and flags the match
// so the push worker reports it to the remote API. The push is best-effort
// and asynchronous; its failure never reverses the local completed state.
func (s *lifecycleService) enqueuePush(ctx context.Context, exec repositories.SQLExecutor, match *models.Match, winnerEntrantID int64, score *string) error {
	event, err := s.eventRepo.GetByID(ctx, match.EventID)
	if err != nil {
		return err
	}
	push := &models.ResultPush{
		MatchID:         match.ID,
		TournamentID:    event.TournamentID,
		RemoteSetID:     match.RemoteSetID,
		WinnerEntrantID: winnerEntrantID,
		Score:           score,
		NextAttemptAt:   time.Now(),
	}
	if err := s.pushRepo.Enqueue(ctx, exec, push); err != nil {
		return err
	}
	return s.matchRepo.SetSyncPending(ctx, exec, match.ID, true)
}

func (s *lifecycleService) loadMatch(ctx context.Context, matchID int) (*models.Match, *LifecycleResult, error) {
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, &LifecycleResult{Code: ReasonMatchNotFound}, nil
		}
		return nil, nil, fmt.Errorf("failed to load match %d: %w", matchID, err)
	}
	return match, nil, nil
}

func (s *lifecycleService) reload(ctx context.Context, matchID int) (*LifecycleResult, error) {
	match, result, err := s.loadMatch(ctx, matchID)
	if match == nil {
		return result, err
	}
	return &LifecycleResult{Code: ReasonOK, Match: match}, nil
}

func (s *lifecycleService) publishFor(ctx context.Context, match *models.Match, eventType notify.EventType, payload map[string]any) {
	event, err := s.eventRepo.GetByID(ctx, match.EventID)
	if err != nil {
		s.logger.Warn("skipping notification, event lookup failed",
			slog.Int("match_id", match.ID), slog.Any("error", err))
		return
	}
	s.publisher.Publish(notify.Event{
		Type:         eventType,
		TournamentID: event.TournamentID,
		Payload:      payload,
	})
}

func reportable(state models.MatchState) bool {
	for _, s := range models.ReportableStates {
		if state == s {
			return true
		}
	}
	return false
}

func opponentSlot(slot int) int {
	if slot == 1 {
		return 2
	}
	return 1
}

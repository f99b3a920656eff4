package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/bracketlab/bracket-engine/remote"
	"github.com/bracketlab/bracket-engine/repositories"
)

// ResultPushService drains the outbox of locally accepted results and reports
// them to the remote API. Local state is the authority: a failed push is
// retried with a growing delay and eventually parked as failed for operators
// to reconcile, but the completed match is never reversed.
type ResultPushService interface {
	Run(ctx context.Context)
	ProcessDue(ctx context.Context) error
}

type resultPushService struct {
	gateway     BracketGateway
	credentials remote.CredentialProvider
	pushRepo    repositories.ResultPushRepository
	matchRepo   repositories.MatchRepository
	txRunner    repositories.TxRunner
	interval    time.Duration
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewResultPushService(
	gateway BracketGateway,
	credentials remote.CredentialProvider,
	pushRepo repositories.ResultPushRepository,
	matchRepo repositories.MatchRepository,
	txRunner repositories.TxRunner,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	retryDelay time.Duration,
	logger *slog.Logger,
) ResultPushService {
	if batchSize <= 0 {
		batchSize = 20
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &resultPushService{
		gateway:     gateway,
		credentials: credentials,
		pushRepo:    pushRepo,
		matchRepo:   matchRepo,
		txRunner:    txRunner,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

func (s *resultPushService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessDue(ctx); err != nil {
				s.logger.Error("result push cycle failed", slog.Any("error", err))
			}
		}
	}
}

func (s *resultPushService) ProcessDue(ctx context.Context) error {
	due, err := s.pushRepo.ListDue(ctx, time.Now(), s.batchSize)
	if err != nil {
		return err
	}

	for _, push := range due {
		if err := s.deliver(ctx, push); err != nil {
			s.handleFailure(ctx, push, err)
		}
	}
	return nil
}

func (s *resultPushService) deliver(ctx context.Context, push *models.ResultPush) error {
	token, err := s.credentials.Credential(ctx, push.TournamentID)
	if err != nil {
		return err
	}
	if err := s.gateway.ReportSetResult(ctx, token, push.RemoteSetID, push.WinnerEntrantID, push.Score); err != nil {
		return err
	}

	// One transaction for both rows: a push must never read as sent while the
	// match still carries the pending flag.
	return s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.pushRepo.MarkSent(ctx, exec, push.ID); err != nil {
			return err
		}
		return s.matchRepo.SetSyncPending(ctx, exec, push.MatchID, false)
	})
}

func (s *resultPushService) handleFailure(ctx context.Context, push *models.ResultPush, cause error) {
	attempts := push.Attempts + 1
	if attempts >= s.maxAttempts {
		s.logger.Error("result push exhausted retries, parking as failed",
			slog.Int("push_id", push.ID), slog.Int("match_id", push.MatchID), slog.Any("error", cause))
		err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
			return s.pushRepo.MarkFailed(ctx, exec, push.ID)
		})
		if err != nil {
			s.logger.Error("failed to park result push", slog.Int("push_id", push.ID), slog.Any("error", err))
		}
		return
	}

	// Delay doubles with each attempt.
	delay := s.retryDelay << (attempts - 1)
	s.logger.Warn("result push failed, will retry",
		slog.Int("push_id", push.ID), slog.Int("attempt", attempts),
		slog.Duration("retry_in", delay), slog.Any("error", cause))
	err := s.txRunner.RunInTx(ctx, func(exec repositories.SQLExecutor) error {
		return s.pushRepo.MarkRetry(ctx, exec, push.ID, time.Now().Add(delay))
	})
	if err != nil {
		s.logger.Error("failed to defer result push", slog.Int("push_id", push.ID), slog.Any("error", err))
	}
}

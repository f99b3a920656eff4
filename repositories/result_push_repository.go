package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bracketlab/bracket-engine/models"
)

var ErrResultPushNotFound = errors.New("result push not found")

// ResultPushRepository owns the outbound work queue of locally accepted
// results awaiting delivery to the remote API.
type ResultPushRepository interface {
	Enqueue(ctx context.Context, exec SQLExecutor, push *models.ResultPush) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ResultPush, error)
	MarkSent(ctx context.Context, exec SQLExecutor, id int) error
	// MarkRetry bumps the attempt counter and defers the row.
	MarkRetry(ctx context.Context, exec SQLExecutor, id int, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, exec SQLExecutor, id int) error
}

type postgresResultPushRepository struct {
	db *sql.DB
}

func NewPostgresResultPushRepository(db *sql.DB) ResultPushRepository {
	return &postgresResultPushRepository{db: db}
}

func (r *postgresResultPushRepository) Enqueue(ctx context.Context, exec SQLExecutor, push *models.ResultPush) error {
	query := `
		INSERT INTO result_pushes (match_id, tournament_id, remote_set_id, winner_entrant_id, score, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		push.MatchID,
		push.TournamentID,
		push.RemoteSetID,
		push.WinnerEntrantID,
		push.Score,
		models.ResultPushPending,
		push.NextAttemptAt,
	).Scan(&push.ID, &push.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue result push for match %d: %w", push.MatchID, err)
	}
	push.Status = models.ResultPushPending
	return nil
}

func (r *postgresResultPushRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ResultPush, error) {
	query := `
		SELECT id, match_id, tournament_id, remote_set_id, winner_entrant_id, score, status, attempts, next_attempt_at, created_at
		FROM result_pushes
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.ResultPushPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due result pushes: %w", err)
	}
	defer rows.Close()

	pushes := make([]*models.ResultPush, 0)
	for rows.Next() {
		var p models.ResultPush
		if err := rows.Scan(
			&p.ID,
			&p.MatchID,
			&p.TournamentID,
			&p.RemoteSetID,
			&p.WinnerEntrantID,
			&p.Score,
			&p.Status,
			&p.Attempts,
			&p.NextAttemptAt,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result push row: %w", err)
		}
		pushes = append(pushes, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result push rows: %w", err)
	}
	return pushes, nil
}

func (r *postgresResultPushRepository) MarkSent(ctx context.Context, exec SQLExecutor, id int) error {
	query := `UPDATE result_pushes SET status = $1, attempts = attempts + 1 WHERE id = $2`
	result, err := exec.ExecContext(ctx, query, models.ResultPushSent, id)
	if err != nil {
		return fmt.Errorf("failed to mark result push %d sent: %w", id, err)
	}
	return checkAffectedRows(result, ErrResultPushNotFound)
}

func (r *postgresResultPushRepository) MarkRetry(ctx context.Context, exec SQLExecutor, id int, nextAttemptAt time.Time) error {
	query := `UPDATE result_pushes SET attempts = attempts + 1, next_attempt_at = $1 WHERE id = $2`
	result, err := exec.ExecContext(ctx, query, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("failed to defer result push %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrResultPushNotFound)
}

func (r *postgresResultPushRepository) MarkFailed(ctx context.Context, exec SQLExecutor, id int) error {
	query := `UPDATE result_pushes SET status = $1, attempts = attempts + 1 WHERE id = $2`
	result, err := exec.ExecContext(ctx, query, models.ResultPushFailed, id)
	if err != nil {
		return fmt.Errorf("failed to mark result push %d failed: %w", id, err)
	}
	return checkAffectedRows(result, ErrResultPushNotFound)
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bracketlab/bracket-engine/models"
)

var ErrTournamentNotFound = errors.New("tournament not found")

type TournamentRepository interface {
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	ListPollable(ctx context.Context) ([]*models.Tournament, error)
	UpdatePhase(ctx context.Context, id int, phase models.TournamentPhase) error
	UpdateLastPolledAt(ctx context.Context, id int, polledAt time.Time) error
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

const tournamentColumns = `id, name, remote_slug, owner_user_id, phase, channel_ref, last_polled_at, created_at`

func scanTournament(row interface{ Scan(dest ...interface{}) error }, t *models.Tournament) error {
	return row.Scan(
		&t.ID,
		&t.Name,
		&t.RemoteSlug,
		&t.OwnerUserID,
		&t.Phase,
		&t.ChannelRef,
		&t.LastPolledAt,
		&t.CreatedAt,
	)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE id = $1`

	t := &models.Tournament{}
	if err := scanTournament(r.db.QueryRowContext(ctx, query, id), t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) ListPollable(ctx context.Context) ([]*models.Tournament, error) {
	query := `SELECT ` + tournamentColumns + ` FROM tournaments WHERE phase NOT IN ($1, $2) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, models.PhaseCompleted, models.PhaseCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := make([]*models.Tournament, 0)
	for rows.Next() {
		var t models.Tournament
		if err := scanTournament(rows, &t); err != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", err)
		}
		tournaments = append(tournaments, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tournament rows: %w", err)
	}
	return tournaments, nil
}

func (r *postgresTournamentRepository) UpdatePhase(ctx context.Context, id int, phase models.TournamentPhase) error {
	query := `UPDATE tournaments SET phase = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, phase, id)
	if err != nil {
		return fmt.Errorf("failed to update tournament %d phase: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) UpdateLastPolledAt(ctx context.Context, id int, polledAt time.Time) error {
	query := `UPDATE tournaments SET last_polled_at = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, polledAt, id)
	if err != nil {
		return fmt.Errorf("failed to update tournament %d last_polled_at: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

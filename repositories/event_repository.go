package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bracketlab/bracket-engine/models"
)

var ErrEventNotFound = errors.New("event not found")

type EventRepository interface {
	GetByID(ctx context.Context, id int) (*models.Event, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Event, error)
	// UpsertRemote creates or refreshes the local event row for a remote
	// event id, keyed by (tournament_id, remote_event_id).
	UpsertRemote(ctx context.Context, tournamentID int, remoteEventID int64, name string, phase models.EventPhase) (*models.Event, error)
}

type postgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) EventRepository {
	return &postgresEventRepository{db: db}
}

func (r *postgresEventRepository) GetByID(ctx context.Context, id int) (*models.Event, error) {
	query := `SELECT id, tournament_id, remote_event_id, name, phase, created_at FROM events WHERE id = $1`

	e := &models.Event{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&e.ID, &e.TournamentID, &e.RemoteEventID, &e.Name, &e.Phase, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to scan event %d: %w", id, err)
	}
	return e, nil
}

func (r *postgresEventRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Event, error) {
	query := `SELECT id, tournament_id, remote_event_id, name, phase, created_at
	          FROM events WHERE tournament_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.TournamentID, &e.RemoteEventID, &e.Name, &e.Phase, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

func (r *postgresEventRepository) UpsertRemote(ctx context.Context, tournamentID int, remoteEventID int64, name string, phase models.EventPhase) (*models.Event, error) {
	query := `
		INSERT INTO events (tournament_id, remote_event_id, name, phase)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tournament_id, remote_event_id)
		DO UPDATE SET name = EXCLUDED.name, phase = EXCLUDED.phase
		RETURNING id, tournament_id, remote_event_id, name, phase, created_at`

	e := &models.Event{}
	err := r.db.QueryRowContext(ctx, query, tournamentID, remoteEventID, name, phase).
		Scan(&e.ID, &e.TournamentID, &e.RemoteEventID, &e.Name, &e.Phase, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert event %d for tournament %d: %w", remoteEventID, tournamentID, err)
	}
	return e, nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	// ErrMatchConflict means a match for this (event, remote set id) already
	// exists. Synchronization treats it as a benign duplicate.
	ErrMatchConflict       = errors.New("match already exists for this remote set")
	ErrMatchPlayerNotFound = errors.New("match player not found")
)

// MatchRepository owns the matches table and its two match_players rows per
// match. State-changing methods are conditional updates: they report whether
// the guarded write actually happened so callers can detect lost races.
type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	// MapByRemoteSetID loads every match of the event in one batch, keyed by
	// remote set id. Sync must stay O(events) in query count, never O(sets).
	MapByRemoteSetID(ctx context.Context, eventID int) (map[string]*models.Match, error)

	// UpdateStateIf moves the match to the target state only if its current
	// state is one of from. Returns false when another writer got there first.
	UpdateStateIf(ctx context.Context, exec SQLExecutor, matchID int, from []models.MatchState, to models.MatchState) (bool, error)
	SetCallDetails(ctx context.Context, exec SQLExecutor, matchID int, threadRef string, deadline time.Time) error
	SetSyncPending(ctx context.Context, exec SQLExecutor, matchID int, pending bool) error

	// CheckInPlayer marks the slot checked in; false when already checked in.
	CheckInPlayer(ctx context.Context, exec SQLExecutor, matchID, slot int) (bool, error)
	CountCheckedIn(ctx context.Context, exec SQLExecutor, matchID int) (int, error)
	SetPlayerWinner(ctx context.Context, exec SQLExecutor, matchID, slot int, winner *bool) error
	SetPlayerScore(ctx context.Context, exec SQLExecutor, matchID, slot int, score *string) error
	ClearWinners(ctx context.Context, exec SQLExecutor, matchID int) error
	MarkPlayerDisqualified(ctx context.Context, exec SQLExecutor, matchID, slot int) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	if len(match.Players) != 2 {
		return fmt.Errorf("match for remote set %s must have exactly two players, got %d", match.RemoteSetID, len(match.Players))
	}

	query := `
		INSERT INTO matches (event_id, remote_set_id, round, state, thread_ref, check_in_deadline, sync_pending)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		match.EventID,
		match.RemoteSetID,
		match.Round,
		match.State,
		match.ThreadRef,
		match.CheckInDeadline,
		match.SyncPending,
	).Scan(&match.ID, &match.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "matches_event_id_remote_set_id_key") {
			return ErrMatchConflict
		}
		return fmt.Errorf("failed to create match for remote set %s: %w", match.RemoteSetID, err)
	}

	playerQuery := `
		INSERT INTO match_players (match_id, slot, user_id, remote_entrant_id, display_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	for i := range match.Players {
		p := &match.Players[i]
		p.MatchID = match.ID
		if err := exec.QueryRowContext(ctx, playerQuery, match.ID, p.Slot, p.UserID, p.RemoteEntrantID, p.DisplayName).Scan(&p.ID); err != nil {
			return fmt.Errorf("failed to create match player slot %d for match %d: %w", p.Slot, match.ID, err)
		}
	}
	return nil
}

const matchColumns = `id, event_id, remote_set_id, round, state, thread_ref, check_in_deadline, sync_pending, created_at`

func scanMatch(row interface{ Scan(dest ...interface{}) error }, m *models.Match) error {
	return row.Scan(
		&m.ID,
		&m.EventID,
		&m.RemoteSetID,
		&m.Round,
		&m.State,
		&m.ThreadRef,
		&m.CheckInDeadline,
		&m.SyncPending,
		&m.CreatedAt,
	)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	m := &models.Match{}
	if err := scanMatch(r.db.QueryRowContext(ctx, query, id), m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match %d: %w", id, err)
	}

	players, err := r.loadPlayers(ctx, []int{m.ID})
	if err != nil {
		return nil, err
	}
	m.Players = players[m.ID]
	return m, nil
}

func (r *postgresMatchRepository) MapByRemoteSetID(ctx context.Context, eventID int) (map[string]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE event_id = $1`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches for event %d: %w", eventID, err)
	}
	defer rows.Close()

	byRemoteSet := make(map[string]*models.Match)
	ids := make([]int, 0)
	byID := make(map[int]*models.Match)
	for rows.Next() {
		var m models.Match
		if err := scanMatch(rows, &m); err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		byRemoteSet[m.RemoteSetID] = &m
		byID[m.ID] = &m
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}

	if len(ids) > 0 {
		players, err := r.loadPlayers(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, m := range byID {
			m.Players = players[id]
		}
	}
	return byRemoteSet, nil
}

func (r *postgresMatchRepository) loadPlayers(ctx context.Context, matchIDs []int) (map[int][]models.MatchPlayer, error) {
	query := `
		SELECT id, match_id, slot, user_id, remote_entrant_id, display_name,
		       checked_in, checked_in_at, score, winner, disqualified
		FROM match_players
		WHERE match_id = ANY($1)
		ORDER BY match_id, slot`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(matchIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load match players: %w", err)
	}
	defer rows.Close()

	players := make(map[int][]models.MatchPlayer)
	for rows.Next() {
		var p models.MatchPlayer
		if err := rows.Scan(
			&p.ID,
			&p.MatchID,
			&p.Slot,
			&p.UserID,
			&p.RemoteEntrantID,
			&p.DisplayName,
			&p.CheckedIn,
			&p.CheckedInAt,
			&p.Score,
			&p.Winner,
			&p.Disqualified,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match player row: %w", err)
		}
		players[p.MatchID] = append(players[p.MatchID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match player rows: %w", err)
	}
	return players, nil
}

func (r *postgresMatchRepository) UpdateStateIf(ctx context.Context, exec SQLExecutor, matchID int, from []models.MatchState, to models.MatchState) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `UPDATE matches SET state = $1 WHERE id = $2 AND state = ANY($3)`
	result, err := exec.ExecContext(ctx, query, to, matchID, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("failed to transition match %d to %s: %w", matchID, to, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresMatchRepository) SetCallDetails(ctx context.Context, exec SQLExecutor, matchID int, threadRef string, deadline time.Time) error {
	query := `UPDATE matches SET thread_ref = $1, check_in_deadline = $2 WHERE id = $3`
	result, err := exec.ExecContext(ctx, query, threadRef, deadline, matchID)
	if err != nil {
		return fmt.Errorf("failed to set call details for match %d: %w", matchID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) SetSyncPending(ctx context.Context, exec SQLExecutor, matchID int, pending bool) error {
	query := `UPDATE matches SET sync_pending = $1 WHERE id = $2`
	result, err := exec.ExecContext(ctx, query, pending, matchID)
	if err != nil {
		return fmt.Errorf("failed to set sync_pending for match %d: %w", matchID, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) CheckInPlayer(ctx context.Context, exec SQLExecutor, matchID, slot int) (bool, error) {
	query := `
		UPDATE match_players
		SET checked_in = TRUE, checked_in_at = NOW()
		WHERE match_id = $1 AND slot = $2 AND checked_in = FALSE`

	result, err := exec.ExecContext(ctx, query, matchID, slot)
	if err != nil {
		return false, fmt.Errorf("failed to check in slot %d of match %d: %w", slot, matchID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresMatchRepository) CountCheckedIn(ctx context.Context, exec SQLExecutor, matchID int) (int, error) {
	query := `SELECT COUNT(*) FROM match_players WHERE match_id = $1 AND checked_in = TRUE`

	var count int
	if err := exec.QueryRowContext(ctx, query, matchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count checked-in players for match %d: %w", matchID, err)
	}
	return count, nil
}

func (r *postgresMatchRepository) SetPlayerWinner(ctx context.Context, exec SQLExecutor, matchID, slot int, winner *bool) error {
	query := `UPDATE match_players SET winner = $1 WHERE match_id = $2 AND slot = $3`
	result, err := exec.ExecContext(ctx, query, winner, matchID, slot)
	if err != nil {
		return fmt.Errorf("failed to set winner flag for slot %d of match %d: %w", slot, matchID, err)
	}
	return checkAffectedRows(result, ErrMatchPlayerNotFound)
}

func (r *postgresMatchRepository) SetPlayerScore(ctx context.Context, exec SQLExecutor, matchID, slot int, score *string) error {
	query := `UPDATE match_players SET score = $1 WHERE match_id = $2 AND slot = $3`
	result, err := exec.ExecContext(ctx, query, score, matchID, slot)
	if err != nil {
		return fmt.Errorf("failed to set score for slot %d of match %d: %w", slot, matchID, err)
	}
	return checkAffectedRows(result, ErrMatchPlayerNotFound)
}

func (r *postgresMatchRepository) ClearWinners(ctx context.Context, exec SQLExecutor, matchID int) error {
	query := `UPDATE match_players SET winner = NULL WHERE match_id = $1`
	result, err := exec.ExecContext(ctx, query, matchID)
	if err != nil {
		return fmt.Errorf("failed to clear winner flags for match %d: %w", matchID, err)
	}
	return checkAffectedRows(result, ErrMatchPlayerNotFound)
}

func (r *postgresMatchRepository) MarkPlayerDisqualified(ctx context.Context, exec SQLExecutor, matchID, slot int) error {
	query := `UPDATE match_players SET disqualified = TRUE WHERE match_id = $1 AND slot = $2`
	result, err := exec.ExecContext(ctx, query, matchID, slot)
	if err != nil {
		return fmt.Errorf("failed to disqualify slot %d of match %d: %w", slot, matchID, err)
	}
	return checkAffectedRows(result, ErrMatchPlayerNotFound)
}

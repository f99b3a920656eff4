package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/bracketlab/bracket-engine/models"
)

var (
	ErrRegistrationNotFound = errors.New("registration not found")
	// ErrRegistrationConflict means the (event, remote entrant id) or
	// (event, user) uniqueness was hit. Synchronization treats it as a benign
	// duplicate; direct callers treat it as a genuine conflict.
	ErrRegistrationConflict = errors.New("registration already exists")
)

// RegistrationRepository owns the registrations table. The (event_id,
// remote_entrant_id) uniqueness is partial: it only applies when the remote
// id is non-null, since locally created rows intentionally carry none. The
// Find methods return (nil, nil) when no row exists, because "absent" is an
// expected outcome during reconciliation, not an error.
type RegistrationRepository interface {
	FindByEventAndEntrant(ctx context.Context, exec SQLExecutor, eventID int, remoteEntrantID int64) (*models.Registration, error)
	FindByEventAndUser(ctx context.Context, exec SQLExecutor, eventID, userID int) (*models.Registration, error)
	Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error
	LinkRemoteEntrant(ctx context.Context, exec SQLExecutor, registrationID int, remoteEntrantID int64) error
	UpdateStatus(ctx context.Context, exec SQLExecutor, registrationID int, status models.RegistrationStatus) error
	CountByEvent(ctx context.Context, eventID int) (int, error)
	// MapUserIDsByEntrants returns remote entrant id -> local user id for the
	// given entrants, skipping ghost registrations. One query per event sync.
	MapUserIDsByEntrants(ctx context.Context, eventID int, remoteEntrantIDs []int64) (map[int64]int, error)
}

type postgresRegistrationRepository struct {
	db *sql.DB
}

func NewPostgresRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &postgresRegistrationRepository{db: db}
}

const registrationColumns = `id, event_id, user_id, remote_entrant_id, display_name, status, created_at`

func scanRegistration(row interface{ Scan(dest ...interface{}) error }, reg *models.Registration) error {
	return row.Scan(
		&reg.ID,
		&reg.EventID,
		&reg.UserID,
		&reg.RemoteEntrantID,
		&reg.DisplayName,
		&reg.Status,
		&reg.CreatedAt,
	)
}

func (r *postgresRegistrationRepository) FindByEventAndEntrant(ctx context.Context, exec SQLExecutor, eventID int, remoteEntrantID int64) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 AND remote_entrant_id = $2`

	reg := &models.Registration{}
	if err := scanRegistration(exec.QueryRowContext(ctx, query, eventID, remoteEntrantID), reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find registration for entrant %d in event %d: %w", remoteEntrantID, eventID, err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) FindByEventAndUser(ctx context.Context, exec SQLExecutor, eventID, userID int) (*models.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 AND user_id = $2`

	reg := &models.Registration{}
	if err := scanRegistration(exec.QueryRowContext(ctx, query, eventID, userID), reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find registration for user %d in event %d: %w", userID, eventID, err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) Create(ctx context.Context, exec SQLExecutor, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (event_id, user_id, remote_entrant_id, display_name, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		reg.EventID,
		reg.UserID,
		reg.RemoteEntrantID,
		reg.DisplayName,
		reg.Status,
	).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrRegistrationConflict
		}
		return fmt.Errorf("failed to create registration for event %d: %w", reg.EventID, err)
	}
	return nil
}

func (r *postgresRegistrationRepository) LinkRemoteEntrant(ctx context.Context, exec SQLExecutor, registrationID int, remoteEntrantID int64) error {
	// Only link rows that are not yet tagged, so two concurrent sync runs
	// cannot fight over the same registration.
	query := `UPDATE registrations SET remote_entrant_id = $1 WHERE id = $2 AND remote_entrant_id IS NULL`
	result, err := exec.ExecContext(ctx, query, remoteEntrantID, registrationID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrRegistrationConflict
		}
		return fmt.Errorf("failed to link entrant %d to registration %d: %w", remoteEntrantID, registrationID, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, registrationID int, status models.RegistrationStatus) error {
	query := `UPDATE registrations SET status = $1 WHERE id = $2`
	result, err := exec.ExecContext(ctx, query, status, registrationID)
	if err != nil {
		return fmt.Errorf("failed to update status of registration %d: %w", registrationID, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) MapUserIDsByEntrants(ctx context.Context, eventID int, remoteEntrantIDs []int64) (map[int64]int, error) {
	if len(remoteEntrantIDs) == 0 {
		return map[int64]int{}, nil
	}
	query := `
		SELECT remote_entrant_id, user_id
		FROM registrations
		WHERE event_id = $1 AND remote_entrant_id = ANY($2) AND user_id IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query, eventID, pq.Array(remoteEntrantIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to map entrants to users for event %d: %w", eventID, err)
	}
	defer rows.Close()

	mapping := make(map[int64]int, len(remoteEntrantIDs))
	for rows.Next() {
		var entrantID int64
		var userID int
		if err := rows.Scan(&entrantID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan entrant mapping row: %w", err)
		}
		mapping[entrantID] = userID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entrant mapping rows: %w", err)
	}
	return mapping, nil
}

func (r *postgresRegistrationRepository) CountByEvent(ctx context.Context, eventID int) (int, error) {
	query := `SELECT COUNT(*) FROM registrations WHERE event_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, eventID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count registrations for event %d: %w", eventID, err)
	}
	return count, nil
}

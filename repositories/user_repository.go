package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bracketlab/bracket-engine/models"
	"github.com/lib/pq"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository resolves local identities. The batch finders exist so
// registration sync can fetch only the candidates relevant to one page of
// entrants instead of walking the whole table.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
	FindByRemoteUserIDs(ctx context.Context, remoteUserIDs []string) ([]*models.User, error)
	// FindByTags matches case-insensitively; tags must be pre-lowercased.
	FindByTags(ctx context.Context, tags []string) ([]*models.User, error)
}

type postgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

const userColumns = `id, tag, chat_platform_id, remote_user_id, created_at`

func scanUser(row interface{ Scan(dest ...interface{}) error }, u *models.User) error {
	return row.Scan(&u.ID, &u.Tag, &u.ChatPlatformID, &u.RemoteUserID, &u.CreatedAt)
}

func (r *postgresUserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u := &models.User{}
	if err := scanUser(r.db.QueryRowContext(ctx, query, id), u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user %d: %w", id, err)
	}
	return u, nil
}

func (r *postgresUserRepository) FindByRemoteUserIDs(ctx context.Context, remoteUserIDs []string) ([]*models.User, error) {
	if len(remoteUserIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE remote_user_id = ANY($1)`
	return r.queryUsers(ctx, query, pq.Array(remoteUserIDs))
}

func (r *postgresUserRepository) FindByTags(ctx context.Context, tags []string) ([]*models.User, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(tag) = ANY($1)`
	return r.queryUsers(ctx, query, pq.Array(tags))
}

func (r *postgresUserRepository) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}

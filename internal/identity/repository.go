package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound indicates no user is linked to the principal.
var ErrUserNotFound = errors.New("user not found")

// Repository persists principal -> user links.
type Repository interface {
	// Ensure returns the user linked to externalID, creating it on first
	// sight. Concurrent calls for one principal yield the same id.
	Ensure(ctx context.Context, externalID string) (User, error)
	FindByExternalID(ctx context.Context, externalID string) (User, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ensure upserts on the unique external_id so the insert race resolves in
// the database.
func (r *PostgresRepository) Ensure(ctx context.Context, externalID string) (User, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users (external_id) VALUES ($1)
        ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
        RETURNING id, external_id, created_at`, externalID)
	return scanUser(row)
}

// FindByExternalID fetches a linked user.
func (r *PostgresRepository) FindByExternalID(ctx context.Context, externalID string) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT id, external_id, created_at FROM users WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.CreatedAt); err != nil {
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domain "github.com/yuka166/chatapp-server/domain/user"
	"github.com/yuka166/chatapp-server/pkg/database"
)

const pgUsersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	displayname   TEXT,
	password_hash TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_username_lower ON users (LOWER(username) text_pattern_ops);
`

const pgUserColumns = `id, username, displayname, password_hash, email, created_at, updated_at`

// PgUserRepository stores users in PostgreSQL through pgx.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

var _ UserRepository = (*PgUserRepository)(nil)

// NewPgUserRepository creates a new PgUserRepository.
func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

// Migrate creates the users table if it does not exist.
func (r *PgUserRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, pgUsersSchema)
	return err
}

// Create inserts a new user.
func (r *PgUserRepository) Create(ctx context.Context, user *domain.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+pgUserColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Username, user.DisplayName, user.PasswordHash, user.Email, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if database.IsPgUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	}
	return nil
}

// FindByID finds a user by ID.
func (r *PgUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
}

// FindByUsername finds a user by exact username.
func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, `SELECT `+pgUserColumns+` FROM users WHERE username = $1`, username)
}

// FindByIDs returns the users among ids that exist.
func (r *PgUserRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.findMany(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = ANY($1)`, ids)
}

// Exists reports whether a user with the username or email exists.
func (r *PgUserRepository) Exists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)`,
		username, email,
	).Scan(&exists)
	return exists, err
}

// SearchByPrefix finds users whose username starts with prefix, ignoring
// case, excluding excludeID.
func (r *PgUserRepository) SearchByPrefix(ctx context.Context, prefix, excludeID string, limit int) ([]domain.User, error) {
	return r.findMany(ctx,
		`SELECT `+pgUserColumns+` FROM users
		 WHERE LOWER(username) LIKE $1 ESCAPE '\' AND id <> $2
		 ORDER BY username LIMIT $3`,
		likePrefix(prefix), excludeID, limit,
	)
}

// Ping checks the database connection.
func (r *PgUserRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PgUserRepository) findOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *PgUserRepository) findMany(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanUser)
}

func scanUser(row pgx.CollectableRow) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

package repository

import (
	"context"
	"database/sql"

	"github.com/libsync/server/internal/models"
)

// UserRepository implements UserRepo for PostgreSQL/SQLite
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, display_name, api_key, api_key_hash, password_hash, is_admin, created_at, is_active`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	var user models.User
	var passwordHash sql.NullString
	err := row.Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.APIKey, &user.APIKeyHash,
		&passwordHash, &user.IsAdmin, &user.CreatedAt, &user.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		user.PasswordHash = passwordHash.String
	}
	user.APIKey = "" // Never return API key after creation
	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND is_active = TRUE`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE api_key_hash = $1 AND is_active = TRUE`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, apiKeyHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, username, display_name, api_key, api_key_hash, password_hash, is_admin, created_at, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.DisplayName, user.APIKey, user.APIKeyHash,
		user.PasswordHash, user.IsAdmin, user.CreatedAt, user.IsActive,
	)
	return err
}

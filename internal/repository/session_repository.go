package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/libsync/server/internal/models"
)

// SessionRepository implements SessionRepo for PostgreSQL/SQLite. This is the
// durable half of the two-tier session store; the fast half lives in the
// session cache and is refreshed before entries here would go stale.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.SyncSession, error) {
	query := `SELECT id, user_id, ip_address, created_at, last_used_at
			  FROM sync_sessions WHERE id = $1`

	var session models.SyncSession
	var ipAddress sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.UserID, &ipAddress, &session.CreatedAt, &session.LastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ipAddress.Valid {
		session.IPAddress = ipAddress.String
	}
	return &session, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.SyncSession) error {
	query := `INSERT INTO sync_sessions (id, user_id, ip_address, created_at, last_used_at)
			  VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.IPAddress, session.CreatedAt, session.LastUsedAt,
	)
	return err
}

func (r *SessionRepository) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_sessions SET last_used_at = $1 WHERE id = $2`, at, id)
	return err
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_sessions WHERE id = $1`, id)
	return err
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/libsync/server/internal/models"
)

// SyncLockRepository implements SyncLockRepo. Lock rows are owned by the
// external queue processor; this repository only reads their state.
type SyncLockRepository struct {
	db *sql.DB
}

// NewSyncLockRepository creates a new SyncLockRepository
func NewSyncLockRepository(db *sql.DB) *SyncLockRepository {
	return &SyncLockRepository{db: db}
}

func (r *SyncLockRepository) HasLock(ctx context.Context, userID, kind string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_locks WHERE user_id = $1 AND kind = $2`,
		userID, kind,
	).Scan(&count)
	return count > 0, err
}

// HasLockExcludingSession reports whether any other session holds the lock.
// An upload must not be blocked by its own session's lock.
func (r *SyncLockRepository) HasLockExcludingSession(ctx context.Context, userID, kind, sessionID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_locks
		 WHERE user_id = $1 AND kind = $2 AND (session_id IS NULL OR session_id != $3)`,
		userID, kind, sessionID,
	).Scan(&count)
	return count > 0, err
}

// SyncQueueRepository implements SyncQueueRepo for PostgreSQL/SQLite
type SyncQueueRepository struct {
	db *sql.DB
}

// NewSyncQueueRepository creates a new SyncQueueRepository
func NewSyncQueueRepository(db *sql.DB) *SyncQueueRepository {
	return &SyncQueueRepository{db: db}
}

func (r *SyncQueueRepository) Enqueue(ctx context.Context, job *models.SyncJob) error {
	query := `INSERT INTO sync_queue (id, user_id, session_id, kind, payload, status, enqueued_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.SessionID, job.Kind, job.Payload, job.Status, job.EnqueuedAt,
	)
	return err
}

func (r *SyncQueueRepository) GetLatestForSession(ctx context.Context, sessionID string) (*models.SyncJob, error) {
	query := `SELECT id, user_id, session_id, kind, payload, status, error_code, error_message, enqueued_at, finished_at
			  FROM sync_queue WHERE session_id = $1
			  ORDER BY enqueued_at DESC LIMIT 1`

	var job models.SyncJob
	var payload, errorCode, errorMessage sql.NullString
	var finishedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&job.ID, &job.UserID, &job.SessionID, &job.Kind, &payload,
		&job.Status, &errorCode, &errorMessage, &job.EnqueuedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		job.Payload = payload.String
	}
	if errorCode.Valid {
		job.ErrorCode = errorCode.String
	}
	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}

func (r *SyncQueueRepository) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = $1, finished_at = $2 WHERE id = $3`,
		models.JobStatusDone, time.Now().UTC(), id)
	return err
}

func (r *SyncQueueRepository) MarkFailed(ctx context.Context, id string, code, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = $1, error_code = $2, error_message = $3, finished_at = $4 WHERE id = $5`,
		models.JobStatusFailed, code, message, time.Now().UTC(), id)
	return err
}

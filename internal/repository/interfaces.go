package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/libsync/server/internal/models"
)

// LibraryRepo defines persistence for libraries and their version counters
type LibraryRepo interface {
	GetByID(ctx context.Context, id int64) (*models.Library, error)
	GetByOwner(ctx context.Context, ownerID string) (*models.Library, error)
	Create(ctx context.Context, lib *models.Library) error
	SetLocked(ctx context.Context, id int64, locked bool) error
	// NextVersionTx atomically pre-increments the library's version counter
	// inside the caller's write transaction and returns the new value. The
	// row lock taken by the UPDATE is what serializes concurrent writers.
	NextVersionTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (int64, error)
}

// ObjectRepo defines persistence for data objects
type ObjectRepo interface {
	Get(ctx context.Context, libraryID int64, objectType, key string) (*models.DataObject, error)
	GetTx(ctx context.Context, tx *sql.Tx, libraryID int64, objectType, key string) (*models.DataObject, error)
	List(ctx context.Context, libraryID int64, objectType string, sinceVersion int64, limit, offset int) ([]*models.DataObject, error)
	Count(ctx context.Context, libraryID int64, objectType string) (int, error)
	CountModifiedSince(ctx context.Context, libraryID, sinceVersion int64) (int, error)
	ListModifiedSince(ctx context.Context, libraryID, sinceVersion int64) ([]*models.DataObject, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, obj *models.DataObject) error
	// DeleteTx tombstones the object at the given new version
	DeleteTx(ctx context.Context, tx *sql.Tx, libraryID int64, objectType, key string, version int64) error
}

// UserRepo defines the interface for user persistence operations
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// SessionRepo defines durable persistence for legacy sync sessions
type SessionRepo interface {
	Get(ctx context.Context, id string) (*models.SyncSession, error)
	Create(ctx context.Context, session *models.SyncSession) error
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// SyncLockRepo observes per-user read/write locks owned by the external
// queue processor. This server never acquires or releases them.
type SyncLockRepo interface {
	HasLock(ctx context.Context, userID, kind string) (bool, error)
	HasLockExcludingSession(ctx context.Context, userID, kind, sessionID string) (bool, error)
}

// SyncQueueRepo defines persistence for queued sync jobs
type SyncQueueRepo interface {
	Enqueue(ctx context.Context, job *models.SyncJob) error
	GetLatestForSession(ctx context.Context, sessionID string) (*models.SyncJob, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, code, message string) error
}

// StorageRepo defines persistence for deduplicated stored files and the
// item links that reference them
type StorageRepo interface {
	FindFile(ctx context.Context, hash string, zip bool) (*models.StorageFile, error)
	FindFileTx(ctx context.Context, tx *sql.Tx, hash string, zip bool) (*models.StorageFile, error)
	CreateFileTx(ctx context.Context, tx *sql.Tx, f *models.StorageFile) error
	LinkItemTx(ctx context.Context, tx *sql.Tx, libraryID int64, itemKey string, storageFileID int64) error
	GetItemFile(ctx context.Context, libraryID int64, itemKey string) (*models.StorageFile, error)
	// GetUsage returns the owner's aggregate stored bytes across all items
	GetUsage(ctx context.Context, ownerID string) (int64, error)
}

// Lock kind constants for SyncLockRepo
const (
	LockKindRead  = "read"
	LockKindWrite = "write"
)

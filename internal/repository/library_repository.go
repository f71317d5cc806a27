package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/libsync/server/internal/models"
)

// LibraryRepository implements LibraryRepo for PostgreSQL/SQLite
type LibraryRepository struct {
	db *sql.DB
}

// NewLibraryRepository creates a new LibraryRepository
func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

func (r *LibraryRepository) GetByID(ctx context.Context, id int64) (*models.Library, error) {
	query := `SELECT id, owner_id, type, version, locked, last_modified
			  FROM libraries WHERE id = $1`

	var lib models.Library
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&lib.ID, &lib.OwnerID, &lib.Type, &lib.Version, &lib.Locked, &lib.LastModified,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

func (r *LibraryRepository) GetByOwner(ctx context.Context, ownerID string) (*models.Library, error) {
	query := `SELECT id, owner_id, type, version, locked, last_modified
			  FROM libraries WHERE owner_id = $1 AND type = 'user'`

	var lib models.Library
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(
		&lib.ID, &lib.OwnerID, &lib.Type, &lib.Version, &lib.Locked, &lib.LastModified,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

func (r *LibraryRepository) Create(ctx context.Context, lib *models.Library) error {
	query := `INSERT INTO libraries (owner_id, type, version, locked, last_modified)
			  VALUES ($1, $2, $3, $4, $5)`

	res, err := r.db.ExecContext(ctx, query,
		lib.OwnerID, lib.Type, lib.Version, lib.Locked, lib.LastModified,
	)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		lib.ID = id
		return nil
	}

	// lib/pq does not support LastInsertId
	return r.db.QueryRowContext(ctx,
		`SELECT id FROM libraries WHERE owner_id = $1 AND type = $2`,
		lib.OwnerID, lib.Type,
	).Scan(&lib.ID)
}

func (r *LibraryRepository) SetLocked(ctx context.Context, id int64, locked bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE libraries SET locked = $1 WHERE id = $2`, locked, id)
	return err
}

// NextVersionTx pre-increments the library version counter as the first
// durable step of a write transaction. The UPDATE takes a row lock on the
// counter, so two concurrent writers can never observe the same current
// version as valid.
func (r *LibraryRepository) NextVersionTx(ctx context.Context, tx *sql.Tx, id int64, now time.Time) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`UPDATE libraries SET version = version + 1, last_modified = $1 WHERE id = $2`,
		now, id)
	if err != nil {
		return 0, err
	}

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM libraries WHERE id = $1`, id).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

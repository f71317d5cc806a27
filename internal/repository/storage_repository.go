package repository

import (
	"context"
	"database/sql"

	"github.com/libsync/server/internal/models"
)

// StorageRepository implements StorageRepo for PostgreSQL/SQLite
type StorageRepository struct {
	db *sql.DB
}

// NewStorageRepository creates a new StorageRepository
func NewStorageRepository(db *sql.DB) *StorageRepository {
	return &StorageRepository{db: db}
}

const storageFileColumns = `id, hash, zip, size, filename, mtime, content_type, created_at`

func scanStorageFile(row interface{ Scan(...interface{}) error }) (*models.StorageFile, error) {
	var f models.StorageFile
	var contentType sql.NullString
	err := row.Scan(
		&f.ID, &f.Hash, &f.Zip, &f.Size, &f.Filename, &f.Mtime, &contentType, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if contentType.Valid {
		f.ContentType = contentType.String
	}
	return &f, nil
}

func (r *StorageRepository) FindFile(ctx context.Context, hash string, zip bool) (*models.StorageFile, error) {
	query := `SELECT ` + storageFileColumns + ` FROM storage_files WHERE hash = $1 AND zip = $2`

	f, err := scanStorageFile(r.db.QueryRowContext(ctx, query, hash, zip))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *StorageRepository) FindFileTx(ctx context.Context, tx *sql.Tx, hash string, zip bool) (*models.StorageFile, error) {
	query := `SELECT ` + storageFileColumns + ` FROM storage_files WHERE hash = $1 AND zip = $2`

	f, err := scanStorageFile(tx.QueryRowContext(ctx, query, hash, zip))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *StorageRepository) CreateFileTx(ctx context.Context, tx *sql.Tx, f *models.StorageFile) error {
	query := `INSERT INTO storage_files (hash, zip, size, filename, mtime, content_type, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	res, err := tx.ExecContext(ctx, query,
		f.Hash, f.Zip, f.Size, f.Filename, f.Mtime, f.ContentType, f.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		f.ID = id
		return nil
	}

	// lib/pq does not support LastInsertId
	return tx.QueryRowContext(ctx,
		`SELECT id FROM storage_files WHERE hash = $1 AND zip = $2`, f.Hash, f.Zip,
	).Scan(&f.ID)
}

func (r *StorageRepository) LinkItemTx(ctx context.Context, tx *sql.Tx, libraryID int64, itemKey string, storageFileID int64) error {
	query := `INSERT INTO item_files (library_id, item_key, storage_file_id)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (library_id, item_key)
			  DO UPDATE SET storage_file_id = $3, linked_at = CURRENT_TIMESTAMP`

	_, err := tx.ExecContext(ctx, query, libraryID, itemKey, storageFileID)
	return err
}

func (r *StorageRepository) GetItemFile(ctx context.Context, libraryID int64, itemKey string) (*models.StorageFile, error) {
	query := `SELECT f.id, f.hash, f.zip, f.size, f.filename, f.mtime, f.content_type, f.created_at
			  FROM storage_files f
			  JOIN item_files l ON l.storage_file_id = f.id
			  WHERE l.library_id = $1 AND l.item_key = $2`

	f, err := scanStorageFile(r.db.QueryRowContext(ctx, query, libraryID, itemKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// GetUsage sums stored bytes across every item link in the owner's
// libraries. Deduplicated files count once per linking item, matching how
// entitlements are billed.
func (r *StorageRepository) GetUsage(ctx context.Context, ownerID string) (int64, error) {
	query := `SELECT COALESCE(SUM(f.size), 0)
			  FROM storage_files f
			  JOIN item_files l ON l.storage_file_id = f.id
			  JOIN libraries lib ON lib.id = l.library_id
			  WHERE lib.owner_id = $1`

	var usage int64
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&usage)
	return usage, err
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/libsync/server/internal/models"
)

// ObjectRepository implements ObjectRepo for PostgreSQL/SQLite
type ObjectRepository struct {
	db *sql.DB
}

// NewObjectRepository creates a new ObjectRepository
func NewObjectRepository(db *sql.DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

const objectColumns = `library_id, object_type, key, version, data, deleted, date_added, date_modified`

func scanObject(row interface{ Scan(...interface{}) error }) (*models.DataObject, error) {
	var obj models.DataObject
	var data string
	err := row.Scan(
		&obj.LibraryID, &obj.ObjectType, &obj.Key, &obj.Version,
		&data, &obj.Deleted, &obj.DateAdded, &obj.DateModified,
	)
	if err != nil {
		return nil, err
	}
	obj.Data = []byte(data)
	return &obj, nil
}

func (r *ObjectRepository) Get(ctx context.Context, libraryID int64, objectType, key string) (*models.DataObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects
			  WHERE library_id = $1 AND object_type = $2 AND key = $3`

	obj, err := scanObject(r.db.QueryRowContext(ctx, query, libraryID, objectType, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (r *ObjectRepository) GetTx(ctx context.Context, tx *sql.Tx, libraryID int64, objectType, key string) (*models.DataObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects
			  WHERE library_id = $1 AND object_type = $2 AND key = $3`

	obj, err := scanObject(tx.QueryRowContext(ctx, query, libraryID, objectType, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (r *ObjectRepository) List(ctx context.Context, libraryID int64, objectType string, sinceVersion int64, limit, offset int) ([]*models.DataObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects
			  WHERE library_id = $1 AND object_type = $2 AND version > $3 AND deleted = FALSE
			  ORDER BY version, key LIMIT $4 OFFSET $5`

	rows, err := r.db.QueryContext(ctx, query, libraryID, objectType, sinceVersion, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectObjects(rows)
}

func (r *ObjectRepository) Count(ctx context.Context, libraryID int64, objectType string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE library_id = $1 AND object_type = $2 AND deleted = FALSE`,
		libraryID, objectType,
	).Scan(&count)
	return count, err
}

func (r *ObjectRepository) CountModifiedSince(ctx context.Context, libraryID, sinceVersion int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE library_id = $1 AND version > $2`,
		libraryID, sinceVersion,
	).Scan(&count)
	return count, err
}

func (r *ObjectRepository) ListModifiedSince(ctx context.Context, libraryID, sinceVersion int64) ([]*models.DataObject, error) {
	query := `SELECT ` + objectColumns + ` FROM objects
			  WHERE library_id = $1 AND version > $2
			  ORDER BY version, object_type, key`

	rows, err := r.db.QueryContext(ctx, query, libraryID, sinceVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectObjects(rows)
}

// UpsertTx writes the object inside the caller's transaction. The object's
// Version must already carry the library's bumped counter.
func (r *ObjectRepository) UpsertTx(ctx context.Context, tx *sql.Tx, obj *models.DataObject) error {
	query := `INSERT INTO objects (library_id, object_type, key, version, data, deleted, date_added, date_modified)
			  VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6)
			  ON CONFLICT (library_id, object_type, key)
			  DO UPDATE SET version = $4, data = $5, deleted = FALSE, date_modified = $6`

	_, err := tx.ExecContext(ctx, query,
		obj.LibraryID, obj.ObjectType, obj.Key, obj.Version, string(obj.Data), time.Now().UTC())
	return err
}

// DeleteTx tombstones the object at the given version. The row survives so
// delta-sync clients see the deletion.
func (r *ObjectRepository) DeleteTx(ctx context.Context, tx *sql.Tx, libraryID int64, objectType, key string, version int64) error {
	query := `UPDATE objects SET deleted = TRUE, data = '{}', version = $1, date_modified = $2
			  WHERE library_id = $3 AND object_type = $4 AND key = $5`

	_, err := tx.ExecContext(ctx, query, version, time.Now().UTC(), libraryID, objectType, key)
	return err
}

func collectObjects(rows *sql.Rows) ([]*models.DataObject, error) {
	var objects []*models.DataObject
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

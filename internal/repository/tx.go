package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// WithTx runs fn inside a transaction at the backend's default isolation
// (read committed on PostgreSQL), committing on nil and rolling back on
// error. The version-read-and-bump-and-compare sequence of a conditional
// write must always run under this boundary.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return withTx(ctx, db, &sql.TxOptions{}, fn)
}

// WithSerializableTx runs fn under serializable isolation. The file-dedup
// re-check depends on an absence check that weaker levels cannot guarantee.
func WithSerializableTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return withTx(ctx, db, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func withTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// IsRetryable reports whether err is a transient storage failure (deadlock,
// lock wait timeout, serialization conflict, busy database). These are
// reclassified as contention: the client's correct action is to wait and
// retry, exactly as for a lock-check failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014": // query_canceled (statement timeout)
			return true
		}
		return false
	}

	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	return false
}

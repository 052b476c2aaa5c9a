// Package dbx holds the transaction helper shared by the repositories and
// the migration runner.
package dbx

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// WithTx begins a transaction, runs fn with it, and then commits on success
// or rolls back on error/panic. Panics are rethrown after the rollback.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, func(ctx context.Context, tx *sqlx.Tx) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
//
// Inside fn, use tx for every statement. The pool may be limited to a
// single connection (in-memory databases), so touching db while the
// transaction is open would block forever.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

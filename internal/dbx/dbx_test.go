package dbx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-vault/internal/dbx"
	"github.com/sakif/snippet-vault/internal/repository/sqlite"
)

func newConn(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlite.New(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn := db.Conn()
	_, err = conn.Exec(`CREATE TABLE items (name TEXT NOT NULL)`)
	require.NoError(t, err)
	return conn
}

func countItems(t *testing.T, conn *sqlx.DB) int {
	t.Helper()

	var n int
	require.NoError(t, conn.Get(&n, `SELECT COUNT(*) FROM items`))
	return n
}

func TestWithTx_Commits(t *testing.T) {
	conn := newConn(t)

	err := dbx.WithTx(context.Background(), conn, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?), (?)`, "a", "b")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 2, countItems(t, conn))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	conn := newConn(t)
	boom := errors.New("boom")

	err := dbx.WithTx(context.Background(), conn, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "a"); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, conn))
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	conn := newConn(t)

	assert.Panics(t, func() {
		_ = dbx.WithTx(context.Background(), conn, func(ctx context.Context, tx *sqlx.Tx) error {
			_, _ = tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, "a")
			panic("unexpected")
		})
	})

	assert.Equal(t, 0, countItems(t, conn))
}

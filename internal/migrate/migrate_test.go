package migrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/repository/sqlite"
)

const legacySchema = `
	CREATE TABLE snippets (
		id          TEXT PRIMARY KEY,
		title       TEXT,
		description TEXT,
		code        TEXT,
		language    TEXT,
		created_at  DATETIME,
		updated_at  DATETIME
	);
	INSERT INTO snippets VALUES
		('legacy-go',    'Hello',   'greets', 'fmt.Println("hi")', 'go', '2024-01-02 03:04:05', '2024-01-02 03:04:05'),
		('legacy-blank', 'Blank',   NULL,     NULL,                '',   '2024-01-03 03:04:05', '2024-01-03 03:04:05'),
		('legacy-null',  'NullLang','',       'echo hi',           NULL, '2024-01-04 03:04:05', NULL);`

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestDB opens an in-memory database through the same DSN the service
// uses, so foreign keys are enforced during migrations.
func newTestDB(t *testing.T) (*sqlite.DB, *sqlx.DB) {
	t.Helper()
	db, err := sqlite.New(sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, db.Conn()
}

func newLegacyDB(t *testing.T) (*sqlite.DB, *sqlx.DB) {
	t.Helper()
	db, conn := newTestDB(t)
	_, err := conn.Exec(legacySchema)
	require.NoError(t, err)
	return db, conn
}

func testOptions(username, password string) Options {
	return Options{
		AdminUsername: username,
		AdminPassword: password,
		Passwords:     auth.NewPasswordServiceWithCost(bcrypt.MinCost),
	}
}

func count(t *testing.T, conn *sqlx.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, conn.Get(&n, query, args...))
	return n
}

func requireAllApplied(t *testing.T, r *Runner) {
	t.Helper()
	statuses, err := r.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 5)
	for _, s := range statuses {
		assert.False(t, s.Pending, "step %s still pending", s.Name)
	}
}

// =========================================================================
// FRESH DATABASE
// =========================================================================

func TestRun_FreshDatabase(t *testing.T) {
	_, conn := newTestDB(t)
	r := New(conn, testOptions("", ""), discard)

	statuses, err := r.Status(context.Background())
	require.NoError(t, err)
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.Name
		assert.True(t, s.Pending)
	}
	assert.Equal(t, []string{
		"create_snippets", "split_fragments", "create_categories", "associate_users", "create_shares",
	}, names)

	require.NoError(t, r.Run(context.Background()))
	requireAllApplied(t, r)

	p := NewProbe(conn)
	ctx := context.Background()
	for _, table := range []string{"snippets", "fragments", "categories", "users", "shares"} {
		ok, err := p.TableExists(ctx, table)
		require.NoError(t, err)
		assert.True(t, ok, "table %s", table)
	}
	for _, index := range []string{
		"idx_fragments_snippet_position", "idx_categories_name", "idx_users_username",
		"idx_snippets_user_id", "idx_shares_snippet_id",
	} {
		ok, err := p.IndexExists(ctx, index)
		require.NoError(t, err)
		assert.True(t, ok, "index %s", index)
	}
}

// =========================================================================
// LEGACY BACKFILL
// =========================================================================

func TestRun_LegacyBackfill(t *testing.T) {
	_, conn := newLegacyDB(t)
	r := New(conn, testOptions("", ""), discard)

	require.NoError(t, r.Run(context.Background()))

	type fragmentRow struct {
		SnippetID string `db:"snippet_id"`
		FileName  string `db:"file_name"`
		Code      string `db:"code"`
		Language  string `db:"language"`
		Position  int    `db:"position"`
	}
	var fragments []fragmentRow
	require.NoError(t, conn.Select(&fragments,
		`SELECT snippet_id, file_name, code, language, position FROM fragments ORDER BY snippet_id`))

	assert.Equal(t, []fragmentRow{
		{SnippetID: "legacy-blank", FileName: "main", Code: "", Language: "plaintext", Position: 0},
		{SnippetID: "legacy-go", FileName: "main", Code: `fmt.Println("hi")`, Language: "go", Position: 0},
		{SnippetID: "legacy-null", FileName: "main", Code: "echo hi", Language: "plaintext", Position: 0},
	}, fragments)

	p := NewProbe(conn)
	for _, column := range []string{"code", "language"} {
		ok, err := p.ColumnExists(context.Background(), "snippets", column)
		require.NoError(t, err)
		assert.False(t, ok, "snippets.%s should be dropped", column)
	}

	assert.Equal(t, 0, count(t, conn, `SELECT COUNT(*) FROM snippets WHERE description IS NULL OR updated_at IS NULL`))
	assert.Equal(t, 3, count(t, conn, `SELECT COUNT(*) FROM snippets`))
}

func TestRun_IsIdempotent(t *testing.T) {
	_, conn := newLegacyDB(t)
	r := New(conn, testOptions("admin", "admin-password"), discard)

	require.NoError(t, r.Run(context.Background()))
	before := []int{
		count(t, conn, `SELECT COUNT(*) FROM snippets`),
		count(t, conn, `SELECT COUNT(*) FROM fragments`),
		count(t, conn, `SELECT COUNT(*) FROM users`),
	}

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, New(conn, testOptions("admin", "admin-password"), discard).Run(context.Background()))

	after := []int{
		count(t, conn, `SELECT COUNT(*) FROM snippets`),
		count(t, conn, `SELECT COUNT(*) FROM fragments`),
		count(t, conn, `SELECT COUNT(*) FROM users`),
	}
	assert.Equal(t, before, after)
	assert.Equal(t, []int{3, 3, 1}, after)
	requireAllApplied(t, r)
}

// =========================================================================
// OWNERSHIP
// =========================================================================

func TestRun_BootstrapAdminClaimsOrphans(t *testing.T) {
	db, conn := newLegacyDB(t)
	r := New(conn, testOptions("admin", "admin-password"), discard)

	require.NoError(t, r.Run(context.Background()))

	var adminID string
	require.NoError(t, conn.Get(&adminID, `SELECT id FROM users WHERE username = 'admin'`))
	assert.Equal(t, 3, count(t, conn, `SELECT COUNT(*) FROM snippets WHERE user_id = ?`, adminID))

	// The migrated snippet reads back through the repository with its
	// single backfilled fragment.
	snippet, err := db.GetByID(context.Background(), "legacy-go", adminID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", snippet.Title)
	require.Len(t, snippet.Fragments, 1)
	assert.Equal(t, "go", snippet.Fragments[0].Language)
	assert.Empty(t, snippet.Categories)

	// The admin can log in with the configured password.
	var hash string
	require.NoError(t, conn.Get(&hash, `SELECT password_hash FROM users WHERE id = ?`, adminID))
	assert.NoError(t, auth.NewPasswordService().Verify(hash, "admin-password"))
}

func TestRun_ExistingAdminIsReused(t *testing.T) {
	_, conn := newLegacyDB(t)

	// First run without credentials: orphans stay orphaned.
	require.NoError(t, New(conn, testOptions("", ""), discard).Run(context.Background()))
	insertAdmin(t, conn, "admin-password")

	require.NoError(t, New(conn, testOptions("admin", "admin-password"), discard).Run(context.Background()))

	assert.Equal(t, 1, count(t, conn, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 3, count(t, conn, `SELECT COUNT(*) FROM snippets WHERE user_id = 'existing-admin'`))
}

func TestRun_ExistingAdminWrongPasswordClaimsNothing(t *testing.T) {
	_, conn := newLegacyDB(t)
	ctx := context.Background()

	require.NoError(t, New(conn, testOptions("", ""), discard).Run(ctx))
	insertAdmin(t, conn, "admin-password")

	err := New(conn, testOptions("admin", "not-the-password"), discard).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrMigration)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	assert.Equal(t, 0, count(t, conn, `SELECT COUNT(*) FROM snippets WHERE user_id IS NOT NULL`))
}

func TestRun_AdminUsernameWithoutPasswordClaimsNothing(t *testing.T) {
	_, conn := newLegacyDB(t)
	ctx := context.Background()

	require.NoError(t, New(conn, testOptions("", ""), discard).Run(ctx))
	insertAdmin(t, conn, "admin-password")

	err := New(conn, testOptions("admin", ""), discard).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Equal(t, 0, count(t, conn, `SELECT COUNT(*) FROM snippets WHERE user_id IS NOT NULL`))
}

// insertAdmin registers user "admin" with id "existing-admin".
func insertAdmin(t *testing.T, conn *sqlx.DB, password string) {
	t.Helper()

	hash, err := auth.NewPasswordServiceWithCost(bcrypt.MinCost).Hash(password)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO users (id, username, password_hash, created_at)
		VALUES ('existing-admin', 'admin', ?, CURRENT_TIMESTAMP)`, hash)
	require.NoError(t, err)
}

func TestRun_OrphansWithoutCredentials(t *testing.T) {
	_, conn := newLegacyDB(t)
	ctx := context.Background()

	require.NoError(t, New(conn, testOptions("", ""), discard).Run(ctx))

	orphans, err := NewProbe(conn).CountNull(ctx, "snippets", "user_id")
	require.NoError(t, err)
	assert.Equal(t, 3, orphans)
	assert.Equal(t, 0, count(t, conn, `SELECT COUNT(*) FROM users`))

	// Configuring credentials makes associate_users pending again.
	withAdmin := New(conn, testOptions("admin", "admin-password"), discard)
	statuses, err := withAdmin.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.Equal(t, s.Name == "associate_users", s.Pending, "step %s", s.Name)
	}

	require.NoError(t, withAdmin.Run(ctx))
	orphans, err = NewProbe(conn).CountNull(ctx, "snippets", "user_id")
	require.NoError(t, err)
	assert.Equal(t, 0, orphans)
}

// =========================================================================
// FAILURE
// =========================================================================

func TestRun_FailedStepRollsBack(t *testing.T) {
	_, conn := newTestDB(t)
	boom := errors.New("boom")
	laterRan := false

	r := &Runner{
		db:     conn,
		logger: discard,
		steps: []Step{
			{
				Name: "half_done",
				NeedsMigration: func(ctx context.Context, p *Probe) (bool, error) {
					return missingAny(ctx, p.table("half_done"))
				},
				Apply: func(ctx context.Context, tx *sqlx.Tx) error {
					if _, err := tx.ExecContext(ctx, `CREATE TABLE half_done (id TEXT)`); err != nil {
						return err
					}
					return boom
				},
			},
			{
				Name:           "later",
				NeedsMigration: func(context.Context, *Probe) (bool, error) { return true, nil },
				Apply: func(context.Context, *sqlx.Tx) error {
					laterRan = true
					return nil
				},
			},
		},
	}

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrMigration)
	assert.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "half_done", stepErr.Step)

	ok, err := NewProbe(conn).TableExists(context.Background(), "half_done")
	require.NoError(t, err)
	assert.False(t, ok, "the failed step's table must be rolled back")
	assert.False(t, laterRan, "steps after a failure must not run")
}

func TestRun_InvalidAdminRollsBackStep(t *testing.T) {
	_, conn := newLegacyDB(t)
	ctx := context.Background()

	err := New(conn, testOptions("no spaces allowed", "admin-password"), discard).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrMigration)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	p := NewProbe(conn)
	hasOwner, err := p.ColumnExists(ctx, "snippets", "user_id")
	require.NoError(t, err)
	assert.False(t, hasOwner, "associate_users must roll back as a whole")

	// Steps before the failure stay applied.
	hasFragments, err := p.TableExists(ctx, "fragments")
	require.NoError(t, err)
	assert.True(t, hasFragments)
}

// =========================================================================
// PROBE
// =========================================================================

func TestProbe_MissingTable(t *testing.T) {
	_, conn := newTestDB(t)
	p := NewProbe(conn)
	ctx := context.Background()

	ok, err := p.TableExists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.ColumnExists(ctx, "nope", "id")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := p.CountNull(ctx, "nope", "id")
	require.NoError(t, err)
	assert.Zero(t, n)
}

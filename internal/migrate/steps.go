package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/model"
)

// Step names, in the order they run.
const (
	stepCreateSnippets   = "create_snippets"
	stepSplitFragments   = "split_fragments"
	stepCreateCategories = "create_categories"
	stepAssociateUsers   = "associate_users"
	stepCreateShares     = "create_shares"
)

// legacyFileName names the single fragment created from a legacy snippet.
const legacyFileName = "main"

const createSnippetsSQL = `
	CREATE TABLE IF NOT EXISTS snippets (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

const createFragmentsSQL = `
	CREATE TABLE IF NOT EXISTS fragments (
		id         TEXT PRIMARY KEY,
		snippet_id TEXT NOT NULL REFERENCES snippets(id),
		file_name  TEXT NOT NULL,
		code       TEXT NOT NULL DEFAULT '',
		language   TEXT NOT NULL DEFAULT 'plaintext',
		position   INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fragments_snippet_position
		ON fragments(snippet_id, position)`

const createCategoriesSQL = `
	CREATE TABLE IF NOT EXISTS categories (
		snippet_id TEXT NOT NULL REFERENCES snippets(id),
		name       TEXT NOT NULL,
		PRIMARY KEY (snippet_id, name)
	);
	CREATE INDEX IF NOT EXISTS idx_categories_name ON categories(name)`

const createUsersSQL = `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username)`

const createSharesSQL = `
	CREATE TABLE IF NOT EXISTS shares (
		id            TEXT PRIMARY KEY,
		snippet_id    TEXT NOT NULL REFERENCES snippets(id),
		requires_auth INTEGER NOT NULL DEFAULT 0,
		expires_at    DATETIME,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		view_count    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_shares_snippet_id ON shares(snippet_id)`

// DefaultSteps returns the ordered migration steps. opts drives the
// bootstrap admin in associate_users.
func DefaultSteps(opts Options, logger *slog.Logger) []Step {
	if opts.Passwords == nil {
		opts.Passwords = auth.NewPasswordService()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return []Step{
		{
			Name: stepCreateSnippets,
			NeedsMigration: func(ctx context.Context, p *Probe) (bool, error) {
				return missingAny(ctx, p.table("snippets"))
			},
			Apply: execStep(createSnippetsSQL),
		},
		{
			Name: stepSplitFragments,
			NeedsMigration: func(ctx context.Context, p *Probe) (bool, error) {
				return missingAny(ctx,
					p.table("fragments"),
					p.index("idx_fragments_snippet_position"),
					p.noColumn("snippets", "code"),
					p.noColumn("snippets", "language"),
				)
			},
			Apply: func(ctx context.Context, tx *sqlx.Tx) error {
				return splitFragments(ctx, tx, logger)
			},
		},
		{
			Name: stepCreateCategories,
			NeedsMigration: func(ctx context.Context, p *Probe) (bool, error) {
				return missingAny(ctx, p.table("categories"), p.index("idx_categories_name"))
			},
			Apply: execStep(createCategoriesSQL),
		},
		{
			Name: stepAssociateUsers,
			NeedsMigration: func(ctx context.Context, p *Probe) (bool, error) {
				missing, err := missingAny(ctx,
					p.table("users"),
					p.index("idx_users_username"),
					p.column("snippets", "user_id"),
					p.index("idx_snippets_user_id"),
				)
				if err != nil || missing || !opts.hasAdmin() {
					return missing, err
				}
				orphans, err := p.CountNull(ctx, "snippets", "user_id")
				return orphans > 0, err
			},
			Apply: func(ctx context.Context, tx *sqlx.Tx) error {
				return associateUsers(ctx, tx, opts, logger)
			},
		},
		{
			Name: stepCreateShares,
			NeedsMigration: func(ctx context.Context, p *Probe) (bool, error) {
				return missingAny(ctx, p.table("shares"), p.index("idx_shares_snippet_id"))
			},
			Apply: execStep(createSharesSQL),
		},
	}
}

func execStep(ddl string) func(ctx context.Context, tx *sqlx.Tx) error {
	return func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, ddl)
		return err
	}
}

type legacyRow struct {
	ID       string `db:"id"`
	Code     string `db:"code"`
	Language string `db:"language"`
}

// splitFragments moves inline code out of the snippets table.
//
// ORDER MATTERS:
//  1. create the fragments table and its unique position index
//  2. copy every snippet's inline code into one "main" fragment, skipping
//     snippets that already have a fragment (a rerun after a crash)
//  3. only then drop snippets.code and snippets.language
//
// Steps 1-3 share one transaction: either the columns are gone and every
// snippet has its fragment, or nothing changed.
func splitFragments(ctx context.Context, tx *sqlx.Tx, logger *slog.Logger) error {
	if _, err := tx.ExecContext(ctx, createFragmentsSQL); err != nil {
		return fmt.Errorf("creating fragments table: %w", err)
	}

	probe := NewProbe(tx)
	hasCode, err := probe.ColumnExists(ctx, "snippets", "code")
	if err != nil {
		return err
	}
	hasLanguage, err := probe.ColumnExists(ctx, "snippets", "language")
	if err != nil {
		return err
	}
	if !hasCode && !hasLanguage {
		return nil
	}

	codeExpr, languageExpr := "''", "''"
	if hasCode {
		codeExpr = "COALESCE(code, '')"
	}
	if hasLanguage {
		languageExpr = "COALESCE(language, '')"
	}

	query := fmt.Sprintf(`
		SELECT id, %s AS code, %s AS language
		FROM snippets
		WHERE id NOT IN (SELECT snippet_id FROM fragments)`, codeExpr, languageExpr)

	var rows []legacyRow
	if err := tx.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("reading legacy snippets: %w", err)
	}

	for _, row := range rows {
		language := row.Language
		if language == "" {
			language = model.DefaultLanguage
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fragments (id, snippet_id, file_name, code, language, position)
			 VALUES (?, ?, ?, ?, ?, 0)`,
			xid.New().String(), row.ID, legacyFileName, row.Code, language,
		)
		if err != nil {
			return fmt.Errorf("backfilling fragment for snippet %s: %w", row.ID, err)
		}
	}

	// Legacy rows may carry NULLs the current model does not allow.
	_, err = tx.ExecContext(ctx, `
		UPDATE snippets
		SET title       = COALESCE(title, ''),
		    description = COALESCE(description, ''),
		    created_at  = COALESCE(created_at, CURRENT_TIMESTAMP),
		    updated_at  = COALESCE(updated_at, created_at, CURRENT_TIMESTAMP)
		WHERE title IS NULL OR description IS NULL
		   OR created_at IS NULL OR updated_at IS NULL`)
	if err != nil {
		return fmt.Errorf("normalizing legacy snippets: %w", err)
	}

	for _, column := range []struct {
		name    string
		present bool
	}{{"code", hasCode}, {"language", hasLanguage}} {
		if !column.present {
			continue
		}
		if _, err := tx.ExecContext(ctx, `ALTER TABLE snippets DROP COLUMN `+column.name); err != nil {
			return fmt.Errorf("dropping snippets.%s: %w", column.name, err)
		}
	}

	logger.Info("backfilled legacy fragments", "snippets", len(rows))
	return nil
}

// associateUsers adds the users table and the snippet owner column, then
// hands every ownerless snippet to the bootstrap admin when one is
// configured.
func associateUsers(ctx context.Context, tx *sqlx.Tx, opts Options, logger *slog.Logger) error {
	if _, err := tx.ExecContext(ctx, createUsersSQL); err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	probe := NewProbe(tx)
	hasOwner, err := probe.ColumnExists(ctx, "snippets", "user_id")
	if err != nil {
		return err
	}
	if !hasOwner {
		// Nullable: legacy rows have no owner yet.
		if _, err := tx.ExecContext(ctx,
			`ALTER TABLE snippets ADD COLUMN user_id TEXT REFERENCES users(id)`); err != nil {
			return fmt.Errorf("adding snippets.user_id: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_snippets_user_id ON snippets(user_id)`); err != nil {
		return fmt.Errorf("creating snippets user_id index: %w", err)
	}

	if !opts.hasAdmin() {
		return nil
	}

	orphans, err := probe.CountNull(ctx, "snippets", "user_id")
	if err != nil || orphans == 0 {
		return err
	}

	adminID, err := bootstrapAdmin(ctx, tx, opts)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE snippets SET user_id = ? WHERE user_id IS NULL`, adminID); err != nil {
		return fmt.Errorf("attaching ownerless snippets: %w", err)
	}

	logger.Info("attached ownerless snippets to bootstrap admin",
		"username", opts.AdminUsername, "count", orphans)
	return nil
}

// bootstrapAdmin finds the admin by username or creates it. An existing
// account is only reused when the configured password matches its hash.
func bootstrapAdmin(ctx context.Context, tx *sqlx.Tx, opts Options) (string, error) {
	if err := auth.ValidateUsername(opts.AdminUsername); err != nil {
		return "", fmt.Errorf("bootstrap admin: %w", err)
	}
	if err := auth.ValidatePassword(opts.AdminPassword); err != nil {
		return "", fmt.Errorf("bootstrap admin: %w", err)
	}

	var existing struct {
		ID           string `db:"id"`
		PasswordHash string `db:"password_hash"`
	}
	err := tx.GetContext(ctx, &existing,
		`SELECT id, password_hash FROM users WHERE username = ?`, opts.AdminUsername)
	if err == nil {
		if err := opts.Passwords.Verify(existing.PasswordHash, opts.AdminPassword); err != nil {
			if errors.Is(err, auth.ErrPasswordMismatch) {
				return "", fmt.Errorf("bootstrap admin: %w",
					apperror.Unauthorized("ADMIN_PASSWORD does not match the existing user "+opts.AdminUsername))
			}
			return "", fmt.Errorf("bootstrap admin: %w", err)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up bootstrap admin: %w", err)
	}

	hash, err := opts.Passwords.Hash(opts.AdminPassword)
	if err != nil {
		return "", fmt.Errorf("bootstrap admin: %w", err)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, opts.AdminUsername, hash, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("creating bootstrap admin: %w", err)
	}

	return id, nil
}

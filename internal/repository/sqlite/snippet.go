package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/dbx"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops satisfying SnippetRepository, the build breaks here rather
// than at the call site in server.go.
var _ repository.SnippetRepository = (*DB)(nil)

// All snippet SQL lives here as constants. Nothing is prepared lazily.
const (
	insertSnippetSQL = `
		INSERT INTO snippets (id, user_id, title, description, created_at, updated_at)
		VALUES (:id, :user_id, :title, :description, :created_at, :updated_at)`

	selectOwnedSnippetSQL = `
		SELECT id, user_id, title, description, created_at, updated_at
		FROM snippets
		WHERE id = ? AND user_id = ?`

	listOwnedSnippetsSQL = `
		SELECT id, user_id, title, description, created_at, updated_at
		FROM snippets
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC`

	updateSnippetSQL = `
		UPDATE snippets
		SET title = ?, description = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`

	countOwnedSnippetSQL = `SELECT COUNT(*) FROM snippets WHERE id = ? AND user_id = ?`

	selectCreatedAtSQL = `SELECT created_at FROM snippets WHERE id = ?`

	insertFragmentSQL = `
		INSERT INTO fragments (id, snippet_id, file_name, code, language, position)
		VALUES (:id, :snippet_id, :file_name, :code, :language, :position)`

	selectFragmentsSQL = `
		SELECT id, snippet_id, file_name, code, language, position
		FROM fragments
		WHERE snippet_id IN (?)
		ORDER BY snippet_id, position ASC`

	insertCategorySQL = `INSERT OR IGNORE INTO categories (snippet_id, name) VALUES (?, ?)`

	selectCategoriesSQL = `
		SELECT snippet_id, name
		FROM categories
		WHERE snippet_id IN (?)
		ORDER BY snippet_id, name`

	deleteSharesBySnippetSQL     = `DELETE FROM shares WHERE snippet_id = ?`
	deleteCategoriesBySnippetSQL = `DELETE FROM categories WHERE snippet_id = ?`
	deleteFragmentsBySnippetSQL  = `DELETE FROM fragments WHERE snippet_id = ?`
	deleteSnippetSQL             = `DELETE FROM snippets WHERE id = ?`
)

// Create inserts a new snippet with its fragments and categories.
//
// The snippet row, every fragment and every category go in one transaction:
// a concurrent reader sees either nothing or the whole snippet.
//
// Fragment positions are rewritten to their slice index, so the stored
// positions are always 0..n-1 whatever the caller put in Position.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	if snippet.UserID == nil {
		return fmt.Errorf("sqlite: creating snippet: owner is required")
	}

	snippet.ID = xid.New().String()
	now := time.Now().UTC()
	snippet.CreatedAt = now
	snippet.UpdatedAt = now

	err := dbx.WithTx(ctx, db.conn, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertSnippetSQL, snippet); err != nil {
			return fmt.Errorf("inserting snippet row: %w", err)
		}
		if err := insertFragments(ctx, tx, snippet); err != nil {
			return err
		}
		return insertCategories(ctx, tx, snippet)
	})
	if err != nil {
		return fmt.Errorf("sqlite: creating snippet: %w", err)
	}

	return nil
}

// GetByID retrieves a single snippet owned by ownerID, with fragments
// ordered by position.
func (db *DB) GetByID(ctx context.Context, id, ownerID string) (*model.Snippet, error) {
	var snippet model.Snippet

	err := db.conn.GetContext(ctx, &snippet, selectOwnedSnippetSQL, id, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, fmt.Errorf("sqlite: getting snippet %s: %w", id, err)
	}

	snippets := []model.Snippet{snippet}
	if err := loadChildren(ctx, db.conn, snippets); err != nil {
		return nil, fmt.Errorf("sqlite: getting snippet %s: %w", id, err)
	}

	return &snippets[0], nil
}

// List returns every snippet owned by ownerID, most recently updated first.
func (db *DB) List(ctx context.Context, ownerID string) ([]model.Snippet, error) {
	snippets := []model.Snippet{}

	if err := db.conn.SelectContext(ctx, &snippets, listOwnedSnippetsSQL, ownerID); err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets: %w", err)
	}

	if err := loadChildren(ctx, db.conn, snippets); err != nil {
		return nil, fmt.Errorf("sqlite: listing snippets: %w", err)
	}

	return snippets, nil
}

// Update replaces a snippet's content.
//
// REPLACE, NOT PATCH:
// Fragments and categories are deleted and re-inserted inside the same
// transaction as the row update. A reader never observes the new fragments
// next to the old ones, or a snippet with no fragments at all.
//
// The owner filter sits in the UPDATE's WHERE clause, so a snippet owned by
// someone else affects zero rows and comes back as NotFound.
func (db *DB) Update(ctx context.Context, snippet *model.Snippet) error {
	if snippet.UserID == nil {
		return apperror.NotFound("snippet", snippet.ID)
	}

	snippet.UpdatedAt = time.Now().UTC()

	err := dbx.WithTx(ctx, db.conn, func(ctx context.Context, tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, updateSnippetSQL,
			snippet.Title,
			snippet.Description,
			snippet.UpdatedAt,
			snippet.ID,
			*snippet.UserID,
		)
		if err != nil {
			return fmt.Errorf("updating snippet row: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return apperror.NotFound("snippet", snippet.ID)
		}

		if err := tx.GetContext(ctx, &snippet.CreatedAt, selectCreatedAtSQL, snippet.ID); err != nil {
			return fmt.Errorf("reading created_at: %w", err)
		}

		if _, err := tx.ExecContext(ctx, deleteFragmentsBySnippetSQL, snippet.ID); err != nil {
			return fmt.Errorf("clearing fragments: %w", err)
		}
		if err := insertFragments(ctx, tx, snippet); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, deleteCategoriesBySnippetSQL, snippet.ID); err != nil {
			return fmt.Errorf("clearing categories: %w", err)
		}
		return insertCategories(ctx, tx, snippet)
	})
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: updating snippet %s: %w", snippet.ID, err)
	}

	return nil
}

// Delete removes a snippet owned by ownerID.
//
// CASCADE ORDER:
// Children go first (shares, categories, fragments), then the parent row,
// all in one transaction. The order is spelled out here instead of relying
// on ON DELETE CASCADE, so the result does not depend on whether foreign
// key enforcement happens to be on.
func (db *DB) Delete(ctx context.Context, id, ownerID string) error {
	err := dbx.WithTx(ctx, db.conn, func(ctx context.Context, tx *sqlx.Tx) error {
		var count int
		if err := tx.GetContext(ctx, &count, countOwnedSnippetSQL, id, ownerID); err != nil {
			return fmt.Errorf("checking ownership: %w", err)
		}
		if count == 0 {
			return apperror.NotFound("snippet", id)
		}

		for _, stmt := range []string{
			deleteSharesBySnippetSQL,
			deleteCategoriesBySnippetSQL,
			deleteFragmentsBySnippetSQL,
			deleteSnippetSQL,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite: deleting snippet %s: %w", id, err)
	}

	return nil
}

// insertFragments writes snippet.Fragments with fresh IDs and dense
// positions, updating the slice in place.
func insertFragments(ctx context.Context, tx *sqlx.Tx, snippet *model.Snippet) error {
	for i := range snippet.Fragments {
		f := &snippet.Fragments[i]
		f.ID = xid.New().String()
		f.SnippetID = snippet.ID
		f.Position = i
		if f.Language == "" {
			f.Language = model.DefaultLanguage
		}

		if _, err := tx.NamedExecContext(ctx, insertFragmentSQL, f); err != nil {
			return fmt.Errorf("inserting fragment %d: %w", i, err)
		}
	}
	return nil
}

func insertCategories(ctx context.Context, tx *sqlx.Tx, snippet *model.Snippet) error {
	for _, name := range snippet.Categories {
		if _, err := tx.ExecContext(ctx, insertCategorySQL, snippet.ID, name); err != nil {
			return fmt.Errorf("inserting category %q: %w", name, err)
		}
	}
	return nil
}

type categoryRow struct {
	SnippetID string `db:"snippet_id"`
	Name      string `db:"name"`
}

// loadChildren fills Fragments and Categories for every snippet in the
// slice using two IN queries, instead of two queries per snippet.
func loadChildren(ctx context.Context, q sqlx.QueryerContext, snippets []model.Snippet) error {
	if len(snippets) == 0 {
		return nil
	}

	ids := make([]string, len(snippets))
	index := make(map[string]int, len(snippets))
	for i := range snippets {
		ids[i] = snippets[i].ID
		index[snippets[i].ID] = i
		snippets[i].Fragments = []model.Fragment{}
		snippets[i].Categories = []string{}
	}

	query, args, err := sqlx.In(selectFragmentsSQL, ids)
	if err != nil {
		return fmt.Errorf("building fragment query: %w", err)
	}
	var fragments []model.Fragment
	if err := sqlx.SelectContext(ctx, q, &fragments, query, args...); err != nil {
		return fmt.Errorf("loading fragments: %w", err)
	}
	for _, f := range fragments {
		i := index[f.SnippetID]
		snippets[i].Fragments = append(snippets[i].Fragments, f)
	}

	query, args, err = sqlx.In(selectCategoriesSQL, ids)
	if err != nil {
		return fmt.Errorf("building category query: %w", err)
	}
	var categories []categoryRow
	if err := sqlx.SelectContext(ctx, q, &categories, query, args...); err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}
	for _, c := range categories {
		i := index[c.SnippetID]
		snippets[i].Categories = append(snippets[i].Categories, c.Name)
	}

	return nil
}

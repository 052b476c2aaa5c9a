package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

var _ repository.ShareRepository = (*DB)(nil)

const (
	// insertShareSQL only inserts when the snippet exists AND belongs to the
	// owner. The ownership check and the insert are one statement, so a
	// concurrent delete cannot slip in between them.
	insertShareSQL = `
		INSERT INTO shares (id, snippet_id, requires_auth, expires_at, created_at, view_count)
		SELECT ?, id, ?, ?, ?, 0
		FROM snippets
		WHERE id = ? AND user_id = ?`

	selectShareSQL = `
		SELECT id, snippet_id, requires_auth, expires_at, created_at, view_count
		FROM shares
		WHERE id = ?`

	listSharesSQL = `
		SELECT id, snippet_id, requires_auth, expires_at, created_at, view_count
		FROM shares
		WHERE snippet_id = ?
		ORDER BY created_at DESC, id`

	deleteOwnedShareSQL = `
		DELETE FROM shares
		WHERE id = ?
		  AND snippet_id IN (SELECT id FROM snippets WHERE user_id = ?)`

	incrementViewsSQL = `
		UPDATE shares
		SET view_count = view_count + 1
		WHERE id = ?
		RETURNING view_count`

	selectSharedSnippetSQL = `
		SELECT s.id, s.user_id, s.title, s.description, s.created_at, s.updated_at
		FROM snippets s
		JOIN shares sh ON sh.snippet_id = s.id
		WHERE sh.id = ?`
)

// CreateShare stores a new share for a snippet owned by ownerID.
// share.ID must already be set; the caller generates the token.
func (db *DB) CreateShare(ctx context.Context, share *model.Share, ownerID string) error {
	share.CreatedAt = time.Now().UTC()

	var expiresAt *time.Time
	if share.ExpiresAt != nil {
		t := share.ExpiresAt.UTC()
		expiresAt = &t
		share.ExpiresAt = expiresAt
	}

	result, err := db.conn.ExecContext(ctx, insertShareSQL,
		share.ID,
		share.RequiresAuth,
		expiresAt,
		share.CreatedAt,
		share.SnippetID,
		ownerID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("share", share.ID)
		}
		return fmt.Errorf("sqlite: creating share for snippet %s: %w", share.SnippetID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("snippet", share.SnippetID)
	}

	share.ViewCount = 0
	return nil
}

// GetShare reads a share by its token. No ownership check: anyone holding
// the token may look it up, and the service decides what they get to see.
func (db *DB) GetShare(ctx context.Context, id string) (*model.Share, error) {
	var share model.Share

	if err := db.conn.GetContext(ctx, &share, selectShareSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("share", id)
		}
		return nil, fmt.Errorf("sqlite: getting share: %w", err)
	}

	return &share, nil
}

// ListShares returns the shares of a snippet owned by ownerID, newest first.
func (db *DB) ListShares(ctx context.Context, snippetID, ownerID string) ([]model.Share, error) {
	var count int
	if err := db.conn.GetContext(ctx, &count, countOwnedSnippetSQL, snippetID, ownerID); err != nil {
		return nil, fmt.Errorf("sqlite: checking snippet ownership: %w", err)
	}
	if count == 0 {
		return nil, apperror.NotFound("snippet", snippetID)
	}

	shares := []model.Share{}
	if err := db.conn.SelectContext(ctx, &shares, listSharesSQL, snippetID); err != nil {
		return nil, fmt.Errorf("sqlite: listing shares for snippet %s: %w", snippetID, err)
	}

	return shares, nil
}

// DeleteShare removes a share whose parent snippet belongs to ownerID.
func (db *DB) DeleteShare(ctx context.Context, id, ownerID string) error {
	result, err := db.conn.ExecContext(ctx, deleteOwnedShareSQL, id, ownerID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting share: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("share", id)
	}

	return nil
}

// IncrementViews adds one view in a single statement and returns the new
// count. Two concurrent viewers both get counted.
func (db *DB) IncrementViews(ctx context.Context, id string) (int64, error) {
	var views int64

	if err := db.conn.GetContext(ctx, &views, incrementViewsSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperror.NotFound("share", id)
		}
		return 0, fmt.Errorf("sqlite: incrementing share views: %w", err)
	}

	return views, nil
}

// SharedSnippet loads the snippet behind a share, fragments and categories
// included.
func (db *DB) SharedSnippet(ctx context.Context, shareID string) (*model.Snippet, error) {
	var snippet model.Snippet

	if err := db.conn.GetContext(ctx, &snippet, selectSharedSnippetSQL, shareID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("share", shareID)
		}
		return nil, fmt.Errorf("sqlite: loading shared snippet: %w", err)
	}

	snippets := []model.Snippet{snippet}
	if err := loadChildren(ctx, db.conn, snippets); err != nil {
		return nil, fmt.Errorf("sqlite: loading shared snippet: %w", err)
	}

	return &snippets[0], nil
}

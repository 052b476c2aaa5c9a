// Package repository declares the persistence contracts the service layer
// depends on. The sqlite subpackage implements all of them on one *DB.
package repository

import (
	"context"

	"github.com/sakif/snippet-vault/internal/model"
)

// SnippetRepository persists snippets together with their fragments and
// categories. Every read and write is scoped to an owner: a snippet owned by
// someone else behaves exactly like one that does not exist.
type SnippetRepository interface {
	// Create inserts the snippet, its fragments (positions reassigned to
	// 0..n-1 in slice order) and its categories in one transaction.
	Create(ctx context.Context, snippet *model.Snippet) error
	GetByID(ctx context.Context, id, ownerID string) (*model.Snippet, error)
	List(ctx context.Context, ownerID string) ([]model.Snippet, error)
	// Update replaces title, description, all fragments and all categories
	// of a snippet owned by *snippet.UserID.
	Update(ctx context.Context, snippet *model.Snippet) error
	// Delete removes the snippet and everything hanging off it.
	Delete(ctx context.Context, id, ownerID string) error
}

// ShareRepository persists share links. Ownership is always checked through
// the parent snippet's owner, never through the share row.
type ShareRepository interface {
	CreateShare(ctx context.Context, share *model.Share, ownerID string) error
	GetShare(ctx context.Context, id string) (*model.Share, error)
	ListShares(ctx context.Context, snippetID, ownerID string) ([]model.Share, error)
	DeleteShare(ctx context.Context, id, ownerID string) error
	// IncrementViews bumps view_count by one and returns the new value.
	IncrementViews(ctx context.Context, id string) (int64, error)
	// SharedSnippet loads the full snippet a share points at, bypassing the
	// owner filter. Callers must have already authorized the share.
	SharedSnippet(ctx context.Context, shareID string) (*model.Snippet, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Package model defines the data structures shared by every layer.
package model

import "time"

// Snippet is a titled collection of ordered code fragments plus categories,
// owned by one user.
//
// The `db:"..."` tags are read by sqlx when scanning rows; `db:"-"` marks
// fields that are assembled from child tables rather than read from the
// snippets row itself.
//
// UserID is a pointer because snippets migrated from the legacy schema may
// have no owner until a bootstrap admin claims them.
type Snippet struct {
	ID          string     `json:"id"          db:"id"`
	UserID      *string    `json:"-"           db:"user_id"`
	Title       string     `json:"title"       db:"title"`
	Description string     `json:"description" db:"description"`
	Fragments   []Fragment `json:"fragments"   db:"-"`
	Categories  []string   `json:"categories"  db:"-"`
	CreatedAt   time.Time  `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt"   db:"updated_at"`
}

// Fragment is one named, positioned code unit within a Snippet.
//
// Positions are dense: a snippet with n fragments always stores exactly
// 0..n-1. Fragments have no lifecycle of their own; they are replaced
// wholesale whenever the parent snippet is written.
type Fragment struct {
	ID        string `json:"id"        db:"id"`
	SnippetID string `json:"-"         db:"snippet_id"`
	FileName  string `json:"file_name" db:"file_name"`
	Code      string `json:"code"      db:"code"`
	Language  string `json:"language"  db:"language"`
	Position  int    `json:"position"  db:"position"`
}

// DefaultLanguage is stored when a fragment arrives without a language.
const DefaultLanguage = "plaintext"

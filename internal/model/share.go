package model

import "time"

// Share is a token granting read access to one snippet, optionally gated
// on authentication and/or limited in time.
//
// ExpiresAt == nil means the share never expires. Expiry is evaluated when
// the share is read; expired rows are kept, not swept.
type Share struct {
	ID           string     `json:"id"           db:"id"`
	SnippetID    string     `json:"snippetId"    db:"snippet_id"`
	RequiresAuth bool       `json:"requiresAuth" db:"requires_auth"`
	ExpiresAt    *time.Time `json:"expiresAt"    db:"expires_at"`
	CreatedAt    time.Time  `json:"createdAt"    db:"created_at"`
	ViewCount    int64      `json:"viewCount"    db:"view_count"`

	// Expired is computed at read time, never stored.
	Expired bool `json:"expired" db:"-"`
}

// IsExpired reports whether the share is past its expiry at now.
func (s *Share) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

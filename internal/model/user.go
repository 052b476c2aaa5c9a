package model

import "time"

// User represents a registered user account.
//
// Users are created by registration (or by the bootstrap admin migration)
// and are never deleted by this service. Only the password may change.
//
// PasswordHash carries `json:"-"` so the bcrypt hash can never leak into an
// API response, even if a handler serializes the whole struct.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

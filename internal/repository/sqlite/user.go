package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const (
	insertUserSQL = `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (:id, :username, :password_hash, :created_at)`

	selectUserByIDSQL = `
		SELECT id, username, password_hash, created_at
		FROM users WHERE id = ?`

	selectUserByUsernameSQL = `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = ?`
)

// CreateUser inserts a new user and fills in ID and CreatedAt.
//
// The UNIQUE index on username is the source of truth for duplicates: two
// registrations racing for the same name both pass any pre-check, but only
// one INSERT succeeds. The loser gets apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()

	if _, err := db.conn.NamedExecContext(ctx, insertUserSQL, user); err != nil {
		if isConstraintViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User

	if err := db.conn.GetContext(ctx, &u, selectUserByIDSQL, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	return &u, nil
}

// GetUserByUsername looks a user up for login.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User

	if err := db.conn.GetContext(ctx, &u, selectUserByUsernameSQL, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}

	return &u, nil
}

package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// shareTokenBytes is the amount of randomness in a share ID. 32 bytes
// encode to 43 base64url characters.
const shareTokenBytes = 32

// ShareInput describes a share link to create.
type ShareInput struct {
	SnippetID    string
	RequiresAuth bool
	// ExpiresIn is a lifetime in seconds. nil means the share never
	// expires.
	ExpiresIn *int64
}

// ResolveStatus is the outcome of opening a share link.
type ResolveStatus int

const (
	ResolveOK ResolveStatus = iota
	ResolveNotFound
	ResolveAuthRequired
	ResolveExpired
)

func (s ResolveStatus) String() string {
	switch s {
	case ResolveOK:
		return "ok"
	case ResolveNotFound:
		return "not_found"
	case ResolveAuthRequired:
		return "auth_required"
	case ResolveExpired:
		return "expired"
	default:
		return fmt.Sprintf("ResolveStatus(%d)", int(s))
	}
}

// Resolution is the result of ShareService.Resolve. Share and Snippet are
// only set when Status is ResolveOK.
type Resolution struct {
	Status  ResolveStatus
	ShareID string
	Share   *model.Share
	Snippet *model.Snippet
}

// Err converts a denied resolution into the error taxonomy. Returns nil for
// ResolveOK.
func (r *Resolution) Err() error {
	switch r.Status {
	case ResolveOK:
		return nil
	case ResolveNotFound:
		return apperror.NotFound("share", r.ShareID)
	case ResolveAuthRequired:
		return apperror.Unauthorized("this share requires authentication")
	case ResolveExpired:
		return apperror.Gone("share", r.ShareID)
	default:
		return fmt.Errorf("unknown resolve status %d", int(r.Status))
	}
}

// ShareService manages share links.
//
// LAZY EXPIRY:
// Expired shares are never swept. Expiry is decided against the clock each
// time a share is read, so a share flips from active to expired exactly at
// its deadline without any background job.
type ShareService struct {
	repo   repository.ShareRepository
	logger *slog.Logger

	now      func() time.Time
	newToken func() (string, error)
}

// NewShareService creates a ShareService using the wall clock and
// crypto/rand tokens.
func NewShareService(repo repository.ShareRepository, logger *slog.Logger) *ShareService {
	return &ShareService{
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		newToken: randomToken,
	}
}

// WithClock replaces the clock used for expiry. Tests use it to step over
// an expiry deadline without sleeping.
func (s *ShareService) WithClock(now func() time.Time) *ShareService {
	s.now = now
	return s
}

// MaxExpiresIn is the longest lifetime, in seconds, that still fits in a
// time.Duration.
const MaxExpiresIn = math.MaxInt64 / int64(time.Second)

// Create makes a new share for a snippet owned by ownerID.
func (s *ShareService) Create(ctx context.Context, in ShareInput, ownerID string) (*model.Share, error) {
	snippetID := strings.TrimSpace(in.SnippetID)
	if snippetID == "" {
		return nil, apperror.ValidationFailed("snippetId", "snippet ID is required")
	}

	var expiresAt *time.Time
	if in.ExpiresIn != nil {
		if *in.ExpiresIn <= 0 {
			return nil, apperror.ValidationFailed("expiresIn", "expiresIn must be a positive number of seconds")
		}
		if *in.ExpiresIn > MaxExpiresIn {
			return nil, apperror.ValidationFailed("expiresIn",
				fmt.Sprintf("expiresIn must be at most %d seconds", MaxExpiresIn))
		}
		t := s.now().Add(time.Duration(*in.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generating share token: %w", err)
	}

	share := &model.Share{
		ID:           token,
		SnippetID:    snippetID,
		RequiresAuth: in.RequiresAuth,
		ExpiresAt:    expiresAt,
	}

	if err := s.repo.CreateShare(ctx, share, ownerID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("failed to create share",
			slog.String("snippet", snippetID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating share: %w", err)
	}

	s.logger.Info("share created",
		slog.String("snippet", snippetID),
		slog.Bool("requires_auth", share.RequiresAuth),
		slog.Bool("expires", share.ExpiresAt != nil),
	)

	return share, nil
}

// Resolve opens a share link on behalf of a caller.
//
// CHECK ORDER:
//
//	unknown token  → ResolveNotFound
//	needs login    → ResolveAuthRequired
//	past deadline  → ResolveExpired
//	otherwise      → ResolveOK, view counted, snippet attached
//
// Auth is checked before expiry so an anonymous caller learns nothing about
// a protected share's lifetime. Only ResolveOK counts as a view.
//
// The error return is reserved for store failures; every verdict about the
// share itself is carried by Resolution.Status.
func (s *ShareService) Resolve(ctx context.Context, shareID string, authenticated bool) (*Resolution, error) {
	res := &Resolution{ShareID: shareID}

	share, err := s.repo.GetShare(ctx, shareID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			res.Status = ResolveNotFound
			return res, nil
		}
		return nil, s.logStoreError("resolve share", err)
	}

	if share.RequiresAuth && !authenticated {
		res.Status = ResolveAuthRequired
		return res, nil
	}

	if share.IsExpired(s.now()) {
		res.Status = ResolveExpired
		return res, nil
	}

	snippet, err := s.repo.SharedSnippet(ctx, shareID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			res.Status = ResolveNotFound
			return res, nil
		}
		return nil, s.logStoreError("load shared snippet", err)
	}

	views, err := s.repo.IncrementViews(ctx, shareID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Deleted between the read and the increment.
			res.Status = ResolveNotFound
			return res, nil
		}
		return nil, s.logStoreError("count share view", err)
	}
	share.ViewCount = views

	res.Status = ResolveOK
	res.Share = share
	res.Snippet = snippet
	return res, nil
}

// ListBySnippet returns a snippet's shares, newest first, each with Expired
// computed against the current clock.
func (s *ShareService) ListBySnippet(ctx context.Context, snippetID, ownerID string) ([]model.Share, error) {
	shares, err := s.repo.ListShares(ctx, snippetID, ownerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, s.logStoreError("list shares", err)
	}

	now := s.now()
	for i := range shares {
		shares[i].Expired = shares[i].IsExpired(now)
	}

	return shares, nil
}

// Delete removes a share whose snippet belongs to ownerID.
func (s *ShareService) Delete(ctx context.Context, shareID, ownerID string) error {
	if err := s.repo.DeleteShare(ctx, shareID, ownerID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return s.logStoreError("delete share", err)
	}

	s.logger.Info("share deleted")
	return nil
}

func (s *ShareService) logStoreError(op string, err error) error {
	s.logger.Error("failed to "+op, slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", op, err)
}

// randomToken returns 32 bytes from crypto/rand, base64url-encoded without
// padding.
func randomToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

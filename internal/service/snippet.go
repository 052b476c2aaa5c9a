// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository interfaces, never *sqlite.DB, so the rules in
// this package are tested with plain Go calls against in-memory fakes and
// the same services could sit behind a CLI as easily as behind HTTP.
//
// OWNERSHIP:
// Every snippet operation takes the caller's user ID. A snippet owned by
// someone else is reported exactly like a missing one (apperror.ErrNotFound)
// so that IDs cannot be probed for existence.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/repository"
)

// Validation limits.
const (
	MaxTitleLength = 100
	MaxCategories  = 20
)

// SnippetInput is what a caller submits to create or replace a snippet.
type SnippetInput struct {
	Title       string
	Description string
	Fragments   []FragmentInput
	Categories  []string
}

// FragmentInput is one submitted fragment. Position only orders the input;
// stored positions are always renumbered 0..n-1.
type FragmentInput struct {
	FileName string
	Code     string
	Language string
	Position int
}

// SnippetService handles business logic for snippets.
type SnippetService struct {
	repo   repository.SnippetRepository
	logger *slog.Logger
}

// NewSnippetService creates a new SnippetService.
func NewSnippetService(repo repository.SnippetRepository, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		repo:   repo,
		logger: logger,
	}
}

// Create validates and saves a new snippet owned by ownerID.
//
// VALIDATE AT THE SERVICE LEVEL:
// The handler only checks that the JSON parses. Title, fragment and
// category rules live here so every caller gets them, and they come back
// as apperror.ErrValidation which the handler maps to 400.
func (s *SnippetService) Create(ctx context.Context, ownerID string, in SnippetInput) (*model.Snippet, error) {
	snippet, err := buildSnippet(in)
	if err != nil {
		return nil, err
	}
	snippet.UserID = &ownerID

	if err := s.repo.Create(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("owner", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	s.logger.Info("snippet created",
		slog.String("id", snippet.ID),
		slog.Int("fragments", len(snippet.Fragments)),
	)

	return snippet, nil
}

// GetByID returns a snippet owned by ownerID.
func (s *SnippetService) GetByID(ctx context.Context, id, ownerID string) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}

	snippet, err := s.repo.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, s.storeError("get snippet", id, err)
	}

	return snippet, nil
}

// List returns every snippet owned by ownerID, most recently updated first.
func (s *SnippetService) List(ctx context.Context, ownerID string) ([]model.Snippet, error) {
	snippets, err := s.repo.List(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to list snippets", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing snippets: %w", err)
	}

	return snippets, nil
}

// Update replaces a snippet's title, description, fragments and categories.
//
// REPLACE, NOT PATCH:
// The input is the complete new state. The repository swaps fragments and
// categories inside one transaction, so readers see the old snippet or the
// new one, never a mix.
func (s *SnippetService) Update(ctx context.Context, id, ownerID string, in SnippetInput) (*model.Snippet, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "snippet ID is required")
	}

	snippet, err := buildSnippet(in)
	if err != nil {
		return nil, err
	}
	snippet.ID = id
	snippet.UserID = &ownerID

	if err := s.repo.Update(ctx, snippet); err != nil {
		return nil, s.storeError("update snippet", id, err)
	}

	s.logger.Info("snippet updated", slog.String("id", snippet.ID))
	return snippet, nil
}

// Delete removes a snippet, its fragments, its categories and its shares,
// and returns the deleted ID.
func (s *SnippetService) Delete(ctx context.Context, id, ownerID string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperror.ValidationFailed("id", "snippet ID is required")
	}

	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		return "", s.storeError("delete snippet", id, err)
	}

	s.logger.Info("snippet deleted", slog.String("id", id))
	return id, nil
}

// storeError passes domain errors through untouched and logs the rest.
func (s *SnippetService) storeError(op, id string, err error) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return err
	}
	s.logger.Error("failed to "+op,
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w", op, err)
}

// buildSnippet validates input and turns it into a model with normalized
// categories and ordered fragments. IDs and timestamps are left to the
// repository.
func buildSnippet(in SnippetInput) (*model.Snippet, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}

	if len(in.Fragments) == 0 {
		return nil, apperror.ValidationFailed("fragments", "at least one fragment is required")
	}
	for i, f := range in.Fragments {
		if strings.TrimSpace(f.FileName) == "" {
			return nil, apperror.ValidationFailed("fragments",
				fmt.Sprintf("fragment %d: file name is required", i))
		}
	}

	categories := NormalizeCategories(in.Categories)
	if len(categories) > MaxCategories {
		return nil, apperror.ValidationFailed("categories",
			fmt.Sprintf("a snippet may have at most %d categories", MaxCategories))
	}

	return &model.Snippet{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Fragments:   orderFragments(in.Fragments),
		Categories:  categories,
	}, nil
}

// NormalizeCategories trims and lowercases every name, drops empty ones,
// removes duplicates and sorts the result. The order matches what the store
// returns on read (byte order, as SQLite's BINARY collation).
func NormalizeCategories(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	sort.Strings(out)
	return out
}

// orderFragments sorts by the submitted position, keeping submission order
// on ties, and renumbers positions densely from 0.
func orderFragments(in []FragmentInput) []model.Fragment {
	sorted := make([]FragmentInput, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	fragments := make([]model.Fragment, len(sorted))
	for i, f := range sorted {
		language := strings.TrimSpace(f.Language)
		if language == "" {
			language = model.DefaultLanguage
		}
		fragments[i] = model.Fragment{
			FileName: strings.TrimSpace(f.FileName),
			Code:     f.Code,
			Language: language,
			Position: i,
		}
	}

	return fragments
}

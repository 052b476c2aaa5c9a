package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snippet-vault/internal/apperror"
	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/service"
)

// SnippetHandler serves snippet CRUD. Every route sits behind RequireAuth,
// and every call is scoped to the authenticated user.
type SnippetHandler struct {
	snippets *service.SnippetService
	logger   *slog.Logger
}

// NewSnippetHandler creates a new SnippetHandler.
func NewSnippetHandler(snippets *service.SnippetService, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, logger: logger}
}

// snippetRequest is the body of POST /snippets and PUT /snippets/{id}.
type snippetRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Fragments   []fragmentRequest `json:"fragments"`
	Categories  []string          `json:"categories"`
}

type fragmentRequest struct {
	FileName string `json:"file_name"`
	Code     string `json:"code"`
	Language string `json:"language"`
	Position int    `json:"position"`
}

func (req snippetRequest) input() service.SnippetInput {
	in := service.SnippetInput{
		Title:       req.Title,
		Description: req.Description,
		Categories:  req.Categories,
		Fragments:   make([]service.FragmentInput, len(req.Fragments)),
	}
	for i, f := range req.Fragments {
		in.Fragments[i] = service.FragmentInput{
			FileName: f.FileName,
			Code:     f.Code,
			Language: f.Language,
			Position: f.Position,
		}
	}
	return in
}

// HandleList returns the caller's snippets with nested fragments and
// categories, most recently updated first.
//
// HTTP: GET /snippets
func (h *SnippetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	snippets, err := h.snippets.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snippets)
}

// HandleGet returns one of the caller's snippets.
//
// HTTP: GET /snippets/{id}
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	snippet, err := h.snippets.GetByID(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snippet)
}

// HandleCreate saves a new snippet.
//
// HTTP: POST /snippets
// REQUEST BODY:
//
//	{"title": "...", "description": "...",
//	 "fragments": [{"file_name": "main.go", "code": "...", "language": "go", "position": 0}],
//	 "categories": ["go"]}
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req snippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Create(r.Context(), userID, req.input())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snippet)
}

// HandleUpdate replaces a snippet. Same body as create.
//
// HTTP: PUT /snippets/{id}
func (h *SnippetHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req snippetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	snippet, err := h.snippets.Update(r.Context(), chi.URLParam(r, "id"), userID, req.input())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snippet)
}

// HandleDelete removes a snippet with all its fragments, categories and
// shares.
//
// HTTP: DELETE /snippets/{id}
// RESPONSE: 200 {"id": "..."}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, err := h.snippets.Delete(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// requireUser reads the authenticated user ID, answering 401 when there is
// none. Only reachable without a user if a route lost its RequireAuth.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
	}
	return userID, ok
}

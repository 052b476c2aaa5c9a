package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/snippet-vault/internal/auth"
	"github.com/sakif/snippet-vault/internal/model"
	"github.com/sakif/snippet-vault/internal/service"
)

// ShareHandler serves share links. Creating, listing and deleting are
// owner operations; opening a share works for anyone holding the token,
// subject to the share's own auth and expiry rules.
type ShareHandler struct {
	shares   *service.ShareService
	basePath string
	logger   *slog.Logger
}

// NewShareHandler creates a ShareHandler. basePath prefixes the public
// share URL, e.g. "https://snippets.example.com" gives
// "https://snippets.example.com/s/<token>".
func NewShareHandler(shares *service.ShareService, basePath string, logger *slog.Logger) *ShareHandler {
	return &ShareHandler{
		shares:   shares,
		basePath: strings.TrimRight(basePath, "/"),
		logger:   logger,
	}
}

type createShareRequest struct {
	SnippetID    string `json:"snippetId"`
	RequiresAuth bool   `json:"requiresAuth"`
	// Seconds; omitted or null means the share never expires.
	ExpiresIn *int64 `json:"expiresIn"`
}

// shareResponse is a share plus its public URL.
type shareResponse struct {
	model.Share
	URL string `json:"url"`
}

type resolvedShareResponse struct {
	Share   shareResponse  `json:"share"`
	Snippet *model.Snippet `json:"snippet"`
}

func (h *ShareHandler) withURL(share model.Share) shareResponse {
	return shareResponse{Share: share, URL: h.basePath + "/s/" + share.ID}
}

// HandleCreate creates a share for one of the caller's snippets.
//
// HTTP: POST /share
// REQUEST BODY: {"snippetId": "...", "requiresAuth": false, "expiresIn": 3600}
func (h *ShareHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	share, err := h.shares.Create(r.Context(), service.ShareInput{
		SnippetID:    req.SnippetID,
		RequiresAuth: req.RequiresAuth,
		ExpiresIn:    req.ExpiresIn,
	}, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.withURL(*share))
}

// HandleResolve opens a share.
//
// HTTP: GET /share/{id}
// Auth: Optional. A token only matters for shares with requiresAuth.
// RESPONSE: 200 {"share": {...}, "snippet": {...}}; 401 auth required;
// 410 expired; 404 unknown
func (h *ShareHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	_, authenticated := auth.UserIDFromContext(r.Context())

	res, err := h.shares.Resolve(r.Context(), chi.URLParam(r, "id"), authenticated)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := res.Err(); err != nil {
		h.logger.Debug("share denied", slog.String("status", res.Status.String()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolvedShareResponse{
		Share:   h.withURL(*res.Share),
		Snippet: res.Snippet,
	})
}

// HandleListBySnippet lists the shares of one of the caller's snippets,
// each flagged with whether it has expired.
//
// HTTP: GET /share/snippet/{snippetId}
func (h *ShareHandler) HandleListBySnippet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	shares, err := h.shares.ListBySnippet(r.Context(), chi.URLParam(r, "snippetId"), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]shareResponse, len(shares))
	for i, s := range shares {
		out[i] = h.withURL(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleDelete revokes a share.
//
// HTTP: DELETE /share/{id}
// RESPONSE: 200 {"success": true}
func (h *ShareHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.shares.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

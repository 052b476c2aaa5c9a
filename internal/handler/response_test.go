package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-vault/internal/apperror"
)

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", apperror.ValidationFailed("title", "title is required"), http.StatusBadRequest, "validation_error"},
		{"unauthorized", apperror.Unauthorized("authentication required"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", apperror.Forbidden("no"), http.StatusForbidden, "forbidden"},
		{"not found", apperror.NotFound("snippet", "abc"), http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("getting snippet: %w", apperror.NotFound("snippet", "abc")), http.StatusNotFound, "not_found"},
		{"conflict", apperror.Conflict("user", "alice"), http.StatusConflict, "conflict"},
		{"gone", apperror.Gone("share", "tok"), http.StatusGone, "expired"},
		{"unknown", errors.New("sqlite: disk I/O error at /var/lib/x.db"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body.Error)
			assert.NotContains(t, body.Message, "/var/lib")
		})
	}
}

func TestDecodeJSON_Malformed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/snippets", strings.NewReader("{not json"))

	var dst snippetRequest
	err := decodeJSON(rec, req, &dst)

	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestSnippetRequestInput(t *testing.T) {
	req := snippetRequest{
		Title:      "t",
		Categories: []string{"Go"},
		Fragments: []fragmentRequest{
			{FileName: "b.go", Position: 1},
			{FileName: "a.go", Code: "package a", Language: "go", Position: 0},
		},
	}

	in := req.input()

	require.Len(t, in.Fragments, 2)
	assert.Equal(t, "b.go", in.Fragments[0].FileName)
	assert.Equal(t, 1, in.Fragments[0].Position)
	assert.Equal(t, "package a", in.Fragments[1].Code)
	assert.Equal(t, []string{"Go"}, in.Categories)
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/chatbi/chatbi/internal/auth"
	"github.com/chatbi/chatbi/internal/nl2sql"
	"github.com/chatbi/chatbi/internal/quality"
	"github.com/chatbi/chatbi/internal/schema"
)

type commentRequest struct {
	Comment string `json:"comment"`
}

type schemaResponse struct {
	Database  string         `json:"database,omitempty"`
	FetchedAt string         `json:"fetched_at"`
	Tables    []schema.Table `json:"tables"`
}

func handleGetSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	forceRefresh := false
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REFRESH", "refresh must be a boolean", false, nil)
			return
		}
		forceRefresh = parsed
	}

	snapshot, err := deps.Schema.GetSchema(r.Context(), forceRefresh)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snapshot))
}

func handlePatchTableComment(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleMetadataEditor); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	table := r.PathValue("table")
	request, ok := decodeComment(w, r)
	if !ok {
		return
	}

	snapshot, err := deps.Schema.UpdateTableComment(r.Context(), table, request.Comment)
	if err != nil {
		writeCommentError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snapshot))
}

func handlePatchColumnComment(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleMetadataEditor); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	table := r.PathValue("table")
	column := r.PathValue("column")
	request, ok := decodeComment(w, r)
	if !ok {
		return
	}

	snapshot, err := deps.Schema.UpdateColumnComment(r.Context(), table, column, request.Comment)
	if err != nil {
		writeCommentError(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snapshot))
}

func handleQuality(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snapshot, err := deps.Schema.GetSchema(r.Context(), false)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, quality.Evaluate(snapshot, usageFromHistory(deps, snapshot)))
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history log is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": deps.History.Recent(limit)})
}

func handleSuggestions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snapshot, err := deps.Schema.GetSchema(r.Context(), false)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error(), true, nil)
		return
	}
	suggestions := nl2sql.SuggestQuestions(snapshot, r.URL.Query().Get("table"))
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func usageFromHistory(deps Dependencies, snapshot *schema.Snapshot) map[string]int {
	if deps.History == nil {
		return nil
	}
	return deps.History.TableUsage(snapshot)
}

func decodeComment(w http.ResponseWriter, r *http.Request) (commentRequest, bool) {
	var request commentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid comment request body", false, map[string]any{"details": err.Error()})
		return commentRequest{}, false
	}
	if strings.TrimSpace(request.Comment) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "COMMENT_REQUIRED", "comment is required", false, nil)
		return commentRequest{}, false
	}
	return request, true
}

func writeCommentError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	var writeErr *schema.WriteError
	if errors.As(err, &writeErr) {
		writeError(r.Context(), w, http.StatusBadRequest, "COMMENT_WRITE_FAILED", writeErr.Error(), false, nil)
		return
	}
	var fetchErr *schema.FetchError
	if errors.As(err, &fetchErr) {
		// The comment landed but the snapshot re-fetch failed; the cache
		// stays marked dirty and heals on the next read.
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", fetchErr.Error(), true, nil)
		return
	}
	if deps.Logger != nil {
		deps.Logger.Error("comment update failed", "error", err.Error())
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "comment update failed", false, nil)
}

func snapshotView(snapshot *schema.Snapshot) schemaResponse {
	return schemaResponse{
		Database:  snapshot.Database(),
		FetchedAt: snapshot.FetchedAt().UTC().Format("2006-01-02T15:04:05Z07:00"),
		Tables:    snapshot.Tables(),
	}
}

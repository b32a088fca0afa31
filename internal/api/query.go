package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatbi/chatbi/internal/auth"
	"github.com/chatbi/chatbi/internal/nl2sql"
	"github.com/chatbi/chatbi/internal/pipeline"
)

type questionRequest struct {
	Question string        `json:"question"`
	Context  []nl2sql.Turn `json:"context"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

// handleQuery answers a natural-language question. Pipeline failures come
// back as structured envelopes with the pipeline's error code so clients
// can distinguish a rejected statement from a warehouse problem.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request questionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	response := deps.Runner.Run(r.Context(), pipeline.Request{
		Question: request.Question,
		Context:  request.Context,
	})
	writeJSON(w, statusForResponse(response), response)
}

// handleSQL runs caller-provided SQL through the same read-only gate the
// generated statements pass.
func handleSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request sqlRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid sql request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	response := deps.Runner.RunSQL(r.Context(), request.SQL)
	writeJSON(w, statusForResponse(response), response)
}

func statusForResponse(response pipeline.Response) int {
	if response.Success {
		return http.StatusOK
	}
	switch response.ErrorCode {
	case pipeline.CodeSQLRejected:
		return http.StatusBadRequest
	case pipeline.CodeQueryTimeout:
		return http.StatusGatewayTimeout
	case pipeline.CodeSchemaUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

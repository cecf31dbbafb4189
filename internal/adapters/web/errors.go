package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"smartmarket/internal/app"
	"smartmarket/internal/config"
	"smartmarket/internal/core"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorResponse(w, status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusForKind maps the core error taxonomy onto HTTP statuses.
func statusForKind(k core.Kind) int {
	switch k {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindConflict, core.KindInsufficientStock:
		return http.StatusConflict
	case core.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError classifies err and writes it. Persistence failures are
// logged and reported without their detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, app.ErrUploadsDisabled) {
		writeError(w, r, err.Error(), "STORAGE_DISABLED", http.StatusServiceUnavailable)
		return
	}

	kind := core.KindOf(err)
	resp := errorResponse{
		Error:     err.Error(),
		Code:      strings.ToUpper(string(kind)),
		RequestID: requestIDFromContext(r.Context()),
	}
	var ve *app.ValidationError
	if errors.As(err, &ve) {
		resp.Fields = ve.Fields
	}
	if kind == core.KindPersistence {
		config.LogError(h.logger, "web", r.Method+" "+r.URL.Path, "request failed", resp.RequestID, err)
		resp.Error = "internal server error"
	}
	writeErrorResponse(w, statusForKind(kind), resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package console

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/session"
)

type jsonError struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteJSONError writes {"error": message, "details": details}.
func WriteJSONError(w http.ResponseWriter, status int, message string, details json.RawMessage) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

// writeError maps err onto a status and the user-facing message. Backend
// error payloads are passed on as details.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := apiclient.StatusCode(err)
	if errors.Is(err, session.ErrNoSession) {
		status = http.StatusUnauthorized
	}
	var details json.RawMessage
	if ae, ok := apiclient.AsError(err); ok {
		details = ae.Data
	}
	msg := apiclient.Message(err, fallback)
	if errors.Is(err, session.ErrNoSession) {
		msg = "Not logged in"
	}

	ev := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed.")
	WriteJSONError(w, status, msg, details)
}

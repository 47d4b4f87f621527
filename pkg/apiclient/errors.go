package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call.
type Kind string

const (
	// KindNetwork means the backend could not be reached.
	KindNetwork Kind = "network"
	// KindHTTP means the backend answered with a non-2xx status.
	KindHTTP Kind = "http"
	// KindDecode means a 2xx body was not valid JSON.
	KindDecode Kind = "decode"
	// KindValidation is a client-side check that failed before any request was made.
	KindValidation Kind = "validation"
)

// Error is the structured failure returned by every call.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Data is the raw error payload when the server sent one.
	Data json.RawMessage
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Message != "" {
			return fmt.Sprintf("http %d: %s", e.Status, e.Message)
		}
		return fmt.Sprintf("http %d", e.Status)
	case KindValidation:
		return "validation: " + e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidationError builds a client-side validation failure.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := AsError(err)
	return ok && ae.Kind == kind
}

// StatusCode maps err onto the status a handler should answer with.
func StatusCode(err error) int {
	ae, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case KindHTTP:
		return ae.Status
	case KindValidation:
		return http.StatusBadRequest
	case KindNetwork, KindDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for err, or fallback.
func Message(err error, fallback string) string {
	if ae, ok := AsError(err); ok && ae.Message != "" {
		return ae.Message
	}
	return fallback
}

// httpError parses the server's error payload, which carries "message" or "error".
func httpError(status int, body []byte) *Error {
	e := &Error{Kind: KindHTTP, Status: status}
	if len(body) == 0 {
		return e
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Valid(body) {
		e.Data = json.RawMessage(body)
		if err := json.Unmarshal(body, &payload); err == nil {
			e.Message = payload.Message
			if e.Message == "" {
				e.Message = payload.Error
			}
		}
	}
	return e
}

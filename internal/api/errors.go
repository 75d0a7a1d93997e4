package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the server rejects the auth token.
// Errors carrying it also unwrap to the *APIError with the response body.
var ErrUnauthorized = errors.New("api: unauthorized")

// APIError is a non-2xx response. Message and Details come from the
// {"error": ..., "details": ...} body the server sends.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, msg, e.Details)
	}
	return fmt.Sprintf("api: %d %s", e.Status, msg)
}

// StatusCode returns the HTTP status of err if it wraps an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for request handling.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("conflict")
	ErrValidation     = errors.New("validation failed")
	ErrNotImplemented = errors.New("not implemented")
	ErrUnavailable    = errors.New("service unavailable")
)

// RespondError maps errors to HTTP responses using RFC7807. detail is shown
// to the client; an empty detail falls back to err except for 500 and 503,
// whose errors may carry driver or network internals.
func RespondError(w http.ResponseWriter, err error, detail string) {
	status, title := Classify(err)
	if detail == "" && !hidesCause(status) {
		detail = err.Error()
	}
	Problem(w, status, title, detail)
}

func hidesCause(status int) bool {
	return status == http.StatusInternalServerError || status == http.StatusServiceUnavailable
}

// Classify returns the status code and title for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented, "Not Implemented"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "Service Unavailable"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

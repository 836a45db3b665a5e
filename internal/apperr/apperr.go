// Package apperr defines the error taxonomy shared by services and HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel markers. Wrap tags errors with one of these so handlers can classify them.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrEmptyExtraction    = errors.New("empty extraction")
	ErrExternalService    = errors.New("external service error")
	ErrInvalidModelOutput = errors.New("invalid model output")
)

// Error carries a client-facing message alongside the wrapped cause.
type Error struct {
	marker  error
	Message string
	Details string
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if e.marker != nil {
		parts = append(parts, e.marker.Error())
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	} else if e.Details != "" {
		parts = append(parts, e.Details)
	}
	return strings.Join(parts, ": ")
}

// Is lets errors.Is match the marker as well as the cause chain.
func (e *Error) Is(target error) bool {
	return e != nil && e.marker != nil && target == e.marker
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap tags err with marker and a client-facing message. The cause message is
// exposed as Details so upstream failures can be diagnosed.
func Wrap(marker error, message string, err error) error {
	if marker == nil {
		marker = ErrExternalService
	}
	out := &Error{marker: marker, Message: strings.TrimSpace(message), cause: err}
	if err != nil {
		out.Details = err.Error()
	}
	return out
}

// New builds a tagged error with explicit details and no cause.
func New(marker error, message, details string) error {
	return &Error{marker: marker, Message: strings.TrimSpace(message), Details: strings.TrimSpace(details)}
}

// Validation is shorthand for a 400 validation failure.
func Validation(message string) error {
	return New(ErrValidation, message, "")
}

// NotFound is shorthand for a 404 that never reveals whether the resource exists.
func NotFound(resource string) error {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource), "")
}

// External wraps a downstream cloud API failure.
func External(service, operation string, err error) error {
	return Wrap(ErrExternalService, fmt.Sprintf("%s %s failed", service, operation), err)
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrEmptyExtraction):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Envelope returns the error message and optional details for the JSON body.
func Envelope(err error) (message, details string) {
	var appErr *Error
	if errors.As(err, &appErr) {
		message = appErr.Message
		if message == "" && appErr.marker != nil {
			message = appErr.marker.Error()
		}
		return message, appErr.Details
	}
	return "internal server error", ""
}

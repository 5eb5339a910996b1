// Package apperrors defines the error taxonomy shared by the session engine and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how callers are expected to react to it.
type Kind string

const (
	// KindTransientFetch is a store read/write failure; state is unchanged and the caller may retry.
	KindTransientFetch Kind = "TRANSIENT_FETCH"
	// KindValidation is an illegal transition or malformed input; nothing was mutated.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindExternalService is an analysis or recording backend failure.
	KindExternalService Kind = "EXTERNAL_SERVICE"
	// KindAuthorization is a missing capability; the action was denied.
	KindAuthorization Kind = "AUTHORIZATION"
	// KindNotFound is a missing session, participant or question.
	KindNotFound Kind = "NOT_FOUND"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperrors.ErrValidation) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is matching by kind.
var (
	ErrTransientFetch  = &Error{Kind: KindTransientFetch}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrExternalService = &Error{Kind: KindExternalService}
	ErrAuthorization   = &Error{Kind: KindAuthorization}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authorization(action string) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf("not permitted to %s", action)}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func TransientFetch(message string, err error) *Error {
	return &Error{Kind: KindTransientFetch, Message: message, Err: err}
}

func ExternalService(service string, err error) *Error {
	return &Error{Kind: KindExternalService, Message: service + " unavailable", Err: err}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientFetch:
		return http.StatusServiceUnavailable
	case KindExternalService:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Package apperr defines the error kinds returned by the chat core.
// Callers match kinds with errors.Is(err, apperr.ErrNotFound) or read them with KindOf.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	NotParticipant  Kind = "not_participant"
	Unauthorized    Kind = "unauthorized"
	Validation      Kind = "validation_error"
	NotFound        Kind = "not_found"
	AlreadyPinned   Kind = "already_pinned"
	PollExpired     Kind = "poll_expired"
	InvalidOption   Kind = "invalid_option"
	AlreadyPromoted Kind = "already_promoted"
	Conflict        Kind = "conflict"
	StorageFailure  Kind = "storage_failure"
	Internal        Kind = "internal"
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the bare sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

var (
	ErrNotParticipant  = &Error{Kind: NotParticipant}
	ErrUnauthorized    = &Error{Kind: Unauthorized}
	ErrValidation      = &Error{Kind: Validation}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrAlreadyPinned   = &Error{Kind: AlreadyPinned}
	ErrPollExpired     = &Error{Kind: PollExpired}
	ErrInvalidOption   = &Error{Kind: InvalidOption}
	ErrAlreadyPromoted = &Error{Kind: AlreadyPromoted}
	ErrConflict        = &Error{Kind: Conflict}
	ErrStorageFailure  = &Error{Kind: StorageFailure}
	ErrInternal        = &Error{Kind: Internal}
)

func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap attaches kind and op to err. An err that already carries a kind keeps it.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return &Error{Kind: ae.Kind, Op: op, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, Internal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// Retryable reports whether the caller may retry the operation as is.
func Retryable(err error) bool { return KindOf(err) == StorageFailure }

// PublicMessage is the text shown to API callers. Internal causes are not leaked.
func PublicMessage(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return "internal error"
	}
	switch ae.Kind {
	case Internal:
		return "internal error"
	case StorageFailure:
		return "storage temporarily unavailable"
	}
	if ae.Message != "" {
		return ae.Message
	}
	var inner *Error
	if errors.As(ae.Err, &inner) && inner.Message != "" {
		return inner.Message
	}
	return string(ae.Kind)
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case NotParticipant, Unauthorized:
		return http.StatusForbidden
	case Validation, InvalidOption:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case AlreadyPinned, PollExpired, AlreadyPromoted, Conflict:
		return http.StatusConflict
	case StorageFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

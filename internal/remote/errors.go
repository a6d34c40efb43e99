package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindRemoteUnavailable Kind = "remote_unavailable"
	KindAuthFailure       Kind = "auth_failure"
	KindNotFound          Kind = "not_found"
	KindInvalidData       Kind = "invalid_data"
	KindVersionConflict   Kind = "version_conflict"
	KindNotConfigured     Kind = "not_configured"
)

var (
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrAuthFailure       = errors.New("authentication failed")
	ErrNotFound          = errors.New("remote data not found")
	ErrInvalidData       = errors.New("invalid remote data")
	ErrVersionConflict   = errors.New("version conflict")
	ErrNotConfigured     = errors.New("remote not configured")
)

// Error carries the adapter's classification of a failure.
type Error struct {
	Kind       Kind
	Mode       Mode
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.StatusCode != 0 && msg != "":
		return fmt.Sprintf("%s %s: %s (http %d): %s", e.Mode, e.Op, sentinelFor(e.Kind), e.StatusCode, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: %s (http %d)", e.Mode, e.Op, sentinelFor(e.Kind), e.StatusCode)
	case msg != "":
		return fmt.Sprintf("%s %s: %s: %s", e.Mode, e.Op, sentinelFor(e.Kind), msg)
	default:
		return fmt.Sprintf("%s %s: %s", e.Mode, e.Op, sentinelFor(e.Kind))
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindRemoteUnavailable:
		return ErrRemoteUnavailable
	case KindAuthFailure:
		return ErrAuthFailure
	case KindNotFound:
		return ErrNotFound
	case KindInvalidData:
		return ErrInvalidData
	case KindVersionConflict:
		return ErrVersionConflict
	case KindNotConfigured:
		return ErrNotConfigured
	default:
		return errUnknown
	}
}

var errUnknown = errors.New("remote failure")

// KindOf classifies any error. Context expiry and cancellation count as
// RemoteUnavailable: the request never reached a conclusion.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	switch {
	case errors.Is(err, ErrRemoteUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindRemoteUnavailable
	case errors.Is(err, ErrAuthFailure):
		return KindAuthFailure
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidData):
		return KindInvalidData
	case errors.Is(err, ErrVersionConflict):
		return KindVersionConflict
	case errors.Is(err, ErrNotConfigured):
		return KindNotConfigured
	default:
		return KindUnknown
	}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return KindVersionConflict
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return KindRemoteUnavailable
	default:
		return KindUnknown
	}
}

func newError(mode Mode, op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Mode: mode, Op: op, Err: err}
}

package store

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced through the tool gateway. Callers match with
// errors.Is; Kind maps an error chain back to its taxonomy name for
// result payloads.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrCorrupt       = errors.New("corrupt")
	ErrIO            = errors.New("io error")
	ErrTimeout       = errors.New("timeout")
	ErrDegraded      = errors.New("degraded")
	ErrInternal      = errors.New("internal error")
)

// Kind returns the taxonomy name for err, or "Internal" when the chain
// carries none of the store sentinels.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	case errors.Is(err, ErrCorrupt):
		return "Corrupt"
	case errors.Is(err, ErrIO):
		return "IOError"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrDegraded):
		return "Degraded"
	default:
		return "Internal"
	}
}

// notFound wraps ErrNotFound with the entity kind and id.
func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// invalidInput wraps ErrInvalidInput with a reason.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// wrapIO wraps a filesystem failure with the operation and path.
func wrapIO(doing, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrIO, doing, path, err)
}

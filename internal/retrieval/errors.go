package retrieval

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable    = errors.New("retrieval unavailable")
	ErrInvalidRequest = errors.New("invalid retrieval request")
)

// UnavailableError reports a backend that could not be reached or
// answered with a failure status.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("retrieval backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// InvalidRequestError is returned before any backend call when the query
// or k violate the search contract.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid retrieval request: " + e.Reason
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// ErrorKind returns the short label persisted on errored tool results.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPrice      = errors.New("proposed price must be positive")
	ErrInvalidSessionID  = errors.New("malformed session id")
	ErrSessionNotFound   = errors.New("negotiation session not found")
	ErrSessionInactive   = errors.New("negotiation session is no longer active")
	ErrAttemptsExhausted = errors.New("max attempts reached")
	ErrNotNegotiable     = errors.New("product is not negotiable")
	ErrAlreadyAdded      = errors.New("negotiated price already added to cart")
	ErrNotAccepted       = errors.New("negotiation has not been accepted")
	ErrForbidden         = errors.New("caller may not perform this operation")
	ErrDependencyFailure = errors.New("dependency failure")
	ErrInvalidRequest    = errors.New("invalid request")

	// errSessionExists is returned by stores when an in-progress session
	// already exists for the same product and customer.
	errSessionExists = errors.New("in-progress session already exists")
)

// DependencyError wraps a failure of a collaborator (catalog lookup, cart
// insertion). It matches ErrDependencyFailure with errors.Is.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) Is(target error) bool { return target == ErrDependencyFailure }

func dependencyError(dependency string, err error) error {
	return &DependencyError{Dependency: dependency, Err: err}
}

// NotNegotiableError carries the reason a product cannot be negotiated.
type NotNegotiableError struct {
	Reason string
}

func (e *NotNegotiableError) Error() string {
	return ErrNotNegotiable.Error() + ": " + e.Reason
}

func (e *NotNegotiableError) Is(target error) bool { return target == ErrNotNegotiable }

// ErrorCode returns the wire code for err. Unknown errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrInvalidSessionID):
		return "invalid_session_id"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionInactive):
		return "session_inactive"
	case errors.Is(err, ErrAttemptsExhausted):
		return "attempts_exhausted"
	case errors.Is(err, ErrNotNegotiable):
		return "not_negotiable"
	case errors.Is(err, ErrAlreadyAdded):
		return "already_added"
	case errors.Is(err, ErrNotAccepted):
		return "not_accepted"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrDependencyFailure):
		return "dependency_failure"
	default:
		return "internal"
	}
}

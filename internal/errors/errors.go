package errors

import (
	"errors"
	"fmt"
)

// Common error types for organization routing
var (
	// Lookup errors
	ErrNoOrganizations      = errors.New("no organizations")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrInvalidOrganization  = errors.New("invalid organization")

	// Construction errors
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrInvalidPublicKey = errors.New("invalid public key")

	// Session errors
	ErrMalformedToken   = errors.New("malformed token")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionBinding   = errors.New("session binding failed")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidToken     = errors.New("invalid token")

	// Cache errors
	ErrClientEvicted = errors.New("client evicted before it was cached")

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
	ErrUnsupported    = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark attaches a sentinel to err so that both remain matchable with Is.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

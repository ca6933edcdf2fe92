// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"

	"fcmrelay/pkg/retry"
)

// Common errors that can be used across the application
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that input validation failed
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates that the gateway rejected our credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates that the gateway asked us to slow down
	ErrRateLimited = errors.New("rate limited")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that an external dependency failed
	ErrDependencyFailure = errors.New("dependency failure")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindNotFound represents resource not found errors
	KindNotFound
	// KindValidation represents input validation errors
	KindValidation
	// KindUnauthorized represents rejected credentials
	KindUnauthorized
	// KindRateLimited represents rate limiting by the gateway
	KindRateLimited
	// KindInternal represents internal errors
	KindInternal
	// KindTimeout represents timeout errors
	KindTimeout
	// KindDependencyFailure represents external dependency failures
	KindDependencyFailure
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindUnauthorized:
		return "Unauthorized"
	case KindRateLimited:
		return "RateLimited"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindValidation:        ErrValidation,
	KindUnauthorized:      ErrUnauthorized,
	KindRateLimited:       ErrRateLimited,
	KindInternal:          ErrInternal,
	KindTimeout:           ErrTimeout,
	KindDependencyFailure: ErrDependencyFailure,
}

// kindPriorities defines the deterministic order for error classification.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, ErrTimeout},
	{KindRateLimited, ErrRateLimited},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindUnauthorized, ErrUnauthorized},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It traverses the error chain using a deterministic priority order:
//  1. KindCanceled (context.Canceled)
//  2. KindTimeout (context.DeadlineExceeded, ErrTimeout, net timeout errors)
//  3. KindRateLimited (ErrRateLimited or a retry.AfterError anywhere in the chain)
//  4. KindNotFound, KindValidation, KindUnauthorized
//  5. KindDependencyFailure, KindInternal
//
// Returns KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		case KindRateLimited:
			if IsRateLimited(err) {
				return KindRateLimited
			}
		default:
			if errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether the given error has the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ErrorOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func ErrorOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps an error with the sentinel error for the given kind,
// preserving the original error through error wrapping.
// If err is nil, returns the sentinel error for the kind.
// Marking an error with a kind it already has returns the error unchanged.
//
// Example usage for adapting gateway responses:
//
//	if resp.StatusCode == http.StatusUnauthorized {
//	    return shared.MarkKind(statusErr, shared.KindUnauthorized)
//	}
func MarkKind(err error, kind Kind) error {
	if err == nil {
		return ErrorOf(kind)
	}
	sentinel := ErrorOf(kind)
	if sentinel == nil {
		return err
	}
	if KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// If err is nil, Wrap returns nil. If context is empty, returns the original error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded, net.Error timeouts, and our ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRateLimited reports whether the gateway asked the caller to retry later.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	_, ok := retry.AsAfter(err)
	return ok
}

// IsNotFound reports whether the error indicates a resource not found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether the error indicates input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether the error indicates rejected credentials.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsDependencyFailure reports whether the error indicates an external dependency failure.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}

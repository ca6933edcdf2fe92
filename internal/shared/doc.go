// Package shared contains common error types and utilities for error handling
// across the application without domain-specific logic.
//
// # Error Classification
//
// Use KindOf() to classify errors into categories:
//
//	switch shared.KindOf(err) {
//	case shared.KindRateLimited:
//	    // the gateway returned a Retry-After hint
//	case shared.KindValidation:
//	    // the message was rejected
//	}
//
// # Kind Priority Table
//
//	Priority | Kind                  | Description
//	---------|-----------------------|--------------------
//	1        | KindCanceled          | Context cancellation (highest)
//	2        | KindTimeout           | Timeout/deadline errors
//	3        | KindRateLimited       | Retry-After from the gateway
//	4        | KindNotFound          | Resource not found
//	5        | KindValidation        | Input validation failures
//	6        | KindUnauthorized      | Rejected credentials
//	7        | KindDependencyFailure | Gateway or network failure
//	8        | KindInternal          | Internal errors (lowest)
//
// # Marking Errors
//
// MarkKind attaches a sentinel while keeping the original error reachable:
//
//	err := shared.MarkKind(statusErr, shared.KindUnauthorized)
//	errors.Is(err, shared.ErrUnauthorized) // true
//	errors.Is(err, statusErr)              // true
package shared

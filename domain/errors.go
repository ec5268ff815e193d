package domain

import "errors"

// Error kinds as constants
const (
	KindNotFound         = "not_found"
	KindInvalidArgument  = "invalid_argument"
	KindInvalidToken     = "invalid_token"
	KindUnknownAlgorithm = "unknown_algorithm"
	KindInvalidOperation = "invalid_operation"
)

// Error is the engine's error type. Kind classifies the failure for callers;
// Description is human-readable. Crypto and token validation failures are
// deliberately coalesced into a single invalid-token kind so callers never
// learn which specific check failed.
type Error struct {
	Kind        string // machine-readable classification (e.g. "not_found")
	Description string // human-readable error description
}

// Error implements the error interface. The message is the description alone;
// the kind is machine-facing and read through the Is* predicates.
func (e *Error) Error() string {
	return e.Description
}

// NewError creates a new domain error
func NewError(kind, description string) *Error {
	return &Error{
		Kind:        kind,
		Description: description,
	}
}

// Common errors as reusable constructors
var (
	// ErrNotFound indicates a referenced aggregate does not exist
	ErrNotFound = func(desc string) *Error {
		return NewError(KindNotFound, desc)
	}

	// ErrInvalidArgument indicates malformed, missing, or mismatched input
	ErrInvalidArgument = func(desc string) *Error {
		return NewError(KindInvalidArgument, desc)
	}

	// ErrInvalidToken indicates a token failed validation (signature, claims,
	// expiry, prior use, or type mismatch)
	ErrInvalidToken = func(desc string) *Error {
		return NewError(KindInvalidToken, desc)
	}

	// ErrUnknownAlgorithm indicates an unrecognized algorithm symbol in a
	// versioned ciphertext or hash envelope
	ErrUnknownAlgorithm = func(desc string) *Error {
		return NewError(KindUnknownAlgorithm, desc)
	}

	// ErrInvalidOperation indicates a state transition that is not allowed
	// (reusing a consumed code, re-granting a held permission, etc.)
	ErrInvalidOperation = func(desc string) *Error {
		return NewError(KindInvalidOperation, desc)
	}
)

// IsKind reports whether err is (or wraps) a domain error of the given kind
func IsKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsInvalidArgument reports whether err is an invalid-argument error
func IsInvalidArgument(err error) bool { return IsKind(err, KindInvalidArgument) }

// IsInvalidToken reports whether err is an invalid-token error
func IsInvalidToken(err error) bool { return IsKind(err, KindInvalidToken) }

// IsUnknownAlgorithm reports whether err is an unknown-algorithm error
func IsUnknownAlgorithm(err error) bool { return IsKind(err, KindUnknownAlgorithm) }

// IsInvalidOperation reports whether err is an invalid-operation error
func IsInvalidOperation(err error) bool { return IsKind(err, KindInvalidOperation) }

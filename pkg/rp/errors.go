// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
)

// Sentinel errors for relying party operations.
var (
	// ErrInvalidRequest is returned when the request is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIdentityNotFound is returned when a username has no identity.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDuplicateCredential is returned when a registration presents a
	// credential ID that already exists anywhere in the store.
	ErrDuplicateCredential = errors.New("credential already registered")

	// ErrNoCredentials is returned when a login is attempted for an
	// identity with no registered credentials.
	ErrNoCredentials = errors.New("identity has no registered credentials")

	// ErrNoChallenge is returned when verification is attempted without a
	// live challenge for the identity.
	ErrNoChallenge = errors.New("no live challenge for identity")

	// ErrChallengeMismatch is returned when the response's embedded
	// challenge does not byte-match the expected challenge.
	ErrChallengeMismatch = errors.New("challenge mismatch")

	// ErrOriginMismatch is returned when the response's embedded origin is
	// not in the set of expected origins.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrRPIDMismatch is returned when the authenticator data's RP ID hash
	// does not match the expected RP ID.
	ErrRPIDMismatch = errors.New("rp id mismatch")

	// ErrBadSignature is returned when the attestation or assertion
	// signature does not verify.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrClonedAuthenticator is returned when the signature counter
	// regressed, indicating a possibly cloned authenticator.
	ErrClonedAuthenticator = errors.New("cloned authenticator detected")

	// ErrUserVerificationRequired is returned when policy requires user
	// verification and the response lacks the UV flag.
	ErrUserVerificationRequired = errors.New("user verification required")

	// ErrVerificationFailed is returned for ceremony failures that do not
	// map to a more specific sentinel.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrConflict is returned when a guarded update lost a race with a
	// concurrent writer.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrPairingDisabled is returned when a cross-device operation is
	// attempted on a service constructed without a pairing broker.
	ErrPairingDisabled = errors.New("pairing is not enabled")

	// ErrStoreUnavailable is returned when a storage collaborator fails;
	// the operation may be retried.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error wraps an error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with an operation name if it is not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// IsIdentityNotFound returns true if the error indicates a missing identity.
func IsIdentityNotFound(err error) bool {
	return errors.Is(err, ErrIdentityNotFound)
}

// IsCredentialNotFound returns true if the error indicates a missing
// credential.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsDuplicateCredential returns true if the error indicates a credential ID
// collision.
func IsDuplicateCredential(err error) bool {
	return errors.Is(err, ErrDuplicateCredential)
}

// IsConflict returns true if the error indicates a lost guarded write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsVerificationError reports whether the error represents a ceremony
// failure, as opposed to a bad request, missing record, or store fault.
// Verification failures must surface to the caller as a failed ceremony and,
// on the cross-device path, drive the pairing session to failed.
func IsVerificationError(err error) bool {
	for _, sentinel := range []error{
		ErrChallengeMismatch,
		ErrOriginMismatch,
		ErrRPIDMismatch,
		ErrBadSignature,
		ErrClonedAuthenticator,
		ErrUserVerificationRequired,
		ErrDuplicateCredential,
		ErrVerificationFailed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// classifyCeremonyError maps errors surfaced by the go-webauthn library onto
// the package's closed taxonomy. The library reports all ceremony failures
// as *protocol.Error values whose details/dev-info name the failed check.
func classifyCeremonyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pe *protocol.Error
	if !errors.As(err, &pe) {
		return WrapError(op, fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}

	text := strings.ToLower(pe.Details + " " + pe.DevInfo)

	var sentinel error
	switch {
	case strings.Contains(text, "challenge"):
		sentinel = ErrChallengeMismatch
	case strings.Contains(text, "origin"):
		sentinel = ErrOriginMismatch
	case strings.Contains(text, "rp hash"), strings.Contains(text, "rp id"), strings.Contains(text, "rpid"):
		sentinel = ErrRPIDMismatch
	case strings.Contains(text, "signature"):
		sentinel = ErrBadSignature
	case strings.Contains(text, "user verification"), strings.Contains(text, "user verified"):
		sentinel = ErrUserVerificationRequired
	default:
		sentinel = ErrVerificationFailed
	}

	return WrapError(op, fmt.Errorf("%w: %s", sentinel, pe.Details))
}

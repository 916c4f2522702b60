// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import (
	"context"
	"time"
)

// IdentityStore is the interface applications implement for account
// persistence. Identities are keyed by username; the store also holds the
// single live challenge for each identity.
type IdentityStore interface {
	// Get retrieves an identity by username.
	// Returns ErrIdentityNotFound if the identity does not exist.
	Get(ctx context.Context, username string) (*Identity, error)

	// Create creates a new identity. Creating an identity that already
	// exists returns the existing identity unchanged.
	Create(ctx context.Context, username, displayName string) (*Identity, error)

	// SetChallenge stores the live challenge for an identity, replacing
	// any previous one. Last write wins.
	SetChallenge(ctx context.Context, username string, challenge *Challenge) error

	// TakeChallenge retrieves and clears the live challenge in one step,
	// so a challenge can satisfy at most one verification attempt.
	// Returns ErrNoChallenge if no challenge is stored.
	TakeChallenge(ctx context.Context, username string) (*Challenge, error)
}

// CredentialStore manages credential persistence. Credential IDs are unique
// across all identities.
type CredentialStore interface {
	// Add stores a new credential.
	// Returns ErrDuplicateCredential if the credential ID already exists,
	// regardless of owner.
	Add(ctx context.Context, cred *Credential) error

	// ByUsername retrieves all credentials registered to an identity.
	// Returns an empty slice if the identity has none.
	ByUsername(ctx context.Context, username string) ([]*Credential, error)

	// ByID retrieves a credential by its ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	ByID(ctx context.Context, credID []byte) (*Credential, error)

	// UpdateCounter records a successful login on a credential. The write
	// is conditional on the stored counter still being previous; if a
	// concurrent login got there first the store returns ErrConflict and
	// leaves the row unchanged.
	UpdateCounter(ctx context.Context, credID []byte, previous, next uint32, usedAt time.Time) error
}

// TokenGenerator is an optional interface for minting tokens after a
// successful login. If not provided, the service returns no token.
type TokenGenerator interface {
	// GenerateToken creates a token for the authenticated identity.
	GenerateToken(ctx context.Context, identity *Identity) (string, error)
}

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryIdentityStore is an in-memory implementation of IdentityStore.
// This is intended for development and testing only.
type MemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	challenges map[string]*Challenge
}

// NewMemoryIdentityStore creates a new in-memory identity store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		identities: make(map[string]*Identity),
		challenges: make(map[string]*Challenge),
	}
}

// Get retrieves an identity by username.
func (s *MemoryIdentityStore) Get(ctx context.Context, username string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[username]
	if !ok {
		return nil, ErrIdentityNotFound
	}

	copied := *identity
	return &copied, nil
}

// Create creates a new identity, or returns the existing one unchanged.
func (s *MemoryIdentityStore) Create(ctx context.Context, username, displayName string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.identities[username]; ok {
		copied := *existing
		return &copied, nil
	}

	identity := NewIdentity(username, displayName)
	s.identities[username] = identity

	copied := *identity
	return &copied, nil
}

// SetChallenge stores the live challenge for an identity. Last write wins.
func (s *MemoryIdentityStore) SetChallenge(ctx context.Context, username string, challenge *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[username]; !ok {
		return ErrIdentityNotFound
	}
	s.challenges[username] = challenge
	return nil
}

// TakeChallenge retrieves and clears the live challenge in one step.
func (s *MemoryIdentityStore) TakeChallenge(ctx context.Context, username string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[username]
	if !ok {
		return nil, ErrNoChallenge
	}
	delete(s.challenges, username)
	return challenge, nil
}

// Count returns the number of identities in the store.
func (s *MemoryIdentityStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

// Clear removes all identities and challenges from the store.
func (s *MemoryIdentityStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities = make(map[string]*Identity)
	s.challenges = make(map[string]*Challenge)
}

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// This is intended for development and testing only.
type MemoryCredentialStore struct {
	mu         sync.RWMutex
	byID       map[string]*Credential
	byUsername map[string][]*Credential
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:       make(map[string]*Credential),
		byUsername: make(map[string][]*Credential),
	}
}

// Add stores a new credential. The credential ID must be unique across all
// identities.
func (s *MemoryCredentialStore) Add(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(cred.ID)
	if _, ok := s.byID[key]; ok {
		return ErrDuplicateCredential
	}

	copied := *cred
	s.byID[key] = &copied
	s.byUsername[cred.Username] = append(s.byUsername[cred.Username], &copied)
	return nil
}

// ByUsername retrieves all credentials registered to an identity.
func (s *MemoryCredentialStore) ByUsername(ctx context.Context, username string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := s.byUsername[username]
	result := make([]*Credential, len(creds))
	for i, c := range creds {
		copied := *c
		result[i] = &copied
	}
	return result, nil
}

// ByID retrieves a credential by its ID.
func (s *MemoryCredentialStore) ByID(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}

	copied := *cred
	return &copied, nil
}

// UpdateCounter records a successful login. The write succeeds only when
// the stored counter still equals previous, so concurrent logins on one
// credential have exactly one winner.
func (s *MemoryCredentialStore) UpdateCounter(ctx context.Context, credID []byte, previous, next uint32, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.SignCount != previous {
		return ErrConflict
	}

	cred.SignCount = next
	cred.LastUsedAt = usedAt
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Clear removes all credentials from the store.
func (s *MemoryCredentialStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Credential)
	s.byUsername = make(map[string][]*Credential)
}

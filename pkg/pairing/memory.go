// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package pairing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-memory implementation of Broker. Suitable for a
// single process; use RedisBroker when sessions must be visible across
// instances.
type MemoryBroker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryBroker creates a new in-memory broker with the default TTL.
func NewMemoryBroker() *MemoryBroker {
	return NewMemoryBrokerWithTTL(DefaultTTL)
}

// NewMemoryBrokerWithTTL creates a new in-memory broker with a custom TTL.
func NewMemoryBrokerWithTTL(ttl time.Duration) *MemoryBroker {
	return &MemoryBroker{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create mints a pending session carrying the bound challenge.
func (b *MemoryBroker) Create(ctx context.Context, kind Kind, username string, challenge json.RawMessage) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		Username:  username,
		Challenge: challenge,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	b.sessions[session.ID] = session

	copied := *session
	return &copied, nil
}

// Get retrieves a session by ID. Sessions past their TTL are reclaimed and
// reported as not found.
func (b *MemoryBroker) Get(ctx context.Context, id string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if b.expired(session) {
		delete(b.sessions, id)
		return nil, ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

// Transition moves a pending session to completed or failed.
func (b *MemoryBroker) Transition(ctx context.Context, id string, to Status) (*Session, error) {
	if to != StatusCompleted && to != StatusFailed {
		return nil, ErrInvalidTransition
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if b.expired(session) {
		delete(b.sessions, id)
		return nil, ErrSessionNotFound
	}
	if session.Status != StatusPending {
		return nil, ErrSessionTerminal
	}

	session.Status = to
	session.Verified = to == StatusCompleted
	session.CompletedAt = b.now().UTC()

	copied := *session
	return &copied, nil
}

// Poll reports the session state. A session whose TTL elapsed is reclaimed
// and reported as expired regardless of its stored status; a session that
// was already reclaimed or never existed returns ErrSessionNotFound.
func (b *MemoryBroker) Poll(ctx context.Context, id string) (*PollResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	session, ok := b.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	now := b.now().UTC()
	if b.expired(session) {
		delete(b.sessions, id)
		return &PollResult{Status: StatusExpired, Kind: session.Kind}, nil
	}

	return pollResult(session, now), nil
}

// Sweep removes expired sessions and returns how many were reclaimed.
func (b *MemoryBroker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, session := range b.sessions {
		if b.expired(session) {
			delete(b.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (b *MemoryBroker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

func (b *MemoryBroker) expired(s *Session) bool {
	return !b.now().UTC().Before(s.ExpiresAt)
}

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a session stays observable after creation.
const DefaultTTL = 5 * time.Minute

// Kind is the ceremony a session carries.
type Kind string

const (
	// KindRegister is a cross-device registration session.
	KindRegister Kind = "register"

	// KindLogin is a cross-device login session.
	KindLogin Kind = "login"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusPending means the session awaits completion by the second
	// device.
	StatusPending Status = "pending"

	// StatusCompleted means the ceremony succeeded. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed means the ceremony was attempted and failed. Terminal.
	StatusFailed Status = "failed"

	// StatusExpired means the TTL elapsed before completion. Terminal.
	StatusExpired Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

var (
	// ErrSessionNotFound is returned for sessions that do not exist or
	// are no longer observable. Unknown and reclaimed sessions are
	// deliberately indistinguishable.
	ErrSessionNotFound = errors.New("pairing session not found")

	// ErrSessionTerminal is returned when a transition is attempted on a
	// session that already reached a terminal status.
	ErrSessionTerminal = errors.New("pairing session already terminal")

	// ErrInvalidTransition is returned when the target status is not a
	// valid transition out of pending.
	ErrInvalidTransition = errors.New("invalid pairing session transition")
)

// Session is an ephemeral cross-device ceremony session.
type Session struct {
	// ID is the opaque session identifier carried in the QR payload.
	ID string `json:"id"`

	// Kind is the ceremony this session carries.
	Kind Kind `json:"kind"`

	// Username is the account the ceremony belongs to.
	Username string `json:"username"`

	// Challenge is the ceremony challenge bound to the session at creation,
	// opaque to the broker. The second device is verified against this copy,
	// so ceremonies the account starts later cannot invalidate the session.
	Challenge json.RawMessage `json:"challenge,omitempty"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Verified is true once the ceremony completed successfully.
	Verified bool `json:"verified"`

	// CreatedAt is when the session was minted.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the session stops being observable.
	ExpiresAt time.Time `json:"expires_at"`

	// CompletedAt is when the session reached a terminal status.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// PollResult is the observable state reported to the polling device. It
// never exposes more than the poller needs to render progress.
type PollResult struct {
	// Status is the session's lifecycle state.
	Status Status `json:"status"`

	// Verified is true once the ceremony completed successfully.
	Verified bool `json:"verified"`

	// Kind is the ceremony the session carries.
	Kind Kind `json:"kind"`

	// SecondsRemaining is how long the session stays observable, floored
	// at zero.
	SecondsRemaining int `json:"seconds_remaining"`
}

// Broker manages the lifecycle of pairing sessions.
type Broker interface {
	// Create mints a pending session for the given ceremony and account,
	// binding the challenge the second device must answer.
	Create(ctx context.Context, kind Kind, username string, challenge json.RawMessage) (*Session, error)

	// Get retrieves a session by ID. Unknown and expired sessions both
	// return ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Transition moves a pending session to completed or failed. Exactly
	// one transition wins; later attempts return ErrSessionTerminal.
	// Targets other than completed and failed return ErrInvalidTransition.
	Transition(ctx context.Context, id string, to Status) (*Session, error)

	// Poll reports the session state for the polling device. A session
	// whose TTL elapsed reports StatusExpired; an unknown session returns
	// ErrSessionNotFound.
	Poll(ctx context.Context, id string) (*PollResult, error)
}

// pollResult builds a PollResult from a session at the given instant.
func pollResult(s *Session, now time.Time) *PollResult {
	remaining := int(s.ExpiresAt.Sub(now) / time.Second)
	if remaining < 0 || s.Status == StatusExpired {
		remaining = 0
	}
	return &PollResult{
		Status:           s.Status,
		Verified:         s.Verified,
		Kind:             s.Kind,
		SecondsRemaining: remaining,
	}
}

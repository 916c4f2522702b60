// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package pairing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T, ttl time.Duration) (*RedisBroker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBrokerWithClient(client, ttl), mr
}

func TestRedisBrokerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	broker, _ := newRedisBroker(t, time.Minute)

	challenge := json.RawMessage(`{"ceremony":"registration"}`)
	session, err := broker.Create(ctx, KindRegister, "alice", challenge)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, StatusPending, session.Status)

	got, err := broker.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, KindRegister, got.Kind)
	assert.Equal(t, "alice", got.Username)
	assert.JSONEq(t, string(challenge), string(got.Challenge))
}

func TestRedisBrokerGetUnknown(t *testing.T) {
	broker, _ := newRedisBroker(t, time.Minute)

	_, err := broker.Get(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisBrokerTransition(t *testing.T) {
	ctx := context.Background()
	broker, _ := newRedisBroker(t, time.Minute)

	session, err := broker.Create(ctx, KindLogin, "alice", nil)
	require.NoError(t, err)

	done, err := broker.Transition(ctx, session.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.True(t, done.Verified)

	// The terminal state persists and admits no further transitions.
	_, err = broker.Transition(ctx, session.ID, StatusFailed)
	assert.ErrorIs(t, err, ErrSessionTerminal)

	got, err := broker.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRedisBrokerTransitionInvalidTargets(t *testing.T) {
	ctx := context.Background()
	broker, _ := newRedisBroker(t, time.Minute)

	session, err := broker.Create(ctx, KindRegister, "alice", nil)
	require.NoError(t, err)

	for _, target := range []Status{StatusPending, StatusExpired, Status("bogus")} {
		_, err := broker.Transition(ctx, session.ID, target)
		assert.ErrorIs(t, err, ErrInvalidTransition, string(target))
	}
}

func TestRedisBrokerTransitionUnknown(t *testing.T) {
	broker, _ := newRedisBroker(t, time.Minute)

	_, err := broker.Transition(context.Background(), "no-such-session", StatusCompleted)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisBrokerTransitionKeepsTTL(t *testing.T) {
	ctx := context.Background()
	broker, mr := newRedisBroker(t, time.Minute)

	session, err := broker.Create(ctx, KindLogin, "alice", nil)
	require.NoError(t, err)

	mr.FastForward(30 * time.Second)

	_, err = broker.Transition(ctx, session.ID, StatusCompleted)
	require.NoError(t, err)

	// The transition must not refresh the TTL: another 31 seconds crosses
	// the original deadline.
	mr.FastForward(31 * time.Second)

	_, err = broker.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisBrokerExpiry(t *testing.T) {
	ctx := context.Background()
	broker, mr := newRedisBroker(t, time.Minute)

	session, err := broker.Create(ctx, KindRegister, "alice", nil)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	// Redis reclaims the key; expired and unknown are indistinguishable.
	_, err = broker.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = broker.Poll(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = broker.Transition(ctx, session.ID, StatusCompleted)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisBrokerPoll(t *testing.T) {
	ctx := context.Background()
	broker, _ := newRedisBroker(t, time.Minute)

	session, err := broker.Create(ctx, KindLogin, "alice", nil)
	require.NoError(t, err)

	result, err := broker.Poll(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
	assert.Equal(t, KindLogin, result.Kind)
	assert.False(t, result.Verified)
	assert.Greater(t, result.SecondsRemaining, 0)
	assert.LessOrEqual(t, result.SecondsRemaining, 60)

	_, err = broker.Transition(ctx, session.ID, StatusFailed)
	require.NoError(t, err)

	result, err = broker.Poll(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.False(t, result.Verified)
}

func TestNewRedisBrokerInvalidURL(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), "not-a-url", time.Minute)
	assert.Error(t, err)
}

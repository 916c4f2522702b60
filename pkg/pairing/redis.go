// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pairing:session:"

// RedisBroker is a Redis-backed implementation of Broker. Session expiry is
// enforced by the key TTL, so expired sessions become unobservable without a
// sweeper. Transitions are guarded with an optimistic WATCH transaction so
// at most one transition wins under concurrency.
type RedisBroker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBroker connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisBroker(ctx context.Context, url string, ttl time.Duration) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBroker{client: client, ttl: ttl}, nil
}

// NewRedisBrokerWithClient wraps an existing client, for tests and callers
// that manage their own connection.
func NewRedisBrokerWithClient(client *redis.Client, ttl time.Duration) *RedisBroker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBroker{client: client, ttl: ttl}
}

// Close releases the underlying client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// Create mints a pending session with the configured TTL, carrying the
// bound challenge.
func (b *RedisBroker) Create(ctx context.Context, kind Kind, username string, challenge json.RawMessage) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		Username:  username,
		Challenge: challenge,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := b.client.Set(ctx, redisKeyPrefix+session.ID, payload, b.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return session, nil
}

// Get retrieves a session by ID. Expired keys are gone from Redis, so they
// report ErrSessionNotFound like unknown IDs.
func (b *RedisBroker) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := b.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Transition moves a pending session to completed or failed. The write runs
// inside a WATCH transaction; if a concurrent transition lands first, the
// transaction aborts and the loser observes ErrSessionTerminal.
func (b *RedisBroker) Transition(ctx context.Context, id string, to Status) (*Session, error) {
	if to != StatusCompleted && to != StatusFailed {
		return nil, ErrInvalidTransition
	}

	key := redisKeyPrefix + id
	var result *Session

	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		var session Session
		if err := json.Unmarshal(payload, &session); err != nil {
			return err
		}
		if session.Status != StatusPending {
			return ErrSessionTerminal
		}

		session.Status = to
		session.Verified = to == StatusCompleted
		session.CompletedAt = time.Now().UTC()

		updated, err := json.Marshal(&session)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}

		result = &session
		return nil
	}

	err := b.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Lost the race; the winner's transition stands.
		return nil, ErrSessionTerminal
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Poll reports the session state for the polling device. Redis reclaims
// expired keys itself, so expired and unknown sessions are alike
// unobservable and return ErrSessionNotFound.
func (b *RedisBroker) Poll(ctx context.Context, id string) (*PollResult, error) {
	session, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return pollResult(session, time.Now().UTC()), nil
}

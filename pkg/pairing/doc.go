// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

// Package pairing brokers short-lived sessions that carry a WebAuthn
// ceremony from one device to another.
//
// A session is minted on the device that starts a ceremony, travels to the
// second device inside a QR code payload, and is completed there exactly
// once. The first device observes the outcome by polling. Sessions are
// pending for at most their TTL (five minutes by default), then become
// unobservable.
//
// State machine:
//
//	pending ──► completed   (verification succeeded)
//	pending ──► failed      (verification failed)
//	pending ──► expired     (TTL elapsed; reclaimed lazily)
//
// completed, failed, and expired are terminal. A transition races with at
// most one winner; losers observe ErrSessionTerminal.
//
// Two Broker implementations are provided: an in-memory broker for a single
// process and a Redis-backed broker for multi-instance deployments.
package pairing

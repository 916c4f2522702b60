// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

// Package rp implements the server side of WebAuthn ceremonies for the
// pairkey relying party.
//
// This package wraps the go-webauthn/webauthn library and provides:
//   - Challenge issuing for registration and login ceremonies
//   - Ceremony verification with a closed error taxonomy
//   - Origin validation for web and Android APK key-hash origins
//   - Pluggable identity and credential store interfaces
//   - In-memory stores and a mock authenticator for development/testing
//   - Optional cross-device ceremonies brokered through pkg/pairing
//
// # Architecture
//
// The package is designed with a layered architecture:
//
//  1. Service layer (Service) - challenge issuing and ceremony verification
//  2. Storage layer (IdentityStore, CredentialStore) - pluggable persistence
//  3. HTTP layer (pkg/rp/http) - composable HTTP handlers
//
// # Usage
//
// Basic usage with in-memory storage (for development):
//
//	svc, err := rp.NewService(rp.ServiceParams{
//	    Config: &rp.Config{
//	        RPID:          "localhost",
//	        RPDisplayName: "Pairkey Demo",
//	        WebOrigin:     "http://localhost:3000",
//	    },
//	    Identities:  rp.NewMemoryIdentityStore(),
//	    Credentials: rp.NewMemoryCredentialStore(),
//	})
//
// For production, implement the storage interfaces with your database, or
// use the SQLite store in pkg/rp/sqlite.
//
// # Cross-device ceremonies
//
// When a pairing.Broker is supplied, Begin* calls can additionally mint a
// pairing session whose payload is carried to a second device inside a QR
// code. The second device completes the ceremony against the session, and
// the first device observes the outcome by polling.
//
// # Counter policy
//
// The authenticator signature counter is checked for monotonicity only when
// both the stored and the reported counter are nonzero. Authenticators that
// persistently report zero never trip the check; this mirrors the behavior
// of authenticators that do not maintain a counter at all. When the check
// does trip, verification fails hard with ErrClonedAuthenticator rather
// than recording a warning.
//
// Note: WebAuthn requires HTTPS for all operations. Browsers only expose
// the WebAuthn API in secure contexts.
package rp

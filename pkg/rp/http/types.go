// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package http

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
)

// OptionsRequest is the request body for starting a ceremony.
type OptionsRequest struct {
	// Username is the account name (required).
	Username string `json:"username"`

	// DisplayName is the human-readable name (optional, registration
	// only, defaults to the username).
	DisplayName string `json:"display_name,omitempty"`

	// Pair requests a cross-device ceremony: the response additionally
	// carries a pairing session and a QR payload for the second device.
	Pair bool `json:"pair,omitempty"`
}

// RegistrationOptionsResponse is the response for registration options.
type RegistrationOptionsResponse struct {
	// Options is the credential creation options document.
	Options *protocol.CredentialCreation `json:"options"`

	// SessionID is the pairing session ID (cross-device only).
	SessionID string `json:"session_id,omitempty"`

	// QRData is the payload to render as a QR code (cross-device only).
	QRData string `json:"qr_data,omitempty"`

	// ExpiresIn is the pairing session lifetime in seconds
	// (cross-device only).
	ExpiresIn int `json:"expires_in,omitempty"`
}

// LoginOptionsResponse is the response for login options.
type LoginOptionsResponse struct {
	// Options is the credential request options document.
	Options *protocol.CredentialAssertion `json:"options"`

	// SessionID is the pairing session ID (cross-device only).
	SessionID string `json:"session_id,omitempty"`

	// QRData is the payload to render as a QR code (cross-device only).
	QRData string `json:"qr_data,omitempty"`

	// ExpiresIn is the pairing session lifetime in seconds
	// (cross-device only).
	ExpiresIn int `json:"expires_in,omitempty"`
}

// VerifyRequest is the request body for completing a ceremony. Exactly one
// of Username and SessionID must be set: Username for same-device
// ceremonies, SessionID for cross-device ceremonies scanned from a QR code.
type VerifyRequest struct {
	// Username is the account completing a same-device ceremony.
	Username string `json:"username,omitempty"`

	// SessionID is the pairing session being completed cross-device.
	SessionID string `json:"session_id,omitempty"`

	// Response is the authenticator response document, verbatim.
	Response json.RawMessage `json:"response"`
}

// VerifyResponse is the response after a ceremony completes successfully.
type VerifyResponse struct {
	// Verified is true when the ceremony succeeded.
	Verified bool `json:"verified"`

	// Token is the post-login token, when token issuance is configured.
	Token string `json:"token,omitempty"`

	// CredentialID is the base64url credential ID (registration only).
	CredentialID string `json:"credential_id,omitempty"`
}

// PairingStatusResponse is the response for the pairing poll endpoint.
type PairingStatusResponse struct {
	// Status is the session state: pending, completed, failed, expired.
	Status string `json:"status"`

	// Verified is true once the ceremony completed successfully.
	Verified bool `json:"verified"`

	// Kind is the ceremony the session carries: register or login.
	Kind string `json:"kind,omitempty"`

	// ExpiresIn is how many seconds the session stays observable.
	ExpiresIn int `json:"expires_in"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Verified is false on failed ceremony verification responses and
	// omitted otherwise.
	Verified *bool `json:"verified,omitempty"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest           = "invalid_request"
	ErrorCodeIdentityNotFound         = "identity_not_found"
	ErrorCodeSessionNotFound          = "session_not_found"
	ErrorCodeNoChallenge              = "no_challenge"
	ErrorCodeNoCredentials            = "no_credentials"
	ErrorCodeChallengeMismatch        = "challenge_mismatch"
	ErrorCodeOriginMismatch           = "origin_mismatch"
	ErrorCodeRPIDMismatch             = "rpid_mismatch"
	ErrorCodeBadSignature             = "bad_signature"
	ErrorCodeClonedAuthenticator      = "cloned_authenticator"
	ErrorCodeUserVerificationRequired = "user_verification_required"
	ErrorCodeDuplicateCredential      = "duplicate_credential"
	ErrorCodeSessionTerminal          = "session_terminal"
	ErrorCodeConflict                 = "conflict"
	ErrorCodeStoreUnavailable         = "store_unavailable"
	ErrorCodeVerificationFailed       = "verification_failed"
	ErrorCodeInternalError            = "internal_error"
)

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import (
	"encoding/binary"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// CeremonyKind distinguishes the two WebAuthn ceremonies.
type CeremonyKind string

const (
	// CeremonyRegistration is an attestation (credential creation) ceremony.
	CeremonyRegistration CeremonyKind = "registration"

	// CeremonyLogin is an assertion (authentication) ceremony.
	CeremonyLogin CeremonyKind = "login"
)

// CredentialOrigin records which kind of origin a credential was created
// from. It is metadata only; verification always accepts the full configured
// origin set regardless of this tag.
type CredentialOrigin string

const (
	// CredentialOriginWeb marks credentials created from the web origin.
	CredentialOriginWeb CredentialOrigin = "web"

	// CredentialOriginMobile marks credentials created from an Android
	// APK key-hash origin.
	CredentialOriginMobile CredentialOrigin = "mobile"
)

// Challenge is the single live challenge stored against an identity. Issuing
// a new challenge overwrites any previous one (last write wins), and any
// verification attempt consumes it.
type Challenge struct {
	// Ceremony is the ceremony the challenge was issued for. A challenge
	// issued for one ceremony kind cannot complete the other.
	Ceremony CeremonyKind `json:"ceremony"`

	// Session is the library session state captured at issue time: the
	// challenge bytes, user handle, allowed credential IDs, and expiry.
	Session webauthn.SessionData `json:"session"`
}

// Identity represents an account known to the relying party. It implements
// webauthn.User so it can be handed directly to the underlying library.
type Identity struct {
	// Username is the unique account name chosen by the user.
	Username string `json:"username"`

	// ID is the WebAuthn user handle, derived deterministically from the
	// username.
	ID []byte `json:"id"`

	// DisplayName is the human-readable name shown by authenticators.
	DisplayName string `json:"display_name"`

	// CreatedAt is when the identity was created.
	CreatedAt time.Time `json:"created_at"`

	credentials []*Credential
}

// NewIdentity creates an identity with an ID derived from the username.
func NewIdentity(username, displayName string) *Identity {
	if displayName == "" {
		displayName = username
	}
	return &Identity{
		Username:    username,
		ID:          DeriveUserID(username),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
}

// DeriveUserID derives a stable 8-byte WebAuthn user handle from a username
// using FNV-1a.
func DeriveUserID(username string) []byte {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for _, b := range []byte(username) {
		h ^= uint64(b)
		h *= 1099511628211 // FNV prime
	}
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, h)
	return id
}

// WebAuthnID returns the user handle.
func (i *Identity) WebAuthnID() []byte {
	return i.ID
}

// WebAuthnName returns the username.
func (i *Identity) WebAuthnName() string {
	return i.Username
}

// WebAuthnDisplayName returns the display name.
func (i *Identity) WebAuthnDisplayName() string {
	if i.DisplayName == "" {
		return i.Username
	}
	return i.DisplayName
}

// WebAuthnCredentials returns the identity's registered credentials in the
// library's format.
func (i *Identity) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(i.credentials))
	for n, c := range i.credentials {
		creds[n] = c.ToWebAuthn()
	}
	return creds
}

// Credentials returns the credentials attached to the identity.
func (i *Identity) Credentials() []*Credential {
	return i.credentials
}

// SetCredentials attaches credentials loaded from a CredentialStore.
func (i *Identity) SetCredentials(creds []*Credential) {
	i.credentials = creds
}

// Credential is a public-key credential record stored by the relying party.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// Username is the account the credential belongs to.
	Username string `json:"username"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation used.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports reported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Flags contains authenticator capability flags.
	Flags CredentialFlags `json:"flags"`

	// AAGUID is the authenticator model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// SignCount is the stored signature counter for clone detection.
	SignCount uint32 `json:"sign_count"`

	// Origin records whether the credential was created from the web
	// origin or an Android origin.
	Origin CredentialOrigin `json:"origin"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed a login.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	// UserPresent indicates the user was present during the operation.
	UserPresent bool `json:"user_present"`

	// UserVerified indicates the user was verified (e.g., biometric, PIN).
	UserVerified bool `json:"user_verified"`

	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`

	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// ToWebAuthn converts the credential to the go-webauthn library's type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// FromWebAuthnCredential builds a credential record from the library's type
// after a successful registration.
func FromWebAuthnCredential(username string, origin CredentialOrigin, wc *webauthn.Credential) *Credential {
	return &Credential{
		ID:              wc.ID,
		Username:        username,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		AAGUID:    wc.Authenticator.AAGUID,
		SignCount: wc.Authenticator.SignCount,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
}

// CredentialDescriptors converts credentials into the descriptor list used
// for excludeCredentials and allowCredentials.
func CredentialDescriptors(creds []*Credential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, len(creds))
	for n, c := range creds {
		out[n] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
			Transport:    c.Transport,
		}
	}
	return out
}

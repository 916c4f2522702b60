// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/pairkey/pairkey/pkg/pairing"
)

// Service provides WebAuthn registration and authentication operations,
// including cross-device ceremonies brokered through pairing sessions.
type Service struct {
	webauthn    *webauthn.WebAuthn
	config      *Config
	origins     *OriginValidator
	identities  IdentityStore
	credentials CredentialStore
	broker      pairing.Broker // optional
	tokens      TokenGenerator // optional
}

// ServiceParams contains dependencies for creating a relying party service.
type ServiceParams struct {
	// Config is the relying party configuration (required).
	Config *Config

	// Identities is the account persistence layer (required).
	Identities IdentityStore

	// Credentials is the credential persistence layer (required).
	Credentials CredentialStore

	// Broker enables cross-device ceremonies. If nil, the paired
	// operations return ErrPairingDisabled.
	Broker pairing.Broker

	// Tokens is an optional token generator for post-login tokens.
	Tokens TokenGenerator
}

// NewService creates a new relying party service with the provided
// dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if params.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &Service{
		webauthn:    wa,
		config:      params.Config,
		origins:     NewOriginValidator(params.Config),
		identities:  params.Identities,
		credentials: params.Credentials,
		broker:      params.Broker,
		tokens:      params.Tokens,
	}, nil
}

// BeginRegistration starts a registration ceremony for the given username,
// creating the identity if it does not exist. The returned options carry the
// challenge; issuing replaces any previous live challenge for the identity.
func (s *Service) BeginRegistration(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, error) {
	if username == "" {
		return nil, WrapError("begin registration", ErrInvalidRequest)
	}

	options, challenge, err := s.issueRegistrationChallenge(ctx, username, displayName)
	if err != nil {
		return nil, err
	}
	if err := s.identities.SetChallenge(ctx, username, challenge); err != nil {
		return nil, WrapError("store challenge", err)
	}

	return options, nil
}

// FinishRegistration completes a registration ceremony. The identity's live
// challenge is consumed before verification runs, so a second attempt with
// the same challenge fails regardless of this attempt's outcome.
func (s *Service) FinishRegistration(ctx context.Context, username string, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	if username == "" || response == nil {
		return nil, WrapError("finish registration", ErrInvalidRequest)
	}

	challenge, err := s.takeChallenge(ctx, username)
	if err != nil {
		return nil, WrapError("finish registration", err)
	}

	return s.verifyRegistration(ctx, username, challenge, response)
}

// BeginLogin starts a login ceremony for the given username. The identity
// must already exist and have at least one registered credential.
func (s *Service) BeginLogin(ctx context.Context, username string) (*protocol.CredentialAssertion, error) {
	if username == "" {
		return nil, WrapError("begin login", ErrInvalidRequest)
	}

	options, challenge, err := s.issueLoginChallenge(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.identities.SetChallenge(ctx, username, challenge); err != nil {
		return nil, WrapError("store challenge", err)
	}

	return options, nil
}

// FinishLogin completes a login ceremony. On success it persists the new
// signature counter with a guarded write and returns a token (when a
// TokenGenerator is configured) together with the identity.
//
// The signature counter is checked for monotonicity only when both the
// stored and the reported counter are nonzero; a regression fails the
// ceremony with ErrClonedAuthenticator. The underlying library's clone
// warning bit is ignored in favor of this policy.
func (s *Service) FinishLogin(ctx context.Context, username string, response *protocol.ParsedCredentialAssertionData) (string, *Identity, error) {
	if username == "" || response == nil {
		return "", nil, WrapError("finish login", ErrInvalidRequest)
	}

	challenge, err := s.takeChallenge(ctx, username)
	if err != nil {
		return "", nil, WrapError("finish login", err)
	}

	return s.verifyLogin(ctx, username, challenge, response)
}

// BeginPairedRegistration starts a registration ceremony whose completion is
// expected from a second device. The challenge is bound to the minted
// pairing session rather than stored as the identity's live challenge, so
// ceremonies the account starts meanwhile cannot invalidate the session.
func (s *Service) BeginPairedRegistration(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, *pairing.Session, error) {
	if s.broker == nil {
		return nil, nil, WrapError("begin paired registration", ErrPairingDisabled)
	}
	if username == "" {
		return nil, nil, WrapError("begin paired registration", ErrInvalidRequest)
	}

	options, challenge, err := s.issueRegistrationChallenge(ctx, username, displayName)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, pairing.KindRegister, username, challenge)
	if err != nil {
		return nil, nil, err
	}

	return options, session, nil
}

// BeginPairedLogin starts a login ceremony whose completion is expected from
// a second device.
func (s *Service) BeginPairedLogin(ctx context.Context, username string) (*protocol.CredentialAssertion, *pairing.Session, error) {
	if s.broker == nil {
		return nil, nil, WrapError("begin paired login", ErrPairingDisabled)
	}
	if username == "" {
		return nil, nil, WrapError("begin paired login", ErrInvalidRequest)
	}

	options, challenge, err := s.issueLoginChallenge(ctx, username)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, pairing.KindLogin, username, challenge)
	if err != nil {
		return nil, nil, err
	}

	return options, session, nil
}

// FinishPairedRegistration completes a registration ceremony against a
// pairing session. The session identifies the account and carries the
// challenge; callers never name the username directly. The session
// transitions exactly once: to completed on success, to failed when
// verification fails. Errors before verification (unknown session, wrong
// ceremony kind) leave the session untouched.
func (s *Service) FinishPairedRegistration(ctx context.Context, sessionID string, response *protocol.ParsedCredentialCreationData) (*Credential, *pairing.Session, error) {
	session, err := s.resolveSession(ctx, sessionID, pairing.KindRegister)
	if err != nil {
		return nil, nil, err
	}

	challenge, err := sessionChallenge(session)
	if err != nil {
		return nil, nil, err
	}

	cred, err := s.verifyRegistration(ctx, session.Username, challenge, response)
	if err != nil {
		s.failSession(ctx, sessionID, err)
		return nil, nil, err
	}

	session, err = s.broker.Transition(ctx, sessionID, pairing.StatusCompleted)
	if err != nil {
		return nil, nil, WrapError("complete pairing session", err)
	}

	return cred, session, nil
}

// FinishPairedLogin completes a login ceremony against a pairing session.
func (s *Service) FinishPairedLogin(ctx context.Context, sessionID string, response *protocol.ParsedCredentialAssertionData) (string, *pairing.Session, error) {
	session, err := s.resolveSession(ctx, sessionID, pairing.KindLogin)
	if err != nil {
		return "", nil, err
	}

	challenge, err := sessionChallenge(session)
	if err != nil {
		return "", nil, err
	}

	token, _, err := s.verifyLogin(ctx, session.Username, challenge, response)
	if err != nil {
		s.failSession(ctx, sessionID, err)
		return "", nil, err
	}

	session, err = s.broker.Transition(ctx, sessionID, pairing.StatusCompleted)
	if err != nil {
		return "", nil, WrapError("complete pairing session", err)
	}

	return token, session, nil
}

// PairingStatus reports the observable state of a pairing session for the
// polling device.
func (s *Service) PairingStatus(ctx context.Context, sessionID string) (*pairing.PollResult, error) {
	if s.broker == nil {
		return nil, WrapError("pairing status", ErrPairingDisabled)
	}
	return s.broker.Poll(ctx, sessionID)
}

// Identity retrieves an identity with its credentials attached.
func (s *Service) Identity(ctx context.Context, username string) (*Identity, error) {
	identity, _, err := s.loadIdentity(ctx, username)
	return identity, err
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Origins returns the service's origin validator.
func (s *Service) Origins() *OriginValidator {
	return s.origins
}

// issueRegistrationChallenge builds registration options and the matching
// challenge record, creating the identity if it does not exist. The caller
// decides where the challenge lives: the identity's live slot or a pairing
// session.
func (s *Service) issueRegistrationChallenge(ctx context.Context, username, displayName string) (*protocol.CredentialCreation, *Challenge, error) {
	identity, err := s.identities.Get(ctx, username)
	if err != nil {
		if !IsIdentityNotFound(err) {
			return nil, nil, WrapError("get identity", err)
		}
		identity, err = s.identities.Create(ctx, username, displayName)
		if err != nil {
			return nil, nil, WrapError("create identity", err)
		}
	}

	existing, err := s.credentials.ByUsername(ctx, username)
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}
	identity.SetCredentials(existing)

	options, session, err := s.webauthn.BeginRegistration(identity,
		webauthn.WithExclusions(CredentialDescriptors(existing)),
	)
	if err != nil {
		return nil, nil, WrapError("begin registration", err)
	}

	return options, &Challenge{Ceremony: CeremonyRegistration, Session: *session}, nil
}

// issueLoginChallenge builds login options and the matching challenge record
// for an identity with at least one credential.
func (s *Service) issueLoginChallenge(ctx context.Context, username string) (*protocol.CredentialAssertion, *Challenge, error) {
	identity, creds, err := s.loadIdentity(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	if len(creds) == 0 {
		return nil, nil, WrapError("begin login", ErrNoCredentials)
	}

	options, session, err := s.webauthn.BeginLogin(identity)
	if err != nil {
		return nil, nil, WrapError("begin login", err)
	}

	return options, &Challenge{Ceremony: CeremonyLogin, Session: *session}, nil
}

// takeChallenge consumes the identity's live challenge. A consumed or
// never-issued challenge cannot match any response, so it surfaces as a
// challenge mismatch rather than a bad request.
func (s *Service) takeChallenge(ctx context.Context, username string) (*Challenge, error) {
	challenge, err := s.identities.TakeChallenge(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNoChallenge) {
			return nil, fmt.Errorf("%w: no live challenge", ErrChallengeMismatch)
		}
		return nil, err
	}
	return challenge, nil
}

// verifyRegistration verifies an attestation response against a resolved
// challenge and stores the new credential.
func (s *Service) verifyRegistration(ctx context.Context, username string, challenge *Challenge, response *protocol.ParsedCredentialCreationData) (*Credential, error) {
	if response == nil {
		return nil, WrapError("verify registration", ErrInvalidRequest)
	}
	if challenge.Ceremony != CeremonyRegistration {
		return nil, WrapError("verify registration", ErrChallengeMismatch)
	}

	identity, _, err := s.loadIdentity(ctx, username)
	if err != nil {
		return nil, err
	}

	credential, err := s.webauthn.CreateCredential(identity, challenge.Session, response)
	if err != nil {
		return nil, classifyCeremonyError("create credential", err)
	}

	origin := CredentialOriginWeb
	if kind, _ := s.origins.Validate(response.Response.CollectedClientData.Origin); kind == OriginAndroid {
		origin = CredentialOriginMobile
	}

	cred := FromWebAuthnCredential(username, origin, credential)
	if err := s.credentials.Add(ctx, cred); err != nil {
		return nil, WrapError("save credential", err)
	}

	return cred, nil
}

// verifyLogin verifies an assertion response against a resolved challenge,
// applies the counter policy, and persists the counter with a guarded write.
func (s *Service) verifyLogin(ctx context.Context, username string, challenge *Challenge, response *protocol.ParsedCredentialAssertionData) (string, *Identity, error) {
	if response == nil {
		return "", nil, WrapError("verify login", ErrInvalidRequest)
	}
	if challenge.Ceremony != CeremonyLogin {
		return "", nil, WrapError("verify login", ErrChallengeMismatch)
	}

	identity, creds, err := s.loadIdentity(ctx, username)
	if err != nil {
		return "", nil, err
	}

	validated, err := s.webauthn.ValidateLogin(identity, challenge.Session, response)
	if err != nil {
		return "", nil, classifyCeremonyError("validate login", err)
	}

	var stored *Credential
	for _, c := range creds {
		if string(c.ID) == string(validated.ID) {
			stored = c
			break
		}
	}
	if stored == nil {
		return "", nil, WrapError("verify login", ErrCredentialNotFound)
	}

	reported := validated.Authenticator.SignCount
	if stored.SignCount > 0 && reported > 0 && reported <= stored.SignCount {
		return "", nil, WrapError("verify login", fmt.Errorf(
			"%w: stored counter %d, reported counter %d",
			ErrClonedAuthenticator, stored.SignCount, reported))
	}

	next := reported
	if next < stored.SignCount {
		// Counter-less authenticator reporting zero; keep the high-water mark.
		next = stored.SignCount
	}
	if err := s.credentials.UpdateCounter(ctx, stored.ID, stored.SignCount, next, time.Now().UTC()); err != nil {
		return "", nil, WrapError("update counter", err)
	}

	token := ""
	if s.tokens != nil {
		token, err = s.tokens.GenerateToken(ctx, identity)
		if err != nil {
			return "", nil, WrapError("generate token", err)
		}
	}

	return token, identity, nil
}

// loadIdentity fetches an identity and attaches its credentials.
func (s *Service) loadIdentity(ctx context.Context, username string) (*Identity, []*Credential, error) {
	identity, err := s.identities.Get(ctx, username)
	if err != nil {
		return nil, nil, WrapError("get identity", err)
	}
	creds, err := s.credentials.ByUsername(ctx, username)
	if err != nil {
		return nil, nil, WrapError("get credentials", err)
	}
	identity.SetCredentials(creds)
	return identity, creds, nil
}

// createSession mints a pending pairing session with the challenge bound to
// it.
func (s *Service) createSession(ctx context.Context, kind pairing.Kind, username string, challenge *Challenge) (*pairing.Session, error) {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return nil, WrapError("encode session challenge", err)
	}
	session, err := s.broker.Create(ctx, kind, username, payload)
	if err != nil {
		return nil, WrapError("create pairing session", err)
	}
	return session, nil
}

// resolveSession loads a pending pairing session of the expected kind.
func (s *Service) resolveSession(ctx context.Context, sessionID string, kind pairing.Kind) (*pairing.Session, error) {
	if s.broker == nil {
		return nil, WrapError("resolve pairing session", ErrPairingDisabled)
	}
	session, err := s.broker.Get(ctx, sessionID)
	if err != nil {
		return nil, WrapError("get pairing session", err)
	}
	if session.Kind != kind {
		return nil, WrapError("resolve pairing session", ErrInvalidRequest)
	}
	if session.Status != pairing.StatusPending {
		return nil, WrapError("resolve pairing session", pairing.ErrSessionTerminal)
	}
	return session, nil
}

// sessionChallenge decodes the challenge bound to a pairing session.
func sessionChallenge(session *pairing.Session) (*Challenge, error) {
	var challenge Challenge
	if err := json.Unmarshal(session.Challenge, &challenge); err != nil {
		return nil, WrapError("decode session challenge",
			fmt.Errorf("%w: session carries no usable challenge", ErrInvalidRequest))
	}
	return &challenge, nil
}

// failSession drives a session to failed after a verification failure.
// Non-verification errors (store faults, bad requests) leave the session
// pending so the second device may retry. The transition itself is
// best-effort; a concurrent transition winning the race is fine.
func (s *Service) failSession(ctx context.Context, sessionID string, cause error) {
	if !IsVerificationError(cause) {
		return
	}
	_, _ = s.broker.Transition(ctx, sessionID, pairing.StatusFailed)
}

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairkey/pairkey/pkg/pairing"
)

const (
	testRPID      = "example.com"
	testWebOrigin = "https://example.com"
	testAndroid   = "testAndroidKeyHash"
)

type serviceFixture struct {
	service     *Service
	identities  *MemoryIdentityStore
	credentials *MemoryCredentialStore
	broker      *pairing.MemoryBroker
}

func newServiceFixture(t *testing.T, mutate func(*ServiceParams)) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		identities:  NewMemoryIdentityStore(),
		credentials: NewMemoryCredentialStore(),
		broker:      pairing.NewMemoryBroker(),
	}

	params := ServiceParams{
		Config: &Config{
			RPID:             testRPID,
			RPDisplayName:    "Example",
			WebOrigin:        testWebOrigin,
			AndroidKeyHashes: []string{testAndroid},
		},
		Identities:  f.identities,
		Credentials: f.credentials,
		Broker:      f.broker,
	}
	if mutate != nil {
		mutate(&params)
	}

	service, err := NewService(params)
	require.NoError(t, err)
	f.service = service
	return f
}

// register runs a full registration ceremony for the authenticator.
func (f *serviceFixture) register(t *testing.T, ctx context.Context, username string, auth *MockAuthenticator) *Credential {
	t.Helper()

	options, err := f.service.BeginRegistration(ctx, username, "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	cred, err := f.service.FinishRegistration(ctx, username, response)
	require.NoError(t, err)
	return cred
}

// login runs a full login ceremony for the authenticator.
func (f *serviceFixture) login(t *testing.T, ctx context.Context, username string, auth *MockAuthenticator) (string, *Identity, error) {
	t.Helper()

	options, err := f.service.BeginLogin(ctx, username)
	require.NoError(t, err)

	response, err := auth.CreateAssertionResponse(options.Response.Challenge, DeriveUserID(username), testWebOrigin)
	require.NoError(t, err)

	return f.service.FinishLogin(ctx, username, response)
}

func TestNewServiceValidation(t *testing.T) {
	identities := NewMemoryIdentityStore()
	credentials := NewMemoryCredentialStore()
	cfg := &Config{RPID: testRPID, RPDisplayName: "Example", WebOrigin: testWebOrigin}

	_, err := NewService(ServiceParams{Identities: identities, Credentials: credentials})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{Config: cfg, Credentials: credentials})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{Config: cfg, Identities: identities})
	assert.Error(t, err)

	_, err = NewService(ServiceParams{Config: cfg, Identities: identities, Credentials: credentials})
	assert.NoError(t, err)
}

func TestRegistrationHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	cred := f.register(t, ctx, "alice", auth)

	assert.Equal(t, auth.CredentialID, cred.ID)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, CredentialOriginWeb, cred.Origin)
	assert.NotEmpty(t, cred.PublicKey)

	identity, err := f.service.Identity(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, identity.Credentials(), 1)
}

func TestBeginRegistrationEmptyUsername(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.service.BeginRegistration(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFinishRegistrationConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", response)
	require.NoError(t, err)

	// Replaying the same response finds no live challenge to match, which
	// is a challenge mismatch like any other.
	_, err = f.service.FinishRegistration(ctx, "alice", response)
	assert.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestFinishRegistrationFailureStillConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	_, err = f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	wrongChallenge := make([]byte, 32)
	_, err = rand.Read(wrongChallenge)
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(wrongChallenge, testWebOrigin)
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", response)
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	// The failed attempt burned the challenge in the store.
	_, err = f.identities.TakeChallenge(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestFinishRegistrationWrongOrigin(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, "https://evil.example.org")
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", response)
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestFinishRegistrationCrossCeremonyChallenge(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	// Issue a login challenge, then try to complete a registration with it.
	options, err := f.service.BeginLogin(ctx, "alice")
	require.NoError(t, err)

	second, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	response, err := second.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", response)
	assert.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestFinishRegistrationDuplicateCredential(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	// The same authenticator registered under another account collides on
	// the credential ID.
	options, err := f.service.BeginRegistration(ctx, "bob", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "bob", response)
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestAndroidRegistrationTagsCredentialOrigin(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, AndroidOrigin(testAndroid))
	require.NoError(t, err)

	cred, err := f.service.FinishRegistration(ctx, "alice", response)
	require.NoError(t, err)
	assert.Equal(t, CredentialOriginMobile, cred.Origin)
}

func TestAndroidRegistrationUnknownHashRejected(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, AndroidOrigin("someOtherHash"))
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", response)
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestLoginHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	token, identity, err := f.login(t, ctx, "alice", auth)
	require.NoError(t, err)
	assert.Empty(t, token, "no token generator configured")
	assert.Equal(t, "alice", identity.Username)

	stored, err := f.credentials.ByID(ctx, auth.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, auth.SignCount, stored.SignCount)
	assert.False(t, stored.LastUsedAt.IsZero())
}

func TestLoginIssuesTokenWhenConfigured(t *testing.T) {
	ctx := context.Background()

	generator, err := NewJWTGenerator(&JWTGeneratorConfig{Secret: []byte("test-secret")})
	require.NoError(t, err)

	f := newServiceFixture(t, func(p *ServiceParams) {
		p.Tokens = generator
	})

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	token, _, err := f.login(t, ctx, "alice", auth)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := generator.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims["username"])
}

func TestBeginLoginRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	_, err := f.identities.Create(ctx, "alice", "")
	require.NoError(t, err)

	_, err = f.service.BeginLogin(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestBeginLoginUnknownIdentity(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.service.BeginLogin(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestFinishLoginConsumesChallenge(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	options, err := f.service.BeginLogin(ctx, "alice")
	require.NoError(t, err)

	response, err := auth.CreateAssertionResponse(options.Response.Challenge, DeriveUserID("alice"), testWebOrigin)
	require.NoError(t, err)

	_, _, err = f.service.FinishLogin(ctx, "alice", response)
	require.NoError(t, err)

	_, _, err = f.service.FinishLogin(ctx, "alice", response)
	assert.ErrorIs(t, err, ErrChallengeMismatch)
}

func TestFinishLoginCloneDetection(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID, WithSignCount(10))
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	// Legitimate login advances the counter to 11.
	_, _, err = f.login(t, ctx, "alice", auth)
	require.NoError(t, err)

	// A cloned device replays an older counter value.
	auth.SignCount = 4

	_, _, err = f.login(t, ctx, "alice", auth)
	assert.ErrorIs(t, err, ErrClonedAuthenticator)
}

func TestFinishLoginCounterEqualIsRegression(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID, WithSignCount(10))
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	_, _, err = f.login(t, ctx, "alice", auth)
	require.NoError(t, err)

	// Report exactly the stored value: still a regression.
	auth.SignCount = 10

	_, _, err = f.login(t, ctx, "alice", auth)
	assert.ErrorIs(t, err, ErrClonedAuthenticator)
}

func TestFinishLoginCounterlessAuthenticator(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID, WithoutCounter())
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	// Repeated zero-counter logins are fine.
	_, _, err = f.login(t, ctx, "alice", auth)
	require.NoError(t, err)
	_, _, err = f.login(t, ctx, "alice", auth)
	require.NoError(t, err)

	stored, err := f.credentials.ByID(ctx, auth.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), stored.SignCount)
}

func TestFinishLoginZeroReportKeepsHighWaterMark(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID, WithSignCount(5))
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	_, _, err = f.login(t, ctx, "alice", auth)
	require.NoError(t, err)

	// The authenticator stops reporting a counter. The check is skipped
	// and the stored high-water mark survives.
	auth.CounterEnabled = false
	auth.SignCount = 0

	_, _, err = f.login(t, ctx, "alice", auth)
	require.NoError(t, err)

	stored, err := f.credentials.ByID(ctx, auth.CredentialID)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), stored.SignCount)
}

func TestPairedRegistrationFlow(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, session, err := f.service.BeginPairedRegistration(ctx, "alice", "Alice")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, pairing.StatusPending, session.Status)
	assert.Equal(t, pairing.KindRegister, session.Kind)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, AndroidOrigin(testAndroid))
	require.NoError(t, err)

	cred, done, err := f.service.FinishPairedRegistration(ctx, session.ID, response)
	require.NoError(t, err)
	assert.Equal(t, CredentialOriginMobile, cred.Origin)
	assert.Equal(t, pairing.StatusCompleted, done.Status)
	assert.True(t, done.Verified)

	poll, err := f.service.PairingStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusCompleted, poll.Status)
	assert.True(t, poll.Verified)
}

func TestPairedRegistrationSurvivesLaterChallenge(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, session, err := f.service.BeginPairedRegistration(ctx, "alice", "")
	require.NoError(t, err)

	// The account begins another ceremony while the QR code is in flight.
	// The session keeps its own challenge copy, so the paired ceremony is
	// unaffected.
	_, err = f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	cred, done, err := f.service.FinishPairedRegistration(ctx, session.ID, response)
	require.NoError(t, err)
	assert.Equal(t, auth.CredentialID, cred.ID)
	assert.Equal(t, pairing.StatusCompleted, done.Status)
}

func TestPairedLoginSurvivesLaterChallenge(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	options, session, err := f.service.BeginPairedLogin(ctx, "alice")
	require.NoError(t, err)

	_, err = f.service.BeginLogin(ctx, "alice")
	require.NoError(t, err)

	response, err := auth.CreateAssertionResponse(options.Response.Challenge, DeriveUserID("alice"), testWebOrigin)
	require.NoError(t, err)

	_, done, err := f.service.FinishPairedLogin(ctx, session.ID, response)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusCompleted, done.Status)
}

func TestPairedBeginLeavesLiveChallengeAlone(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	// Same-device challenge first, paired begin second: the paired begin
	// binds its challenge to the session only.
	options, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	_, _, err = f.service.BeginPairedRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", response)
	require.NoError(t, err)
}

func TestPairedLoginFlow(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	options, session, err := f.service.BeginPairedLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pairing.KindLogin, session.Kind)

	response, err := auth.CreateAssertionResponse(options.Response.Challenge, DeriveUserID("alice"), AndroidOrigin(testAndroid))
	require.NoError(t, err)

	_, done, err := f.service.FinishPairedLogin(ctx, session.ID, response)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusCompleted, done.Status)
}

func TestPairedVerificationFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	_, session, err := f.service.BeginPairedRegistration(ctx, "alice", "")
	require.NoError(t, err)

	wrongChallenge := make([]byte, 32)
	_, err = rand.Read(wrongChallenge)
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(wrongChallenge, testWebOrigin)
	require.NoError(t, err)

	_, _, err = f.service.FinishPairedRegistration(ctx, session.ID, response)
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	poll, err := f.service.PairingStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusFailed, poll.Status)
	assert.False(t, poll.Verified)
}

func TestPairedSessionTransitionsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, session, err := f.service.BeginPairedRegistration(ctx, "alice", "")
	require.NoError(t, err)

	response, err := auth.CreateAttestationResponse(options.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	_, _, err = f.service.FinishPairedRegistration(ctx, session.ID, response)
	require.NoError(t, err)

	// A second attempt against the completed session is rejected before
	// any verification runs.
	_, _, err = f.service.FinishPairedRegistration(ctx, session.ID, response)
	assert.ErrorIs(t, err, pairing.ErrSessionTerminal)
}

func TestPairedSessionKindMismatch(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	f.register(t, ctx, "alice", auth)

	_, session, err := f.service.BeginPairedRegistration(ctx, "alice", "")
	require.NoError(t, err)

	options, err := f.service.BeginLogin(ctx, "alice")
	require.NoError(t, err)
	response, err := auth.CreateAssertionResponse(options.Response.Challenge, DeriveUserID("alice"), testWebOrigin)
	require.NoError(t, err)

	// A registration session cannot complete a login.
	_, _, err = f.service.FinishPairedLogin(ctx, session.ID, response)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// The session is untouched by the mismatch.
	poll, err := f.service.PairingStatus(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusPending, poll.Status)
}

func TestPairedUnknownSession(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	response, err := auth.CreateAttestationResponse([]byte("challenge"), testWebOrigin)
	require.NoError(t, err)

	_, _, err = f.service.FinishPairedRegistration(ctx, "no-such-session", response)
	assert.ErrorIs(t, err, pairing.ErrSessionNotFound)
}

func TestPairingDisabled(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, func(p *ServiceParams) {
		p.Broker = nil
	})

	_, _, err := f.service.BeginPairedRegistration(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrPairingDisabled)

	_, _, err = f.service.BeginPairedLogin(ctx, "alice")
	assert.ErrorIs(t, err, ErrPairingDisabled)

	_, err = f.service.PairingStatus(ctx, "any")
	assert.ErrorIs(t, err, ErrPairingDisabled)
}

func TestChallengeLastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)

	auth, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	first, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)

	// A second begin replaces the first challenge.
	second, err := f.service.BeginRegistration(ctx, "alice", "")
	require.NoError(t, err)
	require.NotEqual(t, first.Response.Challenge, second.Response.Challenge)

	staleResponse, err := auth.CreateAttestationResponse(first.Response.Challenge, testWebOrigin)
	require.NoError(t, err)

	_, err = f.service.FinishRegistration(ctx, "alice", staleResponse)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChallengeMismatch), "stale challenge must not verify: %v", err)
}

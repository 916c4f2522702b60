// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package pairing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	session := &Session{
		ID:        "session-123",
		Kind:      KindRegister,
		Username:  "alice",
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(DefaultTTL),
	}
	options := json.RawMessage(`{"publicKey":{"challenge":"abc"}}`)

	payload := NewPayload(session, "example.com", "https://example.com", options)
	assert.Equal(t, PayloadVersion, payload.Version)
	assert.Equal(t, "session-123", payload.SessionID)
	assert.Equal(t, KindRegister, payload.Kind)

	encoded, err := payload.Encode()
	require.NoError(t, err)

	decoded, err := DecodePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload.SessionID, decoded.SessionID)
	assert.Equal(t, payload.Kind, decoded.Kind)
	assert.Equal(t, payload.Username, decoded.Username)
	assert.Equal(t, payload.RPID, decoded.RPID)
	assert.Equal(t, payload.Origin, decoded.Origin)
	assert.JSONEq(t, string(options), string(decoded.Options))
}

func TestDecodePayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "}{"},
		{name: "wrong version", data: `{"v":2,"session_id":"abc"}`},
		{name: "zero version", data: `{"session_id":"abc"}`},
		{name: "missing session id", data: `{"v":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.data)
			assert.Error(t, err)
		})
	}
}

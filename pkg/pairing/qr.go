// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package pairing

import (
	"encoding/json"
	"fmt"
)

// PayloadVersion is the current QR payload format version.
const PayloadVersion = 1

// Payload is the JSON document rendered into a QR code for the second
// device. It carries everything that device needs to complete the ceremony:
// the session ID to finish against and the ceremony options verbatim.
// Rendering the QR image is the client's job.
type Payload struct {
	// Version is the payload format version.
	Version int `json:"v"`

	// SessionID identifies the pairing session to complete.
	SessionID string `json:"session_id"`

	// Kind is the ceremony to perform.
	Kind Kind `json:"kind"`

	// Username is the account the ceremony belongs to.
	Username string `json:"username"`

	// RPID is the relying party identifier the second device must use.
	RPID string `json:"rp_id"`

	// Origin is the web origin serving the finish endpoint.
	Origin string `json:"origin"`

	// Options is the ceremony options document issued at begin time,
	// passed through unmodified.
	Options json.RawMessage `json:"options,omitempty"`
}

// NewPayload builds a QR payload for a session.
func NewPayload(session *Session, rpID, origin string, options json.RawMessage) *Payload {
	return &Payload{
		Version:   PayloadVersion,
		SessionID: session.ID,
		Kind:      session.Kind,
		Username:  session.Username,
		RPID:      rpID,
		Origin:    origin,
		Options:   options,
	}
}

// Encode serializes the payload to the string embedded in the QR code.
func (p *Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode qr payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a scanned QR payload and checks its version.
func DecodePayload(data string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode qr payload: %w", err)
	}
	if p.Version != PayloadVersion {
		return nil, fmt.Errorf("unsupported qr payload version %d", p.Version)
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("qr payload missing session id")
	}
	return &p, nil
}

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package rp

import "strings"

// AndroidOriginPrefix is the scheme prefix Android's Credential Manager
// places in clientDataJSON origins, followed by the base64url-encoded
// SHA-256 hash of the APK signing certificate.
const AndroidOriginPrefix = "android:apk-key-hash:"

// OriginKind classifies an accepted ceremony origin.
type OriginKind string

const (
	// OriginWeb is the canonical browser origin.
	OriginWeb OriginKind = "web"

	// OriginAndroid is an APK key-hash origin from the companion app.
	OriginAndroid OriginKind = "android"
)

// AndroidOrigin builds the origin string for an APK signing-key hash.
func AndroidOrigin(hash string) string {
	return AndroidOriginPrefix + hash
}

// OriginValidator decides whether a caller-supplied origin is an authorized
// web or Android origin. Validation is exact-match on the configured values:
// the web origin must be byte-equal, and an Android origin's hash must appear
// in the configured allow-list. An empty allow-list rejects every Android
// origin.
type OriginValidator struct {
	webOrigin string
	hashes    map[string]struct{}
}

// NewOriginValidator creates a validator from the service configuration.
func NewOriginValidator(cfg *Config) *OriginValidator {
	hashes := make(map[string]struct{}, len(cfg.AndroidKeyHashes))
	for _, h := range cfg.AndroidKeyHashes {
		hashes[strings.TrimSpace(h)] = struct{}{}
	}
	return &OriginValidator{
		webOrigin: cfg.WebOrigin,
		hashes:    hashes,
	}
}

// Validate classifies the received origin and reports whether it is
// authorized. Unknown shapes, unknown hashes, and an unconfigured Android
// allow-list all report false.
func (v *OriginValidator) Validate(origin string) (OriginKind, bool) {
	if origin == v.webOrigin {
		return OriginWeb, true
	}

	if hash, ok := strings.CutPrefix(origin, AndroidOriginPrefix); ok {
		if len(v.hashes) == 0 {
			return OriginAndroid, false
		}
		if _, ok := v.hashes[hash]; ok {
			return OriginAndroid, true
		}
		return OriginAndroid, false
	}

	return "", false
}

// ExpectedOrigins returns every origin verification may accept: the web
// origin plus one Android origin per allow-listed hash.
func (v *OriginValidator) ExpectedOrigins() []string {
	origins := make([]string, 0, 1+len(v.hashes))
	origins = append(origins, v.webOrigin)
	for hash := range v.hashes {
		origins = append(origins, AndroidOrigin(hash))
	}
	return origins
}

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/pairkey/pairkey/pkg/metrics"
	"github.com/pairkey/pairkey/pkg/pairing"
	"github.com/pairkey/pairkey/pkg/rp"
)

// Handler provides HTTP handlers for ceremony and pairing operations.
// These handlers can be mounted on any HTTP router.
type Handler struct {
	service *rp.Service
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler around a relying party service.
func NewHandler(service *rp.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// RegistrationOptions handles POST /register/options
//
// Request body:
//
//	{
//	    "username": "alice",
//	    "display_name": "Alice",  // optional
//	    "pair": true              // optional, mint a cross-device session
//	}
//
// Response: RegistrationOptionsResponse
func (h *Handler) RegistrationOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req OptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	if !req.Pair {
		options, err := h.service.BeginRegistration(r.Context(), req.Username, req.DisplayName)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, RegistrationOptionsResponse{Options: options})
		return
	}

	options, session, err := h.service.BeginPairedRegistration(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	qrData, err := h.buildQRData(session, options)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, RegistrationOptionsResponse{
		Options:   options,
		SessionID: session.ID,
		QRData:    qrData,
		ExpiresIn: secondsUntil(session.ExpiresAt),
	})
}

// RegistrationVerify handles POST /register/verify
//
// Request body: VerifyRequest carrying the authenticator's attestation
// response, addressed by username (same device) or session_id (cross
// device).
// Response: VerifyResponse
func (h *Handler) RegistrationVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	req, ok := h.decodeVerifyRequest(w, r)
	if !ok {
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBytes(req.Response)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	start := time.Now()
	var cred *rp.Credential
	if req.SessionID != "" {
		cred, _, err = h.service.FinishPairedRegistration(r.Context(), req.SessionID, response)
	} else {
		cred, err = h.service.FinishRegistration(r.Context(), req.Username, response)
	}
	recordVerify(metrics.CeremonyRegistration, req.SessionID != "", start, err)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, VerifyResponse{
		Verified:     true,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
	})
}

// LoginOptions handles POST /login/options
//
// Request body: OptionsRequest (display_name ignored).
// Response: LoginOptionsResponse
func (h *Handler) LoginOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req OptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	if !req.Pair {
		options, err := h.service.BeginLogin(r.Context(), req.Username)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, LoginOptionsResponse{Options: options})
		return
	}

	options, session, err := h.service.BeginPairedLogin(r.Context(), req.Username)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	qrData, err := h.buildQRData(session, options)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, LoginOptionsResponse{
		Options:   options,
		SessionID: session.ID,
		QRData:    qrData,
		ExpiresIn: secondsUntil(session.ExpiresAt),
	})
}

// LoginVerify handles POST /login/verify
//
// Request body: VerifyRequest carrying the authenticator's assertion
// response, addressed by username or session_id.
// Response: VerifyResponse with a token when issuance is configured.
func (h *Handler) LoginVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	req, ok := h.decodeVerifyRequest(w, r)
	if !ok {
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBytes(req.Response)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	start := time.Now()
	var token string
	if req.SessionID != "" {
		token, _, err = h.service.FinishPairedLogin(r.Context(), req.SessionID, response)
	} else {
		token, _, err = h.service.FinishLogin(r.Context(), req.Username, response)
	}
	recordVerify(metrics.CeremonyLogin, req.SessionID != "", start, err)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, VerifyResponse{
		Verified: true,
		Token:    token,
	})
}

// PairingStatus handles GET /pairing/status?session_id=...
//
// Response: PairingStatusResponse. Unknown sessions return 404, sessions
// whose TTL elapsed return 410; both report status "expired" so pollers can
// treat them alike.
func (h *Handler) PairingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "session_id is required")
		return
	}

	result, err := h.service.PairingStatus(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, pairing.ErrSessionNotFound) {
			metrics.RecordPairingPoll(string(pairing.StatusExpired))
			h.writeJSON(w, http.StatusNotFound, PairingStatusResponse{
				Status: string(pairing.StatusExpired),
			})
			return
		}
		h.handleServiceError(w, err)
		return
	}

	metrics.RecordPairingPoll(string(result.Status))
	status := http.StatusOK
	if result.Status == pairing.StatusExpired {
		// The broker reclaims the session on this poll, so the expiry is
		// observed exactly once.
		metrics.RecordPairingOutcome(string(result.Kind), string(pairing.StatusExpired))
		status = http.StatusGone
	}

	h.writeJSON(w, status, PairingStatusResponse{
		Status:    string(result.Status),
		Verified:  result.Verified,
		Kind:      string(result.Kind),
		ExpiresIn: result.SecondsRemaining,
	})
}

// decodeVerifyRequest decodes and validates a VerifyRequest body.
func (h *Handler) decodeVerifyRequest(w http.ResponseWriter, r *http.Request) (VerifyRequest, bool) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return req, false
	}
	if (req.Username == "") == (req.SessionID == "") {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "exactly one of username and session_id is required")
		return req, false
	}
	if len(req.Response) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "response is required")
		return req, false
	}
	return req, true
}

// buildQRData serializes the QR payload for a pairing session.
func (h *Handler) buildQRData(session *pairing.Session, options any) (string, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return "", err
	}
	cfg := h.service.Config()
	payload := pairing.NewPayload(session, cfg.RPID, cfg.WebOrigin, optionsJSON)
	return payload.Encode()
}

// handleServiceError maps service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rp.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, err.Error())
	case errors.Is(err, rp.ErrIdentityNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeIdentityNotFound, "identity not found")
	case errors.Is(err, pairing.ErrSessionNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeSessionNotFound, "pairing session not found")
	case errors.Is(err, rp.ErrNoChallenge):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoChallenge, "no live challenge; request options first")
	case errors.Is(err, rp.ErrNoCredentials):
		h.writeError(w, http.StatusBadRequest, ErrorCodeNoCredentials, "identity has no registered credentials")
	case errors.Is(err, rp.ErrDuplicateCredential):
		h.writeVerifyError(w, http.StatusConflict, ErrorCodeDuplicateCredential, "credential already registered")
	case errors.Is(err, pairing.ErrSessionTerminal):
		h.writeError(w, http.StatusConflict, ErrorCodeSessionTerminal, "pairing session already completed")
	case errors.Is(err, rp.ErrConflict):
		h.writeError(w, http.StatusConflict, ErrorCodeConflict, "concurrent update conflict")
	case errors.Is(err, rp.ErrStoreUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, ErrorCodeStoreUnavailable, "storage unavailable")
	case errors.Is(err, rp.ErrChallengeMismatch):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeChallengeMismatch, "challenge mismatch")
	case errors.Is(err, rp.ErrOriginMismatch):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeOriginMismatch, "origin not allowed")
	case errors.Is(err, rp.ErrRPIDMismatch):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeRPIDMismatch, "relying party mismatch")
	case errors.Is(err, rp.ErrBadSignature):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeBadSignature, "signature verification failed")
	case errors.Is(err, rp.ErrClonedAuthenticator):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeClonedAuthenticator, "authenticator counter regressed")
	case errors.Is(err, rp.ErrUserVerificationRequired):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeUserVerificationRequired, "user verification required")
	case errors.Is(err, rp.ErrVerificationFailed):
		h.writeVerifyError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	default:
		h.logger.Error("unhandled service error", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// writeVerifyError writes a failed-ceremony response with verified=false.
func (h *Handler) writeVerifyError(w http.ResponseWriter, status int, code, message string) {
	verified := false
	h.writeJSON(w, status, ErrorResponse{
		Error:    code,
		Message:  message,
		Verified: &verified,
	})
}

// recordVerify records ceremony metrics for a verification attempt and, on
// the cross-device path, the pairing session's terminal outcome.
func recordVerify(ceremony string, crossDevice bool, start time.Time, err error) {
	flow := metrics.FlowSameDevice
	kind := pairing.KindRegister
	if ceremony == metrics.CeremonyLogin {
		kind = pairing.KindLogin
	}
	if crossDevice {
		flow = metrics.FlowCrossDevice
	}

	duration := time.Since(start).Seconds()
	if err == nil {
		metrics.RecordCeremony(ceremony, flow, metrics.StatusSuccess, duration)
		if crossDevice {
			metrics.RecordPairingOutcome(string(kind), string(pairing.StatusCompleted))
		}
		return
	}

	metrics.RecordCeremony(ceremony, flow, metrics.StatusError, duration)
	if rp.IsVerificationError(err) {
		metrics.RecordCeremonyError(ceremony, verificationErrorCode(err))
		if crossDevice {
			metrics.RecordPairingOutcome(string(kind), string(pairing.StatusFailed))
		}
	}
}

// verificationErrorCode maps a ceremony failure to its error code label.
func verificationErrorCode(err error) string {
	switch {
	case errors.Is(err, rp.ErrChallengeMismatch):
		return ErrorCodeChallengeMismatch
	case errors.Is(err, rp.ErrOriginMismatch):
		return ErrorCodeOriginMismatch
	case errors.Is(err, rp.ErrRPIDMismatch):
		return ErrorCodeRPIDMismatch
	case errors.Is(err, rp.ErrBadSignature):
		return ErrorCodeBadSignature
	case errors.Is(err, rp.ErrClonedAuthenticator):
		return ErrorCodeClonedAuthenticator
	case errors.Is(err, rp.ErrUserVerificationRequired):
		return ErrorCodeUserVerificationRequired
	case errors.Is(err, rp.ErrDuplicateCredential):
		return ErrorCodeDuplicateCredential
	default:
		return ErrorCodeVerificationFailed
	}
}

// secondsUntil reports whole seconds until t, floored at zero.
func secondsUntil(t time.Time) int {
	remaining := int(time.Until(t) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

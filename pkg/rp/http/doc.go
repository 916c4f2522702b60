// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

// Package http provides composable HTTP handlers for the relying party
// service: ceremony options and verification endpoints plus the pairing
// status poll endpoint.
//
// The handlers decode closed request types, parse authenticator responses
// before handing them to the service, and map the service's error taxonomy
// onto stable JSON error codes. Failed ceremony verification responds 401
// with verified=false so clients can distinguish a failed ceremony from a
// malformed request.
//
// Mount on chi:
//
//	h := rphttp.NewHandler(svc)
//	r.Route("/api/v1", func(r chi.Router) {
//	    rphttp.MountChi(r, h)
//	})
package http

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountChi mounts ceremony and pairing routes on a chi router.
//
// Example:
//
//	handler := rphttp.NewHandler(svc)
//	r.Route("/api/v1", func(r chi.Router) {
//	    rphttp.MountChi(r, handler)
//	})
func MountChi(r chi.Router, h *Handler) {
	r.Post("/register/options", h.RegistrationOptions)
	r.Post("/register/verify", h.RegistrationVerify)
	r.Post("/login/options", h.LoginOptions)
	r.Post("/login/verify", h.LoginVerify)
	r.Get("/pairing/status", h.PairingStatus)
}

// MountStdlib mounts ceremony and pairing routes on a stdlib http.ServeMux.
// The prefix should not include a trailing slash. Method checking is done in
// the handlers.
//
// Example:
//
//	handler := rphttp.NewHandler(svc)
//	rphttp.MountStdlib(mux, "/api/v1", handler)
func MountStdlib(mux *http.ServeMux, prefix string, h *Handler) {
	mux.HandleFunc(prefix+"/register/options", h.RegistrationOptions)
	mux.HandleFunc(prefix+"/register/verify", h.RegistrationVerify)
	mux.HandleFunc(prefix+"/login/options", h.LoginOptions)
	mux.HandleFunc(prefix+"/login/verify", h.LoginVerify)
	mux.HandleFunc(prefix+"/pairing/status", h.PairingStatus)
}

// RouteEntry represents a single route with its method, path, and handler.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns a slice of route entries for manual mounting on frameworks
// not directly supported.
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: "POST", Path: "/register/options", Handler: h.RegistrationOptions},
		{Method: "POST", Path: "/register/verify", Handler: h.RegistrationVerify},
		{Method: "POST", Path: "/login/options", Handler: h.LoginOptions},
		{Method: "POST", Path: "/login/verify", Handler: h.LoginVerify},
		{Method: "GET", Path: "/pairing/status", Handler: h.PairingStatus},
	}
}

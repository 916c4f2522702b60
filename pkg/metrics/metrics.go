// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

// Package metrics provides Prometheus instrumentation for ceremony and
// pairing operations: outcome counters, duration histograms, HTTP request
// metrics, and resource gauges.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all pairkey metrics
	Namespace = "pairkey"

	// Label names
	LabelCeremony   = "ceremony"
	LabelFlow       = "flow"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelKind       = "kind"
	LabelOutcome    = "outcome"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony names
	CeremonyRegistration = "registration"
	CeremonyLogin        = "login"

	// Flow values
	FlowSameDevice  = "same_device"
	FlowCrossDevice = "cross_device"
)

var (
	// CeremoniesTotal tracks completed verification attempts by ceremony,
	// flow, and status. Use RecordCeremony to increment this counter.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of ceremony verification attempts by ceremony, flow, and status",
		},
		[]string{LabelCeremony, LabelFlow, LabelStatus},
	)

	// CeremonyDuration tracks the duration of ceremony verification in
	// seconds. Buckets cover parse-and-verify latencies.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of ceremony verification in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony, LabelFlow},
	)

	// CeremonyErrorsTotal tracks verification failures by ceremony and
	// error type (e.g. "challenge_mismatch", "cloned_authenticator").
	CeremonyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremony_errors_total",
			Help:      "Total number of ceremony verification failures by ceremony and error type",
		},
		[]string{LabelCeremony, LabelErrorType},
	)

	// PairingSessionsTotal tracks pairing sessions reaching a terminal
	// state, by ceremony kind and outcome (completed, failed, expired).
	PairingSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pairing",
			Name:      "sessions_total",
			Help:      "Total number of pairing sessions by kind and terminal outcome",
		},
		[]string{LabelKind, LabelOutcome},
	)

	// PairingSessionsActive tracks the number of pending pairing sessions.
	PairingSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "pairing",
			Name:      "sessions_active",
			Help:      "Number of pending pairing sessions",
		},
	)

	// PairingPollsTotal tracks poll requests by reported status.
	PairingPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pairing",
			Name:      "polls_total",
			Help:      "Total number of pairing status polls by reported status",
		},
		[]string{LabelStatus},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records a ceremony verification attempt with its duration
// and status.
//
// Parameters:
//   - ceremony: CeremonyRegistration or CeremonyLogin
//   - flow: FlowSameDevice or FlowCrossDevice
//   - status: StatusSuccess or StatusError
//   - duration: The verification duration in seconds
func RecordCeremony(ceremony, flow, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, flow, status).Inc()
	CeremonyDuration.WithLabelValues(ceremony, flow).Observe(duration)
}

// RecordCeremonyError records a verification failure with its error type
// (e.g. "challenge_mismatch", "origin_mismatch", "cloned_authenticator").
func RecordCeremonyError(ceremony, errorType string) {
	if !enabled.Load() {
		return
	}
	CeremonyErrorsTotal.WithLabelValues(ceremony, errorType).Inc()
}

// RecordPairingOutcome records a pairing session reaching a terminal state.
func RecordPairingOutcome(kind, outcome string) {
	if !enabled.Load() {
		return
	}
	PairingSessionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordPairingPoll records a poll request and the status it reported.
func RecordPairingPoll(status string) {
	if !enabled.Load() {
		return
	}
	PairingPollsTotal.WithLabelValues(status).Inc()
}

// SetPairingSessionsActive sets the pending pairing session gauge.
func SetPairingSessionsActive(count float64) {
	if !enabled.Load() {
		return
	}
	PairingSessionsActive.Set(count)
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

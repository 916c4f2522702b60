// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEnableDisable(t *testing.T) {
	defer Enable()

	assert.True(t, IsEnabled(), "metrics enabled by default")

	Disable()
	assert.False(t, IsEnabled())

	Enable()
	assert.True(t, IsEnabled())
}

func TestRecordCeremony(t *testing.T) {
	before := testutil.ToFloat64(CeremoniesTotal.WithLabelValues(CeremonyRegistration, FlowSameDevice, StatusSuccess))

	RecordCeremony(CeremonyRegistration, FlowSameDevice, StatusSuccess, 0.05)
	RecordCeremony(CeremonyRegistration, FlowSameDevice, StatusSuccess, 0.07)

	after := testutil.ToFloat64(CeremoniesTotal.WithLabelValues(CeremonyRegistration, FlowSameDevice, StatusSuccess))
	assert.Equal(t, before+2, after)
}

func TestRecordCeremonyDisabled(t *testing.T) {
	Disable()
	defer Enable()

	before := testutil.ToFloat64(CeremoniesTotal.WithLabelValues(CeremonyLogin, FlowCrossDevice, StatusError))
	RecordCeremony(CeremonyLogin, FlowCrossDevice, StatusError, 0.01)
	after := testutil.ToFloat64(CeremoniesTotal.WithLabelValues(CeremonyLogin, FlowCrossDevice, StatusError))
	assert.Equal(t, before, after)
}

func TestRecordCeremonyError(t *testing.T) {
	before := testutil.ToFloat64(CeremonyErrorsTotal.WithLabelValues(CeremonyLogin, "cloned_authenticator"))

	RecordCeremonyError(CeremonyLogin, "cloned_authenticator")

	after := testutil.ToFloat64(CeremonyErrorsTotal.WithLabelValues(CeremonyLogin, "cloned_authenticator"))
	assert.Equal(t, before+1, after)
}

func TestRecordPairingOutcome(t *testing.T) {
	before := testutil.ToFloat64(PairingSessionsTotal.WithLabelValues("register", "completed"))

	RecordPairingOutcome("register", "completed")

	after := testutil.ToFloat64(PairingSessionsTotal.WithLabelValues("register", "completed"))
	assert.Equal(t, before+1, after)
}

func TestRecordPairingPoll(t *testing.T) {
	before := testutil.ToFloat64(PairingPollsTotal.WithLabelValues("pending"))

	RecordPairingPoll("pending")
	RecordPairingPoll("pending")
	RecordPairingPoll("pending")

	after := testutil.ToFloat64(PairingPollsTotal.WithLabelValues("pending"))
	assert.Equal(t, before+3, after)
}

func TestSetPairingSessionsActive(t *testing.T) {
	SetPairingSessionsActive(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(PairingSessionsActive))

	SetPairingSessionsActive(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(PairingSessionsActive))
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "401"))

	RecordHTTPRequest("POST", "401", 0.02)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "401"))
	assert.Equal(t, before+1, after)
}

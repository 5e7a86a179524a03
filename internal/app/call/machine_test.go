package call

import (
	"testing"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, events ...Event) Machine {
	t.Helper()
	m := Machine{Status: domain.StatusIdle}
	for _, ev := range events {
		m, _ = m.Apply(ev)
	}
	return m
}

func ev(k EventKind) Event { return Event{Kind: k} }

func TestMachineTransitions(t *testing.T) {
	ready := []Event{ev(EvOpen), ev(EvMediaReady)}
	calling := append(append([]Event{}, ready...), ev(EvStart))
	receiving := append(append([]Event{}, ready...), ev(EvRemoteOffer))
	live := append(append([]Event{}, calling...), ev(EvPeerConnected))

	cases := []struct {
		name    string
		events  []Event
		status  domain.Status
		outcome domain.Outcome
		reason  domain.Reason
	}{
		{"open", []Event{ev(EvOpen)}, domain.StatusCheckingPermissions, domain.OutcomeNone, domain.ReasonNone},
		{"media ready", ready, domain.StatusReady, domain.OutcomeNone, domain.ReasonNone},
		{"denied", []Event{ev(EvOpen), {Kind: EvMediaFailed, Err: core.ErrPermissionDenied}}, domain.StatusPermissionsDenied, domain.OutcomeError, domain.ReasonPermissionDenied},
		{"denied closes", []Event{ev(EvOpen), {Kind: EvMediaFailed, Err: core.ErrPermissionDenied}, ev(EvDeniedTimeout)}, domain.StatusEnded, domain.OutcomeError, domain.ReasonPermissionDenied},
		{"no device", []Event{ev(EvOpen), {Kind: EvMediaFailed, Err: core.ErrDeviceUnavailable}}, domain.StatusPermissionsDenied, domain.OutcomeError, domain.ReasonDeviceUnavailable},
		{"prompt timeout", []Event{ev(EvOpen), {Kind: EvMediaFailed, Err: &core.PermissionError{Reason: core.ErrTimeout}}}, domain.StatusError, domain.OutcomeError, domain.ReasonTimeout},
		{"calling", calling, domain.StatusCalling, domain.OutcomeNone, domain.ReasonNone},
		{"receiving", receiving, domain.StatusReceiving, domain.OutcomeNone, domain.ReasonNone},
		{"caller yields", append(append([]Event{}, calling...), ev(EvRemoteOffer)), domain.StatusReceiving, domain.OutcomeNone, domain.ReasonNone},
		{"accept", append(append([]Event{}, receiving...), ev(EvAccept)), domain.StatusConnecting, domain.OutcomeNone, domain.ReasonNone},
		{"checking", append(append([]Event{}, calling...), ev(EvPeerChecking)), domain.StatusConnecting, domain.OutcomeNone, domain.ReasonNone},
		{"connected", live, domain.StatusInCall, domain.OutcomeNone, domain.ReasonNone},
		{"remote track", append(append([]Event{}, receiving...), ev(EvRemoteTrack)), domain.StatusInCall, domain.OutcomeNone, domain.ReasonNone},
		{"disconnected is transient", append(append([]Event{}, live...), ev(EvPeerDisconnected)), domain.StatusInCall, domain.OutcomeNone, domain.ReasonNone},
		{"ice failed", append(append([]Event{}, live...), ev(EvPeerFailed)), domain.StatusError, domain.OutcomeError, domain.ReasonConnectionFailed},
		{"closed while live", append(append([]Event{}, live...), ev(EvPeerClosed)), domain.StatusEnded, domain.OutcomeEnded, domain.ReasonConnectionClosed},
		{"peer left while live", append(append([]Event{}, live...), ev(EvChannelGone)), domain.StatusEnded, domain.OutcomeEnded, domain.ReasonPeerLeft},
		{"peer left while ringing", append(append([]Event{}, calling...), ev(EvChannelGone)), domain.StatusEnded, domain.OutcomeMissed, domain.ReasonPeerLeft},
		{"ring timeout", append(append([]Event{}, calling...), ev(EvRingTimeout)), domain.StatusEnded, domain.OutcomeMissed, domain.ReasonNoAnswer},
		{"connect timeout", append(append([]Event{}, receiving...), ev(EvConnectTimeout)), domain.StatusError, domain.OutcomeError, domain.ReasonTimeout},
		{"signaling failed", append(append([]Event{}, calling...), ev(EvSignalingFailed)), domain.StatusError, domain.OutcomeError, domain.ReasonSignalingFailed},
		{"negotiation failed", append(append([]Event{}, ready...), ev(EvNegotiationFailed)), domain.StatusError, domain.OutcomeError, domain.ReasonNegotiationFailed},
		{"hangup while ringing", append(append([]Event{}, calling...), ev(EvHangup)), domain.StatusEnded, domain.OutcomeEnded, domain.ReasonHangup},
		{"hangup after denial keeps reason", []Event{ev(EvOpen), {Kind: EvMediaFailed, Err: core.ErrPermissionDenied}, ev(EvHangup)}, domain.StatusEnded, domain.OutcomeError, domain.ReasonPermissionDenied},
		{"cleanup leaves error", append(append([]Event{}, live...), ev(EvPeerFailed), ev(EvCleanedUp)), domain.StatusEnded, domain.OutcomeError, domain.ReasonConnectionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := run(t, tc.events...)
			assert.Equal(t, tc.status, m.Status)
			assert.Equal(t, tc.outcome, m.Outcome)
			assert.Equal(t, tc.reason, m.Reason)
		})
	}
}

func TestMachineIgnoresInapplicableEvents(t *testing.T) {
	idle := Machine{Status: domain.StatusIdle}
	for _, k := range []EventKind{EvStart, EvAccept, EvHangup, EvRingTimeout, EvChannelGone, EvSignalingFailed, EvPeerConnected} {
		next, tr := idle.Apply(ev(k))
		assert.Equal(t, idle, next, k.String())
		assert.False(t, tr.Changed(), k.String())
	}

	ready := run(t, ev(EvOpen), ev(EvMediaReady))
	next, tr := ready.Apply(ev(EvRingTimeout))
	assert.Equal(t, ready, next)
	assert.False(t, tr.Changed())
}

func TestMachineTerminalStatesAreSticky(t *testing.T) {
	ended := run(t, ev(EvOpen), ev(EvMediaReady), ev(EvStart), ev(EvHangup))
	require.Equal(t, domain.StatusEnded, ended.Status)

	for _, k := range []EventKind{EvHangup, EvChannelGone, EvPeerFailed, EvPeerClosed, EvSignalingFailed, EvNegotiationFailed, EvRingTimeout, EvConnectTimeout, EvRemoteTrack} {
		next, tr := ended.Apply(ev(k))
		assert.Equal(t, ended, next, k.String())
		assert.False(t, tr.EntersTerminal(), k.String())
	}

	failed := run(t, ev(EvOpen), ev(EvMediaReady), ev(EvStart), ev(EvSignalingFailed))
	next, tr := failed.Apply(ev(EvNegotiationFailed))
	assert.Equal(t, domain.ReasonSignalingFailed, next.Reason)
	assert.False(t, tr.EntersTerminal())
}

func TestMachineSignalingRequiresStream(t *testing.T) {
	m := Machine{Status: domain.StatusReady}
	next, tr := m.Apply(ev(EvStart))
	assert.Equal(t, domain.StatusError, next.Status)
	assert.Equal(t, domain.ReasonNoLocalMedia, next.Reason)
	assert.True(t, tr.EntersTerminal())

	next, _ = m.Apply(ev(EvRemoteOffer))
	assert.Equal(t, domain.StatusError, next.Status)
}

func TestMachineOpenResetsFinishedCall(t *testing.T) {
	m := run(t, ev(EvOpen), ev(EvMediaReady), ev(EvStart), ev(EvRingTimeout))
	require.True(t, m.Outcome == domain.OutcomeMissed)

	next, tr := m.Apply(ev(EvOpen))
	assert.Equal(t, Machine{Status: domain.StatusCheckingPermissions}, next)
	assert.True(t, tr.Changed())
	assert.False(t, tr.EntersTerminal())
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "ring_timeout", EvRingTimeout.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}

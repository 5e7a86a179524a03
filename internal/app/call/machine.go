package call

import (
	"errors"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type EventKind int

const (
	EvOpen EventKind = iota
	EvMediaReady
	EvMediaFailed
	EvDeniedTimeout
	EvStart
	EvRemoteOffer
	EvAccept
	EvPeerChecking
	EvPeerConnected
	EvPeerDisconnected
	EvPeerFailed
	EvPeerClosed
	EvRemoteTrack
	EvChannelGone
	EvSignalingFailed
	EvNegotiationFailed
	EvRingTimeout
	EvConnectTimeout
	EvHangup
	EvCleanedUp
)

var eventNames = [...]string{
	EvOpen:              "open",
	EvMediaReady:        "media_ready",
	EvMediaFailed:       "media_failed",
	EvDeniedTimeout:     "denied_timeout",
	EvStart:             "start",
	EvRemoteOffer:       "remote_offer",
	EvAccept:            "accept",
	EvPeerChecking:      "peer_checking",
	EvPeerConnected:     "peer_connected",
	EvPeerDisconnected:  "peer_disconnected",
	EvPeerFailed:        "peer_failed",
	EvPeerClosed:        "peer_closed",
	EvRemoteTrack:       "remote_track",
	EvChannelGone:       "channel_gone",
	EvSignalingFailed:   "signaling_failed",
	EvNegotiationFailed: "negotiation_failed",
	EvRingTimeout:       "ring_timeout",
	EvConnectTimeout:    "connect_timeout",
	EvHangup:            "hangup",
	EvCleanedUp:         "cleaned_up",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is everything that can move a call: commands, device answers,
// signaling and connection reports, timers.
type Event struct {
	Kind EventKind
	Err  error
}

// Machine is the call status together with the facts transitions depend on.
// It is a value; Apply never mutates the receiver.
type Machine struct {
	Status    domain.Status
	HasStream bool
	// Live is set once the call reached in_call.
	Live    bool
	Outcome domain.Outcome
	Reason  domain.Reason
}

type Transition struct {
	Event Event
	From  domain.Status
	To    domain.Status
}

func (t Transition) Changed() bool { return t.From != t.To }

// EntersTerminal reports a move from a live state into error or ended. The
// attempt must be cleaned up exactly on such transitions.
func (t Transition) EntersTerminal() bool {
	return !t.From.Terminal() && t.To.Terminal()
}

// Apply computes the next machine for ev. Events that do not apply in the
// current status leave it unchanged; re-entering error or ended is a no-op.
func (m Machine) Apply(ev Event) (Machine, Transition) {
	next := m
	s := m.Status

	switch ev.Kind {
	case EvOpen:
		next = Machine{Status: domain.StatusCheckingPermissions}

	case EvMediaReady:
		if s == domain.StatusCheckingPermissions {
			next.Status = domain.StatusReady
			next.HasStream = true
		}

	case EvMediaFailed:
		if s == domain.StatusCheckingPermissions {
			reason := mediaReason(ev.Err)
			if reason == domain.ReasonTimeout {
				next = next.fail(reason)
			} else {
				next.Status = domain.StatusPermissionsDenied
				next.Outcome = domain.OutcomeError
				next.Reason = reason
			}
		}

	case EvDeniedTimeout:
		if s == domain.StatusPermissionsDenied {
			next.Status = domain.StatusEnded
		}

	case EvStart:
		if s == domain.StatusReady {
			next = next.enterSignaling(domain.StatusCalling)
		}

	case EvRemoteOffer:
		if s == domain.StatusReady || s == domain.StatusCalling {
			next = next.enterSignaling(domain.StatusReceiving)
		}

	case EvAccept:
		if s == domain.StatusReceiving {
			next.Status = domain.StatusConnecting
		}

	case EvPeerChecking:
		if s == domain.StatusCalling || s == domain.StatusReceiving {
			next.Status = domain.StatusConnecting
		}

	case EvPeerConnected, EvRemoteTrack:
		if s.Active() {
			next.Status = domain.StatusInCall
			next.Live = true
		}

	case EvPeerDisconnected:
		// may recover on its own

	case EvPeerFailed:
		if s.Active() {
			next = next.fail(domain.ReasonConnectionFailed)
		}

	case EvPeerClosed:
		if s.Active() {
			next = next.end(domain.ReasonConnectionClosed)
		}

	case EvChannelGone:
		if s.Active() {
			next = next.end(domain.ReasonPeerLeft)
		}

	case EvSignalingFailed:
		if s != domain.StatusIdle && !s.Terminal() {
			next = next.fail(domain.ReasonSignalingFailed)
		}

	case EvNegotiationFailed:
		if s != domain.StatusIdle && !s.Terminal() {
			next = next.fail(domain.ReasonNegotiationFailed)
		}

	case EvRingTimeout:
		if s == domain.StatusCalling {
			next.Status = domain.StatusEnded
			next.Outcome = domain.OutcomeMissed
			next.Reason = domain.ReasonNoAnswer
		}

	case EvConnectTimeout:
		if s == domain.StatusReceiving || s == domain.StatusConnecting {
			next = next.fail(domain.ReasonTimeout)
		}

	case EvHangup:
		if s != domain.StatusIdle && s != domain.StatusEnded {
			next.Status = domain.StatusEnded
			if next.Outcome == domain.OutcomeNone {
				next.Outcome = domain.OutcomeEnded
				next.Reason = domain.ReasonHangup
			}
		}

	case EvCleanedUp:
		if s == domain.StatusError {
			next.Status = domain.StatusEnded
		}
	}

	return next, Transition{Event: ev, From: s, To: next.Status}
}

func (m Machine) enterSignaling(to domain.Status) Machine {
	if !m.HasStream {
		return m.fail(domain.ReasonNoLocalMedia)
	}
	m.Status = to
	return m
}

func (m Machine) fail(reason domain.Reason) Machine {
	m.Status = domain.StatusError
	m.Outcome = domain.OutcomeError
	m.Reason = reason
	return m
}

// end classifies a peer-side ending: missed unless the call went live.
func (m Machine) end(reason domain.Reason) Machine {
	m.Status = domain.StatusEnded
	m.Reason = reason
	if m.Live {
		m.Outcome = domain.OutcomeEnded
	} else {
		m.Outcome = domain.OutcomeMissed
	}
	return m
}

func mediaReason(err error) domain.Reason {
	switch {
	case errors.Is(err, core.ErrTimeout):
		return domain.ReasonTimeout
	case errors.Is(err, core.ErrPermissionDenied):
		return domain.ReasonPermissionDenied
	case errors.Is(err, core.ErrUnsupported):
		return domain.ReasonUnsupported
	}
	return domain.ReasonDeviceUnavailable
}

package domain

import (
	"sort"
	"strings"
)

// CallID addresses the relay scope shared by both participants.
type CallID string

func (id CallID) String() string { return string(id) }

// NewCallID derives the call id from the two participants. The result does
// not depend on argument order, so both sides land on the same scope.
func NewCallID(a, b UserID) (CallID, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if err := b.Validate(); err != nil {
		return "", err
	}
	if a == b {
		return "", ErrSameUser
	}
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return CallID(strings.Join(ids, "_")), nil
}

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleReceiver  Role = "receiver"
)

// RoleFor designates the smaller id as initiator so that two peers starting
// at the same time agree on who yields.
func RoleFor(self, peer UserID) Role {
	if self < peer {
		return RoleInitiator
	}
	return RoleReceiver
}

func (r Role) Polite() bool { return r == RoleReceiver }

type Status string

const (
	StatusIdle                Status = "idle"
	StatusCheckingPermissions Status = "checking_permissions"
	StatusPermissionsDenied   Status = "permissions_denied"
	StatusReady               Status = "ready"
	StatusCalling             Status = "calling"
	StatusReceiving           Status = "receiving"
	StatusConnecting          Status = "connecting"
	StatusInCall              Status = "in_call"
	StatusError               Status = "error"
	StatusEnded               Status = "ended"
)

// Terminal reports whether the status is error or ended.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusEnded
}

// Active reports whether signaling has begun for the attempt.
func (s Status) Active() bool {
	switch s {
	case StatusCalling, StatusReceiving, StatusConnecting, StatusInCall:
		return true
	}
	return false
}

var statusText = map[Status]string{
	StatusIdle:                "",
	StatusCheckingPermissions: "Requesting camera and microphone...",
	StatusPermissionsDenied:   "Camera or microphone access denied",
	StatusReady:               "Ready to call",
	StatusCalling:             "Calling...",
	StatusReceiving:           "Incoming call...",
	StatusConnecting:          "Connecting...",
	StatusInCall:              "Connected",
	StatusError:               "Call failed",
	StatusEnded:               "Call ended",
}

// Text is the human-readable status line shown to the user.
func (s Status) Text() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return string(s)
}

// Outcome classifies how a call attempt finished.
type Outcome string

const (
	OutcomeNone   Outcome = ""
	OutcomeEnded  Outcome = "ended"
	OutcomeMissed Outcome = "missed"
	OutcomeError  Outcome = "error"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonHangup            Reason = "hangup"
	ReasonPeerLeft          Reason = "peer left"
	ReasonNoAnswer          Reason = "no answer"
	ReasonPermissionDenied  Reason = "permission denied"
	ReasonDeviceUnavailable Reason = "device unavailable"
	ReasonUnsupported       Reason = "unsupported"
	ReasonTimeout           Reason = "could not connect"
	ReasonConnectionFailed  Reason = "connection failed"
	ReasonConnectionClosed  Reason = "connection closed"
	ReasonSignalingFailed   Reason = "signaling failed"
	ReasonNegotiationFailed Reason = "negotiation failed"
	ReasonNoLocalMedia      Reason = "no local media"
)

package domain

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrUnknownSignal = errors.New("unknown signal type")
	ErrEmptySDP      = errors.New("empty sdp")
	ErrNoSender      = errors.New("signal has no sender")
)

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Signal is one immutable record of the offer/answer/candidate exchange.
// A candidate signal with a nil Candidate marks the end of gathering.
type Signal struct {
	ID        string                   `json:"id,omitempty"`
	SenderID  UserID                   `json:"sender_id"`
	Type      SignalType               `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Timestamp time.Time                `json:"timestamp,omitempty"`
}

func NewOffer(sender UserID, sdp string) Signal {
	return Signal{SenderID: sender, Type: SignalOffer, SDP: sdp}
}

func NewAnswer(sender UserID, sdp string) Signal {
	return Signal{SenderID: sender, Type: SignalAnswer, SDP: sdp}
}

func NewCandidate(sender UserID, c *webrtc.ICECandidateInit) Signal {
	return Signal{SenderID: sender, Type: SignalCandidate, Candidate: c}
}

// EndOfCandidates reports whether s is the gathering-complete marker.
func (s Signal) EndOfCandidates() bool {
	return s.Type == SignalCandidate && s.Candidate == nil
}

func (s Signal) Validate() error {
	if s.SenderID == "" {
		return ErrNoSender
	}
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return ErrEmptySDP
		}
	case SignalCandidate:
	default:
		return ErrUnknownSignal
	}
	return nil
}

// Description returns the session description carried by an offer or answer.
func (s Signal) Description() webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if s.Type == SignalAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}
}

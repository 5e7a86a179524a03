package core

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerState is the connectivity state reported by a PeerConnection.
type PeerState int

const (
	PeerChecking PeerState = iota
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerChecking:
		return "checking"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

// PeerConnection is the media session with the remote peer.
// Implementations enforce the offer collision rule in HandleOffer and defer
// candidates that arrive before a remote description.
type PeerConnection interface {
	// CreateOffer creates an offer and sets it as local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// HandleOffer applies a remote offer and returns the local answer.
	// ignored is true when the offer lost a collision and was discarded.
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (answer webrtc.SessionDescription, ignored bool, err error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// CreateAnswer creates an answer and sets it as local description.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	// AddICECandidate applies or defers a remote candidate. A nil candidate
	// is the end-of-candidates marker.
	AddICECandidate(c *webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	OnRemoteTrack(func(RemoteTrack))
	// OnLocalCandidate fires per gathered candidate and once with nil.
	OnLocalCandidate(func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(func(PeerState))

	// Close detaches every handler and then closes. Idempotent.
	Close() error
}

// PeerFactory creates a connection with every track of the stream attached.
type PeerFactory interface {
	Create(stream Stream, role domain.Role) (PeerConnection, error)
}

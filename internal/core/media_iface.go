package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Constraints selects which kinds of capture RequestMedia asks for.
type Constraints struct {
	Video bool
	Audio bool
}

// Track is one local capture track. Disabling a track keeps it attached to
// the connection; it only stops producing media.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(bool)
	// Stop ends capture. Safe to call more than once.
	Stop()
	// Local is the pion track handed to AddTrack.
	Local() webrtc.TrackLocal
}

// Stream is a handle to local capture, exclusively owned by one call attempt.
type Stream interface {
	ID() string
	Tracks() []Track
	AudioTracks() []Track
	VideoTracks() []Track
}

// MediaDevices is the hardware capability layer.
// RequestMedia fails with an error wrapping ErrPermissionDenied,
// ErrDeviceUnavailable or ErrUnsupported.
type MediaDevices interface {
	RequestMedia(ctx context.Context, c Constraints) (Stream, error)
}

// RemoteTrack describes inbound media reported by the peer connection.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
	// Remote is nil for non-pion implementations.
	Remote *webrtc.TrackRemote
}

// RemoteStream groups the remote tracks that share a stream id.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}

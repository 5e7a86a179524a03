package call

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/peercall/internal/core"
	"github.com/rs/zerolog/log"
)

// Guard holds at most one local capture stream.
type Guard struct {
	devices core.MediaDevices

	mu       sync.Mutex
	stream   core.Stream
	released int
}

func NewGuard(devices core.MediaDevices) *Guard {
	return &Guard{devices: devices}
}

// Acquire releases any held stream and requests camera and microphone.
// Failures come back as *core.PermissionError. If ctx is done by the time
// the devices answer, the new stream is stopped and not held.
func (g *Guard) Acquire(ctx context.Context) (core.Stream, error) {
	g.Release()

	s, err := g.devices.RequestMedia(ctx, core.Constraints{Video: true, Audio: true})
	if err != nil {
		return nil, classify(err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		stopAll(s)
		return nil, classify(err)
	}
	g.stream = s
	log.Debug().Str("module", "app.call.guard").Str("stream_id", s.ID()).Msg("stream held")
	return s, nil
}

func classify(err error) error {
	var pe *core.PermissionError
	if errors.As(err, &pe) {
		return pe
	}
	reason := core.ErrDeviceUnavailable
	switch {
	case errors.Is(err, core.ErrPermissionDenied):
		reason = core.ErrPermissionDenied
	case errors.Is(err, core.ErrUnsupported):
		reason = core.ErrUnsupported
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		reason = core.ErrTimeout
	case errors.Is(err, context.Canceled):
		reason = core.ErrClosed
	}
	return &core.PermissionError{Reason: reason, Err: err}
}

// Release stops every track of the held stream. It reports whether a stream
// was held; calling it again is a no-op.
func (g *Guard) Release() bool {
	g.mu.Lock()
	s := g.stream
	g.stream = nil
	if s != nil {
		g.released++
	}
	g.mu.Unlock()

	if s == nil {
		return false
	}
	stopAll(s)
	log.Debug().Str("module", "app.call.guard").Str("stream_id", s.ID()).Msg("stream released")
	return true
}

func stopAll(s core.Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func (g *Guard) Stream() core.Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stream
}

// Releases counts streams released so far.
func (g *Guard) Releases() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released
}

func (g *Guard) SetAudioEnabled(on bool) error {
	return g.setEnabled(on, func(s core.Stream) []core.Track { return s.AudioTracks() })
}

func (g *Guard) SetVideoEnabled(on bool) error {
	return g.setEnabled(on, func(s core.Stream) []core.Track { return s.VideoTracks() })
}

func (g *Guard) setEnabled(on bool, pick func(core.Stream) []core.Track) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stream == nil {
		return core.ErrNoLocalStream
	}
	for _, t := range pick(g.stream) {
		t.SetEnabled(on)
	}
	return nil
}

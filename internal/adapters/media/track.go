// Package media provides core.MediaDevices implementations.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/peercall/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track wraps a pion local track with an enabled flag. A disabled track stays
// bound to its connections and silently drops outgoing packets.
type Track struct {
	local   webrtc.TrackLocal
	enabled *atomic.Bool
	stopFn  func()
	once    sync.Once
	stopped atomic.Bool
}

func newTrack(local webrtc.TrackLocal, stop func()) *Track {
	t := &Track{local: local, enabled: &atomic.Bool{}, stopFn: stop}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *Track) Enabled() bool             { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool)        { t.enabled.Store(on) }
func (t *Track) Stopped() bool             { return t.stopped.Load() }

func (t *Track) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		t.enabled.Store(false)
		if t.stopFn != nil {
			t.stopFn()
		}
	})
}

func (t *Track) Local() webrtc.TrackLocal {
	return gatedLocal{TrackLocal: t.local, enabled: t.enabled}
}

type gatedLocal struct {
	webrtc.TrackLocal
	enabled *atomic.Bool
}

func (g gatedLocal) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return g.TrackLocal.Bind(gatedContext{TrackLocalContext: ctx, enabled: g.enabled})
}

// Unbind rebuilds the same wrapper value Bind used, so tracks keyed by
// context find their binding.
func (g gatedLocal) Unbind(ctx webrtc.TrackLocalContext) error {
	return g.TrackLocal.Unbind(gatedContext{TrackLocalContext: ctx, enabled: g.enabled})
}

type gatedContext struct {
	webrtc.TrackLocalContext
	enabled *atomic.Bool
}

func (g gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{TrackLocalWriter: g.TrackLocalContext.WriteStream(), enabled: g.enabled}
}

type gatedWriter struct {
	webrtc.TrackLocalWriter
	enabled *atomic.Bool
}

func (g gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !g.enabled.Load() {
		return 0, nil
	}
	return g.TrackLocalWriter.WriteRTP(header, payload)
}

func (g gatedWriter) Write(b []byte) (int, error) {
	if !g.enabled.Load() {
		return 0, nil
	}
	return g.TrackLocalWriter.Write(b)
}

// Stream is a set of tracks sharing one stream id.
type Stream struct {
	id     string
	tracks []*Track
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []core.Track { return s.filter(0) }

func (s *Stream) AudioTracks() []core.Track { return s.filter(webrtc.RTPCodecTypeAudio) }

func (s *Stream) VideoTracks() []core.Track { return s.filter(webrtc.RTPCodecTypeVideo) }

// filter returns tracks of kind, or all of them for kind 0.
func (s *Stream) filter(kind webrtc.RTPCodecType) []core.Track {
	out := make([]core.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if kind == 0 || t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

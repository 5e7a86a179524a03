package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrNothingRequested = errors.New("no media kind requested")

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = 33 * time.Millisecond
)

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// StaticDevices hands out synthetic VP8 and Opus tracks. It stands in for
// camera and microphone in headless callers and tests, and can be told to
// fail the way real hardware does.
type StaticDevices struct {
	mu       sync.Mutex
	fail     error
	delay    time.Duration
	generate bool
	issued   []*Stream
}

type StaticOption func(*StaticDevices)

// WithFailure makes every request fail with err, normally one of
// core.ErrPermissionDenied, core.ErrDeviceUnavailable or core.ErrUnsupported.
func WithFailure(err error) StaticOption {
	return func(d *StaticDevices) { d.fail = err }
}

// WithPromptDelay emulates a permission prompt the user takes d to answer.
func WithPromptDelay(d time.Duration) StaticOption {
	return func(s *StaticDevices) { s.delay = d }
}

// WithGenerator writes synthetic samples to every issued track until it stops.
func WithGenerator() StaticOption {
	return func(d *StaticDevices) { d.generate = true }
}

func NewStaticDevices(opts ...StaticOption) *StaticDevices {
	d := &StaticDevices{}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetFailure changes the failure mode for later requests.
func (d *StaticDevices) SetFailure(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

// Issued returns every stream handed out so far.
func (d *StaticDevices) Issued() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.issued...)
}

func (d *StaticDevices) RequestMedia(ctx context.Context, c core.Constraints) (core.Stream, error) {
	d.mu.Lock()
	fail, delay, generate := d.fail, d.delay, d.generate
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}
	if !c.Video && !c.Audio {
		return nil, ErrNothingRequested
	}

	s := &Stream{id: uuid.NewString()}
	if c.Video {
		local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video-"+s.id, s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, d.start(local, generate, videoFrame, []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}))
	}
	if c.Audio {
		local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio-"+s.id, s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, d.start(local, generate, audioFrame, opusSilence))
	}

	d.mu.Lock()
	d.issued = append(d.issued, s)
	d.mu.Unlock()
	log.Debug().Str("module", "adapters.media").Str("stream_id", s.id).Int("tracks", len(s.tracks)).Msg("synthetic stream issued")
	return s, nil
}

func (d *StaticDevices) start(local *webrtc.TrackLocalStaticSample, generate bool, every time.Duration, frame []byte) *Track {
	done := make(chan struct{})
	t := newTrack(local, func() { close(done) })
	if generate {
		go pump(local, every, frame, done)
	}
	return t
}

func pump(local *webrtc.TrackLocalStaticSample, every time.Duration, frame []byte, done <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := local.WriteSample(pionmedia.Sample{Data: frame, Duration: every}); err != nil {
				log.Debug().Err(err).Str("module", "adapters.media").Str("track_id", local.ID()).Msg("sample write")
			}
		}
	}
}

//go:build mediadevices

package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/peercall/internal/core"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// CaptureDevices opens the real camera and microphone through
// pion/mediadevices and encodes them as VP8 and Opus.
type CaptureDevices struct {
	selector *mediadevices.CodecSelector
}

func NewCaptureDevices() (*CaptureDevices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &CaptureDevices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *CaptureDevices) RequestMedia(ctx context.Context, c core.Constraints) (core.Stream, error) {
	if !c.Video && !c.Audio {
		return nil, ErrNothingRequested
	}
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices", core.ErrDeviceUnavailable)
	}
	for _, dev := range devices {
		log.Debug().Str("module", "adapters.media").Str("kind", fmt.Sprint(dev.Kind)).Str("label", dev.Label).Msg("media device")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras yield frames the VP8 encoder rejects.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		ch <- result{s, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		go func() {
			// Close whatever the late open produced.
			if r := <-ch; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, classifyCapture(res.err)
	}

	s := &Stream{id: uuid.NewString()}
	for _, mt := range res.stream.GetTracks() {
		mt.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.media").Str("track_id", mt.ID()).Msg("local track ended")
			}
		})
		s.tracks = append(s.tracks, newTrack(mt, func() { _ = mt.Close() }))
	}
	log.Info().Str("module", "adapters.media").Str("stream_id", s.id).Int("tracks", len(s.tracks)).Msg("local media captured")
	return s, nil
}

func classifyCapture(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", core.ErrPermissionDenied, err)
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return fmt.Errorf("%w: %v", core.ErrUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}
}

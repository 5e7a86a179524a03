package rtc

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteStats counts what ReadRemote consumed from one inbound track.
type RemoteStats struct {
	Packets atomic.Uint64
	Bytes   atomic.Uint64
	LastSeq atomic.Uint32
}

func (s *RemoteStats) observe(pkt *rtp.Packet) {
	s.Packets.Add(1)
	s.Bytes.Add(uint64(len(pkt.Payload)))
	s.LastSeq.Store(uint32(pkt.SequenceNumber))
}

// ReadRemote drains track until ctx is done or the track ends. A track that
// ends with the connection returns nil.
func ReadRemote(ctx context.Context, track *webrtc.TrackRemote, stats *RemoteStats) error {
	logger := log.With().Str("module", "adapters.rtc").Str("track_id", track.ID()).Str("kind", track.Kind().String()).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote reader ctx done")
			return ctx.Err()
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug().Msg("remote track ended")
				return nil
			}
			logger.Warn().Err(err).Msg("remote read RTP error, stopping")
			return err
		}
		if stats != nil {
			stats.observe(pkt)
		}
	}
}

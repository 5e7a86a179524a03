// Package rtc implements the peer connection on top of pion/webrtc.
package rtc

import (
	"errors"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	errUnexpectedAnswer    = errors.New("answer without outstanding offer")
	errCandidateBufferFull = errors.New("deferred candidate buffer full")
)

type Options struct {
	STUNServers []string
	// CandidateBuffer bounds the remote candidates held before a remote
	// description is set.
	CandidateBuffer int

	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepalive           time.Duration
}

func (o Options) configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(o.STUNServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: o.STUNServers}}
	}
	return cfg
}

// Factory builds Connections sharing one pion API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	opts   Options
}

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if opts.ICEDisconnectedTimeout > 0 && opts.ICEFailedTimeout > 0 && opts.ICEKeepalive > 0 {
		se.SetICETimeouts(opts.ICEDisconnectedTimeout, opts.ICEFailedTimeout, opts.ICEKeepalive)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	log.Info().Str("module", "adapters.rtc").Strs("stun", opts.STUNServers).Int("candidate_buffer", opts.CandidateBuffer).Msg("peer factory ready")
	return &Factory{api: api, config: opts.configuration(), opts: opts}, nil
}

// Create returns a connection with every track of stream attached.
func (f *Factory) Create(stream core.Stream, role domain.Role) (core.PeerConnection, error) {
	if stream == nil {
		return nil, core.ErrNoLocalStream
	}
	conn, err := newConnection(f.api, f.config, stream, role, f.opts.CandidateBuffer)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

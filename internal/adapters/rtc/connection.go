package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection is a core.PeerConnection over a pion PeerConnection.
type Connection struct {
	api    *webrtc.API
	config webrtc.Configuration
	stream core.Stream
	role   domain.Role
	logger zerolog.Logger

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	pending     []webrtc.ICECandidateInit
	maxPending  int
	onTrack     func(core.RemoteTrack)
	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(core.PeerState)

	closed atomic.Bool
	pli    atomic.Uint64
}

func newConnection(api *webrtc.API, cfg webrtc.Configuration, stream core.Stream, role domain.Role, maxPending int) (*Connection, error) {
	c := &Connection{
		api:        api,
		config:     cfg,
		stream:     stream,
		role:       role,
		maxPending: maxPending,
		logger:     log.With().Str("module", "adapters.rtc").Str("role", string(role)).Logger(),
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c.pc = pc
	if err := c.bind(pc); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) current() *webrtc.PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

// bind attaches the local tracks and the event handlers to pc. Events of a
// pc that has since been replaced are dropped.
func (c *Connection) bind(pc *webrtc.PeerConnection) error {
	for _, t := range c.stream.Tracks() {
		sender, err := pc.AddTrack(t.Local())
		if err != nil {
			return err
		}
		go c.drainRTCP(sender)
		c.logger.Debug().Str("track_id", t.ID()).Str("kind", t.Kind().String()).Msg("local track attached")
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if c.current() != pc {
			return
		}
		if cand == nil {
			c.logger.Debug().Msg("candidate gathering complete")
			c.emitCandidate(nil)
			return
		}
		init := cand.ToJSON()
		c.emitCandidate(&init)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		if c.current() != pc {
			return
		}
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if st, ok := peerState(s); ok {
			c.emitState(st)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if c.current() != pc {
			return
		}
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.emitTrack(core.RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind(),
			Remote:   track,
		})
	})
	return nil
}

func unbind(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
}

func peerState(s webrtc.ICEConnectionState) (core.PeerState, bool) {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return core.PeerChecking, true
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return core.PeerConnected, true
	case webrtc.ICEConnectionStateDisconnected:
		return core.PeerDisconnected, true
	case webrtc.ICEConnectionStateFailed:
		return core.PeerFailed, true
	case webrtc.ICEConnectionStateClosed:
		return core.PeerClosed, true
	}
	return 0, false
}

// drainRTCP reads RTCP for one sender so interceptors keep running, and
// counts picture loss requests from the remote side.
func (c *Connection) drainRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if _, ok := p.(*rtcp.PictureLossIndication); ok {
				c.pli.Add(1)
			}
		}
	}
}

// PictureLossCount is the number of PLIs received for local video.
func (c *Connection) PictureLossCount() uint64 { return c.pli.Load() }

func (c *Connection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	pc := c.current()
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create offer", Err: err, Fatal: true}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "set local offer", Err: err, Fatal: true}
	}
	c.logger.Debug().Msg("offer created")
	return offer, nil
}

// HandleOffer applies the collision rule before answering. An offer arriving
// while a local offer is outstanding is dropped by the initiator; the
// receiver abandons its own offer and answers.
func (c *Connection) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, bool, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, false, err
	}
	pc := c.current()
	rolledBack := false
	if st := pc.SignalingState(); st != webrtc.SignalingStateStable {
		if !c.role.Polite() {
			c.logger.Info().Str("signaling_state", st.String()).Msg("ignoring colliding offer")
			return webrtc.SessionDescription{}, true, nil
		}
		c.logger.Info().Str("signaling_state", st.String()).Msg("offer collision, yielding")
		if err := c.rollback(pc); err != nil {
			return webrtc.SessionDescription{}, false, err
		}
		rolledBack = c.current() == pc
	}

	if err := c.SetRemoteDescription(offer); err != nil {
		if !rolledBack {
			return webrtc.SessionDescription{}, false, err
		}
		// The rollback left pc unusable for the new offer.
		c.logger.Warn().Err(err).Msg("remote offer rejected after rollback, rebuilding")
		if err := c.rebuild(); err != nil {
			return webrtc.SessionDescription{}, false, err
		}
		if err := c.SetRemoteDescription(offer); err != nil {
			return webrtc.SessionDescription{}, false, err
		}
	}
	answer, err := c.CreateAnswer(ctx)
	return answer, false, err
}

func (c *Connection) rollback(pc *webrtc.PeerConnection) error {
	rb := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if local := pc.PendingLocalDescription(); local != nil {
		rb.SDP = local.SDP
	}
	err := pc.SetLocalDescription(rb)
	if err == nil && pc.SignalingState() == webrtc.SignalingStateStable {
		c.logger.Debug().Msg("local offer rolled back")
		return nil
	}
	c.logger.Warn().Err(err).Msg("rollback failed, rebuilding connection")
	return c.rebuild()
}

// rebuild replaces the pion connection with a fresh one carrying the same
// tracks. Deferred remote candidates are kept.
func (c *Connection) rebuild() error {
	pc, err := c.api.NewPeerConnection(c.config)
	if err != nil {
		return &core.NegotiationError{Op: "rebuild", Err: err, Fatal: true}
	}
	c.mu.Lock()
	old := c.pc
	c.pc = pc
	c.mu.Unlock()

	unbind(old)
	if err := old.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("close replaced connection")
	}
	if err := c.bind(pc); err != nil {
		return &core.NegotiationError{Op: "rebuild", Err: err, Fatal: true}
	}
	return nil
}

// SetRemoteDescription applies desc and then replays deferred candidates.
// An answer that does not match an outstanding local offer is dropped
// without harming the connection.
func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	pc := c.current()
	if desc.Type == webrtc.SDPTypeAnswer && pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return &core.NegotiationError{Op: "set remote answer", Err: errUnexpectedAnswer}
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return &core.NegotiationError{Op: "set remote " + desc.Type.String(), Err: err, Fatal: true}
	}
	c.flushPending(pc)
	return nil
}

func (c *Connection) flushPending(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Str("candidate", cand.Candidate).Msg("deferred candidate rejected")
		}
	}
	if len(pending) > 0 {
		c.logger.Debug().Int("count", len(pending)).Msg("deferred candidates applied")
	}
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	pc := c.current()
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create answer", Err: err, Fatal: true}
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "set local answer", Err: err, Fatal: true}
	}
	c.logger.Debug().Msg("answer created")
	return answer, nil
}

// AddICECandidate applies cand, or defers it while no remote description is
// set. The end-of-candidates marker is accepted and never applied. Errors are
// never fatal.
func (c *Connection) AddICECandidate(cand *webrtc.ICECandidateInit) error {
	if cand == nil {
		c.logger.Debug().Msg("remote end of candidates")
		return nil
	}
	pc := c.current()
	if pc.RemoteDescription() == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.pending) >= c.maxPending {
			return &core.NegotiationError{Op: "defer candidate", Err: errCandidateBufferFull}
		}
		c.pending = append(c.pending, *cand)
		return nil
	}
	if err := pc.AddICECandidate(*cand); err != nil {
		return &core.NegotiationError{Op: "add candidate", Err: err}
	}
	return nil
}

// Deferred is the number of remote candidates waiting for a remote description.
func (c *Connection) Deferred() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.current().SignalingState()
}

func (c *Connection) OnRemoteTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnLocalCandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(core.PeerState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) emitTrack(t core.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil && !c.closed.Load() {
		fn(t)
	}
}

func (c *Connection) emitCandidate(cand *webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil && !c.closed.Load() {
		fn(cand)
	}
}

func (c *Connection) emitState(s core.PeerState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil && !c.closed.Load() {
		fn(s)
	}
}

// Close detaches every handler and then closes the pion connection, so no
// callback fires after it returns. Idempotent.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	pc := c.pc
	c.onTrack = nil
	c.onCandidate = nil
	c.onState = nil
	c.pending = nil
	c.mu.Unlock()

	unbind(pc)
	if err := pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Uint64("pli", c.pli.Load()).Msg("closed")
	return nil
}

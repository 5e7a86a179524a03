// Package call drives one participant's side of a two-party call: media
// acquisition, offer/answer exchange over the relay, connection lifecycle and
// teardown.
package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultDeniedCloseDelay = 3 * time.Second
	clearTimeout            = 5 * time.Second
)

// Intent says how the call UI was opened.
type Intent string

const (
	// IntentOutgoing clears stale scope content before the attempt begins.
	IntentOutgoing Intent = "outgoing"
	IntentIncoming Intent = "incoming"
)

type Deps struct {
	Devices core.MediaDevices
	Relay   core.Relay
	Peers   core.PeerFactory
}

type Options struct {
	Self domain.UserID
	Peer domain.UserID
	// Role overrides the role derived from the two ids.
	Role domain.Role

	// PermissionTimeout bounds the media prompt. Zero waits forever.
	PermissionTimeout time.Duration
	// DeniedCloseDelay is how long permissions_denied stays on screen.
	DeniedCloseDelay time.Duration
	// RingTimeout ends an unanswered call as missed. Zero disables it.
	RingTimeout time.Duration
	// ConnectTimeout fails a call stuck before in_call. Zero disables it.
	ConnectTimeout time.Duration
}

// Snapshot is what the UI renders.
type Snapshot struct {
	CallID    domain.CallID
	Role      domain.Role
	Status    domain.Status
	Text      string
	Outcome   domain.Outcome
	Reason    domain.Reason
	MicMuted  bool
	CameraOff bool
	Remote    core.RemoteStream
}

func (s Snapshot) IsMissed() bool { return s.Outcome == domain.OutcomeMissed }

type timerKind int

const (
	timerPermission timerKind = iota
	timerRing
	timerConnect
	timerDenied
)

// attempt owns everything acquired between Open and cleanup.
type attempt struct {
	gen    uint64
	intent Intent
	ctx    context.Context
	cancel context.CancelFunc

	pc     core.PeerConnection
	handle *signal.Handle
	worker *serial
	timers map[timerKind]*time.Timer

	remote    core.RemoteStream
	micMuted  bool
	cameraOff bool

	// clearScope is set by an explicit hangup of an active call.
	clearScope bool
	cleaned    bool
}

// Session is the call state machine of one participant. All state changes
// happen on its loop goroutine; the public methods post work to it.
type Session struct {
	deps    Deps
	opts    Options
	callID  domain.CallID
	role    domain.Role
	guard   *Guard
	channel *signal.Channel
	logger  zerolog.Logger

	loop     *serial
	notifier *serial
	bg       sync.WaitGroup
	base     context.Context
	stopBase context.CancelFunc

	// owned by the loop
	m         Machine
	att       *attempt
	gen       uint64
	closed    bool
	observers []func(Snapshot)

	mu   sync.RWMutex
	snap Snapshot
}

func NewSession(deps Deps, opts Options) (*Session, error) {
	if deps.Devices == nil || deps.Relay == nil || deps.Peers == nil {
		return nil, errors.New("call: devices, relay and peer factory are required")
	}
	callID, err := domain.NewCallID(opts.Self, opts.Peer)
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	role := opts.Role
	if role == "" {
		role = domain.RoleFor(opts.Self, opts.Peer)
	}
	if opts.DeniedCloseDelay <= 0 {
		opts.DeniedCloseDelay = defaultDeniedCloseDelay
	}

	base, stop := context.WithCancel(context.Background())
	s := &Session{
		deps:     deps,
		opts:     opts,
		callID:   callID,
		role:     role,
		guard:    NewGuard(deps.Devices),
		channel:  signal.NewChannel(deps.Relay, opts.Self),
		logger:   log.With().Str("module", "app.call").Str("call_id", callID.String()).Str("self", opts.Self.String()).Str("role", string(role)).Logger(),
		loop:     newSerial(),
		notifier: newSerial(),
		base:     base,
		stopBase: stop,
		m:        Machine{Status: domain.StatusIdle},
	}
	s.snap = s.snapshot()
	return s, nil
}

func (s *Session) CallID() domain.CallID { return s.callID }
func (s *Session) Role() domain.Role     { return s.role }

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	if !s.loop.post(func() {
		defer close(done)
		if !s.closed {
			fn()
		}
	}) {
		return
	}
	select {
	case <-done:
	case <-s.loop.done:
	}
}

// postGen queues fn on the loop unless the attempt gen has since been torn
// down. stale runs instead for results that hold resources.
func (s *Session) postGen(gen uint64, fn func(), stale func()) {
	ok := s.loop.post(func() {
		if s.closed || s.att == nil || s.att.gen != gen || s.att.cleaned {
			if stale != nil {
				stale()
			}
			return
		}
		fn()
	})
	if !ok && stale != nil {
		stale()
	}
}

// OnUpdate registers an observer called after every visible change, in
// order, off the loop goroutine.
func (s *Session) OnUpdate(fn func(Snapshot)) {
	s.do(func() { s.observers = append(s.observers, fn) })
}

// Open begins a new attempt, tearing down any previous one first.
func (s *Session) Open(intent Intent) {
	s.do(func() { s.open(intent) })
}

func (s *Session) StartCall() {
	s.do(s.startCall)
}

// AcceptIncoming only moves receiving to connecting; the answer is sent as
// soon as the offer arrives.
func (s *Session) AcceptIncoming() {
	s.do(func() { s.apply(Event{Kind: EvAccept}) })
}

func (s *Session) HangUp() {
	s.do(s.hangUp)
}

// ToggleMic flips the microphone and returns whether it is now muted.
func (s *Session) ToggleMic() bool {
	var muted bool
	s.do(func() { muted = s.toggle(true) })
	return muted
}

// ToggleCamera flips the camera and returns whether it is now off.
func (s *Session) ToggleCamera() bool {
	var off bool
	s.do(func() { off = s.toggle(false) })
	return off
}

// Close tears down the current attempt and stops the session.
func (s *Session) Close() {
	s.do(func() {
		s.cleanup()
		s.closed = true
	})
	s.loop.stop()
	s.loop.wait()
	s.bg.Wait()
	s.stopBase()
	s.notifier.post(s.notifier.stop)
	s.notifier.wait()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Session) Status() domain.Status   { return s.Snapshot().Status }
func (s *Session) IsMissed() bool          { return s.Snapshot().IsMissed() }
func (s *Session) Outcome() domain.Outcome { return s.Snapshot().Outcome }
func (s *Session) Reason() domain.Reason   { return s.Snapshot().Reason }
func (s *Session) MicMuted() bool          { return s.Snapshot().MicMuted }
func (s *Session) CameraOff() bool         { return s.Snapshot().CameraOff }

// RemoteStream returns the inbound media, if any has arrived.
func (s *Session) RemoteStream() (core.RemoteStream, bool) {
	r := s.Snapshot().Remote
	return r, len(r.Tracks) > 0
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		CallID:  s.callID,
		Role:    s.role,
		Status:  s.m.Status,
		Text:    s.m.Status.Text(),
		Outcome: s.m.Outcome,
		Reason:  s.m.Reason,
	}
	if s.att != nil {
		snap.MicMuted = s.att.micMuted
		snap.CameraOff = s.att.cameraOff
		snap.Remote = core.RemoteStream{
			ID:     s.att.remote.ID,
			Tracks: append([]core.RemoteTrack(nil), s.att.remote.Tracks...),
		}
	}
	return snap
}

func (s *Session) publish() {
	snap := s.snapshot()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	observers := slices.Clone(s.observers)
	if len(observers) == 0 {
		return
	}
	s.notifier.post(func() {
		for _, fn := range observers {
			fn(snap)
		}
	})
}

// apply runs ev through the machine and performs the side effects of the
// resulting transition.
func (s *Session) apply(ev Event) Transition {
	next, tr := s.m.Apply(ev)
	s.m = next
	if !tr.Changed() {
		return tr
	}

	l := s.logger.Info()
	if tr.To == domain.StatusError {
		l = s.logger.Warn().Err(ev.Err)
	}
	l.Str("event", ev.Kind.String()).Str("from", string(tr.From)).Str("to", string(tr.To)).Str("reason", string(s.m.Reason)).Msg("transition")

	if tr.From == domain.StatusCheckingPermissions {
		s.stopTimer(timerPermission)
	}
	switch tr.To {
	case domain.StatusCalling:
		s.startTimer(timerRing, s.opts.RingTimeout, Event{Kind: EvRingTimeout, Err: core.ErrTimeout})
	case domain.StatusReceiving, domain.StatusConnecting:
		s.stopTimer(timerRing)
		s.startTimer(timerConnect, s.opts.ConnectTimeout, Event{Kind: EvConnectTimeout, Err: core.ErrTimeout})
	case domain.StatusInCall:
		s.stopTimer(timerRing)
		s.stopTimer(timerConnect)
	case domain.StatusPermissionsDenied:
		s.startTimer(timerDenied, s.opts.DeniedCloseDelay, Event{Kind: EvDeniedTimeout})
	}

	if tr.EntersTerminal() {
		s.cleanup()
	}
	s.publish()

	if tr.To == domain.StatusError {
		s.apply(Event{Kind: EvCleanedUp})
	}
	return tr
}

func (s *Session) startTimer(kind timerKind, d time.Duration, ev Event) {
	att := s.att
	if att == nil || d <= 0 {
		return
	}
	if _, running := att.timers[kind]; running {
		return
	}
	gen := att.gen
	att.timers[kind] = time.AfterFunc(d, func() {
		s.postGen(gen, func() { s.apply(ev) }, nil)
	})
}

func (s *Session) stopTimer(kind timerKind) {
	if s.att == nil {
		return
	}
	if t, ok := s.att.timers[kind]; ok {
		t.Stop()
	}
}

func (s *Session) open(intent Intent) {
	s.cleanup()

	s.gen++
	ctx, cancel := context.WithCancel(s.base)
	att := &attempt{
		gen:    s.gen,
		intent: intent,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[timerKind]*time.Timer),
	}
	s.att = att
	s.logger.Info().Uint64("gen", att.gen).Str("intent", string(intent)).Msg("attempt opened")
	s.apply(Event{Kind: EvOpen})
	// devices may ignore ctx, so the prompt also gets a timer
	s.startTimer(timerPermission, s.opts.PermissionTimeout, Event{
		Kind: EvMediaFailed,
		Err:  &core.PermissionError{Reason: core.ErrTimeout},
	})

	gen := att.gen
	s.bg.Go(func() {
		if intent == IntentOutgoing {
			if err := s.channel.Clear(ctx, s.callID); err != nil {
				s.postGen(gen, func() { s.apply(Event{Kind: EvSignalingFailed, Err: err}) }, nil)
				return
			}
		}
		actx, acancel := ctx, context.CancelFunc(func() {})
		if s.opts.PermissionTimeout > 0 {
			actx, acancel = context.WithTimeout(ctx, s.opts.PermissionTimeout)
		}
		stream, err := s.guard.Acquire(actx)
		acancel()
		if err != nil {
			s.postGen(gen, func() { s.apply(Event{Kind: EvMediaFailed, Err: err}) }, nil)
			return
		}
		s.postGen(gen, func() { s.onMediaReady(stream) }, nil)
	})
}

func (s *Session) onMediaReady(stream core.Stream) {
	if tr := s.apply(Event{Kind: EvMediaReady}); tr.To != domain.StatusReady {
		return
	}
	att := s.att
	gen := att.gen

	pc, err := s.deps.Peers.Create(stream, s.role)
	if err != nil {
		s.apply(Event{Kind: EvNegotiationFailed, Err: err})
		return
	}
	att.pc = pc
	att.worker = newSerial()

	pc.OnLocalCandidate(func(c *webrtc.ICECandidateInit) {
		s.postGen(gen, func() { s.send(domain.NewCandidate(s.opts.Self, c)) }, nil)
	})
	pc.OnConnectionStateChange(func(st core.PeerState) {
		s.postGen(gen, func() { s.onPeerState(st) }, nil)
	})
	pc.OnRemoteTrack(func(t core.RemoteTrack) {
		s.postGen(gen, func() { s.onRemoteTrack(t) }, nil)
	})

	cb := signal.Callbacks{
		OnMessage: func(sig domain.Signal) {
			s.postGen(gen, func() { s.onSignal(sig) }, nil)
		},
		OnGone: func() {
			s.postGen(gen, func() { s.apply(Event{Kind: EvChannelGone}) }, nil)
		},
		OnError: func(err error) {
			s.postGen(gen, func() { s.apply(Event{Kind: EvSignalingFailed, Err: err}) }, nil)
		},
	}
	s.bg.Go(func() {
		h, err := s.channel.Attach(s.callID, cb)
		if err != nil {
			s.postGen(gen, func() { s.apply(Event{Kind: EvSignalingFailed, Err: err}) }, nil)
			return
		}
		s.postGen(gen, func() { att.handle = h }, func() { s.channel.Detach(h) })
	})
}

// negotiate queues fn on the attempt's negotiation worker, which applies
// SDP and sends messages in order without blocking the loop.
func (s *Session) negotiate(fn func(ctx context.Context, pc core.PeerConnection, gen uint64)) {
	att := s.att
	if att == nil || att.worker == nil || att.pc == nil {
		return
	}
	ctx, pc, gen := att.ctx, att.pc, att.gen
	att.worker.post(func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx, pc, gen)
	})
}

func (s *Session) startCall() {
	if tr := s.apply(Event{Kind: EvStart}); tr.To != domain.StatusCalling {
		s.logger.Debug().Str("status", string(s.m.Status)).Msg("start ignored")
		return
	}
	s.negotiate(func(ctx context.Context, pc core.PeerConnection, gen uint64) {
		offer, err := pc.CreateOffer(ctx)
		if err != nil {
			s.negotiationFailed(ctx, gen, err)
			return
		}
		s.sendNow(ctx, gen, domain.NewOffer(s.opts.Self, offer.SDP))
	})
}

func (s *Session) onSignal(sig domain.Signal) {
	switch sig.Type {
	case domain.SignalOffer:
		if s.m.Status == domain.StatusReady {
			s.apply(Event{Kind: EvRemoteOffer})
		}
		if !s.m.Status.Active() {
			return
		}
		s.negotiate(func(ctx context.Context, pc core.PeerConnection, gen uint64) {
			answer, ignored, err := pc.HandleOffer(ctx, sig.Description())
			if err != nil {
				s.negotiationFailed(ctx, gen, err)
				return
			}
			if ignored {
				return
			}
			if !s.sendNow(ctx, gen, domain.NewAnswer(s.opts.Self, answer.SDP)) {
				return
			}
			// A calling side that yielded to the peer's offer now receives.
			s.postGen(gen, func() { s.apply(Event{Kind: EvRemoteOffer}) }, nil)
		})

	case domain.SignalAnswer:
		s.negotiate(func(ctx context.Context, pc core.PeerConnection, gen uint64) {
			if err := pc.SetRemoteDescription(sig.Description()); err != nil {
				s.negotiationFailed(ctx, gen, err)
			}
		})

	case domain.SignalCandidate:
		s.negotiate(func(ctx context.Context, pc core.PeerConnection, gen uint64) {
			if err := pc.AddICECandidate(sig.Candidate); err != nil {
				s.negotiationFailed(ctx, gen, err)
			}
		})
	}
}

// send queues an outgoing message behind pending negotiation work.
func (s *Session) send(sig domain.Signal) {
	s.negotiate(func(ctx context.Context, _ core.PeerConnection, gen uint64) {
		s.sendNow(ctx, gen, sig)
	})
}

func (s *Session) sendNow(ctx context.Context, gen uint64, sig domain.Signal) bool {
	err := s.channel.Send(ctx, s.callID, sig)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	var se *core.SignalingError
	if errors.As(err, &se) {
		s.postGen(gen, func() { s.apply(Event{Kind: EvSignalingFailed, Err: err}) }, nil)
	} else {
		s.negotiationFailed(ctx, gen, err)
	}
	return false
}

// negotiationFailed drops the offending message and fails the call only if
// the connection cannot continue.
func (s *Session) negotiationFailed(ctx context.Context, gen uint64, err error) {
	if ctx.Err() != nil {
		return
	}
	if !core.IsFatalNegotiation(err) {
		s.logger.Warn().Err(err).Msg("negotiation message dropped")
		return
	}
	s.postGen(gen, func() { s.apply(Event{Kind: EvNegotiationFailed, Err: err}) }, nil)
}

func (s *Session) onPeerState(st core.PeerState) {
	switch st {
	case core.PeerChecking:
		s.apply(Event{Kind: EvPeerChecking})
	case core.PeerConnected:
		s.apply(Event{Kind: EvPeerConnected})
	case core.PeerDisconnected:
		s.logger.Warn().Str("status", string(s.m.Status)).Msg("peer disconnected, waiting for recovery")
	case core.PeerFailed:
		s.apply(Event{Kind: EvPeerFailed, Err: core.ErrConnectivityFailure})
	case core.PeerClosed:
		s.apply(Event{Kind: EvPeerClosed})
	}
}

func (s *Session) onRemoteTrack(t core.RemoteTrack) {
	att := s.att
	if att.remote.ID == "" {
		att.remote.ID = t.StreamID
	}
	att.remote.Tracks = append(att.remote.Tracks, t)
	if t.StreamID == "" {
		s.publish()
		return
	}
	if tr := s.apply(Event{Kind: EvRemoteTrack}); !tr.Changed() {
		s.publish()
	}
}

func (s *Session) hangUp() {
	if s.att != nil && s.m.Status.Active() {
		s.att.clearScope = true
	}
	if tr := s.apply(Event{Kind: EvHangup}); !tr.Changed() {
		s.logger.Debug().Str("status", string(s.m.Status)).Msg("hangup ignored")
	}
}

func (s *Session) toggle(audio bool) bool {
	att := s.att
	if att == nil {
		return false
	}
	flag, set := &att.cameraOff, s.guard.SetVideoEnabled
	if audio {
		flag, set = &att.micMuted, s.guard.SetAudioEnabled
	}
	if s.m.Status.Terminal() {
		return *flag
	}
	now := !*flag
	if err := set(!now); err != nil {
		s.logger.Warn().Err(err).Bool("audio", audio).Msg("toggle refused")
		return *flag
	}
	*flag = now
	s.logger.Debug().Bool("audio", audio).Bool("off", now).Msg("local track toggled")
	s.publish()
	return now
}

// cleanup releases everything the current attempt holds. It runs at most
// once per attempt.
func (s *Session) cleanup() {
	att := s.att
	if att == nil || att.cleaned {
		return
	}
	att.cleaned = true

	for _, t := range att.timers {
		t.Stop()
	}
	att.cancel()
	if att.worker != nil {
		att.worker.stop()
	}
	s.guard.Release()
	att.remote = core.RemoteStream{}

	pc, h := att.pc, att.handle
	clearScope := att.clearScope
	s.bg.Go(func() {
		if pc != nil {
			if err := pc.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("close peer connection")
			}
		}
		s.channel.Detach(h)
		if clearScope {
			ctx, cancel := context.WithTimeout(context.Background(), clearTimeout)
			defer cancel()
			if err := s.channel.Clear(ctx, s.callID); err != nil {
				s.logger.Warn().Err(err).Msg("clear scope")
			}
		}
	})
	if att.worker != nil {
		s.bg.Go(att.worker.wait)
	}
	s.logger.Info().Uint64("gen", att.gen).Bool("clear_scope", clearScope).Msg("attempt cleaned up")
}

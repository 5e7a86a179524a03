package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/peercall/internal/adapters/media"
	"github.com/dkeye/peercall/internal/adapters/relay"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// fakePeer follows the signaling states of a real connection closely enough
// to exercise collision handling and candidate deferral.
type fakePeer struct {
	name        string
	polite      bool
	autoConnect bool
	// offerGate, when set, holds CreateOffer until closed, ignoring ctx
	offerGate    chan struct{}
	offerEntered chan struct{}

	mu          sync.Mutex
	state       webrtc.SignalingState
	hasRemote   bool
	deferred    int
	remoteCands int
	connected   bool
	offers      int
	answers     int
	ignored     int
	rollbacks   int
	closes      int

	onTrack func(core.RemoteTrack)
	onCand  func(*webrtc.ICECandidateInit)
	onState func(core.PeerState)
}

var errFakeClosed = errors.New("fake peer closed")

func (p *fakePeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if p.offerGate != nil {
		close(p.offerEntered)
		<-p.offerGate
	}
	p.mu.Lock()
	if p.closes > 0 {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, &core.NegotiationError{Op: "create offer", Err: errFakeClosed, Fatal: true}
	}
	p.state = webrtc.SignalingStateHaveLocalOffer
	p.offers++
	n := p.offers
	p.mu.Unlock()

	p.emitCandidates()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s %d", p.name, n)}, nil
}

func (p *fakePeer) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, bool, error) {
	p.mu.Lock()
	if p.state != webrtc.SignalingStateStable {
		if !p.polite {
			p.ignored++
			p.mu.Unlock()
			return webrtc.SessionDescription{}, true, nil
		}
		p.rollbacks++
		p.state = webrtc.SignalingStateStable
	}
	p.mu.Unlock()

	if err := p.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, false, err
	}
	answer, err := p.CreateAnswer(ctx)
	return answer, false, err
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	if desc.Type == webrtc.SDPTypeAnswer && p.state != webrtc.SignalingStateHaveLocalOffer {
		p.mu.Unlock()
		return &core.NegotiationError{Op: "set remote answer", Err: errors.New("no offer")}
	}
	if desc.Type == webrtc.SDPTypeOffer {
		p.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		p.state = webrtc.SignalingStateStable
	}
	p.hasRemote = true
	p.remoteCands += p.deferred
	p.deferred = 0
	p.mu.Unlock()

	p.maybeConnect()
	return nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.state = webrtc.SignalingStateStable
	p.answers++
	n := p.answers
	p.mu.Unlock()

	p.emitCandidates()
	p.maybeConnect()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s %d", p.name, n)}, nil
}

func (p *fakePeer) AddICECandidate(c *webrtc.ICECandidateInit) error {
	if c == nil {
		return nil
	}
	p.mu.Lock()
	if !p.hasRemote {
		p.deferred++
	} else {
		p.remoteCands++
	}
	p.mu.Unlock()
	p.maybeConnect()
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) OnRemoteTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnLocalCandidate(fn func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCand = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(core.PeerState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.onTrack, p.onCand, p.onState = nil, nil, nil
	return nil
}

func (p *fakePeer) emitCandidates() {
	p.mu.Lock()
	fn := p.onCand
	p.mu.Unlock()
	if fn == nil {
		return
	}
	fn(&webrtc.ICECandidateInit{Candidate: "candidate:" + p.name})
	fn(nil)
}

func (p *fakePeer) maybeConnect() {
	p.mu.Lock()
	if p.connected || !p.autoConnect || !p.hasRemote || p.state != webrtc.SignalingStateStable || p.remoteCands == 0 {
		p.mu.Unlock()
		return
	}
	p.connected = true
	p.mu.Unlock()

	p.emitState(core.PeerChecking)
	p.mu.Lock()
	track := p.onTrack
	p.mu.Unlock()
	if track != nil {
		track(core.RemoteTrack{ID: "video-remote", StreamID: "stream-remote", Kind: webrtc.RTPCodecTypeVideo})
	}
	p.emitState(core.PeerConnected)
}

func (p *fakePeer) emitState(st core.PeerState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (p *fakePeer) counts() (offers, answers, ignored, rollbacks, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.answers, p.ignored, p.rollbacks, p.closes
}

type fakeFactory struct {
	name        string
	autoConnect bool
	failCreate  error
	offerGate   chan struct{}
	entered     chan struct{}

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) Create(stream core.Stream, role domain.Role) (core.PeerConnection, error) {
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	if stream == nil {
		return nil, core.ErrNoLocalStream
	}
	p := &fakePeer{name: f.name, polite: role.Polite(), autoConnect: f.autoConnect, state: webrtc.SignalingStateStable}
	if f.offerGate != nil {
		p.offerGate, p.offerEntered = f.offerGate, f.entered
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

func (f *fakeFactory) last() *fakePeer {
	peers := f.all()
	if len(peers) == 0 {
		return nil
	}
	return peers[len(peers)-1]
}

// countingRelay counts scope deletions and can refuse appends.
type countingRelay struct {
	core.Relay
	deletes    atomic.Int32
	failAppend atomic.Bool
}

var errRelayDown = errors.New("relay unreachable")

func (r *countingRelay) Append(ctx context.Context, key string, rec core.RelayRecord) (core.RelayRecord, error) {
	if r.failAppend.Load() {
		return core.RelayRecord{}, errRelayDown
	}
	return r.Relay.Append(ctx, key, rec)
}

func (r *countingRelay) Delete(ctx context.Context, key string) error {
	r.deletes.Add(1)
	return r.Relay.Delete(ctx, key)
}

type statusLog struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (l *statusLog) add(s Snapshot) {
	l.mu.Lock()
	l.seen = append(l.seen, s)
	l.mu.Unlock()
}

func (l *statusLog) statuses() []domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Status
	for _, s := range l.seen {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (l *statusLog) count(st domain.Status) int {
	n := 0
	for _, s := range l.statuses() {
		if s == st {
			n++
		}
	}
	return n
}

type party struct {
	s       *Session
	devices *media.StaticDevices
	peers   *fakeFactory
	relay   *countingRelay
	log     *statusLog
}

type partyConfig struct {
	opts    Options
	factory *fakeFactory
	devOpts []media.StaticOption
	// wrap replaces the devices handed to the session.
	wrap func(*media.StaticDevices) core.MediaDevices
}

type partyOption func(*partyConfig)

func withOptions(fn func(*Options)) partyOption {
	return func(c *partyConfig) { fn(&c.opts) }
}

func withoutConnect() partyOption {
	return func(c *partyConfig) { c.factory.autoConnect = false }
}

func withDevices(opts ...media.StaticOption) partyOption {
	return func(c *partyConfig) { c.devOpts = append(c.devOpts, opts...) }
}

func withDeviceWrapper(wrap func(*media.StaticDevices) core.MediaDevices) partyOption {
	return func(c *partyConfig) { c.wrap = wrap }
}

// withOfferGate makes CreateOffer block until gate is closed; entered is
// closed once it starts blocking.
func withOfferGate(gate, entered chan struct{}) partyOption {
	return func(c *partyConfig) { c.factory.offerGate, c.factory.entered = gate, entered }
}

// deafDevices ignores ctx and answers only once release is closed.
type deafDevices struct {
	inner   *media.StaticDevices
	release chan struct{}
}

func (d deafDevices) RequestMedia(_ context.Context, c core.Constraints) (core.Stream, error) {
	<-d.release
	return d.inner.RequestMedia(context.Background(), c)
}

func newParty(t *testing.T, hub *app.Hub, self, peer domain.UserID, opts ...partyOption) *party {
	t.Helper()
	c := &partyConfig{
		opts:    Options{Self: self, Peer: peer, DeniedCloseDelay: 50 * time.Millisecond},
		factory: &fakeFactory{name: self.String(), autoConnect: true},
	}
	for _, fn := range opts {
		fn(c)
	}
	p := &party{
		devices: media.NewStaticDevices(c.devOpts...),
		peers:   c.factory,
		relay:   &countingRelay{Relay: relay.NewMemory(hub)},
		log:     &statusLog{},
	}
	var devices core.MediaDevices = p.devices
	if c.wrap != nil {
		devices = c.wrap(p.devices)
	}
	s, err := NewSession(Deps{Devices: devices, Relay: p.relay, Peers: c.factory}, c.opts)
	require.NoError(t, err)
	p.s = s
	s.OnUpdate(p.log.add)
	t.Cleanup(s.Close)
	return p
}

func waitStatus(t *testing.T, s *Session, want domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Status() == want }, 3*time.Second, 5*time.Millisecond,
		"want %s, have %s", want, s.Status())
}

func streamStopped(p *party, i int) bool {
	issued := p.devices.Issued()
	if len(issued) <= i {
		return false
	}
	for _, tr := range issued[i].Tracks() {
		if !tr.(*media.Track).Stopped() {
			return false
		}
	}
	return true
}

// connectPair opens bob for incoming and alice for outgoing, and has alice
// place the call.
func connectPair(t *testing.T, hub *app.Hub, aliceOpts, bobOpts []partyOption) (*party, *party) {
	t.Helper()
	bob := newParty(t, hub, "bob", "alice", bobOpts...)
	alice := newParty(t, hub, "alice", "bob", aliceOpts...)

	bob.s.Open(IntentIncoming)
	waitStatus(t, bob.s, domain.StatusReady)
	alice.s.Open(IntentOutgoing)
	waitStatus(t, alice.s, domain.StatusReady)

	alice.s.StartCall()
	return alice, bob
}

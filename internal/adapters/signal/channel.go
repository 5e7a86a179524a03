// Package signal carries offer, answer and candidate messages between the two
// participants of a call over a core.Relay scope.
package signal

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Callbacks receives what happens on an attached scope. Every field is
// optional. Callbacks of one handle run on a single goroutine, in order.
type Callbacks struct {
	OnMessage func(domain.Signal)
	OnGone    func()
	OnError   func(error)
}

type Channel struct {
	relay core.Relay
	self  domain.UserID
}

func NewChannel(relay core.Relay, self domain.UserID) *Channel {
	return &Channel{relay: relay, self: self}
}

func (c *Channel) Self() domain.UserID { return c.self }

// Handle is one subscription made by Attach.
type Handle struct {
	callID   domain.CallID
	cb       Callbacks
	cancel   func()
	detached atomic.Bool
	// goneSeen suppresses repeated gone reports until the scope has
	// records again.
	goneSeen atomic.Bool
	broken   sync.Once
}

func (h *Handle) CallID() domain.CallID { return h.callID }

// Attach subscribes to the scope of callID. Records written by the local
// user are skipped, as are records that do not decode to a valid signal.
// OnGone fires when the scope is deleted while attached, once per deletion:
// a second report with no record in between is dropped.
func (c *Channel) Attach(callID domain.CallID, cb Callbacks) (*Handle, error) {
	h := &Handle{callID: callID, cb: cb}
	cancel, err := c.relay.Subscribe(callID.String(), func(ev core.RelayEvent) {
		c.dispatch(h, ev)
	})
	if err != nil {
		return nil, &core.SignalingError{Op: "attach", Err: err}
	}
	h.cancel = cancel
	log.Debug().Str("module", "adapters.signal").Str("call_id", callID.String()).Str("self", c.self.String()).Msg("attached")
	return h, nil
}

func (c *Channel) dispatch(h *Handle, ev core.RelayEvent) {
	if h.detached.Load() {
		return
	}
	switch ev.Kind {
	case core.RelayRecordAdded:
		h.goneSeen.Store(false)
		if ev.Record.SenderID == c.self.String() {
			return
		}
		sig, err := Decode(ev.Record)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.signal").Str("call_id", h.callID.String()).Msg("skipping malformed record")
			return
		}
		if h.cb.OnMessage != nil {
			h.cb.OnMessage(sig)
		}
	case core.RelayScopeGone:
		if !h.goneSeen.CompareAndSwap(false, true) {
			return
		}
		log.Info().Str("module", "adapters.signal").Str("call_id", h.callID.String()).Msg("scope gone")
		if h.cb.OnGone != nil {
			h.cb.OnGone()
		}
	case core.RelayBroken:
		h.broken.Do(func() {
			log.Warn().Err(ev.Err).Str("module", "adapters.signal").Str("call_id", h.callID.String()).Msg("subscription broken")
			if h.cb.OnError != nil {
				h.cb.OnError(&core.SignalingError{Op: "subscribe", Err: ev.Err})
			}
		})
	}
}

// Send stamps sig with the local user as sender and appends it to the scope.
func (c *Channel) Send(ctx context.Context, callID domain.CallID, sig domain.Signal) error {
	sig.SenderID = c.self
	rec, err := Encode(sig)
	if err != nil {
		return &core.NegotiationError{Op: "encode " + string(sig.Type), Err: err}
	}
	if _, err := c.relay.Append(ctx, callID.String(), rec); err != nil {
		return &core.SignalingError{Op: "send " + string(sig.Type), Err: err}
	}
	return nil
}

// Detach stops delivery. Calling it again, or with nil, does nothing.
func (c *Channel) Detach(h *Handle) {
	if h == nil || !h.detached.CompareAndSwap(false, true) {
		return
	}
	if h.cancel != nil {
		h.cancel()
	}
	log.Debug().Str("module", "adapters.signal").Str("call_id", h.callID.String()).Msg("detached")
}

// Clear deletes the whole scope of callID.
func (c *Channel) Clear(ctx context.Context, callID domain.CallID) error {
	if err := c.relay.Delete(ctx, callID.String()); err != nil {
		return &core.SignalingError{Op: "clear", Err: err}
	}
	log.Info().Str("module", "adapters.signal").Str("call_id", callID.String()).Msg("scope cleared")
	return nil
}

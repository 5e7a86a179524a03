package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dkeye/peercall/internal/adapters/rtc"
	"github.com/dkeye/peercall/internal/app/call"
	"github.com/dkeye/peercall/internal/domain"
)

// view prints status changes and drives the call from them: an outgoing
// caller dials once ready, an incoming one accepts as soon as it rings.
type view struct {
	ctx     context.Context
	session *call.Session
	intent  call.Intent

	last    domain.Status
	readers map[string]*rtc.RemoteStats
	mu      sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
}

func newView(ctx context.Context, s *call.Session, intent call.Intent) *view {
	return &view{
		ctx:     ctx,
		session: s,
		intent:  intent,
		readers: make(map[string]*rtc.RemoteStats),
		done:    make(chan struct{}),
	}
}

func (v *view) render(snap call.Snapshot) {
	v.readRemote(snap)
	if snap.Status == v.last {
		return
	}
	v.last = snap.Status

	if kind, msg := notice(snap); kind != noticeNone {
		printers[kind].Println(msg)
	}
	if snap.Status == domain.StatusEnded {
		v.doneOnce.Do(func() { close(v.done) })
	}

	// commands block on the session loop; observers must not
	switch {
	case snap.Status == domain.StatusReady && v.intent == call.IntentOutgoing:
		go v.session.StartCall()
	case snap.Status == domain.StatusReceiving:
		go v.session.AcceptIncoming()
	}
}

func (v *view) readRemote(snap call.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, t := range snap.Remote.Tracks {
		if t.Remote == nil {
			continue
		}
		if _, ok := v.readers[t.ID]; ok {
			continue
		}
		stats := &rtc.RemoteStats{}
		v.readers[t.ID] = stats
		pterm.Info.Printfln("receiving %s track %s", t.Kind, t.ID)
		go func() { _ = rtc.ReadRemote(v.ctx, t.Remote, stats) }()
	}
}

func (v *view) printStats() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.readers) == 0 {
		return
	}
	data := pterm.TableData{{"track", "packets", "bytes"}}
	for id, s := range v.readers {
		data = append(data, []string{id, pterm.Sprint(s.Packets.Load()), pterm.Sprint(s.Bytes.Load())})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

type noticeKind int

const (
	noticeNone noticeKind = iota
	noticeInfo
	noticeSuccess
	noticeWarning
	noticeError
)

var printers = map[noticeKind]*pterm.PrefixPrinter{
	noticeInfo:    &pterm.Info,
	noticeSuccess: &pterm.Success,
	noticeWarning: &pterm.Warning,
	noticeError:   &pterm.Error,
}

// notice is the line shown when the status changes to snap.Status. A failed
// call passes through error on its way to ended; only ended carries the
// outcome toast.
func notice(snap call.Snapshot) (noticeKind, string) {
	switch snap.Status {
	case domain.StatusInCall:
		return noticeSuccess, snap.Text
	case domain.StatusError:
		return noticeNone, ""
	case domain.StatusEnded:
		switch snap.Outcome {
		case domain.OutcomeMissed:
			return noticeWarning, fmt.Sprintf("Missed call (%s)", snap.Reason)
		case domain.OutcomeError:
			return noticeError, fmt.Sprintf("%s: %s", snap.Text, snap.Reason)
		}
		return noticeInfo, fmt.Sprintf("%s (%s)", snap.Text, snap.Reason)
	}
	if snap.Text == "" {
		return noticeNone, ""
	}
	return noticeInfo, snap.Text
}

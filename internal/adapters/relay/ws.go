package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const dialTimeout = 10 * time.Second

// WS is a core.Relay client of the relay server. Appends and deletes go over
// HTTP; subscriptions hold one websocket each.
type WS struct {
	base   *url.URL
	sender string
	client *http.Client
	dialer *websocket.Dialer
}

// NewWS builds a client for the server at baseURL (http or https).
// sender is reported to the server for logging only.
func NewWS(baseURL, sender string) (*WS, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url must be http(s), got %q", u.Scheme)
	}
	return &WS{
		base:   u,
		sender: sender,
		client: &http.Client{Timeout: 10 * time.Second},
		dialer: websocket.DefaultDialer,
	}, nil
}

func (w *WS) scopeURL(key string) string {
	return w.base.String() + "/api/relay/" + url.PathEscape(key)
}

func (w *WS) Append(ctx context.Context, key string, rec core.RelayRecord) (core.RelayRecord, error) {
	body, err := json.Marshal(AppendRequest{SenderID: rec.SenderID, Type: rec.Type, Payload: rec.Payload})
	if err != nil {
		return core.RelayRecord{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.scopeURL(key), bytes.NewReader(body))
	if err != nil {
		return core.RelayRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return core.RelayRecord{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return core.RelayRecord{}, fmt.Errorf("relay append: unexpected status %d", resp.StatusCode)
	}
	var out core.RelayRecord
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.RelayRecord{}, fmt.Errorf("relay append: decode: %w", err)
	}
	return out, nil
}

func (w *WS) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, w.scopeURL(key), nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay delete: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Snapshot reads the scope without subscribing.
func (w *WS) Snapshot(ctx context.Context, key string) (SnapshotResponse, error) {
	var out SnapshotResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.scopeURL(key), nil)
	if err != nil {
		return out, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("relay snapshot: unexpected status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

func (w *WS) Subscribe(key string, fn func(core.RelayEvent)) (func(), error) {
	u := *w.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/relay/" + url.PathEscape(key) + "/ws"
	u.RawQuery = url.Values{"sender": {w.sender}}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, _, err := w.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	sub := &wsSubscription{conn: conn, key: key, fn: fn, done: make(chan struct{})}
	go sub.readLoop()
	return sub.cancel, nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	key     string
	fn      func(core.RelayEvent)
	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (s *wsSubscription) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				return
			}
			log.Warn().Err(err).Str("module", "adapters.relay").Str("key", s.key).Msg("subscription broken")
			s.fn(core.RelayEvent{Kind: core.RelayBroken, Err: err})
			return
		}
		var we WireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			log.Error().Err(err).Str("module", "adapters.relay").Msg("bad relay frame")
			continue
		}
		if s.closing.Load() {
			return
		}
		switch we.Event {
		case EventRecord:
			if we.Record != nil {
				s.fn(core.RelayEvent{Kind: core.RelayRecordAdded, Record: *we.Record})
			}
		case EventGone:
			s.fn(core.RelayEvent{Kind: core.RelayScopeGone})
		default:
			log.Warn().Str("module", "adapters.relay").Str("event", we.Event).Msg("unknown relay event")
		}
	}
}

// cancel sends a normal close frame so the server keeps the scope, then
// waits briefly for the read loop to observe it.
func (s *wsSubscription) cancel() {
	s.once.Do(func() {
		s.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detach")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
		_ = s.conn.Close()
	})
}

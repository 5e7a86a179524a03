package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/peercall/internal/adapters/relay"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type RelayWSController struct {
	Hub        *app.Hub
	Policy     app.Policy
	ReadLimit  int64
	PingPeriod time.Duration
}

type wsRelayConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsRelayConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsRelayConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSubscribe streams the scope named by :key to a websocket client.
// An abnormal disconnect deletes the scope so the remote peer observes the
// call as gone; a normal close frame leaves it alone.
func (ctl *RelayWSController) HandleSubscribe(ctx context.Context, c *gin.Context) {
	key := c.Param("key")
	logger := log.With().
		Str("module", "adapters.http.ws").
		Str("key", key).
		Str("sender", c.Query("sender")).
		Str("client", c.GetString("client_token")).
		Logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := &wsRelayConn{
		conn: ws,
		send: make(chan []byte, 64),
	}

	var kicked atomic.Bool
	kick := func() {
		if kicked.CompareAndSwap(false, true) {
			conn.Close()
		}
	}
	dropped := 0
	cancelSub, err := ctl.Hub.Subscribe(key, func(ev core.RelayEvent) {
		we := relay.WireEvent{Event: relay.EventRecord}
		switch ev.Kind {
		case core.RelayRecordAdded:
			rec := ev.Record
			we.Record = &rec
		case core.RelayScopeGone:
			we.Event = relay.EventGone
		default:
			return
		}
		b, err := json.Marshal(we)
		if err != nil {
			logger.Error().Err(err).Msg("marshal relay event")
			return
		}
		if err := conn.TrySend(b); err != nil {
			dropped++
			if ctl.Policy != nil && ctl.Policy.OnBackPressure(key, dropped) == app.KickSubscriber {
				logger.Warn().Int("dropped", dropped).Msg("kicking slow subscriber")
				kick()
			}
			return
		}
		dropped = 0
	})
	if err != nil {
		logger.Error().Err(err).Msg("subscribe")
		conn.Close()
		return
	}
	logger.Info().Msg("subscriber attached")

	connCtx, cancel := context.WithCancel(ctx)
	go ctl.writePump(connCtx, conn, &logger)
	go func() {
		defer cancel()
		defer cancelSub()
		graceful := ctl.readPump(connCtx, conn, &logger)
		if !graceful && !kicked.Load() && ctx.Err() == nil {
			if ctl.Hub.Delete(key) {
				logger.Info().Msg("subscriber dropped, scope deleted")
			}
		}
		conn.Close()
	}()
}

func (ctl *RelayWSController) writePump(ctx context.Context, c *wsRelayConn, logger *zerolog.Logger) {
	ping := ctl.PingPeriod
	if ping <= 0 {
		ping = 54 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Warn().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump blocks until the client goes away and reports whether it closed
// the connection normally. Clients never send data frames.
func (ctl *RelayWSController) readPump(ctx context.Context, c *wsRelayConn, logger *zerolog.Logger) bool {
	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	ping := ctl.PingPeriod
	if ping <= 0 {
		ping = 54 * time.Second
	}
	pongWait := ping * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Info().Msg("subscriber detached")
				return true
			}
			if ctx.Err() != nil {
				return true
			}
			logger.Warn().Err(err).Msg("readPump read error")
			return false
		}
	}
}

func recordFrom(req relay.AppendRequest) core.RelayRecord {
	return core.RelayRecord{
		SenderID: req.SenderID,
		Type:     req.Type,
		Payload:  req.Payload,
	}
}

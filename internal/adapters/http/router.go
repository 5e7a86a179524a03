package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/peercall/internal/adapters/relay"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("ct").(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set("ct", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter exposes the relay hub over REST and websocket.
//   - GET    /api/relay/:key     snapshot (exists + records)
//   - POST   /api/relay/:key     append a record
//   - DELETE /api/relay/:key     delete the scope
//   - GET    /api/relay/:key/ws  subscribe (replay then live)
func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub, policy app.Policy) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ws := &RelayWSController{
		Hub:        hub,
		Policy:     policy,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}

	limiter := NewAppendRateLimiter(cfg.AppendLimit, cfg.AppendInterval)

	api := r.Group("/api/relay/:key")

	api.GET("", func(c *gin.Context) {
		recs, ok := hub.Snapshot(c.Param("key"))
		c.JSON(http.StatusOK, relay.SnapshotResponse{Exists: ok, Records: recs})
	})

	api.POST("", func(c *gin.Context) {
		var req relay.AppendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		if !limiter.Allow(c.Param("key"), req.SenderID) {
			log.Warn().Str("module", "adapters.http").Str("key", c.Param("key")).Str("sender", req.SenderID).Msg("append rate limited")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		rec, err := hub.Append(c.Param("key"), recordFrom(req))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, app.ErrEmptyKey) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	api.DELETE("", func(c *gin.Context) {
		deleted := hub.Delete(c.Param("key"))
		limiter.Forget(c.Param("key"))
		log.Info().Str("module", "adapters.http").Str("key", c.Param("key")).Str("client", c.GetString("client_token")).Bool("deleted", deleted).Msg("delete scope")
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})

	api.GET("/ws", func(c *gin.Context) {
		ws.HandleSubscribe(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

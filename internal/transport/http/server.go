package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-presence/internal/config"
	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/metrics"
	"github.com/vovakirdan/wirechat-presence/internal/service/chat"
	"github.com/vovakirdan/wirechat-presence/internal/service/presence"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups what the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Presence *presence.Service
	Chat     *chat.Service
	Metrics  *metrics.Metrics
	// Health is pinged by /health; every entry must succeed.
	Health []Pinger
}

// NewServer builds the HTTP server with the REST, websocket, health and
// metrics routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter routes /ws to the websocket handler and everything else to the
// gin engine. The upgrade hijacks the raw ResponseWriter; gin's writer
// refuses a hijack after the 101 status is flushed.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	limiter := newRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, deps.Presence, deps.Chat, limiter, logger))
	mux.Handle("/", newEngine(deps, cfg, limiter, logger))
	return mux
}

func newEngine(deps Deps, cfg *config.Config, limiter *rateLimiter, logger *zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), CORSMiddleware(cfg.CORS.AllowOrigins), RequestIDMiddleware(), LoggerMiddleware(logger))

	participants := NewParticipantHandlers(deps.Presence, logger)
	messages := NewMessageHandlers(deps.Chat, logger)

	router.POST("/participants", participants.Register)
	router.GET("/participants", participants.List)
	router.POST("/status", participants.Status)

	router.POST("/messages", RateLimitMiddleware(limiter, logger), messages.Send)
	router.GET("/messages", messages.List)
	router.PUT("/messages/:id", messages.Edit)
	router.DELETE("/messages/:id", messages.Delete)

	router.GET("/health", healthHandler(deps.Health, logger))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router
}

func healthHandler(checks []Pinger, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		for _, check := range checks {
			if err := check.Ping(ctx); err != nil {
				logger.Warn().Err(err).Msg("health check failed")
				c.String(stdhttp.StatusServiceUnavailable, "unavailable")
				return
			}
		}
		c.String(stdhttp.StatusOK, "ok")
	}
}

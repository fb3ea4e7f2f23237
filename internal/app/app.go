package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-presence/internal/config"
	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/metrics"
	"github.com/vovakirdan/wirechat-presence/internal/service/chat"
	"github.com/vovakirdan/wirechat-presence/internal/service/presence"
	"github.com/vovakirdan/wirechat-presence/internal/store"
	"github.com/vovakirdan/wirechat-presence/internal/store/redis"
	"github.com/vovakirdan/wirechat-presence/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-presence/internal/transport/http"
)

// closer is a store the app owns and closes on shutdown.
type closer interface {
	Close() error
}

// App wires together stores, services and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	sweeper         *presence.Sweeper
	closers         []closer
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		closers:         []closer{st},
		log:             logger,
	}

	var participants store.ParticipantStore = st
	health := []transporthttp.Pinger{st}
	if cfg.Participants.Backend == config.BackendRedis {
		rs, err := redis.New(ctx, redis.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init redis participant store: %w", err)
		}
		participants = rs
		health = append(health, rs)
		a.closers = append(a.closers, rs)
		logger.Info().Str("redis_addr", cfg.Redis.Addr).Msg("participants stored in redis")
	}

	m := metrics.New()
	hub := core.NewHub()

	presenceSvc := presence.NewService(participants, st, hub, m, logger)
	chatSvc := chat.NewService(participants, st, hub, m, logger)

	a.hub = hub
	a.sweeper = presence.NewSweeper(presence.SweeperConfig{
		ExpiryWindow:    cfg.Presence.ExpiryWindow,
		Interval:        cfg.Presence.SweepInterval,
		RemoveTimeout:   cfg.Presence.RemoveTimeout,
		AnnounceTimeout: cfg.Presence.AnnounceTimeout,
	}, participants, st, hub, m, logger)
	a.server = transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Presence: presenceSvc,
		Chat:     chatSvc,
		Metrics:  m,
		Health:   health,
	}, cfg, logger)

	return a, nil
}

// Run starts the hub, the sweeper and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.sweeper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// cleanup closes stores in reverse order of creation.
func (a *App) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		}
	}
	a.closers = nil
	a.log.Info().Msg("stores closed")
}

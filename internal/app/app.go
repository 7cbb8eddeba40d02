package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/auth"
	"github.com/dwellchat/dwellchat-server/internal/bridge/redispubsub"
	"github.com/dwellchat/dwellchat-server/internal/config"
	"github.com/dwellchat/dwellchat-server/internal/core"
	"github.com/dwellchat/dwellchat-server/internal/store"
	"github.com/dwellchat/dwellchat-server/internal/store/sqlite"
	transporthttp "github.com/dwellchat/dwellchat-server/internal/transport/http"
)

// App wires together storage, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	bridge          *redispubsub.Bridge
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	verifier := auth.NewJWTVerifier(&auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	})

	hub := core.NewHub(st, logger, cfg.PersistTimeout)

	var bridge *redispubsub.Bridge
	if cfg.RedisURL != "" {
		bridge, err = redispubsub.New(cfg.RedisURL, hub.Rooms(), logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init bridge: %w", err)
		}
		hub.Rooms().SetBridge(bridge)
		logger.Info().Msg("redis bridge enabled")
	}

	server := transporthttp.NewServer(hub, st, verifier, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		bridge:          bridge,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("bridge stopped")
			}
		}()
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the bridge, the store and other resources.
func (a *App) cleanup() {
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close bridge")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

// Package app wires the stores, services and transport together.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomcast/internal/auth"
	"github.com/vovakirdan/roomcast/internal/chat"
	"github.com/vovakirdan/roomcast/internal/config"
	"github.com/vovakirdan/roomcast/internal/identity"
	"github.com/vovakirdan/roomcast/internal/realtime"
	"github.com/vovakirdan/roomcast/internal/session"
	"github.com/vovakirdan/roomcast/internal/store"
	"github.com/vovakirdan/roomcast/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomcast/internal/transport/http"
)

// App holds the running application and its resources.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	pubsub          realtime.Service
	redis           *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	pubsub, err := newPubSub(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anonStorage, redisClient, err := newAnonStorage(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig, logger)
	resolver := identity.NewResolver(st, logger)
	chatService := chat.NewService(st, resolver, pubsub, cfg.HistoryLimit, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Auth:        authService,
		Chat:        chatService,
		Store:       st,
		PubSub:      pubsub,
		Resolver:    resolver,
		AnonStorage: anonStorage,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		pubsub:          pubsub,
		redis:           redisClient,
		log:             logger,
	}, nil
}

// newAnonStorage builds the durable anonymous identity storage factory. The
// client id comes from the wire, so anything beyond a simple token is
// rejected rather than turned into a path or key.
func newAnonStorage(cfg *config.Config, logger *zerolog.Logger) (func(string) session.Storage, *redis.Client, error) {
	switch cfg.AnonStoreDriver {
	case "", "file":
		if err := os.MkdirAll(cfg.AnonStorePath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create anon store dir: %w", err)
		}
		logger.Info().Str("path", cfg.AnonStorePath).Msg("using file anon storage")
		return func(clientID string) session.Storage {
			if !validClientID(clientID) {
				return nil
			}
			return session.NewFileStorage(filepath.Join(cfg.AnonStorePath, clientID+".json"))
		}, nil, nil
	case "redis":
		client, err := session.NewRedisClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis anon storage")
		return func(clientID string) session.Storage {
			if !validClientID(clientID) {
				return nil
			}
			return session.NewRedisStorage(client, clientID)
		}, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown anon store driver %q", cfg.AnonStoreDriver)
	}
}

func validClientID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// newPubSub selects the topic service backing from configuration.
func newPubSub(cfg *config.Config, logger *zerolog.Logger) (realtime.Service, error) {
	switch cfg.PubSubDriver {
	case "", "memory":
		logger.Info().Msg("using in-process pub/sub")
		return realtime.NewBroker(logger), nil
	case "nats":
		logger.Info().Str("url", cfg.NATSURL).Msg("using nats pub/sub")
		return realtime.NewNATSService(cfg.NATSURL, logger)
	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", cfg.PubSubDriver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

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

// cleanup closes the store, the pub/sub connection and the redis client.
func (a *App) cleanup() {
	if closer, ok := a.pubsub.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close pub/sub")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
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

// Package app assembles a runnable resource API from configuration: the
// declared keepers, the manager, the HTTP routes and the event sinks.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/config"
	"github.com/conduit-lang/resourcekit/internal/declare"
	"github.com/conduit-lang/resourcekit/internal/eventsink"
	"github.com/conduit-lang/resourcekit/internal/eventsink/redis"
	"github.com/conduit-lang/resourcekit/internal/eventsink/stream"
	"github.com/conduit-lang/resourcekit/internal/keeper/sqlkeeper"
	"github.com/conduit-lang/resourcekit/internal/web/handler"
	"github.com/conduit-lang/resourcekit/internal/web/middleware"
	"github.com/conduit-lang/resourcekit/internal/web/server"
	"github.com/conduit-lang/resourcekit/pkg/manager"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// Paths served outside the API prefix
const (
	HealthPath = "/health"
	EventsPath = "/events"
)

// App is an assembled resource API
type App struct {
	Config  *config.Config
	Manager *manager.Manager
	// Handler serves the API, the health check and the event stream
	Handler http.Handler

	logger    *zap.Logger
	db        *sql.DB
	publisher *redis.Publisher
	hub       *stream.Hub
}

// New builds the application described by cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := declare.Load(cfg.Resources.File)
	if err != nil {
		return nil, err
	}

	conv := query.NewConverter(query.ConverterConfig{
		Domain: cfg.Server.Domain,
		Prefix: cfg.Server.APIPrefix,
	})
	m := manager.New(manager.Options{
		Pages:  conv.Pages(),
		Logger: logger.Named("manager"),
	})

	a := &App{Config: cfg, Manager: m, logger: logger}

	keepers, err := a.keepers(ctx, file)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := m.Register(keepers...); err != nil {
		a.Close()
		return nil, err
	}
	if err := m.Init(); err != nil {
		a.Close()
		return nil, err
	}

	h := handler.New(m, conv, handler.Options{Logger: logger.Named("http")})
	encoder := eventsink.NewEncoder(h.Formatter())

	if cfg.Events.Redis.Addr != "" {
		a.publisher, err = redis.New(redis.Config{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		}, encoder, redis.Options{
			Prefix: cfg.Events.Redis.ChannelPrefix,
			Logger: logger.Named("redis"),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher.Attach(m.Bus())
	}

	if cfg.Events.Stream {
		a.hub = stream.NewHub(encoder, stream.Options{Logger: logger.Named("stream")})
		go a.hub.Run()
		a.hub.Attach(m.Bus())
	}

	a.Handler = a.routes(h)
	return a, nil
}

func (a *App) keepers(ctx context.Context, file *declare.File) ([]resource.Keeper, error) {
	storage := a.Config.Storage
	if storage.Driver == config.DriverMemory {
		return memoryKeepers(file, a.logger.Named("memory"))
	}

	db, dialect, err := sqlkeeper.Open(storage.Driver, storage.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := server.ConfigureDatabasePool(ctx, db, server.DefaultDatabaseConfig()); err != nil {
		return nil, err
	}
	a.logger.Info("connected to database", zap.String("driver", storage.Driver), zap.Stringer("dialect", dialect))
	return sqlKeepers(ctx, db, dialect, file, a.logger.Named("sql"))
}

func (a *App) routes(h *handler.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(nil),
		middleware.Logging(a.logger.Named("access"), HealthPath, EventsPath),
		middleware.Recovery(a.logger),
		chimw.Compress(5, "application/json", "application/vnd.api+json"),
	)

	r.Get(HealthPath, a.health)
	if a.hub != nil {
		r.Handle(EventsPath, a.hub)
	}

	prefix := a.Config.Server.APIPrefix
	if prefix == "" {
		prefix = "/"
	}
	r.Mount(prefix, h.Routes())
	return r
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "unavailable", "error": err.Error()}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("failed to write health response", zap.Error(err))
	}
}

// Close stops the event sinks and closes the database
func (a *App) Close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis publisher: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs the application until ctx is cancelled or a shutdown signal
// arrives, then drains requests and closes the application.
func (a *App) Serve(ctx context.Context) error {
	cfg := server.DefaultConfig(a.Config.Server.Addr(), a.Handler)
	cfg.Logger = a.logger.Named("server")
	// the event stream keeps connections open
	if a.hub != nil {
		cfg.WriteTimeout = 0
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	gs := server.NewGracefulShutdown(srv, server.DefaultShutdownConfig())
	gs.RegisterHook(func(context.Context) error { return a.Close() })
	return gs.Run(ctx)
}

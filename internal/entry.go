// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/rewind/internal/api"
	"github.com/starford/rewind/internal/bus"
	"github.com/starford/rewind/internal/fileops"
	"github.com/starford/rewind/internal/history"
	"github.com/starford/rewind/internal/jobs"
	"github.com/starford/rewind/internal/mcpserver"
	"github.com/starford/rewind/internal/sse"
	"github.com/starford/rewind/internal/undo"
)

// runtime holds the components shared by the HTTP and MCP front ends.
type runtime struct {
	logger  *slog.Logger
	store   *history.Store
	spool   *bus.Spool
	manager *undo.Manager
	ops     *fileops.Service
}

func (rt *runtime) close() {
	rt.manager.Close()
	<-rt.manager.Stopped()
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("history close error", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup builds the job engine, history store, optional spool bus and the undo
// manager. onSignal may be nil.
func setup(cfg *Config, logger *slog.Logger, onSignal func(undo.Signal)) (*runtime, error) {
	engine, err := jobs.NewLocal(cfg.Jobs.Root, cfg.Jobs.TrashDir, logger)
	if err != nil {
		return nil, fmt.Errorf("init jobs: %w", err)
	}

	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}

	managerOpts := []undo.Option{
		undo.WithLogger(logger),
		undo.WithHistory(store),
	}
	if onSignal != nil {
		managerOpts = append(managerOpts, undo.WithSignalHandler(onSignal))
	}

	rt := &runtime{logger: logger, store: store}
	if cfg.Sync.Enabled {
		rt.spool, err = bus.NewSpool(cfg.Sync.SpoolDir, cfg.Sync.Retention, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("init spool: %w", err)
		}
		managerOpts = append(managerOpts, undo.WithBus(rt.spool))
	}

	rt.manager, err = undo.New(engine, managerOpts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init undo manager: %w", err)
	}
	rt.ops = fileops.NewService(engine, rt.manager, logger)
	return rt, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("history_path", cfg.History.Path),
		slog.String("jobs_root", cfg.Jobs.Root),
		slog.Bool("sync", cfg.Sync.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(cfg, logger, broker.PublishSignal)
	if err != nil {
		return err
	}
	defer rt.close()

	apiRouter := api.NewRouter(rt.manager, rt.ops, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, broker.WebSocketHandler(logger))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		select {
		case <-rt.manager.Stopped():
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"stopped"}`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Deliver history changes from other processes.
	if rt.spool != nil {
		g.Go(func() error {
			return rt.spool.Run(gCtx)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the spool watcher when shutdown came from a signal.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	rt, err := setup(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	g, gCtx := errgroup.WithContext(ctx)
	if rt.spool != nil {
		g.Go(func() error {
			return rt.spool.Run(gCtx)
		})
	}
	g.Go(func() error {
		if err := mcpserver.New(rt.manager, rt.ops).ServeStdio(); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// OpenHistory opens the configured history database for offline inspection.
func OpenHistory(opts ...Option) (*history.Store, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	return history.Open(app.config.History.Path, logger)
}

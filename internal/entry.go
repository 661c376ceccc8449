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

	"github.com/starford/funnelsim/internal/api"
	"github.com/starford/funnelsim/internal/blocks"
	"github.com/starford/funnelsim/internal/export"
	"github.com/starford/funnelsim/internal/funnelservice"
	"github.com/starford/funnelsim/internal/importer"
	"github.com/starford/funnelsim/internal/mcpserver"
	"github.com/starford/funnelsim/internal/repo"
	"github.com/starford/funnelsim/internal/session"
	"github.com/starford/funnelsim/internal/sse"
	"github.com/starford/funnelsim/internal/storage"
)

// core holds the components shared by the HTTP and MCP entry points.
type core struct {
	logger  *slog.Logger
	store   *storage.FS
	repo    repo.Funnels
	svc     *funnelservice.Service
	exports *export.Writer
}

func (c *core) Close() {
	if err := c.repo.Close(); err != nil {
		c.logger.Warn("close repository", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func buildCore(ctx context.Context, cfg *Config, logger *slog.Logger, notifier funnelservice.Notifier) (*core, error) {
	// Ensure workspace directory exists.
	if err := os.MkdirAll(cfg.Workspace.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := repo.Open(ctx, cfg.Database.Driver, cfg.Database.Source())
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	svcOpts := []funnelservice.Option{funnelservice.WithLogger(logger)}
	if notifier != nil {
		svcOpts = append(svcOpts, funnelservice.WithNotifier(notifier))
	}

	return &core{
		logger:  logger,
		store:   store,
		repo:    db,
		svc:     funnelservice.NewService(db, blocks.Default(), svcOpts...),
		exports: export.NewWriter(store),
	}, nil
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(app.logOutput, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(cfg.Editor.EventThrottle)
	defer broker.Close()

	c, err := buildCore(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer c.Close()

	sessions := session.NewManager(c.svc.Registry(),
		session.WithLogger(logger),
		session.WithPublisher(broker),
		session.WithHistoryLimit(cfg.Editor.HistoryLimit),
		session.WithMaxUploadBytes(cfg.Editor.MaxUploadBytes),
		session.WithTTL(cfg.Editor.SessionTTL),
	)

	apiRouter := api.NewRouter(api.Deps{
		Funnels:        c.svc,
		Sessions:       sessions,
		Exports:        c.exports,
		Events:         broker,
		AuthEnabled:    cfg.Auth.AuthEnabled(),
		Token:          cfg.Auth.Token,
		MaxUploadBytes: cfg.Editor.MaxUploadBytes,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Probes are also served at the root for orchestrators.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Reap idle editor sessions.
	g.Go(func() error {
		return sessions.Run(gCtx)
	})

	// Watch the imports drop folder with SSE callback.
	if cfg.Workspace.WatchImports {
		imp := importer.New(c.svc, c.store, logger, broker.PublishImportEvent)
		g.Go(func() error {
			if err := imp.Watch(gCtx); err != nil {
				logger.Warn("import watcher stopped", slog.String("error", err.Error()))
			}
			return nil
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

		// SSE streams never end on their own; close them before draining.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the session reaper and watcher exit
// once the HTTP server is down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the funnel tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(app.logOutput, cfg.App.LogLevel)

	c, err := buildCore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Info("MCP server starting", slog.String("workspace_path", cfg.Workspace.Path))
	if err := mcpserver.New(c.svc, c.exports).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/talkdrop/internal/api"
	"github.com/starford/talkdrop/internal/index"
	"github.com/starford/talkdrop/internal/mcpserver"
	"github.com/starford/talkdrop/internal/schedule"
	"github.com/starford/talkdrop/internal/sse"
	"github.com/starford/talkdrop/internal/storage"
	"github.com/starford/talkdrop/internal/talks"
	"github.com/starford/talkdrop/internal/talkservice"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the JSON logger. console receives every record; the
// rotating log file, when configured, receives a copy.
func newLogger(cfg *Config, console io.Writer) (*slog.Logger, func()) {
	w, closeFn := console, func() {}
	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		w = io.MultiWriter(console, rotated)
		closeFn = func() { _ = rotated.Close() }
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	return logger, closeFn
}

// newEngine creates the storage root and the talk engine.
func newEngine(cfg *Config, logger *slog.Logger, hooks talks.Config) (*talks.Engine, storage.Provider, error) {
	sources, err := schedule.ParseSources(cfg.Schedule.URLs)
	if err != nil {
		return nil, nil, fmt.Errorf("parse schedule sources: %w", err)
	}

	store, err := storage.NewFS(cfg.Files.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	hooks.Sources = sources
	hooks.Fetch = schedule.Options{
		UserAgent: cfg.Schedule.UserAgent,
		CacheDir:  cfg.Schedule.CacheDir,
		Timeout:   time.Minute,
	}
	hooks.RemoteInterval = cfg.Schedule.RemoteUpdateInterval
	hooks.LocalDebounce = cfg.Schedule.LocalDebounce
	hooks.HashWorkers = cfg.Files.HashWorkers

	engine, err := talks.NewEngine(hooks, store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init talks: %w", err)
	}
	return engine, store, nil
}

// fileEvent maps an index change to a feed event. Directory changes and
// paths outside a talk directory are not published.
func fileEvent(root string, c index.Change) (sse.FileEvent, bool) {
	switch c.Kind {
	case index.FileAdded, index.FileChanged, index.FileRemoved:
	default:
		return sse.FileEvent{}, false
	}
	rel, err := filepath.Rel(root, c.Path)
	if err != nil {
		return sse.FileEvent{}, false
	}
	rel = filepath.ToSlash(rel)
	talk, name, ok := strings.Cut(rel, "/")
	if !ok || talk == ".." {
		return sse.FileEvent{}, false
	}
	return sse.FileEvent{Kind: string(c.Kind), Talk: talk, Path: name}, true
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog := newLogger(cfg, os.Stdout)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("event", cfg.Event.Name),
		slog.String("files_root", cfg.Files.Root),
		slog.String("schedule_urls", strings.Join(cfg.Schedule.URLs, ",")),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	var root string
	engine, store, err := newEngine(cfg, logger, talks.Config{
		OnFileChange: func(c index.Change) {
			if ev, ok := fileEvent(root, c); ok {
				broker.PublishFileEvent(ev)
			}
		},
		OnScheduleUpdate: func(u talks.Update) {
			broker.PublishScheduleEvent(sse.ScheduleEvent{Version: u.Version, Talks: u.Talks})
		},
	})
	if err != nil {
		return err
	}
	root = store.Root()

	if err := os.MkdirAll(cfg.Files.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	svc := talkservice.NewService(engine.Store)
	apiRouter := api.NewRouter(svc, api.Options{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		UploadDir:   cfg.Files.UploadDir,
		Events:      broker,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// The engine stops only on cancellation or a fatal watch error.
	g.Go(func() error {
		return engine.Run(gCtx)
	})

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

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they do
// not corrupt the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()
	slog.SetDefault(logger)

	engine, _, err := newEngine(cfg, logger, talks.Config{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gCtx)
	})
	g.Go(func() error {
		// ServeStdio returns when stdin closes or on SIGINT/SIGTERM.
		defer cancel()
		return mcpserver.New(talkservice.NewService(engine.Store), app.version).ServeStdio()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("MCP server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// FindOrphans prints the top-level directories under the files root that
// belong to no talk of the current schedule.
func FindOrphans(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()

	engine, store, err := newEngine(cfg, logger, talks.Config{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	var runErr error
	go func() {
		defer close(stopped)
		runErr = engine.Run(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Minute)
	defer waitCancel()
	if err := awaitReady(waitCtx, engine.WaitReady, stopped, func() error { return runErr }); err != nil {
		return err
	}
	// Without talks every directory would be reported.
	if engine.Store.Len() == 0 {
		return fmt.Errorf("no talks loaded from the schedule")
	}

	orphans, err := engine.Orphans(ctx)
	if err != nil {
		return err
	}
	for _, name := range orphans {
		if _, err := fmt.Fprintln(app.out, filepath.Join(store.Root(), name)); err != nil {
			return err
		}
	}
	logger.Info("orphans: done", slog.Int("count", len(orphans)))
	return nil
}

// awaitReady waits for ready to return, or for the engine to stop first,
// in which case runErr reports why. runErr is only read after stopped is
// closed.
func awaitReady(ctx context.Context, ready func(context.Context) error, stopped <-chan struct{}, runErr func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := make(chan error, 1)
	go func() { res <- ready(ctx) }()

	select {
	case err := <-res:
		if err != nil {
			return fmt.Errorf("wait for talks: %w", err)
		}
		return nil
	case <-stopped:
		if err := runErr(); err != nil {
			return fmt.Errorf("talks engine: %w", err)
		}
		return errors.New("talks engine stopped before it was ready")
	}
}

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	configloader "github.com/foxseedlab/mimitori/external/config"
	transcodeimpl "github.com/foxseedlab/mimitori/external/transcode"
	transcriberimpl "github.com/foxseedlab/mimitori/external/transcriber"
	"github.com/foxseedlab/mimitori/external/web"
	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/session"
	"github.com/foxseedlab/mimitori/internal/upload"
	"github.com/samber/do/v2"
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "provider", cfg.TranscriberProvider)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching gateway")
	runServer(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	// An unusable backend shuts the process down.
	do.ProvideValue(injector, web.EngineFatalFunc(func(err error) {
		slog.Error("transcription backend unusable; shutting down", "error", err)
		p, findErr := os.FindProcess(os.Getpid())
		if findErr != nil {
			os.Exit(1)
		}
		_ = p.Signal(syscall.SIGTERM)
	}))

	metrics.RegisterDI(injector)
	session.RegisterDI(injector)
	transcodeimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	upload.RegisterDI(injector)
	web.RegisterDI(injector)

	return injector
}

func runServer(injector do.Injector) {
	server, err := do.Invoke[*web.Server](injector)
	if err != nil {
		slog.Error("failed to resolve http server", "error", err)
		os.Exit(1)
	}
	registry, err := do.Invoke[*session.Registry](injector)
	if err != nil {
		slog.Error("failed to resolve session registry", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		if err := server.Run(); err != nil {
			slog.Error("http server failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down", "live_sessions", registry.Count())
	case <-done:
	}

	registry.Broadcast(session.NewShutdownMessage())
	if err := server.Shutdown(); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
}

// Command voxassist is the main entry point for the VoxAssist server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/events"
	"github.com/MrWong99/voxassist/internal/health"
	"github.com/MrWong99/voxassist/internal/knowledge"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/server"
	"github.com/MrWong99/voxassist/internal/session"
	"github.com/MrWong99/voxassist/pkg/provider/llm/ollama"
	openaistt "github.com/MrWong99/voxassist/pkg/provider/stt/openai"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional, env vars apply on top)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxassist: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.Slog(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxassist starting",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"ollama_model", cfg.Ollama.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxassist",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Core services ─────────────────────────────────────────────────────────
	know, err := knowledge.NewService(cfg.Knowledge.WorkspacesDir, logger)
	if err != nil {
		slog.Error("failed to open workspaces dir", "dir", cfg.Knowledge.WorkspacesDir, "err", err)
		return 1
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	manager := session.NewManager(logger)
	defer manager.Shutdown()

	recorder := observe.NewRecorder(bus, nil)
	recorder.Start()
	defer recorder.Stop()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttProv := openaistt.New(cfg.OpenAI.APIKey)
	llmProv := ollama.New(
		ollama.WithBaseURL(cfg.Ollama.BaseURL),
		ollama.WithModel(cfg.Ollama.Model),
	)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	srv := server.New(cfg, bus, manager, know, sttProv, llmProv, nil, logger)

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	health.New(version,
		health.Checker{Name: "ollama", Check: llmProv.Ping},
		health.Checker{Name: "workspaces", Check: func(context.Context) error {
			_, err := os.Stat(cfg.Knowledge.WorkspacesDir)
			return err
		}},
	).Register(mux)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			slog.Info("metrics listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var errs []error
		if metricsSrv != nil {
			errs = append(errs, metricsSrv.Shutdown(shutdownCtx))
		}
		errs = append(errs, httpSrv.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

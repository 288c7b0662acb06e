// ttsyard serves a Kokoro text-to-speech model through an OpenAI-compatible
// HTTP API.
//
// Usage:
//
//	ttsyard [flags]
//	ttsyard --config /path/to/ttsyard.yaml
//
//	@title			ttsyard API
//	@version		1.0
//	@description	OpenAI-compatible text-to-speech service for the Kokoro model family.
//	@BasePath		/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nadzzz/ttsyard/internal/codec"
	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/health"
	"github.com/nadzzz/ttsyard/internal/pipeline"
	"github.com/nadzzz/ttsyard/internal/pipeline/mock"
	"github.com/nadzzz/ttsyard/internal/pipeline/remote"
	"github.com/nadzzz/ttsyard/internal/pipeline/worker"
	"github.com/nadzzz/ttsyard/internal/pipeline/wyoming"
	"github.com/nadzzz/ttsyard/internal/speech"
	"github.com/nadzzz/ttsyard/internal/transport"
	grpctransport "github.com/nadzzz/ttsyard/internal/transport/grpc"
	httptransport "github.com/nadzzz/ttsyard/internal/transport/http"
	"github.com/nadzzz/ttsyard/internal/voices"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/ttsyard.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ttsyard %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("ttsyard starting", "version", version, "model", cfg.Model.ID)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the pipeline backend.
	load, err := newLoader(cfg.Pipeline)
	if err != nil {
		slog.Error("invalid pipeline backend", "error", err)
		os.Exit(1)
	}
	registry := voices.NewRegistry(cfg.Voices)
	manager := pipeline.NewManager(load, registry, cfg.Model.DefaultLang)
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Error("closing pipeline", "error", err)
		}
	}()

	// Load the default-language pipeline up front. A failure is logged and
	// the server still starts; the next request retries the load.
	if cfg.Model.Preload {
		if err := manager.EnsureLoaded(ctx, cfg.Model.DefaultLang); err != nil {
			slog.Error("failed to preload pipeline", "lang_code", cfg.Model.DefaultLang, "error", err)
		}
	}

	converter := codec.NewConverter(codec.FFmpeg{Path: cfg.Encoder.FFmpegPath}, cfg.Encoder.TempDir)
	svc := speech.New(manager, registry, converter, speech.Options{
		Model:        cfg.Model.ID,
		DefaultVoice: cfg.Model.DefaultVoice,
		DefaultLang:  cfg.Model.DefaultLang,
		Timeout:      cfg.Pipeline.Timeout,
	})

	// Initialize enabled transports.
	transports := []transport.Transport{
		httptransport.New(cfg.Server, svc, manager),
	}
	if cfg.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.GRPC.Port, manager.Ready))
	}

	// Start health check server.
	if cfg.Server.HealthPort > 0 {
		healthServer := health.New(cfg.Server.HealthPort, manager)
		go func() {
			if err := healthServer.ListenAndServe(ctx); err != nil {
				slog.Error("health server failed", "error", err)
			}
		}()
	}

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
				cancel()
			}
		}(t)
	}

	slog.Info("ttsyard ready",
		"addr", cfg.Server.Addr(),
		"backend", cfg.Pipeline.Backend,
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("ttsyard stopped")
}

func newLoader(cfg config.PipelineConfig) (pipeline.Loader, error) {
	switch cfg.Backend {
	case "worker":
		slog.Info("using model worker", "command", cfg.Worker.Command)
		return worker.NewLoader(cfg.Worker), nil
	case "wyoming":
		slog.Info("using wyoming server", "endpoint", cfg.Wyoming.Endpoint, "per_language", len(cfg.Wyoming.Endpoints))
		return wyoming.NewLoader(cfg.Wyoming), nil
	case "remote":
		slog.Info("using remote speech server", "base_url", cfg.Remote.BaseURL, "model", cfg.Remote.Model)
		return remote.NewLoader(cfg.Remote), nil
	case "mock":
		slog.Warn("using mock pipeline, output is a test tone")
		return mock.Load, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

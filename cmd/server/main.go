// Package main is the entry point for the tokenization gateway binary. It
// dispatches two subcommands — serve and version — via a simple switch on
// os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/api"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/bundle"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/config"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		configPath := os.Getenv("CONFIG_PATH")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cfg, configPath)
	case "version":
		fmt.Printf("Climate Tokenization Engine v%s\n", api.Version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	// Initialise structured logger as early as possible so all subsequent log
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Seed the runtime identity from configuration. A previously connected
	// home org comes back from the config file, so the admission gate is
	// already open after a restart.
	store := identity.NewStore(identity.Identity{
		HomeOrg:      cfg.HomeOrg.OrgUID,
		RegistryHost: cfg.Registry.Host,
		DriverHost:   cfg.Driver.Host,
	}, func(id identity.Identity) error {
		return config.SaveHomeOrg(configPath, id.HomeOrg)
	})

	if cfg.HomeOrg.OrgUID != "" {
		slog.Info("home organization restored from configuration", "orgUid", cfg.HomeOrg.OrgUID)
	} else {
		slog.Info("no home organization connected yet; gated routes return 400 until POST /connect succeeds")
	}
	slog.Info("upstream services configured",
		"registry", cfg.Registry.Host,
		"driver", cfg.Driver.Host,
	)

	// Start Prometheus metrics endpoint on a dedicated port so it is not
	// reachable through the public gateway ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices := api.NewRouter(cfg, store, bundle.NewPasswordUnlocker())

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("starting gateway", "addr", cfg.Server.GetAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway")

	// Graceful shutdown with timeout. Requests drain first, then background
	// work (in-flight tokenization runs, rate limiter cleanup) is stopped.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown(ctx)

	slog.Info("gateway stopped gracefully")
	return nil
}

// Package api wires together all HTTP routes for the tokenization gateway.
//
// Route grouping philosophy:
//   - /health, /ready, /version and POST /connect are always reachable: a
//     fresh install has no home organization yet and /connect is the only way
//     to establish one.
//   - Everything else (the proxied registry listings, /tokenize, /detokenize)
//     sits behind the admission gate and returns 400 until /connect succeeds.
//
// The Prometheus /metrics endpoint is not registered here at all; it is
// served on a dedicated side-channel port by cmd/server so scrapes bypass the
// public ingress and its rate limiting.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahwei/Climate-Tokenization-Engine/internal/bundle"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/config"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/driver"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/identity"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/middleware"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/proxy"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/registry"
	"github.com/ahwei/Climate-Tokenization-Engine/internal/workflow"
)

// Version is the gateway release version reported by /version.
const Version = "1.3.2"

// BackgroundServices holds references to background work that must be stopped
// during graceful shutdown. The caller (cmd/server) is responsible for calling
// Shutdown once the HTTP server has drained.
type BackgroundServices struct {
	orchestrator *workflow.Orchestrator
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops background goroutines and waits, bounded by ctx, for
// in-flight tokenization runs to finish.
func (bg *BackgroundServices) Shutdown(ctx context.Context) {
	slog.Info("stopping background services")
	if bg.orchestrator != nil {
		if err := bg.orchestrator.Shutdown(ctx); err != nil {
			slog.Warn("orchestrator shutdown incomplete", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, store *identity.Store, unlocker bundle.Unlocker) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	id := store.Get()
	registryClient := registry.NewClient(id.RegistryHost)
	driverClient := driver.NewClient(id.DriverHost)

	orchestrator := workflow.NewOrchestrator(
		driverClient,
		registryClient,
		cfg.Tokenization.PollInterval,
		cfg.Tokenization.PollAttempts,
	)

	bg := &BackgroundServices{orchestrator: orchestrator}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	if cfg.Security.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
			CleanupInterval:   5 * time.Minute,
		})
		bg.rateLimiters = append(bg.rateLimiters, limiter)
		router.Use(middleware.RateLimitMiddleware(limiter))
	}

	// Ungated system endpoints
	router.GET("/health", healthHandler())
	router.GET("/ready", readinessHandler(store))
	router.GET("/version", versionHandler())

	// The handshake must stay reachable while disconnected; it is the only
	// route that can open the admission gate.
	router.POST("/connect", NewConnectHandler(store).Connect)

	// Everything below requires a connected home organization.
	gated := router.Group("", middleware.AdmissionGate(store))
	gated.POST("/tokenize", NewTokenizeHandler(orchestrator).Tokenize)
	gated.POST("/detokenize", NewDetokenizeHandler(store, unlocker).Detokenize)

	proxyHandler := proxy.NewHandler(store)
	for _, route := range proxy.Routes() {
		// Registry proxying is verb-agnostic; the upstream decides what a
		// given method means.
		gated.Any(route.PathPrefix, proxyHandler.Proxy(route))
		gated.Any(route.PathPrefix+"/*rest", proxyHandler.Proxy(route))
	}

	return router, bg
}

// healthHandler returns the liveness status of the gateway process.
func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the gateway can do useful work: both
// upstream collaborators must be reachable. Any HTTP response counts as
// reachable; only transport failures mark a check unhealthy, since a 404 from
// an upstream root path still proves connectivity.
func readinessHandler(store *identity.Store) gin.HandlerFunc {
	probe := &http.Client{Timeout: 5 * time.Second}

	reachable := func(ctx context.Context, baseURL string) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return false
		}
		resp, err := probe.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}

	return func(c *gin.Context) {
		id := store.Get()
		checks := gin.H{"registry": "healthy", "driver": "healthy"}
		ready := true

		if !reachable(c.Request.Context(), id.RegistryHost) {
			checks["registry"] = "unhealthy"
			ready = false
		}
		if !reachable(c.Request.Context(), id.DriverHost) {
			checks["driver"] = "unhealthy"
			ready = false
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "upstream service not reachable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":     true,
			"checks":    checks,
			"connected": id.Connected(),
			"time":      time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the gateway version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/duyanhpham/chat-service/internal/v1/api"
	"github.com/duyanhpham/chat-service/internal/v1/auth"
	"github.com/duyanhpham/chat-service/internal/v1/bus"
	"github.com/duyanhpham/chat-service/internal/v1/cache"
	"github.com/duyanhpham/chat-service/internal/v1/config"
	"github.com/duyanhpham/chat-service/internal/v1/health"
	"github.com/duyanhpham/chat-service/internal/v1/hub"
	"github.com/duyanhpham/chat-service/internal/v1/logging"
	"github.com/duyanhpham/chat-service/internal/v1/ratelimit"
	"github.com/duyanhpham/chat-service/internal/v1/session"
	"github.com/duyanhpham/chat-service/internal/v1/store"
	"github.com/duyanhpham/chat-service/internal/v1/tracing"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.ServiceName, cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	// --- Tracing (Optional) ---
	// A failed collector connection degrades to running untraced rather
	// than blocking boot.
	var tracerProvider interface {
		Shutdown(ctx context.Context) error
	}
	tracingEnabled := false
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.Init(context.Background(), cfg.ServiceName, version, cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing untraced", "error", err)
		} else {
			slog.Info("✅ Tracing initialized", "endpoint", cfg.OTLPEndpoint)
			tracerProvider = tp
			tracingEnabled = true
		}
	}

	// --- Postgres ---
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	repo, err := store.New(bootCtx, cfg.DatabaseURL)
	cancelBoot()
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Database pool initialized")

	// --- Redis Bus ---
	// The bus is the cross-instance fan-out path; the service cannot do its
	// job without it, so a missing Redis is a boot failure.
	busService, err := bus.NewService(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Redis pub/sub initialized", "url", cfg.RedisURL)

	// The cache and the upgrade limiter share the bus's command connection
	// pool; only the bridge holds a dedicated subscriber connection.
	cacheStore := cache.NewFromClient(busService.Client())

	// --- Hub ---
	chatHub := hub.New(busService, cacheStore)
	hubCtx, stopHub := context.WithCancel(context.Background())
	var hubDone sync.WaitGroup
	hubDone.Add(1)
	go func() {
		defer hubDone.Done()
		chatHub.Run(hubCtx)
	}()

	// --- Bus Bridge ---
	bridge, err := bus.NewBridge(cfg.RedisURL, chatHub)
	if err != nil {
		slog.Error("Failed to connect bus subscriber", "error", err)
		os.Exit(1)
	}
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	var bridgeDone sync.WaitGroup
	bridgeDone.Add(1)
	go func() {
		defer bridgeDone.Done()
		bridge.Run(bridgeCtx)
	}()

	// --- HTTP Surface ---
	verifier := auth.NewVerifier(cfg.JWTSecret)

	upgradeLimiter, err := ratelimit.NewUpgradeLimiter(busService.Client(), ratelimit.DefaultUpgradeRate)
	if err != nil {
		slog.Error("Failed to build upgrade limiter", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(repo, busService),
		Gateway:        session.NewGateway(chatHub, repo, busService, verifier, cfg.AllowedOrigins),
		Health:         health.NewHandler(repo, busService, chatHub, cfg.ServiceName, version),
		Verifier:       verifier,
		APIKeys:        cfg.AuthAPIKeys,
		HTTPLimiter:    ratelimit.NewHTTPLimiter(cacheStore, verifier, ratelimit.DefaultHTTPCapacity, ratelimit.DefaultHTTPRefillRate),
		UpgradeLimiter: upgradeLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		ServiceName:    cfg.ServiceName,
		Tracing:        tracingEnabled,
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("API server starting", "addr", cfg.Addr(), "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// The context is used to inform the server it has 30 seconds to finish
	// the requests it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting HTTP traffic first. Websockets are hijacked
	// connections, so the hub closes those itself below.
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Stop the bridge so no more bus traffic reaches local sessions.
	stopBridge()
	if err := bridge.Close(); err != nil {
		slog.Error("Failed to close bus subscriber:", "error", err)
	}
	bridgeDone.Wait()

	// Drain the hub: closes every session socket and flushes pending
	// publishes.
	stopHub()
	hubDone.Wait()

	if err := busService.Close(); err != nil {
		slog.Error("Failed to close Redis connection:", "error", err)
	} else {
		slog.Info("Redis connection closed")
	}

	repo.Close()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to flush tracer:", "error", err)
		}
	}

	slog.Info("Server exiting")
}

// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pairkey/pairkey/internal/config"
	"github.com/pairkey/pairkey/pkg/metrics"
	"github.com/pairkey/pairkey/pkg/pairing"
	"github.com/pairkey/pairkey/pkg/rp"
	rphttp "github.com/pairkey/pairkey/pkg/rp/http"
	"github.com/pairkey/pairkey/pkg/rp/sqlite"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/pairkey/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pairkey server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv("PAIRKEY_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Starting pairkey server",
		"config", *configPath,
		"version", version,
		"rp_id", cfg.RelyingParty.RPID,
		"storage", cfg.Storage.Backend,
		"pairing_store", cfg.Pairing.Store)

	shutdownCtx := setupSignalHandler(logger)

	identities, credentials, closeStores, err := buildStores(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStores()

	broker, closeBroker, err := buildBroker(shutdownCtx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize pairing broker", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeBroker()

	var tokens rp.TokenGenerator
	if cfg.Token.Enabled {
		generator, err := rp.NewJWTGenerator(&rp.JWTGeneratorConfig{
			Secret:    []byte(cfg.Token.Secret),
			Issuer:    cfg.Token.Issuer,
			Audience:  cfg.Token.Audience,
			ExpiresIn: cfg.Token.ExpiresIn,
		})
		if err != nil {
			logger.Error("Failed to initialize token generator", slog.Any("error", err))
			os.Exit(1)
		}
		tokens = generator
	}

	service, err := rp.NewService(rp.ServiceParams{
		Config:      &cfg.RelyingParty,
		Identities:  identities,
		Credentials: credentials,
		Broker:      broker,
		Tokens:      tokens,
	})
	if err != nil {
		logger.Error("Failed to create relying party service", slog.Any("error", err))
		os.Exit(1)
	}

	router := buildRouter(cfg, service, logger)

	if cfg.Metrics.Enabled {
		metrics.Enable()
		metrics.StartResourceCollector(shutdownCtx, 30*time.Second)
	} else {
		metrics.Disable()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	logger.Info("Server started", "addr", addr)

	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.Error("Server error", slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Error during server shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

// newLogger builds a slog logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// buildStores creates the identity and credential stores for the configured
// backend. The returned close function releases any underlying resources.
func buildStores(cfg *config.Config) (rp.IdentityStore, rp.CredentialStore, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() { _ = store.Close() }, nil
	default:
		return rp.NewMemoryIdentityStore(), rp.NewMemoryCredentialStore(), func() {}, nil
	}
}

// buildBroker creates the pairing session broker for the configured backend.
// The memory broker gets a background sweep loop tied to ctx.
func buildBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pairing.Broker, func(), error) {
	switch cfg.Pairing.Store {
	case "redis":
		broker, err := pairing.NewRedisBroker(ctx, cfg.Pairing.RedisURL, cfg.Pairing.TTL)
		if err != nil {
			return nil, nil, err
		}
		return broker, func() { _ = broker.Close() }, nil
	default:
		broker := pairing.NewMemoryBrokerWithTTL(cfg.Pairing.TTL)
		go sweepLoop(ctx, broker, cfg.Pairing.SweepInterval, logger)
		return broker, func() {}, nil
	}
}

// sweepLoop periodically reclaims expired sessions from the memory broker
// and updates the active session gauge.
func sweepLoop(ctx context.Context, broker *pairing.MemoryBroker, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reclaimed := broker.Sweep(); reclaimed > 0 {
				logger.Debug("Reclaimed expired pairing sessions", "count", reclaimed)
			}
			metrics.SetPairingSessionsActive(float64(broker.Count()))
		}
	}
}

// buildRouter assembles the chi router with middleware, the API routes, and
// the metrics endpoint.
func buildRouter(cfg *config.Config, service *rp.Service, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(metrics.HTTPMiddleware)

	handler := rphttp.NewHandler(service).WithLogger(logger)
	router.Route("/api/v1", func(r chi.Router) {
		rphttp.MountChi(r, handler)
	})

	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return router
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}

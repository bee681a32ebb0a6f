// Package main is the entry point for the flowpulse service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpulse/flowpulse/internal/api"
	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/graphstore"
	"github.com/flowpulse/flowpulse/internal/simstore"
	"github.com/flowpulse/flowpulse/internal/simulator"
	"github.com/flowpulse/flowpulse/internal/validator"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting flowpulse",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize SimStore based on configuration
	var store simstore.SimStore
	switch cfg.SimStoreType {
	case "redis":
		redisCfg := &simstore.RedisConfig{
			URL:         cfg.RedisURL,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Prefix:      "sims",
			TTL:         cfg.SimStoreTTL,
			EventMaxLen: cfg.EventMaxLen,
		}
		redisStore, err := simstore.NewRedisStore(redisCfg)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory store", "error", err)
			store = simstore.NewMemoryStore(&simstore.Config{
				EventMaxLen: cfg.EventMaxLen,
				TTL:         cfg.SimStoreTTL,
			})
		} else {
			store = redisStore
			logger.Info("using Redis simstore", slog.String("url", cfg.RedisURL))
		}
	default:
		store = simstore.NewMemoryStore(&simstore.Config{
			EventMaxLen: cfg.EventMaxLen,
			TTL:         cfg.SimStoreTTL,
		})
		logger.Info("using in-memory simstore")
	}
	defer store.Close()

	// Initialize GraphStore based on configuration
	var graphs graphstore.GraphStore
	switch cfg.GraphStoreType {
	case "redis":
		redisGraphs, err := graphstore.NewRedisStore(redisAddr(cfg.RedisURL))
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory graph store", "error", err)
			graphs = graphstore.NewMemoryStore()
		} else {
			graphs = redisGraphs
			logger.Info("using Redis graphstore")
		}
	default:
		graphs = graphstore.NewMemoryStore()
		logger.Info("using in-memory graphstore")
	}
	defer graphs.Close()

	// Initialize simulation manager
	manager := simulator.NewManager(store,
		simulator.WithLogger(logger),
		simulator.WithDefaultEdgeDuration(cfg.DefaultEdgeDuration),
		simulator.WithLoopPause(cfg.LoopPause),
	)
	defer manager.Close()

	logger.Info("simulator initialized",
		slog.Duration("default_edge_duration", cfg.DefaultEdgeDuration),
		slog.Duration("loop_pause", cfg.LoopPause),
	)

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - requests pass through unchecked
		v = nil
	}

	// Initialize API handlers
	handlers := api.NewHandlers(manager, store, graphs, v, cfg, logger)
	rateLimiter := api.NewPerIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	server := api.NewServer(handlers, api.WithRateLimiter(rateLimiter))

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// redisAddr strips the scheme from a redis:// URL for clients that take a
// bare host:port.
func redisAddr(url string) string {
	const scheme = "redis://"
	addr := url
	if len(addr) > len(scheme) && addr[:len(scheme)] == scheme {
		addr = addr[len(scheme):]
	}
	// Drop a trailing /db segment.
	for i := 0; i < len(addr); i++ {
		if addr[i] == '/' {
			return addr[:i]
		}
	}
	return addr
}

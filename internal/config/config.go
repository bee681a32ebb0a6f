// Package config provides configuration loading for the flowpulse service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the flowpulse service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Store configuration
	SimStoreType   string // "memory" or "redis"
	GraphStoreType string // "memory" or "redis"
	SimStoreTTL    time.Duration
	EventMaxLen    int64

	// Simulation configuration
	DefaultEdgeDuration time.Duration
	LoopPause           time.Duration

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// SSE configuration
	SSEHeartbeat time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "8090"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Stores
		SimStoreType:   getEnv("FLOWPULSE_SIMSTORE", "memory"), // "memory" or "redis"
		GraphStoreType: getEnv("FLOWPULSE_GRAPHSTORE", "memory"),
		SimStoreTTL:    getDuration("SIMSTORE_TTL", 24*time.Hour),
		EventMaxLen:    getInt64("EVENT_MAX_LEN", 5000),

		// Simulation
		DefaultEdgeDuration: getDuration("DEFAULT_EDGE_DURATION", 2*time.Second),
		LoopPause:           getDuration("LOOP_PAUSE", 900*time.Millisecond),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// SSE
		SSEHeartbeat: getDuration("SSE_HEARTBEAT", 15*time.Second),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}

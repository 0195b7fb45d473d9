/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string
	MetricsBind   string

	// Video server device connection
	DeviceAddr              string // host:port of the playout device
	DeviceOutputSlot        int    // output channel driven by the engine
	DeviceCommandTimeout    time.Duration
	DeviceReconnectAttempts int
	DeviceReconnectDelay    time.Duration

	// Scheduler engine
	PollInterval   time.Duration
	FallbackWindow time.Duration // wait window for assets with unknown duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Optional event bridges
	RedisEventsEnabled bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	NATSEventsEnabled  bool
	NATSURL            string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("MUNINN_ENV", "development"),
		HTTPBind:    getEnv("MUNINN_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("MUNINN_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("MUNINN_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("MUNINN_DB_DSN", ""),

		JWTSigningKey: getEnv("MUNINN_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("MUNINN_METRICS_BIND", "127.0.0.1:9000"),

		DeviceAddr:              getEnv("MUNINN_DEVICE_ADDR", "127.0.0.1:10540"),
		DeviceOutputSlot:        getEnvInt("MUNINN_DEVICE_OUTPUT_SLOT", 1),
		DeviceCommandTimeout:    time.Duration(getEnvInt("MUNINN_DEVICE_TIMEOUT_SECONDS", 5)) * time.Second,
		DeviceReconnectAttempts: getEnvInt("MUNINN_DEVICE_RECONNECT_ATTEMPTS", 5),
		DeviceReconnectDelay:    time.Duration(getEnvInt("MUNINN_DEVICE_RECONNECT_DELAY_SECONDS", 2)) * time.Second,

		PollInterval:   time.Duration(getEnvInt("MUNINN_POLL_INTERVAL_SECONDS", 2)) * time.Second,
		FallbackWindow: time.Duration(getEnvInt("MUNINN_FALLBACK_WINDOW_SECONDS", 10)) * time.Second,

		TracingEnabled:    getEnvBool("MUNINN_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("MUNINN_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("MUNINN_TRACING_SAMPLE_RATE", 1.0),

		RedisEventsEnabled: getEnvBool("MUNINN_REDIS_EVENTS_ENABLED", false),
		RedisAddr:          getEnv("MUNINN_REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("MUNINN_REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("MUNINN_REDIS_DB", 0),
		NATSEventsEnabled:  getEnvBool("MUNINN_NATS_EVENTS_ENABLED", false),
		NATSURL:            getEnv("MUNINN_NATS_URL", "nats://localhost:4222"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("MUNINN_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("MUNINN_JWT_SIGNING_KEY must be provided")
	}

	if cfg.DeviceAddr == "" {
		return nil, fmt.Errorf("MUNINN_DEVICE_ADDR must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 16 {
		return nil, fmt.Errorf("MUNINN_JWT_SIGNING_KEY must be at least 16 bytes in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/skaldworks/muninn_playout/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures int
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxFailures:  5,
	}
}

// RedisBridge republishes local engine events onto Redis pub/sub channels
// so external consumers (dashboards, loggers) can follow playout activity.
// Repeated publish failures trip a circuit breaker; local delivery is
// never affected.
type RedisBridge struct {
	client *redis.Client
	logger zerolog.Logger
	nodeID string

	unsubscribe func()

	mu        sync.Mutex
	failCount int
	maxFails  int
	tripped   bool
}

// NewRedisBridge connects to Redis and attaches to the bus. The bridge is
// best effort: a failed initial ping returns an error and the caller may
// simply run without it.
func NewRedisBridge(ctx context.Context, cfg RedisConfig, nodeID string, bus *events.Bus, logger zerolog.Logger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	rb := &RedisBridge{
		client:   client,
		logger:   logger.With().Str("component", "redis_bridge").Logger(),
		nodeID:   nodeID,
		maxFails: cfg.MaxFailures,
	}
	if rb.maxFails <= 0 {
		rb.maxFails = 5
	}

	rb.unsubscribe = bus.Subscribe(rb.forward)
	rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bridge attached")
	return rb, nil
}

func (rb *RedisBridge) forward(event events.Event) {
	rb.mu.Lock()
	if rb.tripped {
		rb.mu.Unlock()
		return
	}
	rb.mu.Unlock()

	data, err := json.Marshal(wireMessage{
		Event:  event,
		NodeID: rb.nodeID,
	})
	if err != nil {
		rb.logger.Error().Err(err).Msg("event marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel := "muninn.events." + string(event.Name)
	if err := rb.client.Publish(ctx, channel, data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("channel", channel).Msg("Redis publish failed")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

func (rb *RedisBridge) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.tripped {
		rb.tripped = true
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, bridge disabled")
	}
}

// Close detaches from the bus and closes the Redis client.
func (rb *RedisBridge) Close() error {
	if rb.unsubscribe != nil {
		rb.unsubscribe()
	}
	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}

// wireMessage is the JSON envelope published to external brokers.
type wireMessage struct {
	Event  events.Event `json:"event"`
	NodeID string       `json:"node_id"`
}

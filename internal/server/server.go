/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/skaldworks/muninn_playout/internal/api"
	"github.com/skaldworks/muninn_playout/internal/config"
	"github.com/skaldworks/muninn_playout/internal/db"
	"github.com/skaldworks/muninn_playout/internal/device"
	"github.com/skaldworks/muninn_playout/internal/engine"
	"github.com/skaldworks/muninn_playout/internal/eventbus"
	"github.com/skaldworks/muninn_playout/internal/events"
	"github.com/skaldworks/muninn_playout/internal/repository"
	"github.com/skaldworks/muninn_playout/internal/resolver"
	"github.com/skaldworks/muninn_playout/internal/telemetry"
)

// Server bundles the HTTP API, scheduler engine, and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db     *gorm.DB
	repo   *repository.Repository
	bus    *events.Bus
	device *device.Client
	engine *engine.Engine
	api    *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("muninn-playout-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the events WebSocket; it is a long-lived connection.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the events WebSocket is not cut off; the
		// middleware timeout covers ordinary routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	s.repo = repository.New(database)

	s.device = device.New(device.Config{
		Addr:              s.cfg.DeviceAddr,
		CommandTimeout:    s.cfg.DeviceCommandTimeout,
		ReconnectAttempts: s.cfg.DeviceReconnectAttempts,
		ReconnectDelay:    s.cfg.DeviceReconnectDelay,
	}, s.logger)
	s.DeferClose(s.device.Close)

	res := resolver.New(s.repo, s.logger)

	s.engine = engine.New(s.repo, res, s.device, s.bus, engine.Config{
		OutputSlot:     s.cfg.DeviceOutputSlot,
		PollInterval:   s.cfg.PollInterval,
		FallbackWindow: s.cfg.FallbackWindow,
	}, s.logger)

	s.api = api.New(database, s.repo, s.engine, s.device, s.bus, []byte(s.cfg.JWTSigningKey), s.logger)

	nodeID, err := os.Hostname()
	if err != nil || nodeID == "" {
		nodeID = "muninn"
	}

	if s.cfg.RedisEventsEnabled {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB

		bridge, err := eventbus.NewRedisBridge(context.Background(), redisCfg, nodeID, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Redis event bridge unavailable, continuing without it")
		} else {
			s.DeferClose(bridge.Close)
		}
	}

	if s.cfg.NATSEventsEnabled {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL

		bridge, err := eventbus.NewNATSBridge(natsCfg, nodeID, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("NATS event bridge unavailable, continuing without it")
		} else {
			s.DeferClose(bridge.Close)
		}
	}

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Connect to the video server up front so the first due schedule does
	// not pay the dial latency. Failure is tolerated; commands reconnect.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.device.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("initial device connect failed")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("scheduler engine exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// HTTPServer returns the wrapped http.Server for lifecycle control.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Bus returns the in-process event bus.
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

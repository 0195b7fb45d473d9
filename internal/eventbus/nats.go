/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/skaldworks/muninn_playout/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBridge republishes local engine events onto NATS subjects, one
// subject per event type under "muninn.events.". The underlying client
// handles reconnects; publishes during an outage are dropped with a log
// line rather than blocking playout.
type NATSBridge struct {
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string

	unsubscribe func()
}

// NewNATSBridge connects to NATS and attaches to the bus.
func NewNATSBridge(cfg NATSConfig, nodeID string, bus *events.Bus, logger zerolog.Logger) (*NATSBridge, error) {
	bridgeLogger := logger.With().Str("component", "nats_bridge").Logger()

	opts := []nats.Option{
		nats.Name("muninn-playout-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			bridgeLogger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			bridgeLogger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	nb := &NATSBridge{
		conn:   conn,
		logger: bridgeLogger,
		nodeID: nodeID,
	}
	nb.unsubscribe = bus.Subscribe(nb.forward)
	nb.logger.Info().Str("url", cfg.URL).Msg("NATS event bridge attached")
	return nb, nil
}

func (nb *NATSBridge) forward(event events.Event) {
	data, err := json.Marshal(wireMessage{
		Event:  event,
		NodeID: nb.nodeID,
	})
	if err != nil {
		nb.logger.Error().Err(err).Msg("event marshal failed")
		return
	}

	subject := "muninn.events." + string(event.Name)
	if err := nb.conn.Publish(subject, data); err != nil {
		nb.logger.Warn().Err(err).Str("subject", subject).Msg("NATS publish failed, dropping event")
	}
}

// Close detaches from the bus and drains the NATS connection.
func (nb *NATSBridge) Close() error {
	if nb.unsubscribe != nil {
		nb.unsubscribe()
	}
	if nb.conn != nil {
		if err := nb.conn.Drain(); err != nil {
			nb.conn.Close()
			return err
		}
	}
	return nil
}

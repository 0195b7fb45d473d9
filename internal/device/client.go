/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skaldworks/muninn_playout/internal/telemetry"
)

// State enumerates the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	// ErrClosed indicates the client was closed explicitly.
	ErrClosed = errors.New("device client closed")

	// ErrCommandRejected indicates the device answered with a failure code.
	ErrCommandRejected = errors.New("device rejected command")
)

// Response is the outcome of a correlated command.
type Response struct {
	Code    int
	Payload string
	// AssumedSuccess is set when no acknowledgment arrived within the
	// timeout and the command was resolved optimistically.
	AssumedSuccess bool
}

// Config holds client configuration.
type Config struct {
	Addr              string
	CommandTimeout    time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
}

// DefaultConfig returns default client configuration.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:              addr,
		CommandTimeout:    5 * time.Second,
		ReconnectAttempts: 5,
		ReconnectDelay:    2 * time.Second,
		DialTimeout:       10 * time.Second,
	}
}

// Client maintains a persistent line-oriented TCP connection to the video
// server device, correlating request/response pairs and reconnecting with
// a bounded retry budget after socket loss.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	conn       net.Conn
	state      State
	closed     bool
	attempt    chan struct{} // shared in-flight connect attempt
	attemptErr error
	pending    map[string]chan ResponseLine
}

// New creates a device client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With().Str("component", "device_client").Logger(),
		state:   StateDisconnected,
		pending: make(map[string]chan ResponseLine),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the device connection. It is idempotent: concurrent
// callers share one in-flight attempt and receive its outcome.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.attempt != nil {
		attempt := c.attempt
		c.mu.Unlock()
		select {
		case <-attempt:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		err := c.attemptErr
		c.mu.Unlock()
		return err
	}

	attempt := make(chan struct{})
	c.attempt = attempt
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	c.attemptErr = err
	c.attempt = nil
	if err != nil && c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	close(attempt)

	return err
}

func (c *Client) dial(ctx context.Context) error {
	c.logger.Info().Str("addr", c.cfg.Addr).Msg("connecting to video server")

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial video server: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Info().Msg("connected to video server")
	return nil
}

// Close disables reconnection and tears down the socket deterministically.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		c.logger.Info().Msg("closing video server connection")
		return conn.Close()
	}
	return nil
}

// SendFireAndForget writes the command without waiting for a device
// response. The device applies playback commands promptly; waiting for an
// acknowledgment on the control path would add latency to every play/stop.
// Returns once the bytes are queued for send.
func (c *Client) SendFireAndForget(cmd string) error {
	conn, err := c.ensureConnected()
	if err != nil {
		return err
	}

	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.handleDisconnect(conn, err)
		return fmt.Errorf("write command: %w", err)
	}

	c.logger.Debug().Str("cmd", cmd).Msg("sent fire-and-forget command")
	return nil
}

// SendCommand writes the command tagged with a correlation id and waits up
// to timeout for the matching response line. A missing acknowledgment is
// resolved as assumed success rather than a timeout error; the target
// device omits acks for some commands and on-air continuity wins over
// protocol strictness.
func (c *Client) SendCommand(ctx context.Context, cmd string, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = c.cfg.CommandTimeout
	}

	conn, err := c.ensureConnected()
	if err != nil {
		return Response{}, err
	}

	id := nextCorrelationID()
	ch := make(chan ResponseLine, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	start := time.Now()
	defer func() {
		telemetry.DeviceCommandDuration.Observe(time.Since(start).Seconds())
	}()

	line := fmt.Sprintf("REQ %s %s\r\n", id, cmd)
	if _, err := conn.Write([]byte(line)); err != nil {
		c.handleDisconnect(conn, err)
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("connection lost awaiting response")
		}
		if !resp.Ok() {
			return Response{Code: resp.Code, Payload: resp.Payload},
				fmt.Errorf("%w: %d %s", ErrCommandRejected, resp.Code, resp.Payload)
		}
		return Response{Code: resp.Code, Payload: resp.Payload}, nil
	case <-timer.C:
		c.logger.Debug().Str("cmd", cmd).Str("correlation_id", id).Msg("no response, assuming success")
		return Response{Code: 200, AssumedSuccess: true}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Client) ensureConnected() (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state == StateConnected && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("connection unavailable")
	}
	return conn, nil
}

// readLoop consumes the socket byte stream, reassembles complete lines,
// and routes each classified line. The trailing partial line is retained
// across reads.
func (c *Client) readLoop(conn net.Conn) {
	var partial string
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := partial + string(buf[:n])
			lines := strings.Split(data, "\n")
			partial = lines[len(lines)-1]
			for _, raw := range lines[:len(lines)-1] {
				c.routeLine(classifyLine(strings.TrimSuffix(raw, "\r")))
			}
		}
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
	}
}

func (c *Client) routeLine(line ResponseLine) {
	switch line.Kind {
	case LineCorrelated, LineUncorrelated:
		if line.CorrelationID != "" {
			c.mu.Lock()
			ch, ok := c.pending[line.CorrelationID]
			if ok {
				delete(c.pending, line.CorrelationID)
			}
			c.mu.Unlock()
			if ok {
				ch <- line
				return
			}
		}
		c.logger.Debug().Int("code", line.Code).Str("payload", line.Payload).Msg("unsolicited device status")
	default:
		c.logger.Debug().Str("raw", line.Raw).Msg("unrecognized device line")
	}
}

// handleDisconnect tears down the current socket, fails pending requests,
// and starts the bounded reconnect sequence unless the client was closed.
func (c *Client) handleDisconnect(conn net.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one; release the
		// stale socket so its read loop does not linger.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = nil
	c.failPendingLocked()
	if c.closed {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn().Err(cause).Msg("video server connection lost")

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay)

		c.mu.Lock()
		if c.closed || c.state == StateConnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		telemetry.DeviceReconnects.Inc()
		c.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.ReconnectAttempts).
			Msg("reconnecting to video server")

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		c.logger.Warn().Err(err).Msg("reconnect attempt failed")
	}

	c.mu.Lock()
	if c.state == StateReconnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.logger.Error().Msg("reconnect budget exhausted, staying disconnected until explicit connect")
}

// failPendingLocked resolves every in-flight correlated request as failed.
// Caller must hold c.mu.
func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func nextCorrelationID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}

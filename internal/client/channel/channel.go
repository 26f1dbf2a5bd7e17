package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Handler receives every envelope delivered on the channel.
type Handler func(env domain.Envelope)

// StateHandler is notified on connectivity changes.
type StateHandler func(connected bool)

// Options configures a Channel.
type Options struct {
	// URL of the relay websocket endpoint.
	URL string
	// Token returns the auth token asserted on every (re)connect. An
	// identity change requires a fresh Channel, not a new token.
	Token func() (string, error)
	// Identity is used for logging only; the relay derives the real
	// identity from the token.
	Identity domain.Identity

	OnEnvelope    Handler
	OnStateChange StateHandler

	Dialer *websocket.Dialer
	Logger *zap.SugaredLogger
}

// Channel is a single long-lived duplex connection to the relay with
// automatic reconnect and exponential backoff. All other client
// components ride on one Channel instance; they subscribe to it rather
// than opening their own.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer

	mu             sync.Mutex
	conn           *websocket.Conn
	attempt        int
	closed         bool
	reconnectTimer *time.Timer

	logger *zap.SugaredLogger
}

func New(opts Options) *Channel {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Channel{
		opts:   opts,
		dialer: dialer,
		logger: opts.Logger,
	}
}

// BackoffDelay returns the reconnect delay before the n-th consecutive
// attempt: min(1s * 2^(n-1), 30s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// Connect establishes the connection and asserts identity with an auth
// envelope. A dial failure schedules a reconnect and returns the error.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrChannelClosed
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.opts.URL, nil)
	if err != nil {
		c.logger.Warnw("dial failed",
			"url", c.opts.URL,
			"endpoint", c.opts.Identity.Key(),
			"error", err,
		)
		c.scheduleReconnect()
		return err
	}

	token, err := c.opts.Token()
	if err != nil {
		conn.Close()
		c.scheduleReconnect()
		return fmt.Errorf("token source: %w", err)
	}

	authEnv, err := domain.NewEnvelope(domain.TypeAuth, nil, domain.AuthPayload{Token: token})
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Torn down while dialing; do not resurrect the connection.
		c.mu.Unlock()
		conn.Close()
		return domain.ErrChannelClosed
	}
	c.conn = conn
	c.attempt = 0
	if err := conn.WriteJSON(authEnv); err != nil {
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.scheduleReconnect()
		return fmt.Errorf("send auth envelope: %w", err)
	}
	c.mu.Unlock()

	c.logger.Infow("channel connected", "endpoint", c.opts.Identity.Key())
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(true)
	}

	go c.readLoop(conn)
	return nil
}

// Send enqueues an envelope. While disconnected it is a logged no-op:
// it never fails the caller and never queues, so a long outage cannot
// grow an unbounded backlog.
func (c *Channel) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warnw("send while disconnected, dropping envelope",
			"endpoint", c.opts.Identity.Key(),
			"type", env.Type,
		)
		return nil
	}
	return c.conn.WriteJSON(env)
}

// Close tears the channel down: the pending reconnect timer is
// cancelled and the live connection closed. No reconnect is scheduled
// afterwards, even by callbacks already in flight.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		if c.opts.OnEnvelope != nil {
			c.opts.OnEnvelope(env)
		}
	}

	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.Infow("channel disconnected", "endpoint", c.opts.Identity.Key())
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(false)
	}
	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.reconnectTimer != nil {
		return
	}

	c.attempt++
	delay := BackoffDelay(c.attempt)
	c.logger.Infow("scheduling reconnect",
		"endpoint", c.opts.Identity.Key(),
		"attempt", c.attempt,
		"delay", delay,
	)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.closed {
			// Teardown raced the timer; stay down.
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.Connect()
	})
}

package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sendQueueSize = 32

// client is one upgraded websocket connection. Outbound envelopes go
// through a buffered queue drained by a single write pump, so a slow
// endpoint never blocks the routing path and per-pair send order is
// preserved.
type client struct {
	connID      string
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	limiter     *rate.Limiter
	connectedAt time.Time

	mu       sync.Mutex
	identity domain.Identity
	authed   bool

	closeOnce sync.Once

	logger *zap.SugaredLogger
}

func newClient(connID string, conn *websocket.Conn, limiter *rate.Limiter, logger *zap.SugaredLogger) *client {
	return &client{
		connID:      connID,
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		limiter:     limiter,
		connectedAt: time.Now(),
		logger:      logger,
	}
}

func (c *client) setIdentity(identity domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.authed = true
}

func (c *client) getIdentity() (domain.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.authed
}

// sendEnvelope queues an envelope for delivery. A full queue drops the
// envelope rather than stalling the caller.
func (c *client) sendEnvelope(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrChannelClosed
	case c.send <- data:
		return nil
	default:
		c.logger.Warnw("send queue full, dropping envelope",
			"conn_id", c.connID,
			"type", env.Type,
		)
		return nil
	}
}

func (c *client) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"
	"github.com/bzinkan/ClassPilot-sub005/internal/infrastructure/monitoring"
	"github.com/bzinkan/ClassPilot-sub005/pkg/tracing"
	"github.com/bzinkan/ClassPilot-sub005/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	dropReasonUnauthenticated = "unauthenticated"
	dropReasonBadEnvelope     = "bad-envelope"
	dropReasonUnknownType     = "unknown-type"
	dropReasonTargetOffline   = "target-offline"
	dropReasonRateLimited     = "rate-limited"
)

// Config holds the relay's connection tuning.
type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// Server routes signaling envelopes between registered endpoints. It
// owns the registry and consults the guard before any new
// broadcaster→viewer pairing is opened.
type Server struct {
	registry *Registry
	guard    ports.ViewGuard
	tokens   ports.TokenService
	metrics  *monitoring.PrometheusCollector
	events   ports.EventPublisher
	cfg      Config

	logger *zap.SugaredLogger
}

// SetEventPublisher attaches an optional publisher for broadcast
// lifecycle events. Must be called before serving.
func (s *Server) SetEventPublisher(events ports.EventPublisher) {
	s.events = events
}

func NewServer(
	guard ports.ViewGuard,
	tokens ports.TokenService,
	metrics *monitoring.PrometheusCollector,
	cfg Config,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		registry: NewRegistry(),
		guard:    guard,
		tokens:   tokens,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// Registry exposes the live connection table to the HTTP stats surface.
func (s *Server) Registry() ports.EndpointRegistry {
	return s.registry
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	c := newClient(utils.GenerateConnectionID(), conn, limiter, s.logger)

	go c.writePump(s.cfg.PingInterval, s.cfg.WriteTimeout)
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.cleanup(c)

	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read error", "conn_id", c.connID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			// A single malformed envelope never closes the connection.
			s.metrics.RecordEnvelopeDropped(dropReasonBadEnvelope)
			s.logger.Debugw("dropping malformed envelope", "conn_id", c.connID, "error", err)
			continue
		}

		if _, authed := c.getIdentity(); !authed {
			if env.Type == domain.TypeAuth {
				s.handleAuth(c, env)
			} else {
				s.metrics.RecordEnvelopeDropped(dropReasonUnauthenticated)
			}
			continue
		}

		s.handleEnvelope(c, env)
	}
}

func (s *Server) cleanup(c *client) {
	c.close()
	if identity, authed := c.getIdentity(); authed {
		if s.registry.Unbind(c) {
			s.metrics.RecordEndpointDisconnected()
			s.logger.Infow("endpoint disconnected",
				"conn_id", c.connID,
				"endpoint", identity.Key(),
			)
		}
	}
}

func (s *Server) handleAuth(c *client, env domain.Envelope) {
	payload, err := domain.DecodeAuth(env)
	if err != nil {
		s.metrics.RecordAuthFailure()
		s.logger.Debugw("dropping invalid auth envelope", "conn_id", c.connID, "error", err)
		return
	}

	identity, err := s.tokens.ValidateToken(payload.Token)
	if err != nil {
		s.metrics.RecordAuthFailure()
		s.logger.Warnw("auth rejected", "conn_id", c.connID, "error", err)
		return
	}

	c.setIdentity(identity)
	if prior := s.registry.Bind(c); prior != nil {
		// Single-active-connection-per-identity invariant.
		prior.close()
		s.metrics.RecordEndpointDisconnected()
		s.logger.Infow("replacing stale connection",
			"endpoint", identity.Key(),
			"old_conn_id", prior.connID,
			"new_conn_id", c.connID,
		)
	}
	s.metrics.RecordEndpointConnected()

	s.logger.Infow("endpoint authenticated",
		"conn_id", c.connID,
		"endpoint", identity.Key(),
		"school_id", identity.SchoolID,
	)
}

func (s *Server) handleEnvelope(c *client, env domain.Envelope) {
	identity, _ := c.getIdentity()

	if !c.limiter.Allow() {
		s.metrics.RecordEnvelopeDropped(dropReasonRateLimited)
		s.logger.Warnw("rate limit exceeded, dropping envelope",
			"endpoint", identity.Key(),
			"type", env.Type,
		)
		return
	}

	ctx, span := tracing.TraceEnvelope(context.Background(), env.Type, identity.Key())
	defer span.End()

	switch env.Type {
	case domain.TypeViewerJoin:
		s.handleViewerJoin(ctx, c, identity, env)
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICE, domain.TypeViewerLeave:
		s.forward(c, identity, env)
	case domain.TypeBroadcastStart, domain.TypeBroadcastStop:
		s.fanOut(ctx, c, identity, env)
	case domain.TypeAuth:
		// Identity changes require a fresh connection, not a re-auth.
		s.metrics.RecordEnvelopeDropped(dropReasonBadEnvelope)
	default:
		s.metrics.RecordEnvelopeDropped(dropReasonUnknownType)
		s.logger.Debugw("dropping envelope of unknown type",
			"endpoint", identity.Key(),
			"type", env.Type,
		)
	}
}

// handleViewerJoin gates a new broadcaster→viewer pairing through the
// authorization guard before the join reaches the broadcaster.
func (s *Server) handleViewerJoin(ctx context.Context, c *client, sender domain.Identity, env domain.Envelope) {
	if env.To == nil {
		s.metrics.RecordEnvelopeDropped(dropReasonBadEnvelope)
		return
	}

	payload, err := domain.DecodeViewerJoin(env)
	if err != nil {
		s.metrics.RecordEnvelopeDropped(dropReasonBadEnvelope)
		s.logger.Debugw("dropping invalid viewer-join", "endpoint", sender.Key(), "error", err)
		return
	}

	gctx, gspan := tracing.TraceGuardDecision(ctx, string(env.To.UserID), string(payload.DeviceID))
	studentID, err := s.guard.AuthorizeViewer(gctx, sender, env.To.UserID, payload.DeviceID)
	if err != nil {
		tracing.RecordError(gctx, err)
		gspan.End()
		s.metrics.RecordJoinDenied(denialReason(err))
		s.logger.Infow("viewer join denied",
			"endpoint", sender.Key(),
			"broadcaster_id", env.To.UserID,
			"device_id", payload.DeviceID,
			"reason", denialReason(err),
		)
		// The requester only ever sees a generic denial.
		s.sendError(c, domain.ErrCodeJoinDenied, "join denied")
		return
	}
	gspan.End()

	s.logger.Infow("viewer join admitted",
		"endpoint", sender.Key(),
		"broadcaster_id", env.To.UserID,
		"student_id", studentID,
	)
	s.forward(c, sender, env)
}

// forward delivers env.Payload verbatim to the registry entry bound to
// env.To, stamped with the sender's identity. Envelopes for offline
// targets are dropped, not queued.
func (s *Server) forward(c *client, sender domain.Identity, env domain.Envelope) {
	if env.To == nil {
		s.metrics.RecordEnvelopeDropped(dropReasonBadEnvelope)
		return
	}

	target, ok := s.registry.Get(*env.To)
	if !ok {
		s.metrics.RecordEnvelopeDropped(dropReasonTargetOffline)
		s.logger.Debugw("dropping envelope for offline target",
			"endpoint", sender.Key(),
			"target", env.To.Key(),
			"type", env.Type,
		)
		// Informational only; stale signaling is useless by design.
		s.sendError(c, domain.ErrCodePeerOffline, "peer offline")
		return
	}

	env.From = &sender
	if err := target.sendEnvelope(env); err != nil {
		s.logger.Warnw("failed to deliver envelope",
			"target", env.To.Key(),
			"type", env.Type,
			"error", err,
		)
		return
	}
	s.metrics.RecordEnvelopeRouted(env.Type)
}

// fanOut delivers a broadcast lifecycle envelope to every endpoint the
// guard currently permits to view this broadcaster.
func (s *Server) fanOut(ctx context.Context, c *client, sender domain.Identity, env domain.Envelope) {
	if sender.Role != domain.RoleBroadcaster {
		s.metrics.RecordEnvelopeDropped(dropReasonBadEnvelope)
		return
	}

	switch env.Type {
	case domain.TypeBroadcastStart:
		s.metrics.RecordBroadcastStarted(sender.UserID)
	case domain.TypeBroadcastStop:
		s.metrics.RecordBroadcastEnded(sender.UserID)
	}
	s.publishBroadcastEvent(ctx, sender, env.Type == domain.TypeBroadcastStart)

	env.From = &sender
	env.To = nil

	delivered := 0
	for _, target := range s.registry.snapshot() {
		identity, authed := target.getIdentity()
		if !authed || target == c {
			continue
		}

		switch identity.Role {
		case domain.RoleObserver:
			// Observers always see broadcast state.
		case domain.RoleViewer:
			if _, err := s.guard.AuthorizeViewer(ctx, identity, sender.UserID, identity.DeviceID); err != nil {
				continue
			}
		default:
			continue
		}

		if err := target.sendEnvelope(env); err == nil {
			delivered++
		}
	}

	s.metrics.RecordEnvelopeRouted(env.Type)
	s.logger.Infow("broadcast state fanned out",
		"endpoint", sender.Key(),
		"type", env.Type,
		"delivered", delivered,
	)
}

func (s *Server) publishBroadcastEvent(ctx context.Context, sender domain.Identity, active bool) {
	if s.events == nil {
		return
	}
	event := domain.BroadcastEvent{
		Broadcaster: sender,
		Active:      active,
		At:          time.Now(),
	}
	if err := s.events.PublishBroadcast(ctx, event); err != nil {
		s.logger.Warnw("failed to publish broadcast event",
			"endpoint", sender.Key(),
			"active", active,
			"error", err,
		)
	}
}

func (s *Server) sendError(c *client, code, message string) {
	env, err := domain.NewEnvelope(domain.TypeError, nil, domain.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	c.sendEnvelope(env)
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoActiveSession):
		return "no-active-session"
	case errors.Is(err, domain.ErrNotInSession):
		return "not-in-session"
	case errors.Is(err, domain.ErrDeviceNotBound):
		return "device-not-bound"
	default:
		return "internal"
	}
}

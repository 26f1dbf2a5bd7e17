package ports

import (
	"context"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
)

// ViewGuard decides whether a requester may be shown the stream of a
// broadcaster's device. Implementations must fail closed: any internal
// error is a deny.
type ViewGuard interface {
	AuthorizeViewer(ctx context.Context, requester domain.Identity, broadcasterID domain.UserID, deviceID domain.DeviceID) (domain.StudentID, error)
}

// TokenService verifies the JWT carried by auth envelopes and returns
// the asserted identity.
type TokenService interface {
	GenerateToken(identity domain.Identity) (string, error)
	ValidateToken(token string) (domain.Identity, error)
}

// EnvelopeSender abstracts the outbound half of a signaling channel so
// the orchestrator and viewer session do not depend on the websocket
// wiring.
type EnvelopeSender interface {
	Send(env domain.Envelope) error
}

// EventPublisher fans broadcast lifecycle events out to collaborating
// processes (other relay instances, telemetry consumers).
type EventPublisher interface {
	PublishBroadcast(ctx context.Context, event domain.BroadcastEvent) error
}

// EndpointRegistry is the server-side table of live connections.
type EndpointRegistry interface {
	Entries() []domain.RegistryEntry
	IsConnected(identity domain.Identity) bool
}

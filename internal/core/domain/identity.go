package domain

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
	RoleObserver    Role = "observer"
)

type (
	UserID    string
	DeviceID  string
	SchoolID  string
	SessionID string
	GroupID   string
	StudentID string
)

// Identity is the authenticated identity of an endpoint. It is asserted
// via the auth envelope on every (re)connect and is immutable for the
// lifetime of a connection.
type Identity struct {
	Role     Role     `json:"role"`
	UserID   UserID   `json:"user_id"`
	DeviceID DeviceID `json:"device_id,omitempty"`
	SchoolID SchoolID `json:"school_id"`
}

// Key returns the registry key for this identity. The registry holds at
// most one live entry per key.
func (id Identity) Key() string {
	return fmt.Sprintf("%s/%s/%s", id.Role, id.UserID, id.DeviceID)
}

func (id Identity) Validate() error {
	switch id.Role {
	case RoleBroadcaster, RoleViewer, RoleObserver:
	default:
		return fmt.Errorf("unknown role: %q", id.Role)
	}
	if id.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if id.Role == RoleViewer && id.DeviceID == "" {
		return fmt.Errorf("device_id is required for viewers")
	}
	return nil
}

// RegistryEntry binds an identity to its current live channel.
type RegistryEntry struct {
	Identity    Identity
	ConnID      string
	ConnectedAt time.Time
}

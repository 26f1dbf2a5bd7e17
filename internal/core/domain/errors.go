package domain

import "errors"

var (
	ErrNoActiveSession  = errors.New("no active session")
	ErrNotInSession     = errors.New("not in active session")
	ErrDeviceNotBound   = errors.New("device not bound to a student")
	ErrPeerNotConnected = errors.New("peer not connected")
	ErrSessionNotFound  = errors.New("session not found")
	ErrGroupNotFound    = errors.New("group not found")
	ErrChannelClosed    = errors.New("channel closed")
)

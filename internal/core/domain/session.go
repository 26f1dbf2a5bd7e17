package domain

import "time"

// ClassSession is an active monitoring session owned by a teacher. The
// roster store is the source of truth; this subsystem only reads it.
type ClassSession struct {
	ID        SessionID
	TeacherID UserID
	GroupID   GroupID
	IsActive  bool
	StartedAt time.Time
}

// BroadcastEvent is emitted to collaborators (UI, telemetry) when a
// broadcast starts or stops, or its viewer count changes.
type BroadcastEvent struct {
	Broadcaster Identity
	ViewerCount int
	Active      bool
	At          time.Time
}

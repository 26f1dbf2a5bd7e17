package ports

import (
	"context"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
)

// RosterStore is the read-side view of the external roster/session
// store consulted by the authorization guard.
type RosterStore interface {
	// GetActiveSessionByTeacher returns the teacher's currently active
	// session, or domain.ErrNoActiveSession.
	GetActiveSessionByTeacher(ctx context.Context, teacherID domain.UserID) (*domain.ClassSession, error)

	// GetGroupStudents returns the student ids rostered under a group.
	GetGroupStudents(ctx context.Context, groupID domain.GroupID) ([]domain.StudentID, error)

	// GetActiveStudentForDevice resolves the student currently signed in
	// on a device, or domain.ErrDeviceNotBound.
	GetActiveStudentForDevice(ctx context.Context, deviceID domain.DeviceID) (domain.StudentID, error)
}

// RosterAdmin is the write side used by the admin HTTP surface and by
// tests. Production deployments point it at the same backing store the
// roster product writes to.
type RosterAdmin interface {
	StartSession(ctx context.Context, session *domain.ClassSession) error
	EndSession(ctx context.Context, teacherID domain.UserID) error
	SetGroupStudents(ctx context.Context, groupID domain.GroupID, students []domain.StudentID) error
	BindDevice(ctx context.Context, deviceID domain.DeviceID, studentID domain.StudentID) error
	UnbindDevice(ctx context.Context, deviceID domain.DeviceID) error
}

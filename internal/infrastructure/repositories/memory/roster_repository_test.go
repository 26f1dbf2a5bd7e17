package memory

import (
	"context"
	"testing"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	repo := NewMemoryRosterRepository()
	ctx := context.Background()

	_, err := repo.GetActiveSessionByTeacher(ctx, "teacher-1")
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)

	require.NoError(t, repo.StartSession(ctx, &domain.ClassSession{
		ID:        "session-1",
		TeacherID: "teacher-1",
		GroupID:   "group-1",
	}))

	session, err := repo.GetActiveSessionByTeacher(ctx, "teacher-1")
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, domain.GroupID("group-1"), session.GroupID)
	assert.False(t, session.StartedAt.IsZero())

	require.NoError(t, repo.EndSession(ctx, "teacher-1"))
	_, err = repo.GetActiveSessionByTeacher(ctx, "teacher-1")
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestEndSession_UnknownTeacher(t *testing.T) {
	repo := NewMemoryRosterRepository()
	err := repo.EndSession(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGroupStudents(t *testing.T) {
	repo := NewMemoryRosterRepository()
	ctx := context.Background()

	_, err := repo.GetGroupStudents(ctx, "group-1")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	require.NoError(t, repo.SetGroupStudents(ctx, "group-1", []domain.StudentID{"s1", "s2"}))

	students, err := repo.GetGroupStudents(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.StudentID{"s1", "s2"}, students)

	// The returned slice is a copy; mutating it must not leak back.
	students[0] = "tampered"
	again, err := repo.GetGroupStudents(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StudentID("s1"), again[0])
}

func TestDeviceBinding(t *testing.T) {
	repo := NewMemoryRosterRepository()
	ctx := context.Background()

	_, err := repo.GetActiveStudentForDevice(ctx, "device-1")
	assert.ErrorIs(t, err, domain.ErrDeviceNotBound)

	require.NoError(t, repo.BindDevice(ctx, "device-1", "s1"))
	studentID, err := repo.GetActiveStudentForDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StudentID("s1"), studentID)

	// Rebinding reflects a new student signing in on the device.
	require.NoError(t, repo.BindDevice(ctx, "device-1", "s2"))
	studentID, err = repo.GetActiveStudentForDevice(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StudentID("s2"), studentID)

	require.NoError(t, repo.UnbindDevice(ctx, "device-1"))
	_, err = repo.GetActiveStudentForDevice(ctx, "device-1")
	assert.ErrorIs(t, err, domain.ErrDeviceNotBound)
}

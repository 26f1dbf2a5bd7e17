package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
)

// MemoryRosterRepository is the in-process roster/session store used in
// development and tests. It implements both the read side consumed by
// the guard and the admin write side.
type MemoryRosterRepository struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*domain.ClassSession
	groups   map[domain.GroupID][]domain.StudentID
	devices  map[domain.DeviceID]domain.StudentID
}

func NewMemoryRosterRepository() *MemoryRosterRepository {
	return &MemoryRosterRepository{
		sessions: make(map[domain.UserID]*domain.ClassSession),
		groups:   make(map[domain.GroupID][]domain.StudentID),
		devices:  make(map[domain.DeviceID]domain.StudentID),
	}
}

func (r *MemoryRosterRepository) GetActiveSessionByTeacher(ctx context.Context, teacherID domain.UserID) (*domain.ClassSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[teacherID]
	if !exists || !session.IsActive {
		return nil, domain.ErrNoActiveSession
	}

	copied := *session
	return &copied, nil
}

func (r *MemoryRosterRepository) GetGroupStudents(ctx context.Context, groupID domain.GroupID) ([]domain.StudentID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	students, exists := r.groups[groupID]
	if !exists {
		return nil, domain.ErrGroupNotFound
	}

	out := make([]domain.StudentID, len(students))
	copy(out, students)
	return out, nil
}

func (r *MemoryRosterRepository) GetActiveStudentForDevice(ctx context.Context, deviceID domain.DeviceID) (domain.StudentID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	studentID, exists := r.devices[deviceID]
	if !exists {
		return "", domain.ErrDeviceNotBound
	}
	return studentID, nil
}

func (r *MemoryRosterRepository) StartSession(ctx context.Context, session *domain.ClassSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *session
	copied.IsActive = true
	if copied.StartedAt.IsZero() {
		copied.StartedAt = time.Now()
	}
	r.sessions[session.TeacherID] = &copied
	return nil
}

func (r *MemoryRosterRepository) EndSession(ctx context.Context, teacherID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[teacherID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	session.IsActive = false
	return nil
}

func (r *MemoryRosterRepository) SetGroupStudents(ctx context.Context, groupID domain.GroupID, students []domain.StudentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.StudentID, len(students))
	copy(out, students)
	r.groups[groupID] = out
	return nil
}

func (r *MemoryRosterRepository) BindDevice(ctx context.Context, deviceID domain.DeviceID, studentID domain.StudentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[deviceID] = studentID
	return nil
}

func (r *MemoryRosterRepository) UnbindDevice(ctx context.Context, deviceID domain.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.devices, deviceID)
	return nil
}

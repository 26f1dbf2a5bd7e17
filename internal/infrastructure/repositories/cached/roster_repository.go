package cached

import (
	"context"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"
	"github.com/bzinkan/ClassPilot-sub005/pkg/cache"
)

// CachedRosterRepository wraps a roster store with short-TTL read
// caching. A broadcast fan-out authorizes every viewer individually, so
// the same session and group are fetched once per viewer; the cache
// collapses that burst to one backend read. Only successful lookups are
// cached, so a deny is always re-checked against the backend.
type CachedRosterRepository struct {
	next ports.RosterStore

	sessions *cache.Cache[*domain.ClassSession]
	groups   *cache.Cache[[]domain.StudentID]
	devices  *cache.Cache[domain.StudentID]
}

func NewCachedRosterRepository(next ports.RosterStore, ttl time.Duration) *CachedRosterRepository {
	return &CachedRosterRepository{
		next:     next,
		sessions: cache.New[*domain.ClassSession](ttl),
		groups:   cache.New[[]domain.StudentID](ttl),
		devices:  cache.New[domain.StudentID](ttl),
	}
}

func (r *CachedRosterRepository) GetActiveSessionByTeacher(ctx context.Context, teacherID domain.UserID) (*domain.ClassSession, error) {
	key := string(teacherID)
	if session, ok := r.sessions.Get(key); ok {
		return session, nil
	}

	session, err := r.next.GetActiveSessionByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	r.sessions.Set(key, session)
	return session, nil
}

func (r *CachedRosterRepository) GetGroupStudents(ctx context.Context, groupID domain.GroupID) ([]domain.StudentID, error) {
	key := string(groupID)
	if students, ok := r.groups.Get(key); ok {
		return students, nil
	}

	students, err := r.next.GetGroupStudents(ctx, groupID)
	if err != nil {
		return nil, err
	}
	r.groups.Set(key, students)
	return students, nil
}

func (r *CachedRosterRepository) GetActiveStudentForDevice(ctx context.Context, deviceID domain.DeviceID) (domain.StudentID, error) {
	key := string(deviceID)
	if studentID, ok := r.devices.Get(key); ok {
		return studentID, nil
	}

	studentID, err := r.next.GetActiveStudentForDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	r.devices.Set(key, studentID)
	return studentID, nil
}

// Stop releases the cache sweepers.
func (r *CachedRosterRepository) Stop() {
	r.sessions.Stop()
	r.groups.Stop()
	r.devices.Stop()
}

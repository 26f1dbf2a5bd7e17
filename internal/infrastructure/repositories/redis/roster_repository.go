package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/pkg/retry"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "classpilot:session:"
	groupKeyPrefix   = "classpilot:group:"
	deviceKeyPrefix  = "classpilot:device:"
)

type sessionRecord struct {
	ID        domain.SessionID `json:"id"`
	TeacherID domain.UserID    `json:"teacher_id"`
	GroupID   domain.GroupID   `json:"group_id"`
	IsActive  bool             `json:"is_active"`
	StartedAt time.Time        `json:"started_at"`
}

// RedisRosterRepository reads roster/session state from the shared
// Redis instance the roster product writes to. Reads retry on transient
// failures; a final failure surfaces to the guard, which fails closed.
type RedisRosterRepository struct {
	client   *redis.Client
	retryCfg retry.Config
}

func NewRedisRosterRepository(client *redis.Client) *RedisRosterRepository {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 50 * time.Millisecond

	return &RedisRosterRepository{
		client:   client,
		retryCfg: cfg,
	}
}

func (r *RedisRosterRepository) GetActiveSessionByTeacher(ctx context.Context, teacherID domain.UserID) (*domain.ClassSession, error) {
	data, err := retry.RetryWithResult(ctx, r.retryCfg, func() (string, error) {
		val, err := r.client.Get(ctx, sessionKeyPrefix+string(teacherID)).Result()
		if errors.Is(err, redis.Nil) {
			return "", retry.Unrecoverable(domain.ErrNoActiveSession)
		}
		return val, err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			return nil, domain.ErrNoActiveSession
		}
		return nil, fmt.Errorf("get session for teacher %s: %w", teacherID, err)
	}

	var rec sessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	if !rec.IsActive {
		return nil, domain.ErrNoActiveSession
	}

	return &domain.ClassSession{
		ID:        rec.ID,
		TeacherID: rec.TeacherID,
		GroupID:   rec.GroupID,
		IsActive:  rec.IsActive,
		StartedAt: rec.StartedAt,
	}, nil
}

func (r *RedisRosterRepository) GetGroupStudents(ctx context.Context, groupID domain.GroupID) ([]domain.StudentID, error) {
	members, err := retry.RetryWithResult(ctx, r.retryCfg, func() ([]string, error) {
		return r.client.SMembers(ctx, groupKeyPrefix+string(groupID)).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("get students for group %s: %w", groupID, err)
	}
	if len(members) == 0 {
		return nil, domain.ErrGroupNotFound
	}

	students := make([]domain.StudentID, len(members))
	for i, m := range members {
		students[i] = domain.StudentID(m)
	}
	return students, nil
}

func (r *RedisRosterRepository) GetActiveStudentForDevice(ctx context.Context, deviceID domain.DeviceID) (domain.StudentID, error) {
	val, err := retry.RetryWithResult(ctx, r.retryCfg, func() (string, error) {
		val, err := r.client.Get(ctx, deviceKeyPrefix+string(deviceID)).Result()
		if errors.Is(err, redis.Nil) {
			return "", retry.Unrecoverable(domain.ErrDeviceNotBound)
		}
		return val, err
	})
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotBound) {
			return "", domain.ErrDeviceNotBound
		}
		return "", fmt.Errorf("get binding for device %s: %w", deviceID, err)
	}
	return domain.StudentID(val), nil
}

func (r *RedisRosterRepository) StartSession(ctx context.Context, session *domain.ClassSession) error {
	rec := sessionRecord{
		ID:        session.ID,
		TeacherID: session.TeacherID,
		GroupID:   session.GroupID,
		IsActive:  true,
		StartedAt: session.StartedAt,
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return r.client.Set(ctx, sessionKeyPrefix+string(session.TeacherID), data, 0).Err()
}

func (r *RedisRosterRepository) EndSession(ctx context.Context, teacherID domain.UserID) error {
	deleted, err := r.client.Del(ctx, sessionKeyPrefix+string(teacherID)).Result()
	if err != nil {
		return fmt.Errorf("end session for teacher %s: %w", teacherID, err)
	}
	if deleted == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *RedisRosterRepository) SetGroupStudents(ctx context.Context, groupID domain.GroupID, students []domain.StudentID) error {
	key := groupKeyPrefix + string(groupID)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(students) > 0 {
		members := make([]interface{}, len(students))
		for i, s := range students {
			members[i] = string(s)
		}
		pipe.SAdd(ctx, key, members...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set students for group %s: %w", groupID, err)
	}
	return nil
}

func (r *RedisRosterRepository) BindDevice(ctx context.Context, deviceID domain.DeviceID, studentID domain.StudentID) error {
	return r.client.Set(ctx, deviceKeyPrefix+string(deviceID), string(studentID), 0).Err()
}

func (r *RedisRosterRepository) UnbindDevice(ctx context.Context, deviceID domain.DeviceID) error {
	return r.client.Del(ctx, deviceKeyPrefix+string(deviceID)).Err()
}

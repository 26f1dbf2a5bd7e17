package services

import (
	"context"
	"fmt"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"

	"go.uber.org/zap"
)

// GuardService gates every new broadcaster→viewer pairing against the
// active session roster. It fails closed: a roster lookup error denies
// the request, it never grants access on its own internal failure.
type GuardService struct {
	roster ports.RosterStore
	logger *zap.SugaredLogger
}

func NewGuardService(roster ports.RosterStore, logger *zap.SugaredLogger) *GuardService {
	return &GuardService{
		roster: roster,
		logger: logger,
	}
}

// AuthorizeViewer decides whether requester may view the stream shown
// on deviceID under broadcasterID's session. Observers are admitted
// unconditionally. Returns the admitted student id for auditing.
func (g *GuardService) AuthorizeViewer(ctx context.Context, requester domain.Identity, broadcasterID domain.UserID, deviceID domain.DeviceID) (domain.StudentID, error) {
	if requester.Role == domain.RoleObserver {
		return "", nil
	}

	session, err := g.roster.GetActiveSessionByTeacher(ctx, broadcasterID)
	if err != nil {
		g.logger.Warnw("join denied: active session lookup failed",
			"teacher_id", broadcasterID,
			"requester", requester.Key(),
			"error", err,
		)
		return "", fmt.Errorf("active session lookup: %w", err)
	}
	if session == nil || !session.IsActive {
		return "", domain.ErrNoActiveSession
	}

	studentID, err := g.roster.GetActiveStudentForDevice(ctx, deviceID)
	if err != nil {
		g.logger.Warnw("join denied: device binding lookup failed",
			"device_id", deviceID,
			"error", err,
		)
		return "", fmt.Errorf("device binding lookup: %w", err)
	}

	students, err := g.roster.GetGroupStudents(ctx, session.GroupID)
	if err != nil {
		g.logger.Warnw("join denied: group roster lookup failed",
			"group_id", session.GroupID,
			"error", err,
		)
		return "", fmt.Errorf("group roster lookup: %w", err)
	}

	for _, s := range students {
		if s == studentID {
			return studentID, nil
		}
	}
	return "", domain.ErrNotInSession
}

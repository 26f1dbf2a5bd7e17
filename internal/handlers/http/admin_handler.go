package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"
	"github.com/bzinkan/ClassPilot-sub005/internal/core/ports"
	apperrors "github.com/bzinkan/ClassPilot-sub005/pkg/errors"
	"github.com/bzinkan/ClassPilot-sub005/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AdminHandler is the roster administration surface. In production the
// roster product owns this data; the handler exists so deployments
// without that integration, and tests, can drive the same store.
type AdminHandler struct {
	roster   ports.RosterAdmin
	registry ports.EndpointRegistry
	tokens   ports.TokenService
}

func NewAdminHandler(roster ports.RosterAdmin, registry ports.EndpointRegistry, tokens ports.TokenService) *AdminHandler {
	return &AdminHandler{
		roster:   roster,
		registry: registry,
		tokens:   tokens,
	}
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/endpoints", h.ListEndpoints)
		api.POST("/tokens", h.IssueToken)

		api.POST("/sessions", h.StartSession)
		api.DELETE("/sessions/:teacher_id", h.EndSession)

		api.PUT("/groups/:id/students", h.SetGroupStudents)

		api.PUT("/devices/:id/binding", h.BindDevice)
		api.DELETE("/devices/:id/binding", h.UnbindDevice)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"endpoints": len(h.registry.Entries()),
	})
}

func (h *AdminHandler) ListEndpoints(c *gin.Context) {
	entries := h.registry.Entries()

	type endpointView struct {
		Role        domain.Role     `json:"role"`
		UserID      domain.UserID   `json:"user_id"`
		DeviceID    domain.DeviceID `json:"device_id,omitempty"`
		SchoolID    domain.SchoolID `json:"school_id"`
		ConnID      string          `json:"conn_id"`
		ConnectedAt time.Time       `json:"connected_at"`
	}

	views := make([]endpointView, 0, len(entries))
	for _, e := range entries {
		views = append(views, endpointView{
			Role:        e.Identity.Role,
			UserID:      e.Identity.UserID,
			DeviceID:    e.Identity.DeviceID,
			SchoolID:    e.Identity.SchoolID,
			ConnID:      e.ConnID,
			ConnectedAt: e.ConnectedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"endpoints": views})
}

// IssueToken mints a signaling token for an identity. Deployments with
// an identity provider issue tokens there instead.
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req struct {
		Role     domain.Role     `json:"role" binding:"required"`
		UserID   domain.UserID   `json:"user_id" binding:"required"`
		DeviceID domain.DeviceID `json:"device_id"`
		SchoolID domain.SchoolID `json:"school_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	identity := domain.Identity{
		Role:     req.Role,
		UserID:   req.UserID,
		DeviceID: req.DeviceID,
		SchoolID: req.SchoolID,
	}
	if err := identity.Validate(); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	token, err := h.tokens.GenerateToken(identity)
	if err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to issue token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (h *AdminHandler) StartSession(c *gin.Context) {
	var req struct {
		TeacherID domain.UserID  `json:"teacher_id" binding:"required"`
		GroupID   domain.GroupID `json:"group_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	session := &domain.ClassSession{
		ID:        domain.SessionID(utils.GenerateSessionID()),
		TeacherID: req.TeacherID,
		GroupID:   req.GroupID,
		IsActive:  true,
		StartedAt: time.Now(),
	}
	if err := h.roster.StartSession(c.Request.Context(), session); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to start session", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session_id": session.ID})
}

func (h *AdminHandler) EndSession(c *gin.Context) {
	teacherID := domain.UserID(c.Param("teacher_id"))

	if err := h.roster.EndSession(c.Request.Context(), teacherID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFound("session"))
			return
		}
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to end session", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *AdminHandler) SetGroupStudents(c *gin.Context) {
	groupID := domain.GroupID(c.Param("id"))

	var req struct {
		Students []domain.StudentID `json:"students" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	if err := h.roster.SetGroupStudents(c.Request.Context(), groupID, req.Students); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to set group students", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated", "count": len(req.Students)})
}

func (h *AdminHandler) BindDevice(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	var req struct {
		StudentID domain.StudentID `json:"student_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInput(err.Error()))
		return
	}

	if err := h.roster.BindDevice(c.Request.Context(), deviceID, req.StudentID); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to bind device", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "bound"})
}

func (h *AdminHandler) UnbindDevice(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	if err := h.roster.UnbindDevice(c.Request.Context(), deviceID); err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unbind device", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unbound"})
}

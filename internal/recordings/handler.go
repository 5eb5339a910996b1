package recordings

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/pkg/response"
)

// RowStore reads standalone recording rows.
type RowStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error)
}

// SessionLookup resolves the organizer of a session.
type SessionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo     RowStore
	sessions SessionLookup
	objects  ObjectStore
	logger   *zap.Logger
}

// NewHandler creates a recordings handler. objects may be nil when S3 is not configured.
func NewHandler(repo RowStore, sessions SessionLookup, objects ObjectStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, sessions: sessions, objects: objects, logger: logger}
}

// authorize allows the session organizer and holders of controlRecording or viewAllAnalytics.
func (h *Handler) authorize(c *gin.Context, sessionID uuid.UUID, action string) bool {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return false
	}
	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, err)
		return false
	}
	if actor.Can(roles.ViewAllAnalytics) {
		return true
	}
	if err := roles.RequireOrganizerOr(actor, s.OrganizerID, roles.ControlRecording, action); err != nil {
		response.FromError(c, err)
		return false
	}
	return true
}

// ListBySession handles GET /sessions/:id/recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if !h.authorize(c, sessionID, "list recordings") {
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.FromError(c, err)
		return
	}
	if list == nil {
		list = []models.Recording{}
	}
	response.OK(c, gin.H{"recordings": list})
}

// GenerateDownloadURL handles GET /recordings/:id/download-url.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), recordingID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !h.authorize(c, rec.SessionID, "download recording") {
		return
	}
	if rec.Status != models.RecordingRowCompleted || rec.S3Key == "" {
		response.BadRequest(c, "recording not ready for download")
		return
	}
	if h.objects == nil {
		response.ServiceUnavailable(c, "object storage not configured")
		return
	}
	expire := h.objects.PresignExpire()
	url, err := h.objects.GeneratePresignedDownloadURL(c.Request.Context(), h.objects.RecordingsBucket(), rec.S3Key, expire)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expire / time.Second)})
}

package reports

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/internal/rooms"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/queue"
	"github.com/aura-webinar/livesession/pkg/response"
)

// Rooms opens session rooms.
type Rooms interface {
	Open(ctx context.Context, sessionID uuid.UUID) (*rooms.Room, error)
}

// Enqueuer schedules report archive jobs.
type Enqueuer interface {
	EnqueueReportArchive(ctx context.Context, payload queue.ReportArchivePayload) (string, error)
}

// ArchiveLister lists archived reports.
type ArchiveLister interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ArchivedReport, error)
}

// Handler serves report download and archival.
type Handler struct {
	rooms    Rooms
	jobs     Enqueuer
	archived ArchiveLister
	logger   *zap.Logger
}

// NewHandler creates a reports handler. jobs may be nil, which disables archiving.
func NewHandler(rooms Rooms, jobs Enqueuer, archived ArchiveLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rooms: rooms, jobs: jobs, archived: archived, logger: logger}
}

// build renders the report of :id for an organizer or a viewAllAnalytics/generateReports holder.
func (h *Handler) build(c *gin.Context) (Report, roles.Actor, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return Report{}, roles.Actor{}, uuid.Nil, false
	}
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return Report{}, roles.Actor{}, uuid.Nil, false
	}
	room, err := h.rooms.Open(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, err)
		return Report{}, roles.Actor{}, uuid.Nil, false
	}
	if err := room.Engine.Flush(c.Request.Context()); err != nil {
		response.FromError(c, apperrors.TransientFetch("read session", err))
		return Report{}, roles.Actor{}, uuid.Nil, false
	}
	snap := room.Engine.Snapshot()
	if !actor.Can(roles.GenerateReports) {
		if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.ViewAllAnalytics, "download report"); err != nil {
			response.FromError(c, err)
			return Report{}, roles.Actor{}, uuid.Nil, false
		}
	}
	rep, err := Build(snap)
	if err != nil {
		response.FromError(c, err)
		return Report{}, roles.Actor{}, uuid.Nil, false
	}
	return rep, actor, sessionID, true
}

// Download handles GET /sessions/:id/report.
func (h *Handler) Download(c *gin.Context) {
	rep, _, _, ok := h.build(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, rep.Filename))
	c.Data(http.StatusOK, ContentType, rep.Body)
}

// Archive handles POST /sessions/:id/report/archive (generateReports). The rendered report is
// queued; the worker uploads it.
func (h *Handler) Archive(c *gin.Context) {
	if h.jobs == nil {
		response.ServiceUnavailable(c, "report archiving not configured")
		return
	}
	rep, actor, sessionID, ok := h.build(c)
	if !ok {
		return
	}
	if err := roles.Require(actor, roles.GenerateReports, "archive report"); err != nil {
		response.FromError(c, err)
		return
	}
	jobID, err := h.jobs.EnqueueReportArchive(c.Request.Context(), queue.ReportArchivePayload{
		SessionID:   sessionID,
		RequestedBy: actor.ID,
		Filename:    rep.Filename,
		Document:    rep.Body,
	})
	if err != nil {
		h.logger.Error("enqueue report archive failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.FromError(c, apperrors.TransientFetch("enqueue report archive", err))
		return
	}
	response.Accepted(c, gin.H{"job_id": jobID, "filename": rep.Filename})
}

// ListArchived handles GET /sessions/:id/reports (generateReports).
func (h *Handler) ListArchived(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.archived.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if list == nil {
		list = []models.ArchivedReport{}
	}
	response.OK(c, gin.H{"reports": list})
}

package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/internal/rooms"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/response"
)

// Store is the session persistence the handler needs.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	List(ctx context.Context, organizerID *uuid.UUID) ([]models.Session, error)
}

// Rooms opens and reloads session rooms.
type Rooms interface {
	Open(ctx context.Context, sessionID uuid.UUID) (*rooms.Room, error)
	Refresh(ctx context.Context, sessionID uuid.UUID) (*rooms.Room, error)
	Rooms() []*rooms.Room
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title            string     `json:"title" binding:"required"`
	Description      string     `json:"description"`
	ScheduledStart   time.Time  `json:"scheduled_start" binding:"required"`
	ScheduledEnd     *time.Time `json:"scheduled_end"`
	AttendeeCapacity int        `json:"attendee_capacity"`
}

// ParticipantEngagement is one row of the analytics engagement table.
type ParticipantEngagement struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"display_name"`
	EngagementScore float64   `json:"engagement_score"`
	Muted           bool      `json:"muted"`
}

// RoomMetrics is the per-room entry of GET /admin/metrics.
type RoomMetrics struct {
	SessionID        uuid.UUID               `json:"session_id"`
	Status           models.SessionStatus    `json:"status"`
	Version          uint64                  `json:"snapshot_version"`
	EventsApplied    uint64                  `json:"events_applied"`
	EventsDropped    uint64                  `json:"events_dropped"`
	AgeSeconds       int64                   `json:"age_seconds"`
	Participants     int                     `json:"participants"`
	RecordingStatus  models.RecordingStatus  `json:"recording_status"`
	RecordingBackend models.RecordingBackend `json:"recording_backend,omitempty"`
}

// Handler serves the session lifecycle, recording and analytics endpoints.
type Handler struct {
	repo   Store
	rooms  Rooms
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo Store, rooms Rooms, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, rooms: rooms, logger: logger}
}

// room resolves the :id parameter and opens its room. It writes the error response itself.
func (h *Handler) room(c *gin.Context) (*rooms.Room, roles.Actor, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, roles.Actor{}, false
	}
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, roles.Actor{}, false
	}
	room, err := h.rooms.Open(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, "open session", err)
		return nil, roles.Actor{}, false
	}
	return room, actor, true
}

func (h *Handler) fail(c *gin.Context, action string, err error) {
	if apperrors.KindOf(err) == "" {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.TransientFetch(action, err)
		} else {
			h.logger.Error(action+" failed", zap.Error(err))
		}
	}
	response.FromError(c, err)
}

// Create handles POST /sessions. The caller becomes the organizer.
func (h *Handler) Create(c *gin.Context) {
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		response.BadRequest(c, "title is required")
		return
	}
	if req.AttendeeCapacity < 0 {
		response.BadRequest(c, "attendee_capacity must not be negative")
		return
	}
	if req.ScheduledEnd != nil && req.ScheduledEnd.Before(req.ScheduledStart) {
		response.BadRequest(c, "scheduled_end is before scheduled_start")
		return
	}
	s := &models.Session{
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		OrganizerID:      actor.ID,
		OrganizerName:    middleware.UserName(c),
		ScheduledStart:   req.ScheduledStart.UTC(),
		ScheduledEnd:     req.ScheduledEnd,
		AttendeeCapacity: req.AttendeeCapacity,
		MeetingRef:       "room-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.fail(c, "create session", err)
		return
	}
	h.logger.Info("session created", zap.String("session_id", s.ID.String()), zap.String("organizer_id", actor.ID.String()))
	response.Created(c, s)
}

// List handles GET /sessions. ?mine=true limits the list to the caller's sessions.
func (h *Handler) List(c *gin.Context) {
	var organizer *uuid.UUID
	if c.Query("mine") == "true" {
		actor, ok := middleware.Actor(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			return
		}
		organizer = &actor.ID
	}
	list, err := h.repo.List(c.Request.Context(), organizer)
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	response.OK(c, gin.H{"sessions": list})
}

// Snapshot handles GET /sessions/:id: the merged live view of the session.
func (h *Handler) Snapshot(c *gin.Context) {
	room, _, ok := h.room(c)
	if !ok {
		return
	}
	if err := room.Engine.Flush(c.Request.Context()); err != nil {
		h.fail(c, "read session", err)
		return
	}
	response.OK(c, room.Engine.Snapshot())
}

// Refresh handles POST /sessions/:id/refresh: reloads the room from the store.
func (h *Handler) Refresh(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	room, err := h.rooms.Refresh(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, "refresh session", err)
		return
	}
	response.OK(c, room.Engine.Snapshot())
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	snap, err := room.Controller.Start(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "start session", err)
		return
	}
	response.OK(c, snap)
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	snap, err := room.Controller.End(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "end session", err)
		return
	}
	response.OK(c, snap)
}

// StartRecording handles POST /sessions/:id/recording/start. A standalone recording also
// returns the pre-signed upload URL for the capturing client.
func (h *Handler) StartRecording(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	state, err := room.Controller.StartRecording(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "start recording", err)
		return
	}
	body := gin.H{"recording": state}
	if state.Backend == models.BackendStandalone {
		if handle, ok := room.UploadHandle(); ok && handle.StreamRef == state.StreamRef {
			body["recording_id"] = handle.RecordingID
			body["upload_url"] = handle.UploadURL
		}
	}
	response.OK(c, body)
}

// StopRecording handles POST /sessions/:id/recording/stop.
func (h *Handler) StopRecording(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	state, err := room.Controller.StopRecording(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, "stop recording", err)
		return
	}
	response.OK(c, gin.H{"recording": state})
}

// Analytics handles GET /sessions/:id/analytics: the organizer or viewAllAnalytics.
func (h *Handler) Analytics(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	if err := room.Engine.Flush(c.Request.Context()); err != nil {
		h.fail(c, "read session", err)
		return
	}
	snap := room.Engine.Snapshot()
	if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.ViewAllAnalytics, "view analytics"); err != nil {
		response.FromError(c, err)
		return
	}
	table := make([]ParticipantEngagement, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		table = append(table, ParticipantEngagement{ID: p.ID, DisplayName: p.DisplayName, EngagementScore: p.EngagementScore, Muted: p.Muted})
	}
	response.OK(c, gin.H{
		"session_id":   snap.Session.ID,
		"status":       snap.Session.Status,
		"analytics":    snap.Analytics,
		"participants": table,
		"insights":     nonNil(snap.Insights),
	})
}

// RequestInsights handles POST /sessions/:id/insights. Results are merged into the snapshot
// as they arrive.
func (h *Handler) RequestInsights(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	snap := room.Engine.Snapshot()
	if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.ViewAllAnalytics, "request insights"); err != nil {
		response.FromError(c, err)
		return
	}
	room.RequestInsights(actor.ID.String())
	response.Accepted(c, gin.H{"session_id": room.ID, "status": "requested"})
}

// SystemMetrics handles GET /admin/metrics (accessSystemMetrics).
func (h *Handler) SystemMetrics(c *gin.Context) {
	list := h.rooms.Rooms()
	out := make([]RoomMetrics, 0, len(list))
	now := time.Now()
	for _, room := range list {
		out = append(out, roomMetrics(room.Engine.Stats(), room.Engine.Snapshot(), now))
	}
	response.OK(c, gin.H{"rooms": out, "active_rooms": len(out)})
}

func roomMetrics(st livesession.Stats, snap livesession.Snapshot, now time.Time) RoomMetrics {
	return RoomMetrics{
		SessionID:        st.SessionID,
		Status:           snap.Session.Status,
		Version:          st.Version,
		EventsApplied:    st.Applied,
		EventsDropped:    st.Dropped,
		AgeSeconds:       int64(now.Sub(st.OpenedAt).Seconds()),
		Participants:     len(snap.Participants),
		RecordingStatus:  snap.Recording.Status,
		RecordingBackend: snap.Recording.Backend,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

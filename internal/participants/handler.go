package participants

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/internal/rooms"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/response"
)

// Rooms opens session rooms.
type Rooms interface {
	Open(ctx context.Context, sessionID uuid.UUID) (*rooms.Room, error)
}

// JoinRequest is the optional body for POST /sessions/:id/join.
type JoinRequest struct {
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
}

// Handler serves participant membership and moderation.
type Handler struct {
	rooms  Rooms
	logger *zap.Logger
}

// NewHandler creates a participants handler.
func NewHandler(rooms Rooms, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rooms: rooms, logger: logger}
}

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
		response.FromError(c, err)
		return nil, roles.Actor{}, false
	}
	return room, actor, true
}

func (h *Handler) target(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("participantId"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return uuid.Nil, false
	}
	return id, true
}

// Join handles POST /sessions/:id/join. The caller joins as themselves.
func (h *Handler) Join(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	var req JoinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	name := req.DisplayName
	if name == "" {
		name = middleware.UserName(c)
	}
	p := models.Participant{ID: actor.ID, DisplayName: name, AvatarRef: req.AvatarRef, JoinedAt: time.Now().UTC()}
	snap, err := room.Join(c.Request.Context(), p)
	if err != nil {
		h.logger.Warn("join failed", zap.String("session_id", room.ID.String()), zap.Error(err))
		response.FromError(c, err)
		return
	}
	response.OK(c, snap)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	if _, joined := room.Engine.Snapshot().Participant(actor.ID); !joined {
		response.FromError(c, apperrors.NotFound("participant"))
		return
	}
	snap, err := room.Leave(c.Request.Context(), actor.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, snap)
}

// Mute handles POST /sessions/:id/participants/:participantId/mute (muteParticipant).
func (h *Handler) Mute(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	participantID, ok := h.target(c)
	if !ok {
		return
	}
	snap, err := room.Controller.Mute(c.Request.Context(), actor, participantID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, snap)
}

// Remove handles DELETE /sessions/:id/participants/:participantId (removeParticipant).
func (h *Handler) Remove(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	participantID, ok := h.target(c)
	if !ok {
		return
	}
	snap, err := room.Controller.Remove(c.Request.Context(), actor, participantID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, snap)
}

package zego

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/config"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/response"
)

// SessionLookup resolves the session a token is issued for.
type SessionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// TokenResponse is returned by GET /sessions/:id/transport-token.
type TokenResponse struct {
	Token     string `json:"token"`
	AppID     uint32 `json:"app_id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Publisher bool   `json:"publisher"`
	ExpiresIn int64  `json:"expires_in"`
}

// Handler issues video transport tokens.
type Handler struct {
	sessions SessionLookup
	cfg      config.ZegoConfig
	logger   *zap.Logger
}

// NewHandler creates a ZEGO handler.
func NewHandler(sessions SessionLookup, cfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, cfg: cfg, logger: logger}
}

// GetToken handles GET /sessions/:id/transport-token. The organizer and moderators may
// publish; other callers join as viewers.
func (h *Handler) GetToken(c *gin.Context) {
	if !h.cfg.Enabled() {
		response.ServiceUnavailable(c, "ZEGOCLOUD not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	actor, ok := middleware.Actor(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if s.Status == models.SessionStatusCompleted {
		response.FromError(c, apperrors.Validation("session has ended"))
		return
	}

	roomID := s.MeetingRef
	if roomID == "" {
		roomID = s.ID.String()
	}
	publisher := actor.ID == s.OrganizerID || actor.Role == models.RoleModerator
	expire := h.cfg.TokenExpireSeconds
	if expire <= 0 {
		expire = 3600
	}
	token, err := GenerateRoomToken(h.cfg.AppID, h.cfg.ServerSecret, roomID, actor.ID.String(), publisher, expire)
	if err != nil {
		h.logger.Error("zego token generation failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{
		Token:     token,
		AppID:     h.cfg.AppID,
		RoomID:    roomID,
		UserID:    actor.ID.String(),
		Publisher: publisher,
		ExpiresIn: expire,
	})
}

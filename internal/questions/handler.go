package questions

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/internal/rooms"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/metrics"
	"github.com/aura-webinar/livesession/pkg/response"
)

// MaxQuestionLength bounds the text of a question.
const MaxQuestionLength = 1000

// Store persists questions.
type Store interface {
	Create(ctx context.Context, q *models.Question) error
}

// Analyzer classifies question sentiment.
type Analyzer interface {
	AnalyzeQuestion(ctx context.Context, text, userID string) (models.SentimentResult, error)
}

// Rooms opens session rooms.
type Rooms interface {
	Open(ctx context.Context, sessionID uuid.UUID) (*rooms.Room, error)
}

// CreateRequest is the body for POST /sessions/:id/questions.
type CreateRequest struct {
	Text string `json:"text" binding:"required"`
}

// Handler handles question endpoints.
type Handler struct {
	repo     Store
	analyzer Analyzer
	rooms    Rooms
	logger   *zap.Logger
}

// NewHandler creates a questions handler. analyzer may be nil, in which case every question
// is stored as neutral.
func NewHandler(repo Store, analyzer Analyzer, rooms Rooms, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, analyzer: analyzer, rooms: rooms, logger: logger}
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

// List handles GET /sessions/:id/questions.
func (h *Handler) List(c *gin.Context) {
	room, _, ok := h.room(c)
	if !ok {
		return
	}
	qs := room.Engine.Snapshot().Questions
	if qs == nil {
		qs = []models.Question{}
	}
	response.OK(c, gin.H{"questions": qs})
}

// Ask handles POST /sessions/:id/questions. Sentiment comes from the analysis service;
// a failed analysis stores the question as neutral.
func (h *Handler) Ask(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" || len(text) > MaxQuestionLength {
		response.FromError(c, apperrors.Validation("question must be 1-%d characters", MaxQuestionLength))
		return
	}
	if room.Engine.Snapshot().Session.Status == models.SessionStatusCompleted {
		response.FromError(c, apperrors.Validation("session has ended"))
		return
	}

	q := &models.Question{
		SessionID: room.ID,
		AuthorID:  actor.ID,
		Text:      text,
		Sentiment: h.sentiment(c.Request.Context(), text, actor.ID),
	}
	if err := h.repo.Create(c.Request.Context(), q); err != nil {
		response.FromError(c, err)
		return
	}
	room.Mirror(c.Request.Context(), livesession.StreamQuestion, livesession.OpInsert, q)
	response.Created(c, q)
}

func (h *Handler) sentiment(ctx context.Context, text string, author uuid.UUID) models.Sentiment {
	if h.analyzer == nil {
		return models.SentimentNeutral
	}
	res, err := h.analyzer.AnalyzeQuestion(ctx, text, author.String())
	if err != nil {
		metrics.ExternalFailuresTotal.WithLabelValues("question_sentiment").Inc()
		h.logger.Warn("question sentiment failed", zap.Error(err))
		return models.SentimentNeutral
	}
	if !res.Sentiment.Valid() {
		return models.SentimentNeutral
	}
	return res.Sentiment
}

// Answer handles POST /sessions/:id/questions/:questionId/answer.
func (h *Handler) Answer(c *gin.Context) {
	room, actor, ok := h.room(c)
	if !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("questionId"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	snap, err := room.Controller.AnswerQuestion(c.Request.Context(), actor, questionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	q, _ := snap.Question(questionID)
	response.OK(c, q)
}

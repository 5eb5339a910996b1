// Package chat ingests chat messages from the video transport and rewards participation.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

// EngagementIncrement is added to a sender's engagement score after a scored message.
const EngagementIncrement = 5

// Sender identifies the author of an inbound message.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Inbound is a chat event as delivered by the transport. ID and Timestamp are optional;
// Timestamp is in Unix milliseconds.
type Inbound struct {
	ID        string  `json:"id,omitempty"`
	Sender    *Sender `json:"sender"`
	Message   *string `json:"message"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Engine is the session state the processor writes to.
type Engine interface {
	AppendChat(msg models.ChatMessage) error
	AddEngagement(participantID uuid.UUID, delta float64) error
	Submit(ev livesession.ChangeEvent) error
	Context() context.Context
}

// SentimentAnalyzer scores chat text.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, text, userID string) (models.SentimentResult, error)
}

// EngagementStore persists engagement increments so other instances converge. It returns the
// participant as stored after the increment.
type EngagementStore interface {
	AddEngagement(ctx context.Context, sessionID, participantID uuid.UUID, delta float64) (*models.Participant, error)
}

// Processor turns inbound chat events into chat messages and engagement.
type Processor struct {
	sessionID uuid.UUID
	engine    Engine
	analyzer  SentimentAnalyzer
	store     EngagementStore
	now       func() time.Time
	logger    *zap.Logger
	// scored is signalled after each sentiment attempt finishes; tests use it to synchronize.
	scored func()
}

// NewProcessor creates a chat processor for one session. store may be nil, in which case
// increments only reach the local engine.
func NewProcessor(sessionID uuid.UUID, engine Engine, analyzer SentimentAnalyzer, store EngagementStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		sessionID: sessionID,
		engine:    engine,
		analyzer:  analyzer,
		store:     store,
		now:       time.Now,
		logger:    logger.With(zap.String("session_id", sessionID.String())),
	}
}

// Normalize validates an inbound event and fills in defaults. It reports false when the
// event has no sender or no message.
func (p *Processor) Normalize(in Inbound) (models.ChatMessage, bool) {
	if in.Sender == nil || in.Sender.ID == "" || in.Message == nil {
		return models.ChatMessage{}, false
	}
	msg := models.ChatMessage{
		ID:         in.ID,
		SenderID:   in.Sender.ID,
		SenderName: in.Sender.Name,
		Text:       *in.Message,
		CreatedAt:  p.now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.NewString()
	}
	if in.Timestamp > 0 {
		msg.CreatedAt = time.UnixMilli(in.Timestamp).UTC()
	}
	return msg, true
}

// Ingest appends a chat message and starts sentiment scoring in the background. It returns
// false when the event was ignored.
func (p *Processor) Ingest(in Inbound) (models.ChatMessage, bool) {
	msg, ok := p.Normalize(in)
	if !ok {
		p.logger.Debug("chat event ignored")
		return models.ChatMessage{}, false
	}
	if err := p.engine.AppendChat(msg); err != nil {
		p.logger.Warn("chat message not appended", zap.Error(err))
		return models.ChatMessage{}, false
	}
	if p.analyzer != nil && strings.TrimSpace(msg.Text) != "" {
		go p.score(msg)
	}
	return msg, true
}

// score makes a single sentiment attempt; any failure leaves engagement unchanged.
func (p *Processor) score(msg models.ChatMessage) {
	if p.scored != nil {
		defer p.scored()
	}
	ctx := p.engine.Context()
	if _, err := p.analyzer.AnalyzeSentiment(ctx, msg.Text, msg.SenderID); err != nil {
		if ctx.Err() == nil {
			metrics.ExternalFailuresTotal.WithLabelValues("chat_sentiment").Inc()
			p.logger.Warn("chat sentiment failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	participantID, err := uuid.Parse(msg.SenderID)
	if err != nil {
		p.logger.Debug("chat sender is not a participant", zap.String("sender_id", msg.SenderID))
		return
	}
	if p.store != nil {
		stored, err := p.store.AddEngagement(ctx, p.sessionID, participantID, EngagementIncrement)
		if err == nil {
			p.mirror(stored)
			return
		}
		p.logger.Warn("engagement not persisted, applying locally", zap.Error(err))
	}
	if err := p.engine.AddEngagement(participantID, EngagementIncrement); err != nil {
		p.logger.Debug("engagement increment discarded", zap.Error(err))
	}
}

// mirror applies the stored participant locally. The change feed delivers the same record
// later; the score is absolute, so the second apply changes nothing.
func (p *Processor) mirror(stored *models.Participant) {
	if stored == nil {
		return
	}
	ev, err := livesession.NewChange(livesession.StreamParticipant, livesession.OpUpdate, stored)
	if err == nil {
		err = p.engine.Submit(ev)
	}
	if err != nil {
		p.logger.Debug("stored engagement not mirrored", zap.Error(err))
	}
}

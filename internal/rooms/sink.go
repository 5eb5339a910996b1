package rooms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/chat"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/realtime"
)

// eventTimeout bounds the store work triggered by one client event.
const eventTimeout = 10 * time.Second

// joinPayload is the data of a participant_joined event. The participant is always the
// connected user; the payload only carries display fields.
type joinPayload struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Admit opens the room of sessionID so unknown sessions are rejected before the upgrade.
func (reg *Registry) Admit(ctx context.Context, sessionID uuid.UUID) error {
	_, err := reg.Open(ctx, sessionID)
	return err
}

// ClientJoined cancels a pending idle close and sends the current snapshot to the new client.
func (reg *Registry) ClientJoined(c *realtime.Client) {
	room, ok := reg.Get(c.SessionID)
	if !ok {
		c.Send(realtime.EventError, gin.H{"error": "session not open"})
		return
	}
	room.disarmIdle()
	c.Send(realtime.EventSnapshot, room.Engine.Snapshot())
}

// ClientLeft removes the user from the session once their last connection is gone and
// schedules the room for teardown when nobody is left.
func (reg *Registry) ClientLeft(c *realtime.Client, lastForUser bool) {
	room, ok := reg.Get(c.SessionID)
	if !ok {
		return
	}
	if lastForUser {
		ctx, cancel := context.WithTimeout(room.Engine.Context(), eventTimeout)
		if err := room.Engine.Flush(ctx); err == nil {
			if _, joined := room.Engine.Snapshot().Participant(c.UserID); joined {
				if _, err := room.Leave(ctx, c.UserID); err != nil {
					room.logger.Warn("participant not removed on disconnect", zap.String("user_id", c.UserID.String()), zap.Error(err))
				}
			}
		}
		cancel()
	}
	reg.scheduleIdle(room)
}

// HandleEvent processes one event forwarded by a browser client.
func (reg *Registry) HandleEvent(c *realtime.Client, msg realtime.WSMessage) {
	room, ok := reg.Get(c.SessionID)
	if !ok {
		return
	}
	logger := room.logger.With(zap.String("event", msg.Event), zap.String("user_id", c.UserID.String()))
	ctx, cancel := context.WithTimeout(room.Engine.Context(), eventTimeout)
	defer cancel()

	switch msg.Event {
	case realtime.EventParticipantJoined:
		var in joinPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				c.Send(realtime.EventError, gin.H{"error": "invalid participant payload"})
				return
			}
		}
		name := in.Name
		if name == "" {
			name = c.Name
		}
		p := models.Participant{ID: c.UserID, DisplayName: name, AvatarRef: in.Avatar, JoinedAt: time.Now().UTC()}
		if _, err := room.Join(ctx, p); err != nil {
			logger.Warn("participant join failed", zap.Error(err))
			c.Send(realtime.EventError, gin.H{"error": err.Error()})
		}

	case realtime.EventParticipantLeft:
		if _, err := room.Leave(ctx, c.UserID); err != nil {
			logger.Warn("participant leave failed", zap.Error(err))
		}

	case realtime.EventChatMessage:
		var in chat.Inbound
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			c.Send(realtime.EventError, gin.H{"error": "invalid chat payload"})
			return
		}
		if in.Sender == nil || in.Sender.ID != c.UserID.String() {
			logger.Debug("chat message with foreign sender ignored")
			return
		}
		accepted, ok := room.Chat.Ingest(in)
		if !ok {
			return
		}
		if err := room.hub.Publish(ctx, room.ID, realtime.EventChatMessage, accepted); err != nil {
			logger.Warn("chat message not relayed", zap.Error(err))
		}

	case realtime.EventTransportReady:
		if c.UserID == room.Engine.Snapshot().Session.OrganizerID || c.Role == models.RoleModerator {
			room.hub.SetHost(c)
			logger.Info("transport host connected")
		} else {
			logger.Debug("transport_ready from non-hosting client ignored")
		}

	case realtime.EventMeetingStarted, realtime.EventMeetingEnded:
		logger.Info("transport meeting event")

	default:
		logger.Debug("unknown client event")
	}
}

// RemoteEvent applies events published by other instances.
func (reg *Registry) RemoteEvent(sessionID uuid.UUID, msg realtime.WSMessage) {
	room, ok := reg.Get(sessionID)
	if !ok {
		return
	}
	switch msg.Event {
	case realtime.EventChatMessage:
		var m models.ChatMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil || m.ID == "" {
			room.logger.Debug("remote chat message dropped", zap.Error(err))
			return
		}
		if err := room.Engine.AppendChat(m); err != nil {
			room.logger.Debug("remote chat message not appended", zap.Error(err))
		}
	default:
		room.logger.Debug("remote event ignored", zap.String("event", msg.Event))
	}
}

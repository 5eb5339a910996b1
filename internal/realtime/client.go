package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/response"
)

const maxMessageSize = 65536

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection to a session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      models.Role
	Name      string
	JoinedAt  time.Time
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewClient creates a client that is not yet registered with the hub.
func NewClient(hub *Hub, sessionID, userID uuid.UUID, role models.Role, name string, conn *websocket.Conn) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Name:      name,
		JoinedAt:  time.Now().UTC(),
		hub:       hub,
		conn:      conn,
		send:      make(chan WSMessage, sendBuffer),
		logger:    hub.logger,
	}
}

// Send queues a message for this client only.
func (c *Client) Send(event string, payload any) {
	msg, err := newMessage(event, payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.sessions[c.SessionID][c.ID] == c {
		c.enqueue(msg)
	}
}

// enqueue must be called with the hub lock held.
func (c *Client) enqueue(msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		// buffer full, skip
		return false
	}
}

// closeSend must be called with the hub write lock held.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ServeWs handles the WebSocket upgrade for GET /ws/sessions/:id and runs the client loop.
// It expects the JWT middleware to have authenticated the request.
func ServeWs(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid session id")
			return
		}
		actor, ok := middleware.Actor(c)
		if !ok {
			response.Unauthorized(c, "unauthorized")
			return
		}
		if err := hub.Admit(c.Request.Context(), sessionID); err != nil {
			if apperrors.KindOf(err) == "" {
				err = apperrors.TransientFetch("open session", err)
			}
			response.FromError(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, sessionID, actor.ID, actor.Role, middleware.UserName(c), conn)
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logger.Debug("websocket read ended", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message. Command acknowledgements are resolved by the hub;
// everything else goes to the sink.
func (c *Client) dispatch(msg WSMessage) {
	if msg.Event == EventCommandResult {
		var res CommandResult
		if err := json.Unmarshal(msg.Data, &res); err == nil && res.RequestID != "" {
			c.hub.resolve(res)
		}
		return
	}
	if sink := c.hub.eventSink(); sink != nil {
		sink.HandleEvent(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

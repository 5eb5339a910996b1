// Package realtime maintains the WebSocket connections of each session, relays session
// events between instances and carries commands to the client hosting the video transport.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// Events exchanged with browser clients.
const (
	EventSnapshot          = "snapshot"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventChatMessage       = "chat_message"
	EventMeetingStarted    = "meeting_started"
	EventMeetingEnded      = "meeting_ended"
	EventTransportReady    = "transport_ready"
	EventCommandResult     = "command_result"
	EventError             = "error"

	// eventCommand relays a fire-and-forget transport command to other instances.
	eventCommand = "transport_command"
)

// Transport commands sent to the hosting client.
const (
	CommandToggleAudio       = "toggle_audio"
	CommandToggleVideo       = "toggle_video"
	CommandStartRecording    = "start_recording"
	CommandStopRecording     = "stop_recording"
	CommandHangUp            = "hang_up"
	CommandMeetingAvailable  = "meeting_available"
	CommandRemoveParticipant = "remove_participant"
)

var (
	// ErrNoHost is returned when no local client hosts the session's video transport.
	ErrNoHost = errors.New("realtime: no transport host connected")
	// ErrCommandFailed is returned when the host reports a command failure.
	ErrCommandFailed = errors.New("realtime: transport command failed")
)

// EventSink receives connection and event notifications for every session on this instance.
type EventSink interface {
	// Admit is called before the WebSocket upgrade; an error rejects the connection.
	Admit(ctx context.Context, sessionID uuid.UUID) error
	ClientJoined(c *Client)
	// ClientLeft reports whether c was the user's last local connection to the session.
	ClientLeft(c *Client, lastForUser bool)
	HandleEvent(c *Client, msg WSMessage)
	// RemoteEvent delivers an event published by another instance.
	RemoteEvent(sessionID uuid.UUID, msg WSMessage)
}

// Bus carries session events between instances.
type Bus interface {
	Publish(ctx context.Context, sessionID uuid.UUID, payload []byte) error
	Subscribe(sessionID uuid.UUID, handler func(payload []byte)) (cancel func(), err error)
}

// busMessage is the message published on the bus.
type busMessage struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
	At     int64           `json:"at"`
}

// Command is a transport command as delivered to the hosting client.
type Command struct {
	RequestID string         `json:"request_id,omitempty"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
}

// CommandResult is the hosting client's acknowledgement of a command.
type CommandResult struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	StreamRef string `json:"stream_ref,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Hub maintains session_id -> set of connections and broadcasts messages.
type Hub struct {
	sessions map[uuid.UUID]map[string]*Client
	hosts    map[uuid.UUID]*Client
	subs     map[uuid.UUID]func()
	pending  map[string]chan CommandResult
	mu       sync.RWMutex
	origin   string
	bus      Bus
	sink     EventSink
	logger   *zap.Logger
}

// NewHub creates a WebSocket hub. bus may be nil for a single-instance deployment.
func NewHub(logger *zap.Logger, bus Bus) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		hosts:    make(map[uuid.UUID]*Client),
		subs:     make(map[uuid.UUID]func()),
		pending:  make(map[string]chan CommandResult),
		origin:   uuid.NewString(),
		bus:      bus,
		logger:   logger,
	}
}

// SetSink sets the receiver of connection and event notifications.
func (h *Hub) SetSink(sink EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = sink
}

func (h *Hub) eventSink() EventSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sink
}

// Admit asks the sink whether a connection to sessionID may be opened.
func (h *Hub) Admit(ctx context.Context, sessionID uuid.UUID) error {
	if sink := h.eventSink(); sink != nil {
		return sink.Admit(ctx, sessionID)
	}
	return nil
}

// Register adds a client to a session. Starts the bus subscription for the session on its first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.bus != nil {
			sessionID := c.SessionID
			cancel, err := h.bus.Subscribe(sessionID, func(payload []byte) {
				h.handleBus(sessionID, payload)
			})
			if err != nil {
				h.logger.Warn("session bus subscription failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			} else {
				h.subs[sessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	sink := h.sink
	h.mu.Unlock()

	metrics.WebsocketConnections.Inc()
	if sink != nil {
		sink.ClientJoined(c)
	}
	h.logger.Debug("client joined session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client from its session. Cancels the bus subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, ok := h.sessions[c.SessionID]
	if !ok || m[c.ID] != c {
		h.mu.Unlock()
		return
	}
	delete(m, c.ID)
	c.closeSend()
	if h.hosts[c.SessionID] == c {
		delete(h.hosts, c.SessionID)
	}
	lastForUser := true
	for _, other := range m {
		if other.UserID == c.UserID {
			lastForUser = false
			break
		}
	}
	if len(m) == 0 {
		delete(h.sessions, c.SessionID)
		if cancel, ok := h.subs[c.SessionID]; ok {
			cancel()
			delete(h.subs, c.SessionID)
		}
	}
	sink := h.sink
	h.mu.Unlock()

	metrics.WebsocketConnections.Dec()
	if sink != nil {
		sink.ClientLeft(c, lastForUser)
	}
	h.logger.Debug("client left session", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// AudienceCount returns the number of local connections to a session.
func (h *Hub) AudienceCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Broadcast sends a message to all local clients of a session.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload any) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Warn("broadcast payload not encodable", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.sessions[sessionID] {
		c.enqueue(msg)
	}
}

// Publish sends an event to the other instances serving the session. Local clients are not notified.
func (h *Hub) Publish(ctx context.Context, sessionID uuid.UUID, event string, payload any) error {
	if h.bus == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(busMessage{Event: event, Data: data, Origin: h.origin, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	return h.bus.Publish(ctx, sessionID, body)
}

func (h *Hub) handleBus(sessionID uuid.UUID, payload []byte) {
	var m busMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		h.logger.Debug("bus message dropped", zap.Error(err))
		return
	}
	if m.Origin == h.origin {
		return
	}
	msg := WSMessage{Event: m.Event, Data: m.Data}
	if m.Event == eventCommand {
		var cmd Command
		if err := json.Unmarshal(m.Data, &cmd); err == nil {
			h.sendToHost(sessionID, cmd)
		}
		return
	}
	if sink := h.eventSink(); sink != nil {
		sink.RemoteEvent(sessionID, msg)
	}
}

// SetHost marks c as the client hosting its session's video transport.
func (h *Hub) SetHost(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[c.SessionID][c.ID] == c {
		h.hosts[c.SessionID] = c
	}
}

// HasHost reports whether a local client hosts the session's video transport.
func (h *Hub) HasHost(sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hosts[sessionID] != nil
}

func (h *Hub) sendToHost(sessionID uuid.UUID, cmd Command) bool {
	msg, err := newMessage(cmd.Name, cmd)
	if err != nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	host := h.hosts[sessionID]
	if host == nil {
		return false
	}
	return host.enqueue(msg)
}

// Notify sends a command to the transport host without waiting for an acknowledgement.
// The command is also relayed to other instances, whose hosts receive it too.
func (h *Hub) Notify(ctx context.Context, sessionID uuid.UUID, name string, args map[string]any) {
	cmd := Command{Name: name, Args: args}
	h.sendToHost(sessionID, cmd)
	if err := h.Publish(ctx, sessionID, eventCommand, cmd); err != nil {
		h.logger.Warn("transport command not relayed", zap.String("command", name), zap.Error(err))
	}
}

// Command sends a command to the local transport host and waits for its command_result.
func (h *Hub) Command(ctx context.Context, sessionID uuid.UUID, name string, args map[string]any) (CommandResult, error) {
	cmd := Command{RequestID: uuid.NewString(), Name: name, Args: args}
	ch := make(chan CommandResult, 1)
	h.mu.Lock()
	h.pending[cmd.RequestID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, cmd.RequestID)
		h.mu.Unlock()
	}()

	if !h.sendToHost(sessionID, cmd) {
		return CommandResult{}, ErrNoHost
	}
	select {
	case res := <-ch:
		if !res.OK {
			return res, errors.Join(ErrCommandFailed, errors.New(res.Error))
		}
		return res, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// resolve hands a command_result to the waiting Command call, if any.
func (h *Hub) resolve(res CommandResult) {
	h.mu.RLock()
	ch, ok := h.pending[res.RequestID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func newMessage(event string, payload any) (WSMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return WSMessage{Event: event, Data: v}, nil
	case []byte:
		return WSMessage{Event: event, Data: v}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Event: event, Data: data}, nil
}

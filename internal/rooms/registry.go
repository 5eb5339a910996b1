// Package rooms owns the per-session runtime: one Room per open session, holding the
// engine, recording coordinator, chat processor, insight pipeline and lifecycle controller.
// Rooms are opened lazily and torn down once no local client is connected.
package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/analysis"
	"github.com/aura-webinar/livesession/internal/chat"
	"github.com/aura-webinar/livesession/internal/insights"
	"github.com/aura-webinar/livesession/internal/lifecycle"
	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/realtime"
	"github.com/aura-webinar/livesession/internal/recordings"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

// DefaultIdleClose is how long a room without local clients stays open.
const DefaultIdleClose = 2 * time.Minute

// SessionStore loads and transitions sessions.
type SessionStore interface {
	lifecycle.SessionStore
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// ParticipantStore loads and mutates participants.
type ParticipantStore interface {
	lifecycle.ParticipantStore
	chat.EngagementStore
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	Upsert(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Participant, error)
}

// QuestionStore loads and mutates questions.
type QuestionStore interface {
	lifecycle.QuestionStore
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error)
}

// Feed is the change-stream subscription.
type Feed interface {
	Subscribe(ctx context.Context, sessionID uuid.UUID, handler func(livesession.ChangeEvent)) (cancel func(), err error)
}

// Analyzer is the analysis service as used by rooms.
type Analyzer interface {
	SessionInsights(ctx context.Context, sc analysis.SessionContext) ([]models.Insight, error)
	AnalyzeQuestion(ctx context.Context, text, userID string) (models.SentimentResult, error)
	AnalyzeSentiment(ctx context.Context, text, userID string) (models.SentimentResult, error)
}

// Deps groups the collaborators shared by every room.
type Deps struct {
	Sessions       SessionStore
	Participants   ParticipantStore
	Questions      QuestionStore
	Feed           Feed
	Hub            *realtime.Hub
	Standalone     recordings.Standalone
	Analyzer       Analyzer
	IdleClose      time.Duration
	CommandTimeout time.Duration
	Logger         *zap.Logger
}

type entry struct {
	ready chan struct{}
	room  *Room
	err   error
}

// Registry holds the open rooms of this instance (thread-safe).
type Registry struct {
	deps   Deps
	mu     sync.Mutex
	rooms  map[uuid.UUID]*entry
	closed bool
	logger *zap.Logger
}

// NewRegistry creates a registry and installs it as the hub's event sink.
func NewRegistry(d Deps) *Registry {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.IdleClose <= 0 {
		d.IdleClose = DefaultIdleClose
	}
	reg := &Registry{deps: d, rooms: make(map[uuid.UUID]*entry), logger: d.Logger}
	if d.Hub != nil {
		d.Hub.SetSink(reg)
	}
	return reg
}

// Open returns the room of sessionID, loading it from the store on first use. A store failure
// leaves no room behind, so the next call retries.
func (reg *Registry) Open(ctx context.Context, sessionID uuid.UUID) (*Room, error) {
	return reg.openWith(ctx, sessionID, models.RecordingState{})
}

// openWith opens the room of sessionID. carried is the recording state of a room of the same
// session torn down just before; an active recording in it is resumed.
func (reg *Registry) openWith(ctx context.Context, sessionID uuid.UUID, carried models.RecordingState) (*Room, error) {
	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		return nil, apperrors.TransientFetch("server shutting down", nil)
	}
	e, ok := reg.rooms[sessionID]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		reg.rooms[sessionID] = e
	}
	reg.mu.Unlock()

	if ok {
		select {
		case <-e.ready:
			return e.room, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.room, e.err = reg.open(ctx, sessionID, carried)
	if e.err != nil {
		reg.mu.Lock()
		delete(reg.rooms, sessionID)
		reg.mu.Unlock()
	} else {
		metrics.RoomsActive.Inc()
		reg.scheduleIdle(e.room)
	}
	close(e.ready)
	return e.room, e.err
}

// Get returns the room of sessionID if it is open and loaded.
func (reg *Registry) Get(sessionID uuid.UUID) (*Room, bool) {
	reg.mu.Lock()
	e, ok := reg.rooms[sessionID]
	reg.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.ready:
		return e.room, e.err == nil
	default:
		return nil, false
	}
}

// Rooms returns the loaded rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var list []*Room
	for _, e := range reg.rooms {
		select {
		case <-e.ready:
			if e.room != nil {
				list = append(list, e.room)
			}
		default:
		}
	}
	return list
}

// Refresh tears down the room of sessionID and loads it again from the store. An active
// recording survives the refresh.
func (reg *Registry) Refresh(ctx context.Context, sessionID uuid.UUID) (*Room, error) {
	var carried models.RecordingState
	if room, ok := reg.Get(sessionID); ok && room.Recorder != nil {
		carried = room.Recorder.State()
	}
	reg.Close(sessionID)
	return reg.openWith(ctx, sessionID, carried)
}

// Close tears down the room of sessionID. Completions arriving afterwards are discarded.
func (reg *Registry) Close(sessionID uuid.UUID) {
	reg.closeRoom(sessionID, nil)
}

// closeRoom tears down the room of sessionID; when only is set, only if that room is still
// the one registered.
func (reg *Registry) closeRoom(sessionID uuid.UUID, only *Room) {
	reg.mu.Lock()
	e, ok := reg.rooms[sessionID]
	if ok {
		select {
		case <-e.ready:
			if only != nil && e.room != only {
				ok = false
			} else {
				delete(reg.rooms, sessionID)
			}
		default:
			ok = false
		}
	}
	reg.mu.Unlock()
	if ok && e.room != nil {
		e.room.close()
		metrics.RoomsActive.Dec()
	}
}

// CloseAll tears down every room and refuses new ones.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	reg.closed = true
	ids := make([]uuid.UUID, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	reg.mu.Unlock()
	for _, id := range ids {
		reg.Close(id)
	}
}

func (reg *Registry) open(ctx context.Context, sessionID uuid.UUID, carried models.RecordingState) (*Room, error) {
	d := reg.deps
	logger := reg.logger.With(zap.String("session_id", sessionID.String()))

	opts := []livesession.Option{livesession.WithLogger(reg.logger)}
	if d.Hub != nil {
		opts = append(opts, livesession.WithObserver(func(s livesession.Snapshot) {
			d.Hub.Broadcast(sessionID, realtime.EventSnapshot, s)
		}))
	}
	engine := livesession.NewEngine(sessionID, opts...)
	engine.Start()

	room := &Room{ID: sessionID, Engine: engine, logger: logger}

	// Feed events received while loading are held back and replayed after the initial
	// inserts, so every record converges to its latest committed version.
	gate := newLoadGate(engine)
	if d.Feed != nil {
		cancel, err := d.Feed.Subscribe(engine.Context(), sessionID, gate.deliver)
		if err != nil {
			engine.Close()
			return nil, apperrors.TransientFetch("subscribe to session changes", err)
		}
		room.unsubscribe = cancel
	}
	if err := reg.load(ctx, sessionID, gate); err != nil {
		room.close()
		return nil, err
	}
	gate.open()
	if err := engine.Flush(ctx); err != nil {
		room.close()
		return nil, apperrors.TransientFetch("load session state", err)
	}

	var transport *realtime.TransportBridge
	var control recordings.TransportControl
	if d.Hub != nil {
		transport = realtime.NewTransportBridge(d.Hub, sessionID, d.CommandTimeout)
		control = transport
	}
	var standalone recordings.Standalone
	if d.Standalone != nil {
		standalone = &uploadCapture{Standalone: d.Standalone, room: room}
	}
	room.Recorder = recordings.NewCoordinator(sessionID, control, standalone, func(ctx context.Context, state models.RecordingState) error {
		return engine.SetRecording(ctx, state)
	}, reg.logger)
	if err := reg.resumeRecording(ctx, room, carried); err != nil {
		room.close()
		return nil, err
	}

	room.Insights = insights.NewPipeline(d.Analyzer, reg.logger)
	room.Chat = chat.NewProcessor(sessionID, engine, d.Analyzer, d.Participants, reg.logger)

	deps := lifecycle.Deps{
		Engine:       engine,
		Sessions:     d.Sessions,
		Participants: d.Participants,
		Questions:    d.Questions,
		Recorder:     room.Recorder,
		Logger:       reg.logger,
	}
	if transport != nil {
		deps.Transport = transport
	}
	room.Controller = lifecycle.NewController(sessionID, deps)
	room.hub = d.Hub
	room.participants = d.Participants

	logger.Info("room opened", zap.Uint64("version", engine.Snapshot().Version))
	return room, nil
}

// resumeRecording hands a recording still in progress to the new room's coordinator: the
// carried state of a refreshed room, else the standalone recording left open in the store.
func (reg *Registry) resumeRecording(ctx context.Context, room *Room, carried models.RecordingState) error {
	if carried.Status == models.RecordingRecording {
		room.Recorder.Resume(ctx, carried)
		return nil
	}
	if reg.deps.Standalone == nil {
		return nil
	}
	h, ok, err := reg.deps.Standalone.Active(ctx, room.ID)
	if err != nil {
		return apperrors.TransientFetch("load active recording", err)
	}
	if ok {
		room.Recorder.Resume(ctx, models.RecordingState{
			Status:    models.RecordingRecording,
			Backend:   models.BackendStandalone,
			StreamRef: h.StreamRef,
		})
	}
	return nil
}

// load queues the stored session, participants and questions as insert events.
func (reg *Registry) load(ctx context.Context, sessionID uuid.UUID, gate *loadGate) error {
	d := reg.deps
	s, err := d.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := gate.insert(livesession.StreamSession, s); err != nil {
		return err
	}
	if d.Participants != nil {
		list, err := d.Participants.ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, p := range list {
			if err := gate.insert(livesession.StreamParticipant, p); err != nil {
				return err
			}
		}
	}
	if d.Questions != nil {
		list, err := d.Questions.ListBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, q := range list {
			if err := gate.insert(livesession.StreamQuestion, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadGate holds feed events back until the initial state is queued.
type loadGate struct {
	mu      sync.Mutex
	engine  *livesession.Engine
	loaded  bool
	pending []livesession.ChangeEvent
}

func newLoadGate(engine *livesession.Engine) *loadGate {
	return &loadGate{engine: engine}
}

func (g *loadGate) insert(stream livesession.Stream, record any) error {
	ev, err := livesession.NewChange(stream, livesession.OpInsert, record)
	if err != nil {
		return err
	}
	if err := g.engine.Submit(ev); err != nil {
		return apperrors.TransientFetch("queue initial state", err)
	}
	return nil
}

func (g *loadGate) deliver(ev livesession.ChangeEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loaded {
		g.pending = append(g.pending, ev)
		return
	}
	_ = g.engine.Submit(ev)
}

func (g *loadGate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ev := range g.pending {
		_ = g.engine.Submit(ev)
	}
	g.pending = nil
	g.loaded = true
}

func (reg *Registry) scheduleIdle(room *Room) {
	if reg.deps.Hub == nil || reg.deps.Hub.AudienceCount(room.ID) > 0 {
		return
	}
	room.armIdle(reg.deps.IdleClose, func() {
		if current, ok := reg.Get(room.ID); !ok || current != room {
			return
		}
		if reg.deps.Hub.AudienceCount(room.ID) > 0 {
			return
		}
		// The coordinator of an active recording lives in the room; keep it until stopped.
		if room.Recorder != nil && room.Recorder.State().Status == models.RecordingRecording {
			reg.scheduleIdle(room)
			return
		}
		reg.logger.Info("closing idle room", zap.String("session_id", room.ID.String()))
		reg.closeRoom(room.ID, room)
	})
}

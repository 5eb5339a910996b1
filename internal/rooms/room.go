package rooms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/chat"
	"github.com/aura-webinar/livesession/internal/insights"
	"github.com/aura-webinar/livesession/internal/lifecycle"
	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/realtime"
	"github.com/aura-webinar/livesession/internal/recordings"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

// Room is the runtime of one open session on this instance.
type Room struct {
	ID         uuid.UUID
	Engine     *livesession.Engine
	Controller *lifecycle.Controller
	Recorder   *recordings.Coordinator
	Chat       *chat.Processor
	Insights   *insights.Pipeline

	hub          *realtime.Hub
	participants ParticipantStore
	unsubscribe  func()
	upload       atomic.Pointer[recordings.Handle]

	idleMu sync.Mutex
	idle   *time.Timer

	logger *zap.Logger
}

func (r *Room) close() {
	r.disarmIdle()
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.Engine.Close()
	r.logger.Info("room closed")
}

func (r *Room) armIdle(after time.Duration, fn func()) {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()
	if r.idle != nil {
		r.idle.Stop()
	}
	r.idle = time.AfterFunc(after, fn)
}

func (r *Room) disarmIdle() {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()
	if r.idle != nil {
		r.idle.Stop()
		r.idle = nil
	}
}

// UploadHandle returns the upload target of the last standalone recording started in this room.
func (r *Room) UploadHandle() (recordings.Handle, bool) {
	h := r.upload.Load()
	if h == nil {
		return recordings.Handle{}, false
	}
	return *h, true
}

// RequestInsights starts the insight pipeline on the current snapshot. Results are appended
// as they arrive; a room closed in the meantime discards them.
func (r *Room) RequestInsights(requestedBy string) {
	results := r.Insights.Request(r.Engine.Context(), r.Engine.Snapshot(), requestedBy)
	go func() {
		for in := range results {
			if err := r.Engine.AppendInsights(in); err != nil {
				r.logger.Debug("insight discarded", zap.Error(err))
				return
			}
		}
	}()
}

// Join stores p as a participant of the session and applies it locally.
func (r *Room) Join(ctx context.Context, p models.Participant) (livesession.Snapshot, error) {
	if r.participants == nil {
		return r.Engine.Snapshot(), apperrors.TransientFetch("participant store unavailable", nil)
	}
	if snap := r.Engine.Snapshot(); snap.Session.Status == models.SessionStatusCompleted {
		return snap, apperrors.Validation("session has ended")
	}
	stored, err := r.participants.Upsert(ctx, r.ID, p)
	if err != nil {
		return r.Engine.Snapshot(), err
	}
	return r.Mirror(ctx, livesession.StreamParticipant, livesession.OpInsert, stored), nil
}

// Leave removes a participant from the session.
func (r *Room) Leave(ctx context.Context, participantID uuid.UUID) (livesession.Snapshot, error) {
	if r.participants == nil {
		return r.Engine.Snapshot(), apperrors.TransientFetch("participant store unavailable", nil)
	}
	if err := r.participants.Delete(ctx, r.ID, participantID); err != nil {
		return r.Engine.Snapshot(), err
	}
	return r.Mirror(ctx, livesession.StreamParticipant, livesession.OpDelete, models.Participant{ID: participantID}), nil
}

// Mirror applies a committed store record locally without waiting for the change feed.
// The feed delivers the same record later; applying it twice is harmless.
func (r *Room) Mirror(ctx context.Context, stream livesession.Stream, op livesession.Op, record any) livesession.Snapshot {
	ev, err := livesession.NewChange(stream, op, record)
	if err == nil {
		var snap livesession.Snapshot
		if snap, err = r.Engine.Apply(ctx, ev); err == nil {
			return snap
		}
	}
	r.logger.Debug("local mirror skipped", zap.String("stream", string(stream)), zap.Error(err))
	return r.Engine.Snapshot()
}

// uploadCapture remembers the upload target of standalone recordings so the caller that
// started the recording can be handed the URL.
type uploadCapture struct {
	recordings.Standalone
	room *Room
}

func (u *uploadCapture) Start(ctx context.Context, sessionID uuid.UUID) (recordings.Handle, error) {
	h, err := u.Standalone.Start(ctx, sessionID)
	if err != nil {
		return h, err
	}
	u.room.upload.Store(&h)
	return h, nil
}

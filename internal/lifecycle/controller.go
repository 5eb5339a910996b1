// Package lifecycle executes the privileged actions of a live session: moving it through
// upcoming → live → completed, moderating participants, controlling recording and answering
// questions. Every action re-checks the caller and the freshest snapshot before mutating.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/pkg/apperrors"
	"github.com/aura-webinar/livesession/pkg/metrics"
)

// Engine is the session state the controller reads and writes through.
type Engine interface {
	Snapshot() livesession.Snapshot
	Apply(ctx context.Context, ev livesession.ChangeEvent) (livesession.Snapshot, error)
	Flush(ctx context.Context) error
}

// SessionStore performs the conditional status write.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (*models.Session, error)
	SetEngagementScore(ctx context.Context, id uuid.UUID, score float64) error
}

// ParticipantStore persists moderation actions.
type ParticipantStore interface {
	SetMuted(ctx context.Context, sessionID, participantID uuid.UUID, muted bool) (*models.Participant, error)
	Delete(ctx context.Context, sessionID, participantID uuid.UUID) error
}

// QuestionStore persists answered flags.
type QuestionStore interface {
	SetAnswered(ctx context.Context, id uuid.UUID) (*models.Question, error)
}

// Recorder is the session's recording coordinator.
type Recorder interface {
	State() models.RecordingState
	Start(ctx context.Context) (models.RecordingState, error)
	Stop(ctx context.Context) (models.RecordingState, error)
}

// Transport receives fire-and-forget commands for the embedded video transport.
type Transport interface {
	SignalAvailable(ctx context.Context)
	HangUp(ctx context.Context)
	Mute(ctx context.Context, participantID uuid.UUID)
	Remove(ctx context.Context, participantID uuid.UUID)
}

// Deps groups the collaborators of a Controller.
type Deps struct {
	Engine       Engine
	Sessions     SessionStore
	Participants ParticipantStore
	Questions    QuestionStore
	Recorder     Recorder
	Transport    Transport
	Logger       *zap.Logger
}

// Controller runs privileged actions for one session. Actions are serialized.
type Controller struct {
	mu           sync.Mutex
	sessionID    uuid.UUID
	engine       Engine
	sessions     SessionStore
	participants ParticipantStore
	questions    QuestionStore
	recorder     Recorder
	transport    Transport
	now          func() time.Time
	logger       *zap.Logger
}

// NewController creates a controller for sessionID.
func NewController(sessionID uuid.UUID, d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sessionID:    sessionID,
		engine:       d.Engine,
		sessions:     d.Sessions,
		participants: d.Participants,
		questions:    d.Questions,
		recorder:     d.Recorder,
		transport:    d.Transport,
		now:          time.Now,
		logger:       logger.With(zap.String("session_id", sessionID.String())),
	}
}

// fresh waits for queued events to be merged and returns the resulting snapshot.
func (c *Controller) fresh(ctx context.Context) (livesession.Snapshot, error) {
	if err := c.engine.Flush(ctx); err != nil {
		return livesession.Snapshot{}, err
	}
	return c.engine.Snapshot(), nil
}

// mirror applies a committed store record to the local engine without waiting for the change feed.
func (c *Controller) mirror(ctx context.Context, stream livesession.Stream, op livesession.Op, record any) livesession.Snapshot {
	ev, err := livesession.NewChange(stream, op, record)
	if err == nil {
		var snap livesession.Snapshot
		if snap, err = c.engine.Apply(ctx, ev); err == nil {
			return snap
		}
	}
	c.logger.Debug("local mirror skipped", zap.String("stream", string(stream)), zap.Error(err))
	return c.engine.Snapshot()
}

// Start moves the session from upcoming to live. Starting a live session is a no-op.
func (c *Controller) Start(ctx context.Context, actor roles.Actor) (livesession.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.fresh(ctx)
	if err != nil {
		return snap, err
	}
	if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.EndSession, "start session"); err != nil {
		return snap, err
	}
	switch snap.Session.Status {
	case models.SessionStatusLive:
		return snap, nil
	case models.SessionStatusCompleted:
		return snap, apperrors.Validation("cannot start a completed session")
	}

	updated, err := c.sessions.UpdateStatus(ctx, c.sessionID, models.SessionStatusUpcoming, models.SessionStatusLive, c.now().UTC())
	if err != nil {
		if settled, ok := c.settledElsewhere(ctx, err, models.SessionStatusLive); ok {
			return settled, nil
		}
		return snap, err
	}
	snap = c.mirror(ctx, livesession.StreamSession, livesession.OpUpdate, updated)
	if c.transport != nil {
		c.transport.SignalAvailable(ctx)
	}
	c.logger.Info("session started", zap.String("actor_id", actor.ID.String()))
	return snap, nil
}

// End moves the session from live to completed, halts any active recording and hangs up the
// transport. Ending a completed session is a no-op.
func (c *Controller) End(ctx context.Context, actor roles.Actor) (livesession.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.fresh(ctx)
	if err != nil {
		return snap, err
	}
	if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.EndSession, "end session"); err != nil {
		return snap, err
	}
	switch snap.Session.Status {
	case models.SessionStatusCompleted:
		return snap, nil
	case models.SessionStatusUpcoming:
		return snap, apperrors.Validation("cannot end a session that has not started")
	}

	updated, err := c.sessions.UpdateStatus(ctx, c.sessionID, models.SessionStatusLive, models.SessionStatusCompleted, c.now().UTC())
	if err != nil {
		if _, ok := c.settledElsewhere(ctx, err, models.SessionStatusCompleted); ok {
			c.haltRecording(ctx)
			return c.fresh(ctx)
		}
		return snap, err
	}
	ended := c.mirror(ctx, livesession.StreamSession, livesession.OpUpdate, updated)
	if err := c.sessions.SetEngagementScore(ctx, c.sessionID, ended.Analytics.AvgEngagement); err != nil {
		c.logger.Warn("final engagement score not saved", zap.Error(err))
	}

	c.haltRecording(ctx)
	if c.transport != nil {
		c.transport.HangUp(ctx)
	}
	c.logger.Info("session ended", zap.String("actor_id", actor.ID.String()))
	return c.fresh(ctx)
}

// settledElsewhere handles a lost compare-and-set: when the store already holds target, another
// instance made the same transition and the action is a replay.
func (c *Controller) settledElsewhere(ctx context.Context, casErr error, target models.SessionStatus) (livesession.Snapshot, bool) {
	if !errors.Is(casErr, apperrors.ErrValidation) {
		return livesession.Snapshot{}, false
	}
	current, err := c.sessions.GetByID(ctx, c.sessionID)
	if err != nil || current.Status != target {
		return livesession.Snapshot{}, false
	}
	c.logger.Info("transition already applied", zap.String("status", string(target)))
	return c.mirror(ctx, livesession.StreamSession, livesession.OpUpdate, current), true
}

// haltRecording stops an active recording; a failure never blocks the end of the session.
func (c *Controller) haltRecording(ctx context.Context) {
	if c.recorder == nil || c.recorder.State().Status != models.RecordingRecording {
		return
	}
	if _, err := c.recorder.Stop(ctx); err != nil {
		metrics.ExternalFailuresTotal.WithLabelValues("recording_halt").Inc()
		c.logger.Warn("recording not halted at session end", zap.Error(err))
	}
}

// moderationTarget checks the caller, the session state and the participant for a moderation action.
func (c *Controller) moderationTarget(ctx context.Context, actor roles.Actor, capability roles.Capability, action string, participantID uuid.UUID) error {
	snap, err := c.fresh(ctx)
	if err != nil {
		return err
	}
	if err := roles.Require(actor, capability, action); err != nil {
		return err
	}
	if snap.Session.Status == models.SessionStatusCompleted {
		return apperrors.Validation("session has ended")
	}
	if _, ok := snap.Participant(participantID); !ok {
		return apperrors.NotFound("participant")
	}
	return nil
}

// Mute mutes a participant in the store and on the transport.
func (c *Controller) Mute(ctx context.Context, actor roles.Actor, participantID uuid.UUID) (livesession.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.moderationTarget(ctx, actor, roles.MuteParticipant, "mute participant", participantID); err != nil {
		return c.engine.Snapshot(), err
	}
	p, err := c.participants.SetMuted(ctx, c.sessionID, participantID, true)
	if err != nil {
		return c.engine.Snapshot(), err
	}
	snap := c.mirror(ctx, livesession.StreamParticipant, livesession.OpUpdate, p)
	if c.transport != nil {
		c.transport.Mute(ctx, participantID)
	}
	return snap, nil
}

// Remove removes a participant from the session and the transport.
func (c *Controller) Remove(ctx context.Context, actor roles.Actor, participantID uuid.UUID) (livesession.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.moderationTarget(ctx, actor, roles.RemoveParticipant, "remove participant", participantID); err != nil {
		return c.engine.Snapshot(), err
	}
	if err := c.participants.Delete(ctx, c.sessionID, participantID); err != nil {
		return c.engine.Snapshot(), err
	}
	snap := c.mirror(ctx, livesession.StreamParticipant, livesession.OpDelete, models.Participant{ID: participantID})
	if c.transport != nil {
		c.transport.Remove(ctx, participantID)
	}
	return snap, nil
}

// StartRecording starts recording a live session.
func (c *Controller) StartRecording(ctx context.Context, actor roles.Actor) (models.RecordingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.fresh(ctx)
	if err != nil {
		return models.RecordingState{}, err
	}
	if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.ControlRecording, "start recording"); err != nil {
		return snap.Recording, err
	}
	if snap.Session.Status != models.SessionStatusLive {
		return snap.Recording, apperrors.Validation("recording requires a live session")
	}
	return c.recorder.Start(ctx)
}

// StopRecording stops the active recording.
func (c *Controller) StopRecording(ctx context.Context, actor roles.Actor) (models.RecordingState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.fresh(ctx)
	if err != nil {
		return models.RecordingState{}, err
	}
	if err := roles.RequireOrganizerOr(actor, snap.Session.OrganizerID, roles.ControlRecording, "stop recording"); err != nil {
		return snap.Recording, err
	}
	return c.recorder.Stop(ctx)
}

// AnswerQuestion marks a question answered. Only the organizer or a moderator may answer.
func (c *Controller) AnswerQuestion(ctx context.Context, actor roles.Actor, questionID uuid.UUID) (livesession.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.fresh(ctx)
	if err != nil {
		return snap, err
	}
	if actor.ID != snap.Session.OrganizerID && actor.Role != models.RoleModerator {
		metrics.ActionsDeniedTotal.WithLabelValues("answer question").Inc()
		return snap, apperrors.Authorization("answer question")
	}
	q, ok := snap.Question(questionID)
	if !ok {
		return snap, apperrors.NotFound("question")
	}
	if q.Answered {
		return snap, nil
	}
	updated, err := c.questions.SetAnswered(ctx, questionID)
	if err != nil {
		return snap, err
	}
	return c.mirror(ctx, livesession.StreamQuestion, livesession.OpUpdate, updated), nil
}

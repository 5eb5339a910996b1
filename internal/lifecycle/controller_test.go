package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (*models.Session, error) {
	args := m.Called(ctx, id, from, to, at)
	if s, ok := args.Get(0).(*models.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*models.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) SetEngagementScore(ctx context.Context, id uuid.UUID, score float64) error {
	return m.Called(ctx, id, score).Error(0)
}

type MockParticipantStore struct {
	mock.Mock
}

func (m *MockParticipantStore) SetMuted(ctx context.Context, sessionID, participantID uuid.UUID, muted bool) (*models.Participant, error) {
	args := m.Called(ctx, sessionID, participantID, muted)
	if p, ok := args.Get(0).(*models.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockParticipantStore) Delete(ctx context.Context, sessionID, participantID uuid.UUID) error {
	return m.Called(ctx, sessionID, participantID).Error(0)
}

type MockQuestionStore struct {
	mock.Mock
}

func (m *MockQuestionStore) SetAnswered(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	args := m.Called(ctx, id)
	if q, ok := args.Get(0).(*models.Question); ok {
		return q, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) State() models.RecordingState {
	return m.Called().Get(0).(models.RecordingState)
}

func (m *MockRecorder) Start(ctx context.Context) (models.RecordingState, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.RecordingState), args.Error(1)
}

func (m *MockRecorder) Stop(ctx context.Context) (models.RecordingState, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.RecordingState), args.Error(1)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) SignalAvailable(ctx context.Context) { m.Called(ctx) }
func (m *MockTransport) HangUp(ctx context.Context)          { m.Called(ctx) }
func (m *MockTransport) Mute(ctx context.Context, id uuid.UUID) {
	m.Called(ctx, id)
}
func (m *MockTransport) Remove(ctx context.Context, id uuid.UUID) {
	m.Called(ctx, id)
}

type fixture struct {
	ctx          context.Context
	session      models.Session
	engine       *livesession.Engine
	sessions     *MockSessionStore
	participants *MockParticipantStore
	questions    *MockQuestionStore
	recorder     *MockRecorder
	transport    *MockTransport
	ctrl         *Controller
	organizer    roles.Actor
}

func newFixture(t *testing.T, status models.SessionStatus) *fixture {
	t.Helper()
	f := &fixture{
		ctx:          context.Background(),
		sessions:     new(MockSessionStore),
		participants: new(MockParticipantStore),
		questions:    new(MockQuestionStore),
		recorder:     new(MockRecorder),
		transport:    new(MockTransport),
		organizer:    roles.Actor{ID: uuid.New(), Role: models.RoleParticipant},
	}
	f.session = models.Session{
		ID:               uuid.New(),
		Title:            "Quarterly review",
		OrganizerID:      f.organizer.ID,
		Status:           status,
		AttendeeCapacity: 10,
		ScheduledStart:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.engine = livesession.NewEngine(f.session.ID)
	f.engine.Start()
	t.Cleanup(f.engine.Close)
	f.apply(t, livesession.StreamSession, livesession.OpInsert, f.session)

	f.ctrl = NewController(f.session.ID, Deps{
		Engine:       f.engine,
		Sessions:     f.sessions,
		Participants: f.participants,
		Questions:    f.questions,
		Recorder:     f.recorder,
		Transport:    f.transport,
	})
	return f
}

func (f *fixture) apply(t *testing.T, stream livesession.Stream, op livesession.Op, record any) {
	t.Helper()
	ev, err := livesession.NewChange(stream, op, record)
	require.NoError(t, err)
	_, err = f.engine.Apply(f.ctx, ev)
	require.NoError(t, err)
}

func (f *fixture) withStatus(status models.SessionStatus, at time.Time) *models.Session {
	s := f.session
	s.Status = status
	if status == models.SessionStatusLive {
		s.StartedAt = &at
	}
	if status == models.SessionStatusCompleted {
		s.EndedAt = &at
	}
	return &s
}

func TestStart_OrganizerGoesLive(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	startedAt := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	f.sessions.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusUpcoming, models.SessionStatusLive, mock.Anything).
		Return(f.withStatus(models.SessionStatusLive, startedAt), nil)
	f.transport.On("SignalAvailable", mock.Anything).Return()

	snap, err := f.ctrl.Start(f.ctx, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLive, snap.Session.Status)
	require.NotNil(t, snap.StartMark)
	assert.Equal(t, startedAt, *snap.StartMark)
	f.transport.AssertExpectations(t)
}

func TestStart_NonOrganizerParticipantDenied(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	stranger := roles.Actor{ID: uuid.New(), Role: models.RoleParticipant}

	snap, err := f.ctrl.Start(f.ctx, stranger)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))
	assert.Equal(t, models.SessionStatusUpcoming, snap.Session.Status)
	f.sessions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_ModeratorAllowed(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	f.sessions.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusUpcoming, models.SessionStatusLive, mock.Anything).
		Return(f.withStatus(models.SessionStatusLive, time.Now().UTC()), nil)
	f.transport.On("SignalAvailable", mock.Anything).Return()

	_, err := f.ctrl.Start(f.ctx, roles.Actor{ID: uuid.New(), Role: models.RoleModerator})
	require.NoError(t, err)
}

func TestStart_ReplayAndIllegal(t *testing.T) {
	live := newFixture(t, models.SessionStatusLive)
	snap, err := live.ctrl.Start(live.ctx, live.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLive, snap.Session.Status)

	done := newFixture(t, models.SessionStatusCompleted)
	_, err = done.ctrl.Start(done.ctx, done.organizer)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	live.sessions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	done.sessions.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_LostRaceLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	f.sessions.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusUpcoming, models.SessionStatusLive, mock.Anything).
		Return(nil, apperrors.Validation("session is no longer upcoming"))
	f.sessions.On("GetByID", mock.Anything, f.session.ID).Return(f.withStatus(models.SessionStatusCompleted, time.Now().UTC()), nil)

	snap, err := f.ctrl.Start(f.ctx, f.organizer)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, models.SessionStatusUpcoming, snap.Session.Status)
	f.transport.AssertNotCalled(t, "SignalAvailable", mock.Anything)
}

func TestStart_AlreadyLiveInStoreIsReplay(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	startedAt := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	f.sessions.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusUpcoming, models.SessionStatusLive, mock.Anything).
		Return(nil, apperrors.Validation("session is no longer upcoming"))
	f.sessions.On("GetByID", mock.Anything, f.session.ID).Return(f.withStatus(models.SessionStatusLive, startedAt), nil)

	snap, err := f.ctrl.Start(f.ctx, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusLive, snap.Session.Status)
	require.NotNil(t, snap.StartMark)
	assert.Equal(t, startedAt, *snap.StartMark)
	f.transport.AssertNotCalled(t, "SignalAvailable", mock.Anything)
}

func TestEnd_AlreadyCompletedInStoreIsReplay(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	f.sessions.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusLive, models.SessionStatusCompleted, mock.Anything).
		Return(nil, apperrors.Validation("session is no longer live"))
	f.sessions.On("GetByID", mock.Anything, f.session.ID).Return(f.withStatus(models.SessionStatusCompleted, time.Now().UTC()), nil)
	f.recorder.On("State").Return(models.RecordingState{Status: models.RecordingRecording, Backend: models.BackendStandalone})
	f.recorder.On("Stop", mock.Anything).Return(models.RecordingState{Status: models.RecordingStopped}, nil)

	snap, err := f.ctrl.End(f.ctx, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, snap.Session.Status)
	f.recorder.AssertCalled(t, "Stop", mock.Anything)
	f.sessions.AssertNotCalled(t, "SetEngagementScore", mock.Anything, mock.Anything, mock.Anything)
	f.transport.AssertNotCalled(t, "HangUp", mock.Anything)
}

func TestEnd_HaltsRecordingAndHangsUp(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	endedAt := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	f.sessions.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusLive, models.SessionStatusCompleted, mock.Anything).
		Return(f.withStatus(models.SessionStatusCompleted, endedAt), nil)
	f.recorder.On("State").Return(models.RecordingState{Status: models.RecordingRecording, Backend: models.BackendStandalone})
	f.recorder.On("Stop", mock.Anything).Return(models.RecordingState{Status: models.RecordingStopped}, nil)
	f.transport.On("HangUp", mock.Anything).Return()
	f.sessions.On("SetEngagementScore", mock.Anything, f.session.ID, 30.0).Return(nil)
	f.apply(t, livesession.StreamParticipant, livesession.OpInsert, models.Participant{ID: uuid.New(), EngagementScore: 20})
	f.apply(t, livesession.StreamParticipant, livesession.OpInsert, models.Participant{ID: uuid.New(), EngagementScore: 40})

	snap, err := f.ctrl.End(f.ctx, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, snap.Session.Status)
	require.NotNil(t, snap.EndMark)
	assert.Equal(t, endedAt, *snap.EndMark)
	f.recorder.AssertCalled(t, "Stop", mock.Anything)
	f.transport.AssertExpectations(t)
	f.sessions.AssertExpectations(t)
}

func TestEnd_RecordingFailureDoesNotBlockEnd(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(f.withStatus(models.SessionStatusCompleted, time.Now().UTC()), nil)
	f.recorder.On("State").Return(models.RecordingState{Status: models.RecordingRecording})
	f.recorder.On("Stop", mock.Anything).Return(models.RecordingState{Status: models.RecordingRecording}, apperrors.ExternalService("recording_standalone", errors.New("s3 down")))
	f.transport.On("HangUp", mock.Anything).Return()
	f.sessions.On("SetEngagementScore", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	snap, err := f.ctrl.End(f.ctx, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, snap.Session.Status)
}

func TestEnd_FromUpcomingRejectedAndReplayNoop(t *testing.T) {
	upcoming := newFixture(t, models.SessionStatusUpcoming)
	_, err := upcoming.ctrl.End(upcoming.ctx, upcoming.organizer)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	done := newFixture(t, models.SessionStatusCompleted)
	snap, err := done.ctrl.End(done.ctx, done.organizer)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, snap.Session.Status)
	done.transport.AssertNotCalled(t, "HangUp", mock.Anything)
}

func TestMute(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	p := models.Participant{ID: uuid.New(), DisplayName: "Ana", EngagementScore: 20}
	f.apply(t, livesession.StreamParticipant, livesession.OpInsert, p)
	moderator := roles.Actor{ID: uuid.New(), Role: models.RoleModerator}

	_, err := f.ctrl.Mute(f.ctx, f.organizer, p.ID)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))

	_, err = f.ctrl.Mute(f.ctx, moderator, uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	muted := p
	muted.Muted = true
	f.participants.On("SetMuted", mock.Anything, f.session.ID, p.ID, true).Return(&muted, nil)
	f.transport.On("Mute", mock.Anything, p.ID).Return()

	snap, err := f.ctrl.Mute(f.ctx, moderator, p.ID)
	require.NoError(t, err)
	got, ok := snap.Participant(p.ID)
	require.True(t, ok)
	assert.True(t, got.Muted)
	f.transport.AssertExpectations(t)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	p := models.Participant{ID: uuid.New(), DisplayName: "Ben"}
	f.apply(t, livesession.StreamParticipant, livesession.OpInsert, p)
	moderator := roles.Actor{ID: uuid.New(), Role: models.RoleModerator}
	f.participants.On("Delete", mock.Anything, f.session.ID, p.ID).Return(nil)
	f.transport.On("Remove", mock.Anything, p.ID).Return()

	snap, err := f.ctrl.Remove(f.ctx, moderator, p.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Participants)
}

func TestModerationAfterEndRejected(t *testing.T) {
	f := newFixture(t, models.SessionStatusCompleted)
	p := models.Participant{ID: uuid.New()}
	f.apply(t, livesession.StreamParticipant, livesession.OpInsert, p)

	_, err := f.ctrl.Remove(f.ctx, roles.Actor{ID: uuid.New(), Role: models.RoleModerator}, p.ID)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	f.participants.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordingActions(t *testing.T) {
	upcoming := newFixture(t, models.SessionStatusUpcoming)
	_, err := upcoming.ctrl.StartRecording(upcoming.ctx, upcoming.organizer)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	f := newFixture(t, models.SessionStatusLive)
	_, err = f.ctrl.StartRecording(f.ctx, roles.Actor{ID: uuid.New(), Role: models.RoleAdmin})
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))

	recording := models.RecordingState{Status: models.RecordingRecording, Backend: models.BackendTransport}
	f.recorder.On("Start", mock.Anything).Return(recording, nil)
	state, err := f.ctrl.StartRecording(f.ctx, f.organizer)
	require.NoError(t, err)
	assert.Equal(t, recording, state)

	stopped := models.RecordingState{Status: models.RecordingStopped, Backend: models.BackendTransport}
	f.recorder.On("Stop", mock.Anything).Return(stopped, nil)
	state, err = f.ctrl.StopRecording(f.ctx, roles.Actor{ID: uuid.New(), Role: models.RoleModerator})
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStopped, state.Status)
}

func TestAnswerQuestion(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	q := models.Question{ID: uuid.New(), SessionID: f.session.ID, AuthorID: uuid.New(), Text: "When?", Sentiment: models.SentimentNeutral, CreatedAt: time.Now().UTC()}
	f.apply(t, livesession.StreamQuestion, livesession.OpInsert, q)

	_, err := f.ctrl.AnswerQuestion(f.ctx, roles.Actor{ID: uuid.New(), Role: models.RoleAdmin}, q.ID)
	assert.True(t, errors.Is(err, apperrors.ErrAuthorization))

	answered := q
	answered.Answered = true
	f.questions.On("SetAnswered", mock.Anything, q.ID).Return(&answered, nil).Once()

	snap, err := f.ctrl.AnswerQuestion(f.ctx, f.organizer, q.ID)
	require.NoError(t, err)
	got, _ := snap.Question(q.ID)
	assert.True(t, got.Answered)
	assert.Equal(t, 1, snap.Analytics.TotalQuestions)

	_, err = f.ctrl.AnswerQuestion(f.ctx, f.organizer, q.ID)
	require.NoError(t, err)
	f.questions.AssertNumberOfCalls(t, "SetAnswered", 1)
}

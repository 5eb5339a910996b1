package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/lifecycle"
	"github.com/aura-webinar/livesession/internal/livesession"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/rooms"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, s *models.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) List(ctx context.Context, organizerID *uuid.UUID) ([]models.Session, error) {
	args := m.Called(ctx, organizerID)
	list, _ := args.Get(0).([]models.Session)
	return list, args.Error(1)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (*models.Session, error) {
	args := m.Called(ctx, id, from, to, at)
	if s, ok := args.Get(0).(*models.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*models.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) SetEngagementScore(ctx context.Context, id uuid.UUID, score float64) error {
	return m.Called(ctx, id, score).Error(0)
}

// staticRooms serves one preloaded room.
type staticRooms struct {
	room *rooms.Room
}

func (s *staticRooms) Open(_ context.Context, id uuid.UUID) (*rooms.Room, error) {
	if s.room == nil || s.room.ID != id {
		return nil, apperrors.NotFound("session")
	}
	return s.room, nil
}

func (s *staticRooms) Refresh(ctx context.Context, id uuid.UUID) (*rooms.Room, error) {
	return s.Open(ctx, id)
}

func (s *staticRooms) Rooms() []*rooms.Room {
	if s.room == nil {
		return nil
	}
	return []*rooms.Room{s.room}
}

type fixture struct {
	session models.Session
	store   *MockStore
	router  *gin.Engine
}

func newFixture(t *testing.T, status models.SessionStatus) *fixture {
	t.Helper()
	f := &fixture{
		store: new(MockStore),
		session: models.Session{
			ID:               uuid.New(),
			Title:            "Quarterly review",
			OrganizerID:      uuid.New(),
			Status:           status,
			AttendeeCapacity: 4,
			ScheduledStart:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	engine := livesession.NewEngine(f.session.ID)
	engine.Start()
	t.Cleanup(engine.Close)
	ev, err := livesession.NewChange(livesession.StreamSession, livesession.OpInsert, f.session)
	require.NoError(t, err)
	_, err = engine.Apply(context.Background(), ev)
	require.NoError(t, err)

	room := &rooms.Room{
		ID:         f.session.ID,
		Engine:     engine,
		Controller: lifecycle.NewController(f.session.ID, lifecycle.Deps{Engine: engine, Sessions: f.store}),
	}
	h := NewHandler(f.store, &staticRooms{room: room}, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader("X-User")); err == nil {
			c.Set(middleware.ContextUserID, id)
			c.Set(middleware.ContextUserRole, models.Role(c.GetHeader("X-Role")))
			c.Set(middleware.ContextUserName, "Test User")
		}
		c.Next()
	})
	r.POST("/sessions", h.Create)
	r.GET("/sessions/:id", h.Snapshot)
	r.POST("/sessions/:id/start", h.Start)
	r.GET("/sessions/:id/analytics", h.Analytics)
	r.GET("/admin/metrics", h.SystemMetrics)
	f.router = r
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (f *fixture) do(t *testing.T, method, path string, user uuid.UUID, role models.Role, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("X-User", user.String())
		req.Header.Set("X-Role", string(role))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestStartByOrganizer(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	live := f.session
	live.Status = models.SessionStatusLive
	started := time.Now().UTC()
	live.StartedAt = &started
	f.store.On("UpdateStatus", mock.Anything, f.session.ID, models.SessionStatusUpcoming, models.SessionStatusLive, mock.Anything).Return(&live, nil)

	code, env := f.do(t, http.MethodPost, "/sessions/"+f.session.ID.String()+"/start", f.session.OrganizerID, models.RoleParticipant, nil)
	require.Equal(t, http.StatusOK, code)
	var snap livesession.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, models.SessionStatusLive, snap.Session.Status)
	assert.NotNil(t, snap.StartMark)
}

func TestStartDeniedForParticipant(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)

	code, env := f.do(t, http.MethodPost, "/sessions/"+f.session.ID.String()+"/start", uuid.New(), models.RoleParticipant, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(apperrors.KindAuthorization), env.Code)
	f.store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartCompletedSessionIsRejected(t *testing.T) {
	f := newFixture(t, models.SessionStatusCompleted)

	code, env := f.do(t, http.MethodPost, "/sessions/"+f.session.ID.String()+"/start", f.session.OrganizerID, models.RoleParticipant, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(apperrors.KindValidation), env.Code)
}

func TestSnapshotErrors(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)

	code, _ := f.do(t, http.MethodGet, "/sessions/not-a-uuid", uuid.New(), models.RoleParticipant, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := f.do(t, http.MethodGet, "/sessions/"+uuid.NewString(), uuid.New(), models.RoleParticipant, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(apperrors.KindNotFound), env.Code)

	code, _ = f.do(t, http.MethodGet, "/sessions/"+f.session.ID.String(), uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAnalyticsAccess(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	path := "/sessions/" + f.session.ID.String() + "/analytics"

	code, _ := f.do(t, http.MethodGet, path, uuid.New(), models.RoleModerator, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodGet, path, uuid.New(), models.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := f.do(t, http.MethodGet, path, f.session.OrganizerID, models.RoleParticipant, nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Analytics    models.AnalyticsSnapshot `json:"analytics"`
		Participants []ParticipantEngagement  `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Empty(t, body.Participants)
	assert.Equal(t, 0, body.Analytics.TotalQuestions)
}

func TestCreateMakesCallerOrganizer(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	caller := uuid.New()
	f.store.On("Create", mock.Anything, mock.MatchedBy(func(s *models.Session) bool {
		return s.OrganizerID == caller && s.Title == "Design sync" && s.MeetingRef != ""
	})).Run(func(args mock.Arguments) {
		s := args.Get(1).(*models.Session)
		s.ID = uuid.New()
		s.Status = models.SessionStatusUpcoming
	}).Return(nil)

	code, env := f.do(t, http.MethodPost, "/sessions", caller, models.RoleParticipant, map[string]any{
		"title":             "  Design sync ",
		"scheduled_start":   time.Now().Add(time.Hour).Format(time.RFC3339),
		"attendee_capacity": 20,
	})
	require.Equal(t, http.StatusCreated, code)
	var s models.Session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, caller, s.OrganizerID)
	assert.Equal(t, models.SessionStatusUpcoming, s.Status)
	f.store.AssertExpectations(t)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, models.SessionStatusUpcoming)
	start := time.Now().Add(time.Hour)

	code, _ := f.do(t, http.MethodPost, "/sessions", uuid.New(), models.RoleParticipant, map[string]any{
		"title":           "Retro",
		"scheduled_start": start.Format(time.RFC3339),
		"scheduled_end":   start.Add(-time.Minute).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/sessions", uuid.New(), models.RoleParticipant, map[string]any{
		"title":             "Retro",
		"scheduled_start":   start.Format(time.RFC3339),
		"attendee_capacity": -1,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	f.store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSystemMetricsListsRooms(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)

	code, env := f.do(t, http.MethodGet, "/admin/metrics", uuid.New(), models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Rooms       []RoomMetrics `json:"rooms"`
		ActiveRooms int           `json:"active_rooms"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, f.session.ID, body.Rooms[0].SessionID)
	assert.Equal(t, models.SessionStatusLive, body.Rooms[0].Status)
	assert.Equal(t, uint64(1), body.Rooms[0].EventsApplied)
}

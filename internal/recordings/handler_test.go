package recordings

import (
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

	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
)

type MockRowStore struct {
	mock.Mock
}

func (m *MockRowStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*models.Recording); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRowStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	args := m.Called(ctx, sessionID)
	list, _ := args.Get(0).([]models.Recording)
	return list, args.Error(1)
}

type MockSessionLookup struct {
	mock.Mock
}

func (m *MockSessionLookup) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*models.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func handlerRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader("X-User")); err == nil {
			c.Set(middleware.ContextUserID, id)
			c.Set(middleware.ContextUserRole, models.Role(c.GetHeader("X-Role")))
		}
		c.Next()
	})
	r.GET("/sessions/:id/recordings", h.ListBySession)
	r.GET("/recordings/:id/download-url", h.GenerateDownloadURL)
	return r
}

func call(r *gin.Engine, path string, user uuid.UUID, role models.Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User", user.String())
	req.Header.Set("X-Role", string(role))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_ListBySessionAccess(t *testing.T) {
	rows := new(MockRowStore)
	sessions := new(MockSessionLookup)
	session := &models.Session{ID: uuid.New(), OrganizerID: uuid.New()}
	sessions.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	rows.On("ListBySession", mock.Anything, session.ID).Return(nil, nil)
	r := handlerRouter(NewHandler(rows, sessions, nil, nil))
	path := "/sessions/" + session.ID.String() + "/recordings"

	assert.Equal(t, http.StatusForbidden, call(r, path, uuid.New(), models.RoleParticipant).Code)

	for _, tc := range []struct {
		name string
		user uuid.UUID
		role models.Role
	}{
		{"organizer", session.OrganizerID, models.RoleParticipant},
		{"moderator", uuid.New(), models.RoleModerator},
		{"admin", uuid.New(), models.RoleAdmin},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := call(r, path, tc.user, tc.role)
			require.Equal(t, http.StatusOK, w.Code)
			var env struct {
				Data struct {
					Recordings []models.Recording `json:"recordings"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.NotNil(t, env.Data.Recordings)
		})
	}
}

func TestHandler_DownloadURL(t *testing.T) {
	rows := new(MockRowStore)
	sessions := new(MockSessionLookup)
	objects := new(MockObjects)
	session := &models.Session{ID: uuid.New(), OrganizerID: uuid.New()}
	ready := &models.Recording{ID: uuid.New(), SessionID: session.ID, Status: models.RecordingRowCompleted, S3Key: "recordings/a/b.webm"}
	pending := &models.Recording{ID: uuid.New(), SessionID: session.ID, Status: models.RecordingRowRecording}
	sessions.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	rows.On("GetByID", mock.Anything, ready.ID).Return(ready, nil)
	rows.On("GetByID", mock.Anything, pending.ID).Return(pending, nil)
	objects.On("GeneratePresignedDownloadURL", mock.Anything, "recordings-bucket", ready.S3Key, time.Hour).Return("https://signed", nil)
	r := handlerRouter(NewHandler(rows, sessions, objects, nil))

	w := call(r, "/recordings/"+pending.ID.String()+"/download-url", session.OrganizerID, models.RoleParticipant)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(r, "/recordings/"+ready.ID.String()+"/download-url", session.OrganizerID, models.RoleParticipant)
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data struct {
			DownloadURL string `json:"download_url"`
			ExpiresIn   int    `json:"expires_in"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "https://signed", env.Data.DownloadURL)
	assert.Equal(t, 3600, env.Data.ExpiresIn)
}

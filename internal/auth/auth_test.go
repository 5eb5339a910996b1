package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/pkg/apperrors"
)

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) List(ctx context.Context) ([]models.UserPublic, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.UserPublic), args.Error(1)
}

func (m *MockUserStore) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role) (*models.User, error) {
	args := m.Called(ctx, email, passwordHash, fullName, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error) {
	args := m.Called(ctx, id, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	user := &models.User{ID: uuid.New(), Email: "m@example.com", FullName: "Mo", Role: models.RoleModerator}

	token, err := svc.Generate(user)
	require.NoError(t, err)
	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleModerator, claims.Role)
	assert.Equal(t, "Mo", claims.Name)
}

func TestJWT_RejectsExpiredAndForeignTokens(t *testing.T) {
	svc := NewJWTService("secret", 1)
	user := &models.User{ID: uuid.New(), Role: models.RoleParticipant}
	token, err := svc.Generate(user)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTService("other", 1)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_RejectsUnknownRole(t *testing.T) {
	claims := Claims{UserID: uuid.New(), Role: "speaker", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong", hash))
}

func TestHandler_RegisterCreatesParticipant(t *testing.T) {
	store := new(MockUserStore)
	h := NewHandler(store, NewJWTService("secret", 1), nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)

	store.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, apperrors.NotFound("user"))
	store.On("Create", mock.Anything, "ana@example.com", mock.AnythingOfType("string"), "Ana", models.RoleParticipant).
		Return(&models.User{ID: uuid.New(), Email: "ana@example.com", FullName: "Ana", Role: models.RoleParticipant}, nil)

	w := doJSON(r, http.MethodPost, "/auth/register", RegisterRequest{Email: "Ana@example.com", Password: "longenough", FullName: "Ana"})
	assert.Equal(t, http.StatusCreated, w.Code)
	store.AssertExpectations(t)
}

func TestHandler_RegisterRejectsDuplicateAndShortPassword(t *testing.T) {
	store := new(MockUserStore)
	h := NewHandler(store, NewJWTService("secret", 1), nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)

	w := doJSON(r, http.MethodPost, "/auth/register", RegisterRequest{Email: "a@example.com", Password: "short", FullName: "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.On("GetByEmail", mock.Anything, "a@example.com").Return(&models.User{}, nil)
	w = doJSON(r, http.MethodPost, "/auth/register", RegisterRequest{Email: "a@example.com", Password: "longenough", FullName: "A"})
	assert.Equal(t, http.StatusConflict, w.Code)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Login(t *testing.T) {
	store := new(MockUserStore)
	h := NewHandler(store, NewJWTService("secret", 1), nil)
	r := gin.New()
	r.POST("/auth/login", h.Login)

	hash, err := HashPassword("longenough")
	require.NoError(t, err)
	store.On("GetByEmail", mock.Anything, "a@example.com").Return(&models.User{ID: uuid.New(), Password: hash, Role: models.RoleAdmin}, nil)
	store.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.NotFound("user"))

	w := doJSON(r, http.MethodPost, "/auth/login", LoginRequest{Email: "a@example.com", Password: "longenough"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/login", LoginRequest{Email: "a@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/login", LoginRequest{Email: "ghost@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_UpdateRole(t *testing.T) {
	store := new(MockUserStore)
	h := NewHandler(store, NewJWTService("secret", 1), nil)
	r := gin.New()
	r.PATCH("/admin/users/:id/role", h.UpdateRole)

	id := uuid.New()
	store.On("UpdateRole", mock.Anything, id, models.RoleModerator).Return(&models.User{ID: id, Role: models.RoleModerator}, nil)

	w := doJSON(r, http.MethodPatch, "/admin/users/"+id.String()+"/role", UpdateRoleRequest{Role: "moderator"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPatch, "/admin/users/"+id.String()+"/role", UpdateRoleRequest{Role: "speaker"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-webinar/livesession/internal/auth"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserName is the key for the display name in gin context.
	ContextUserName = "user_name"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates the bearer token and sets user claims in context.
// WebSocket upgrades may pass the token as the "token" query parameter instead.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// Actor returns the authenticated principal set by JWT.
func Actor(c *gin.Context) (roles.Actor, bool) {
	id, ok := c.Get(ContextUserID)
	if !ok {
		return roles.Actor{}, false
	}
	uid, ok := id.(uuid.UUID)
	if !ok {
		return roles.Actor{}, false
	}
	a := roles.Actor{ID: uid}
	if r, ok := c.Get(ContextUserRole); ok {
		a.Role, _ = r.(models.Role)
	}
	return a, true
}

// UserName returns the display name carried by the token.
func UserName(c *gin.Context) string {
	return c.GetString(ContextUserName)
}

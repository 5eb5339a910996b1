package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/pkg/response"
)

// RequireCapability allows only actors whose role grants capability.
func RequireCapability(capability roles.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := Actor(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if err := roles.Require(actor, capability, string(capability)); err != nil {
			response.FromError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

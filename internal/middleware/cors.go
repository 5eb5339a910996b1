package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods  = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization"
	corsExposeHeaders = "Content-Disposition"
	corsMaxAge        = "86400"
)

// originPolicy decides which browser origins may call the API.
type originPolicy struct {
	any      bool
	exact    map[string]bool
	suffixes []string // from entries like "https://*.example.com", stored as "https://" + ".example.com"
}

// parseOrigins reads a comma-separated origin list. "*" (or an empty list) allows every
// origin; "scheme://*.domain" allows any subdomain of domain over that scheme.
func parseOrigins(s string) originPolicy {
	p := originPolicy{exact: make(map[string]bool)}
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.any = true
		case strings.Contains(o, "://*."):
			scheme, host, _ := strings.Cut(o, "://*")
			p.suffixes = append(p.suffixes, scheme+"://"+host)
		default:
			p.exact[o] = true
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		p.any = true
	}
	return p
}

// allow returns the Access-Control-Allow-Origin value for origin, or "" when it is refused.
func (p originPolicy) allow(origin string) string {
	if p.any {
		return "*"
	}
	if origin == "" {
		return ""
	}
	if p.exact[origin] {
		return origin
	}
	for _, suffix := range p.suffixes {
		scheme, domain, _ := strings.Cut(suffix, "://")
		rest, ok := strings.CutPrefix(origin, scheme+"://")
		if ok && strings.HasSuffix(rest, domain) && len(rest) > len(domain) {
			return origin
		}
	}
	return ""
}

// CORS returns a middleware that sets CORS headers for the configured origins. Report
// downloads expose Content-Disposition so browsers can read the file name. A preflight from
// a refused origin is answered 403.
func CORS(allowedOrigins string) gin.HandlerFunc {
	policy := parseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		allowOrigin := policy.allow(c.GetHeader("Origin"))
		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			if allowOrigin != "*" {
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Expose-Headers", corsExposeHeaders)
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !preflight {
			c.Next()
			return
		}
		if allowOrigin == "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Max-Age", corsMaxAge)
		c.AbortWithStatus(http.StatusNoContent)
	}
}

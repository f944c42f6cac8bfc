package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware resolves the bearer token, if any, into a Principal on the
// request context. With required set, anonymous requests are rejected.
// A malformed or expired token is always rejected, even on optional routes.
func Middleware(v *Verifier, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
				return
			}
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must start with Bearer"})
			return
		}

		principal, err := v.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

// RequireStaff rejects callers that are not shop staff. It must run after Middleware.
func RequireStaff() gin.HandlerFunc {
	return requirePrincipal(func(p *Principal) bool { return p.IsStaff() })
}

// RequireRole rejects callers holding none of roles. It must run after Middleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return requirePrincipal(func(p *Principal) bool { return p.HasRole(roles...) })
}

func requirePrincipal(allowed func(*Principal) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := FromContext(c.Request.Context())
		if principal == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !allowed(principal) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have permission to access this resource"})
			return
		}
		c.Next()
	}
}

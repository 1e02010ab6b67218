package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// GinAuth returns a Gin middleware that rejects requests without a valid
// token. A disabled verifier lets every request through.
func (v *Verifier) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.Enabled() {
			c.Next()
			return
		}
		tok := TokenFromRequest(c.Request)
		if tok == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			c.Abort()
			return
		}
		if !v.Verify(tok) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Invalid credentials",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// TokenFromRequest extracts a bearer token, or the X-API-Token header.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderToken))
}

package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "peerly.identity"

// TokenFrom extracts a session token from the Authorization bearer header
// or, failing that, the named cookie.
func TokenFrom(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if cookieName != "" {
		if tok, err := c.Cookie(cookieName); err == nil {
			return tok
		}
	}
	// EventSource cannot set headers.
	return c.Query("access_token")
}

// RequireSession aborts with 401 unless the request carries a valid
// session, and stores the identity on the context.
func RequireSession(svc *Service, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := svc.Current(c.Request.Context(), TokenFrom(c, cookieName))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":       "sign in required",
				"redirect_to": "/login?redirectTo=" + c.Request.URL.Path,
			})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RejectSession aborts with 409 when a signed-in caller hits a sign-in or
// sign-up route.
func RejectSession(svc *Service, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := TokenFrom(c, cookieName)
		if tok != "" {
			if _, err := svc.Current(c.Request.Context(), tok); err == nil {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error":       "already signed in",
					"redirect_to": "/dashboard",
				})
				return
			}
		}
		c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireSession.
func IdentityFrom(c *gin.Context) *Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*Identity)
	return id
}

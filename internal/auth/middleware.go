package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	sessionIDContextKey = "session_id"
	viaHeaderContextKey = "session_via_header"
)

// SessionContextKey is the gin context key holding the session id, for request logging.
const SessionContextKey = sessionIDContextKey

// Middleware resolves the session id from the header or cookie, issuing a new
// session cookie (and CSRF cookie) when neither carries a valid id.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(s.headerName)); id != "" {
			if !ValidSessionID(id) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
				return
			}
			c.Set(sessionIDContextKey, id)
			c.Set(viaHeaderContextKey, true)
			c.Next()
			return
		}

		id, err := c.Cookie(s.cookieName)
		if err != nil || !ValidSessionID(id) {
			id = s.NewSessionID()
		}
		// refresh on every request so an active session keeps its cookie
		s.setCookie(c, s.cookieName, id, true)
		if token, err := c.Cookie(s.csrfCookieName); err != nil || token == "" {
			token, err := s.NewCSRFToken()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			s.setCookie(c, s.csrfCookieName, token, false)
		}
		c.Set(sessionIDContextKey, id)
		c.Next()
	}
}

func (s *Service) setCookie(c *gin.Context, name, value string, httpOnly bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(s.sessionTTL.Seconds()), "/", "", s.secure, httpOnly)
}

// SessionIDFromContext retrieves the session id stored by the middleware.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}

// ExpireSession clears the session cookie, used when a session is deleted.
func (s *Service) ExpireSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, "", -1, "/", "", s.secure, true)
}

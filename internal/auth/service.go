package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service issues the opaque session cookie and the CSRF token paired with it.
// Sessions carry no identity: the id only scopes per-session state.
type Service struct {
	sessionTTL     time.Duration
	secure         bool
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs a session cookie service. secure marks cookies HTTPS-only.
func NewService(ttl time.Duration, secure bool) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Service{
		sessionTTL:     ttl,
		secure:         secure,
		cookieName:     "docchat_session",
		headerName:     "X-Session-ID",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// NewSessionID mints a fresh session id.
func (s *Service) NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id looks like one this service issued.
func ValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionCookieName returns the cookie name storing the session id.
func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// SessionHeaderName returns the header API clients use instead of the cookie.
func (s *Service) SessionHeaderName() string {
	return s.headerName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// SessionTTL reports the cookie lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

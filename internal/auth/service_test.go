package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(svc.Middleware(), svc.CSRFMiddleware())
	handler := func(c *gin.Context) {
		id, _ := SessionIDFromContext(c)
		c.String(http.StatusOK, id)
	}
	r.GET("/whoami", handler)
	r.POST("/mutate", handler)
	return r
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func TestMiddlewareIssuesSessionAndCSRFCookies(t *testing.T) {
	svc := NewService(time.Hour, false)
	r := newTestRouter(svc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	session := cookieByName(cookies, svc.SessionCookieName())
	if session == nil || !ValidSessionID(session.Value) {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	if !session.HttpOnly {
		t.Fatalf("session cookie must be http-only")
	}
	if rec.Body.String() != session.Value {
		t.Fatalf("context id %q differs from cookie %q", rec.Body.String(), session.Value)
	}
	csrf := cookieByName(cookies, svc.CSRFCookieName())
	if csrf == nil || csrf.Value == "" || csrf.HttpOnly {
		t.Fatalf("expected readable csrf cookie, got %+v", csrf)
	}

	// the cookie is reused on the next request
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(session)
	req.AddCookie(csrf)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != session.Value {
		t.Fatalf("session not reused: %q", rec.Body.String())
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	svc := NewService(time.Hour, false)
	r := newTestRouter(svc)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: svc.SessionCookieName(), Value: "../../etc"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Body.String(); got == "../../etc" || !ValidSessionID(got) {
		t.Fatalf("forged id accepted: %q", got)
	}
}

func TestSessionHeaderSkipsCSRF(t *testing.T) {
	svc := NewService(time.Hour, false)
	r := newTestRouter(svc)
	id := svc.NewSessionID()

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(svc.SessionHeaderName(), id)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != id {
		t.Fatalf("header session rejected: %d %q", rec.Code, rec.Body.String())
	}
	if cookieByName(rec.Result().Cookies(), svc.SessionCookieName()) != nil {
		t.Fatalf("header sessions should not get a cookie")
	}

	req = httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(svc.SessionHeaderName(), "not-a-uuid")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed session header, got %d", rec.Code)
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	svc := NewService(time.Hour, false)
	r := newTestRouter(svc)
	session := &http.Cookie{Name: svc.SessionCookieName(), Value: svc.NewSessionID()}
	csrf := &http.Cookie{Name: svc.CSRFCookieName(), Value: "token-1"}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusForbidden},
		{"mismatch", "token-2", http.StatusForbidden},
		{"match", "token-1", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.AddCookie(session)
		req.AddCookie(csrf)
		if tc.header != "" {
			req.Header.Set(svc.CSRFHeaderName(), tc.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, rec.Code)
		}
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func newRouter(secret []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(secret, CookieConfig{}, "smart-event"))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, SessionIDFrom(c)) })
	return r
}

func TestMiddlewareContinuesWithoutToken(t *testing.T) {
	r := newRouter([]byte("secret"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Fatalf("expected anonymous pass-through, got %d %q", w.Code, w.Body.String())
	}
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	r := newRouter([]byte("secret"))
	signed, err := NewSessionToken("sess-1", []byte("secret"), time.Hour, time.Now(), "smart-event")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)

	if w.Body.String() != "sess-1" {
		t.Fatalf("expected session id, got %q", w.Body.String())
	}
}

func TestMiddlewareAcceptsCookie(t *testing.T) {
	r := newRouter([]byte("secret"))
	signed, err := NewSessionToken("sess-2", []byte("secret"), time.Hour, time.Now(), "smart-event")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "sev_session", Value: signed})
	r.ServeHTTP(w, req)

	if w.Body.String() != "sess-2" {
		t.Fatalf("expected session id from cookie, got %q", w.Body.String())
	}
}

func TestMiddlewareIgnoresForeignSignature(t *testing.T) {
	r := newRouter([]byte("secret"))
	signed, err := NewSessionToken("sess-3", []byte("other"), time.Hour, time.Now(), "smart-event")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	r.ServeHTTP(w, req)

	if w.Body.String() != "" {
		t.Fatalf("expected forged token to be ignored, got %q", w.Body.String())
	}
}

func TestParseJWTRejectsExpiredAndNoneAlg(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	expired, err := NewSessionToken("sess-4", []byte("secret"), time.Minute, past, "")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := ParseJWT(expired, []byte("secret")); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{ID: "sess-5"}})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseJWT(raw, []byte("secret")); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestSetAndClearCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SetCookie(c, CookieConfig{Secure: true}, "tok", time.Hour)
	ClearCookie(c, CookieConfig{Secure: true})

	cookies := w.Header().Values("Set-Cookie")
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	if !strings.Contains(cookies[0], "HttpOnly") || !strings.Contains(cookies[0], "SameSite=Lax") {
		t.Fatalf("unexpected cookie %q", cookies[0])
	}
	if !strings.Contains(cookies[1], "Max-Age=0") {
		t.Fatalf("expected cleared cookie, got %q", cookies[1])
	}
}

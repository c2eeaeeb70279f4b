package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ContextSessionIDKey = "session_id"

type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return "sev_session"
	}
	return c.Name
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// Middleware resolves the session id from the session cookie or a bearer token.
// Requests without a valid token continue anonymously.
func Middleware(secret []byte, cookie CookieConfig, issuer string) gin.HandlerFunc {
	var opts []jwt.ParserOption
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			if v, err := c.Cookie(cookie.name()); err == nil {
				token = v
			}
		}
		if token != "" {
			if claims, err := ParseJWT(token, secret, opts...); err == nil {
				c.Set(ContextSessionIDKey, claims.SessionID())
			}
		}
		c.Next()
	}
}

func SessionIDFrom(c *gin.Context) string {
	return c.GetString(ContextSessionIDKey)
}

// SetCookie writes the session token as an HttpOnly, SameSite=Lax cookie.
func SetCookie(c *gin.Context, cfg CookieConfig, token string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.name(),
		Value:    token,
		Path:     cfg.path(),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearCookie(c *gin.Context, cfg CookieConfig) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.name(),
		Value:    "",
		Path:     cfg.path(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

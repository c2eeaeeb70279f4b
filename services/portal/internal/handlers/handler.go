package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/auth"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/httpmiddleware"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/rate"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/service"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/session"
)

const contextSessionKey = "portal_session"

type Options struct {
	SessionSecret string
	SessionIssuer string
	SessionTTL    time.Duration
	Cookie        auth.CookieConfig
	LoginLimiter  rate.Limiter
	VerifyLimiter rate.Limiter
	ResendLimiter rate.Limiter
	Clock         service.Clock
}

type Handler struct {
	TwoFactor *service.TwoFactor
	Registry  *service.Registry
	Admission *service.AdmissionController
	Sessions  session.Store
	Logger    *slog.Logger

	secret        []byte
	issuer        string
	sessionTTL    time.Duration
	cookie        auth.CookieConfig
	loginLimiter  rate.Limiter
	verifyLimiter rate.Limiter
	resendLimiter rate.Limiter
	clock         service.Clock
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func New(twoFactor *service.TwoFactor, registry *service.Registry, admission *service.AdmissionController, sessions session.Store, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		TwoFactor:     twoFactor,
		Registry:      registry,
		Admission:     admission,
		Sessions:      sessions,
		Logger:        logger,
		secret:        []byte(opts.SessionSecret),
		issuer:        opts.SessionIssuer,
		sessionTTL:    opts.SessionTTL,
		cookie:        opts.Cookie,
		loginLimiter:  opts.LoginLimiter,
		verifyLimiter: opts.VerifyLimiter,
		resendLimiter: opts.ResendLimiter,
		clock:         opts.Clock,
	}
	if h.sessionTTL <= 0 {
		h.sessionTTL = 14 * 24 * time.Hour
	}
	if h.clock == nil {
		h.clock = service.SystemClock{}
	}
	for _, l := range []*rate.Limiter{&h.loginLimiter, &h.verifyLimiter, &h.resendLimiter} {
		if *l == nil {
			*l = rate.Noop{}
		}
	}
	return h
}

func (h *Handler) Register(r *gin.Engine) {
	group := r.Group("/", auth.Middleware(h.secret, h.cookie, h.issuer), h.SessionMiddleware(), h.Gate())

	group.POST("/login", h.Login)
	group.POST("/logout", h.Logout)
	group.GET(service.VerifyPath, h.VerifyStatus)
	group.POST(service.VerifyPath, h.Verify)
	group.POST("/two-factor/resend-code", h.ResendCode)
	group.POST("/two-factor/toggle", h.Toggle)
	group.GET("/me", h.Me)

	group.GET("/guest/:token", h.GetInvitation)
	group.POST("/guest/:token", h.RespondInvitation)
	group.POST("/payment/:eventId", h.Pay)
	group.POST("/events/:eventId/join", h.Join)
	group.POST("/events/:eventId/invitations", h.Invite)
}

// SessionMiddleware loads the server-side session named by the session token. Unknown
// or missing sessions start empty and are only persisted once something is stored.
func (h *Handler) SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := &session.Session{CreatedAt: h.clock.Now()}
		if id := auth.SessionIDFrom(c); id != "" {
			loaded, err := h.Sessions.Get(c.Request.Context(), id)
			switch {
			case err == nil:
				sess = loaded
			case errors.Is(err, session.ErrNotFound):
			default:
				h.Logger.Error("load session failed", "request_id", httpmiddleware.RequestIDFrom(c), "error", err)
				writeError(c, http.StatusServiceUnavailable, "INTERNAL_ERROR", "session store unavailable", nil)
				c.Abort()
				return
			}
		}
		c.Set(contextSessionKey, sess)
		c.Next()
	}
}

// Gate enforces the second factor. GET requests are redirected to the challenge page,
// other methods get 401 TWO_FACTOR_REQUIRED. Errors block the request.
func (h *Handler) Gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFrom(c)
		decision, err := h.TwoFactor.Guard(c.Request.Context(), sess, c.Request.Method, c.Request.URL.Path, c.Request.URL.RequestURI())
		if err != nil {
			if errors.Is(err, service.ErrAccountNotFound) {
				h.destroySession(c, sess)
				writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "session expired", nil)
				c.Abort()
				return
			}
			h.Logger.Error("two-factor gate failed", "request_id", httpmiddleware.RequestIDFrom(c), "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
			c.Abort()
			return
		}
		if decision.SessionChanged {
			if err := h.saveSession(c, sess); err != nil {
				h.internalError(c, "save session failed", err)
				c.Abort()
				return
			}
		}
		if decision.Allow {
			c.Next()
			return
		}
		if c.Request.Method == http.MethodGet {
			c.Redirect(http.StatusSeeOther, decision.Redirect)
			c.Abort()
			return
		}
		writeError(c, http.StatusUnauthorized, "TWO_FACTOR_REQUIRED", "verification required", map[string]string{
			"redirect_to":       decision.Redirect,
			"challenge_started": strconv.FormatBool(decision.ChallengeStarted),
		})
		c.Abort()
	}
}

func sessionFrom(c *gin.Context) *session.Session {
	if v, ok := c.Get(contextSessionKey); ok {
		if sess, ok := v.(*session.Session); ok {
			return sess
		}
	}
	return &session.Session{}
}

// saveSession persists sess, assigning an id on first save, and refreshes the cookie.
func (h *Handler) saveSession(c *gin.Context, sess *session.Session) error {
	if sess.ID == "" {
		id, err := security.NewSessionID()
		if err != nil {
			return err
		}
		sess.ID = id
	}
	if err := h.Sessions.Save(c.Request.Context(), sess); err != nil {
		return err
	}
	token, err := auth.NewSessionToken(sess.ID, h.secret, h.sessionTTL, h.clock.Now(), h.issuer)
	if err != nil {
		return err
	}
	auth.SetCookie(c, h.cookie, token, h.sessionTTL)
	return nil
}

// rotateSession moves sess to a fresh id so a pre-login id cannot be reused.
func (h *Handler) rotateSession(c *gin.Context, sess *session.Session) error {
	if sess.ID != "" {
		if err := h.Sessions.Delete(c.Request.Context(), sess.ID); err != nil {
			h.Logger.Warn("delete old session failed", "error", err)
		}
		sess.ID = ""
	}
	return h.saveSession(c, sess)
}

func (h *Handler) destroySession(c *gin.Context, sess *session.Session) {
	if sess.ID != "" {
		if err := h.Sessions.Delete(c.Request.Context(), sess.ID); err != nil {
			h.Logger.Warn("delete session failed", "error", err)
		}
	}
	*sess = session.Session{}
	auth.ClearCookie(c, h.cookie)
}

// allow applies limiter to key. Limiter failures are logged and let the request through.
func (h *Handler) allow(c *gin.Context, limiter rate.Limiter, key string) bool {
	ok, retryAfter, err := limiter.Allow(c.Request.Context(), key, h.clock.Now())
	if err != nil {
		h.Logger.Warn("rate limiter unavailable", "key", key, "error", err)
		return true
	}
	if !ok {
		if retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int((retryAfter+time.Second-1)/time.Second)))
		}
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		return false
	}
	return true
}

func (h *Handler) requireAccount(c *gin.Context) (*session.Session, bool) {
	sess := sessionFrom(c)
	if !sess.Authenticated() {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required", nil)
		return nil, false
	}
	return sess, true
}

// writeServiceError maps service errors onto the API error codes.
func (h *Handler) writeServiceError(c *gin.Context, op string, err error) {
	var amountErr *service.AmountError
	switch {
	case errors.As(err, &amountErr):
		writeError(c, http.StatusBadRequest, "INVALID_AMOUNT", amountErr.Error(), map[string]string{
			"required_amount": amountErr.Required.StringFixed(2),
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrNoChallenge):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required", nil)
	case errors.Is(err, service.ErrInvalidOrExpiredCode):
		writeError(c, http.StatusBadRequest, "INVALID_CODE", "invalid or expired code", nil)
	case errors.Is(err, service.ErrTwoFactorDisabled):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "two-factor authentication is disabled", nil)
	case errors.Is(err, service.ErrInvalidResponse):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, service.ErrTokenNotFound):
		writeError(c, http.StatusNotFound, "TOKEN_NOT_FOUND", "invitation not found", nil)
	case errors.Is(err, service.ErrEventNotFound):
		writeError(c, http.StatusNotFound, "EVENT_NOT_FOUND", "event not found", nil)
	case errors.Is(err, service.ErrEventExpired):
		writeError(c, http.StatusGone, "EVENT_EXPIRED", "event has already taken place", nil)
	case errors.Is(err, service.ErrPaymentNotRequired):
		writeError(c, http.StatusBadRequest, "PAYMENT_NOT_REQUIRED", "event does not require payment", nil)
	case errors.Is(err, service.ErrPaymentRequired):
		writeError(c, http.StatusPaymentRequired, "PAYMENT_REQUIRED", "event requires payment", map[string]string{
			"payment_url": "/payment/" + c.Param("eventId"),
		})
	case errors.Is(err, service.ErrEventFull):
		writeError(c, http.StatusConflict, "EVENT_FULL", "event is full", nil)
	case errors.Is(err, service.ErrInvitationDeclined):
		writeError(c, http.StatusConflict, "INVITATION_DECLINED", "invitation was declined", nil)
	case errors.Is(err, service.ErrUnauthorizedAction):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "not allowed", nil)
	default:
		h.internalError(c, op, err)
	}
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.Logger.Error(op, "request_id", httpmiddleware.RequestIDFrom(c), "error", err)
	writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error, please retry", nil)
}

func writeError(c *gin.Context, status int, code, message string, details map[string]string) {
	c.JSON(status, errorResponse{Code: code, Message: message, Details: details})
}

// safeNext keeps redirect targets on this site.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}

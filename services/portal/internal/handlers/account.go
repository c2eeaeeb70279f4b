package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/service"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

type loginResponse struct {
	Status     string `json:"status"`
	RedirectTo string `json:"redirect_to"`
	Delivered  *bool  `json:"delivered,omitempty"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type toggleRequest struct {
	Enable *bool `json:"enable"`
}

type toggleResponse struct {
	Enabled          bool   `json:"enabled"`
	ChallengeStarted bool   `json:"challenge_started"`
	Delivered        *bool  `json:"delivered,omitempty"`
	RedirectTo       string `json:"redirect_to,omitempty"`
}

type meResponse struct {
	AccountID        string  `json:"account_id"`
	Email            string  `json:"email"`
	TwoFactorEnabled bool    `json:"two_factor_enabled"`
	LastVerifiedAt   *string `json:"last_verified_at,omitempty"`
	SessionVerified  bool    `json:"session_verified"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
		return
	}
	if !h.allow(c, h.loginLimiter, "login:"+c.ClientIP()) {
		return
	}

	sess := sessionFrom(c)
	res, err := h.TwoFactor.StartLogin(c.Request.Context(), sess, email, req.Password)
	if err != nil {
		h.writeServiceError(c, "login failed", err)
		return
	}
	sess.Next = safeNext(req.Next)
	if err := h.rotateSession(c, sess); err != nil {
		h.internalError(c, "save session failed", err)
		return
	}

	if res.ChallengeRequired {
		h.Logger.Info("login pending verification", "account_id", res.Account.ID, "email", logging.MaskEmail(res.Account.Email), "delivered", res.Delivered)
		delivered := res.Delivered
		c.JSON(http.StatusOK, loginResponse{Status: "two_factor_required", RedirectTo: service.VerifyPath, Delivered: &delivered})
		return
	}
	h.Logger.Info("login complete", "account_id", res.Account.ID)
	c.JSON(http.StatusOK, loginResponse{Status: "authenticated", RedirectTo: sess.Next})
}

func (h *Handler) Logout(c *gin.Context) {
	h.destroySession(c, sessionFrom(c))
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// VerifyStatus describes the pending challenge, or redirects when there is nothing
// to verify.
func (h *Handler) VerifyStatus(c *gin.Context) {
	sess := sessionFrom(c)
	status, err := h.TwoFactor.ChallengeStatus(c.Request.Context(), sess)
	if err != nil {
		if errors.Is(err, service.ErrNoChallenge) {
			c.Redirect(http.StatusSeeOther, "/login")
			return
		}
		h.writeServiceError(c, "challenge status failed", err)
		return
	}
	if !status.Required {
		c.Redirect(http.StatusSeeOther, safeNext(status.Next))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "challenge_pending",
		"email":       logging.MaskEmail(status.Email),
		"code_length": security.CodeLength,
	})
}

func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	sess := sessionFrom(c)
	accountID := sess.ChallengeAccount()
	if accountID == uuid.Nil {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required", nil)
		return
	}
	code := strings.TrimSpace(req.Code)
	if !security.ValidCode(code) {
		writeError(c, http.StatusBadRequest, "INVALID_CODE", "invalid or expired code", nil)
		return
	}
	if !h.allow(c, h.verifyLimiter, "verify:"+accountID.String()) {
		return
	}

	bound, err := h.TwoFactor.CompleteChallenge(c.Request.Context(), sess, code)
	if err != nil {
		h.writeServiceError(c, "verify code failed", err)
		return
	}
	next := safeNext(sess.Next)
	sess.Next = ""
	if bound {
		err = h.rotateSession(c, sess)
	} else {
		err = h.saveSession(c, sess)
	}
	if err != nil {
		h.internalError(c, "save session failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified", "redirect_to": next})
}

func (h *Handler) ResendCode(c *gin.Context) {
	sess := sessionFrom(c)
	accountID := sess.ChallengeAccount()
	if accountID == uuid.Nil {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required", nil)
		return
	}
	if !h.allow(c, h.resendLimiter, "resend:"+accountID.String()) {
		return
	}
	delivered, err := h.TwoFactor.Resend(c.Request.Context(), sess)
	if err != nil {
		h.writeServiceError(c, "resend code failed", err)
		return
	}
	if err := h.saveSession(c, sess); err != nil {
		h.internalError(c, "save session failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": delivered})
}

func (h *Handler) Toggle(c *gin.Context) {
	sess, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enable == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "enable must be a boolean", nil)
		return
	}
	res, err := h.TwoFactor.SetEnabled(c.Request.Context(), sess, *req.Enable)
	if err != nil {
		h.writeServiceError(c, "toggle two-factor failed", err)
		return
	}
	if err := h.saveSession(c, sess); err != nil {
		h.internalError(c, "save session failed", err)
		return
	}
	resp := toggleResponse{Enabled: res.State.Enabled, ChallengeStarted: res.ChallengeStarted}
	if res.ChallengeStarted {
		delivered := res.Delivered
		resp.Delivered = &delivered
		resp.RedirectTo = service.VerifyPath
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c *gin.Context) {
	sess, ok := h.requireAccount(c)
	if !ok {
		return
	}
	profile, err := h.TwoFactor.Profile(c.Request.Context(), sess.AccountID)
	if err != nil {
		h.writeServiceError(c, "load profile failed", err)
		return
	}
	resp := meResponse{
		AccountID:        profile.Account.ID.String(),
		Email:            profile.Account.Email,
		TwoFactorEnabled: profile.State.Enabled,
		SessionVerified:  sess.Verified,
	}
	if profile.State.LastVerifiedAt != nil {
		s := profile.State.LastVerifiedAt.UTC().Format(time.RFC3339)
		resp.LastVerifiedAt = &s
	}
	c.JSON(http.StatusOK, resp)
}

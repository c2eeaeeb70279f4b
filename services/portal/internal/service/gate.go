package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/session"
)

const VerifyPath = "/two-factor/verify"

// DefaultExemptPaths bypass the gate. Entries ending in "/" match by prefix, the rest
// match the path itself and anything below it.
var DefaultExemptPaths = []string{
	"/login",
	"/logout",
	"/password-reset",
	"/static/",
	"/media/",
	VerifyPath,
	"/two-factor/resend-code",
	"/admin",
	"/healthz",
	"/readyz",
}

type GateDecision struct {
	Allow            bool
	Redirect         string
	ChallengeStarted bool
	Delivered        bool
	// SessionChanged is set when the session must be saved before responding.
	SessionChanged bool
}

func (t *TwoFactor) Exempt(path string) bool {
	for _, p := range t.exempt {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Guard decides whether a request may proceed. Sessions without an account are let
// through; routes that need a login check that themselves. target is remembered as
// the post-verification redirect for GET requests.
func (t *TwoFactor) Guard(ctx context.Context, sess *session.Session, method, path, target string) (GateDecision, error) {
	if t.Exempt(path) || sess.ChallengeAccount() == uuid.Nil {
		return GateDecision{Allow: true}, nil
	}
	wasVerified := sess.Verified
	required, err := t.RequiresChallenge(ctx, sess)
	if err != nil {
		return GateDecision{}, err
	}
	if !required {
		return GateDecision{Allow: true}, nil
	}

	decision := GateDecision{Redirect: VerifyPath, SessionChanged: wasVerified != sess.Verified}
	if method == http.MethodGet && target != "" && sess.Next != target {
		sess.Next = target
		decision.SessionChanged = true
	}
	if sess.Pending() {
		return decision, nil
	}
	account, err := t.loadAccount(ctx, sess.ChallengeAccount())
	if err != nil {
		return GateDecision{}, err
	}
	delivered, err := t.BeginChallenge(ctx, sess, account)
	if err != nil {
		return GateDecision{}, err
	}
	decision.ChallengeStarted = true
	decision.Delivered = delivered
	decision.SessionChanged = true
	return decision, nil
}

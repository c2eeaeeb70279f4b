package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/auth"
)

const (
	SessionSecret = "test-session-secret"
	SessionIssuer = "smart-event"
)

// SessionToken signs a session token the way the portal does for sessionID.
func SessionToken(sessionID string, now time.Time) (string, error) {
	return auth.NewSessionToken(sessionID, []byte(SessionSecret), time.Hour, now, SessionIssuer)
}

// UniqueEmail returns an address under TestEmailDomain.
func UniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8] + TestEmailDomain
}

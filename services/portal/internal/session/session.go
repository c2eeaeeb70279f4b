// Package session keeps server-side login state. Clients only hold a signed token
// naming the session id.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID string `json:"-"`
	// AccountID is set once the login is complete (bound session).
	AccountID uuid.UUID `json:"account_id"`
	// PendingAccountID names the account whose second factor is being challenged.
	PendingAccountID uuid.UUID `json:"pending_account_id"`
	Verified         bool      `json:"verified"`
	VerifiedAt       time.Time `json:"verified_at"`
	Next             string    `json:"next,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *Session) Authenticated() bool {
	return s != nil && s.AccountID != uuid.Nil
}

func (s *Session) Pending() bool {
	return s != nil && s.PendingAccountID != uuid.Nil
}

// ChallengeAccount is the account a second factor applies to: the pending one during
// login, otherwise the bound one.
func (s *Session) ChallengeAccount() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	if s.PendingAccountID != uuid.Nil {
		return s.PendingAccountID
	}
	return s.AccountID
}

// Empty reports whether the session carries nothing worth persisting.
func (s *Session) Empty() bool {
	return s == nil || (s.AccountID == uuid.Nil && s.PendingAccountID == uuid.Nil && s.Next == "")
}

type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

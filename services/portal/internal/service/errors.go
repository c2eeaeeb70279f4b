package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrNoChallenge          = errors.New("no pending challenge")
	ErrTwoFactorDisabled    = errors.New("two-factor authentication is disabled")
	ErrTokenNotFound        = errors.New("invitation not found")
	ErrTokenCollision       = errors.New("could not allocate a unique invitation token")
	ErrEventNotFound        = errors.New("event not found")
	ErrEventExpired         = errors.New("event has already taken place")
	ErrInvalidAmount        = errors.New("invalid payment amount")
	ErrPaymentNotRequired   = errors.New("event does not require payment")
	ErrPaymentRequired      = errors.New("event requires payment")
	ErrEventFull            = errors.New("event is full")
	ErrInvitationDeclined   = errors.New("invitation was declined")
	ErrUnauthorizedAction   = errors.New("action not allowed")
	ErrInvalidResponse      = errors.New("response must be accept or decline")
)

// AmountError carries the price the caller has to pay.
type AmountError struct {
	Required decimal.Decimal
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("amount must be %s", e.Required.StringFixed(2))
}

func (e *AmountError) Unwrap() error {
	return ErrInvalidAmount
}

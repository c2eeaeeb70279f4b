package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/session"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

// DefaultTwoFactorEnabled is the state given to accounts that have none yet.
// EnsureConfigured is the only place that creates state, so this is the only default.
const DefaultTwoFactorEnabled = true

const DefaultVerificationWindow = 24 * time.Hour

type TwoFactorOption func(*TwoFactor)

func WithVerificationWindow(d time.Duration) TwoFactorOption {
	return func(t *TwoFactor) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithExemptPaths adds paths the gate never challenges (for example the metrics path).
func WithExemptPaths(paths ...string) TwoFactorOption {
	return func(t *TwoFactor) {
		for _, p := range paths {
			if p != "" {
				t.exempt = append(t.exempt, p)
			}
		}
	}
}

type TwoFactor struct {
	accounts   AccountStore
	issuer     *Issuer
	dispatcher notify.Dispatcher
	clock      Clock
	window     time.Duration
	exempt     []string
	logger     *slog.Logger
	metrics    *Metrics
}

func NewTwoFactor(accounts AccountStore, issuer *Issuer, dispatcher notify.Dispatcher, clock Clock, logger *slog.Logger, metrics *Metrics, opts ...TwoFactorOption) *TwoFactor {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = notify.LogDispatcher{Logger: logger}
	}
	t := &TwoFactor{
		accounts:   accounts,
		issuer:     issuer,
		dispatcher: dispatcher,
		clock:      clock,
		window:     DefaultVerificationWindow,
		exempt:     append([]string(nil), DefaultExemptPaths...),
		logger:     logger,
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureConfigured returns the account's state, creating it with
// DefaultTwoFactorEnabled on first touch.
func (t *TwoFactor) EnsureConfigured(ctx context.Context, accountID uuid.UUID) (storage.TwoFactorState, error) {
	state, created, err := t.accounts.EnsureTwoFactorState(ctx, accountID, DefaultTwoFactorEnabled, t.clock.Now())
	if err != nil {
		return storage.TwoFactorState{}, fmt.Errorf("ensure two-factor state: %w", err)
	}
	if created {
		t.metrics.IncStateCreated()
		t.logger.Info("two-factor state created", "account_id", accountID, "enabled", state.Enabled)
	}
	return state, nil
}

// RequiresChallenge reports whether the session's account still has to present a
// code. A verification older than the window is dropped from the session.
func (t *TwoFactor) RequiresChallenge(ctx context.Context, sess *session.Session) (bool, error) {
	accountID := sess.ChallengeAccount()
	if accountID == uuid.Nil {
		return false, nil
	}
	state, err := t.EnsureConfigured(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !state.Enabled {
		return false, nil
	}
	if sess.Pending() {
		return true, nil
	}
	if sess.Verified && t.clock.Now().Sub(sess.VerifiedAt) < t.window {
		return false, nil
	}
	sess.Verified = false
	sess.VerifiedAt = time.Time{}
	return true, nil
}

// BeginChallenge issues a code for account and marks the session pending. The
// returned bool is the delivery result; a failed delivery still leaves the session
// in the challenge.
func (t *TwoFactor) BeginChallenge(ctx context.Context, sess *session.Session, account *storage.Account) (bool, error) {
	code, err := t.issuer.Issue(ctx, account.ID)
	if err != nil {
		return false, err
	}
	sess.PendingAccountID = account.ID
	sess.Verified = false
	sess.VerifiedAt = time.Time{}

	delivered := t.dispatcher.Send(ctx, verificationCodeMessage(account.Email, code.Code, t.issuer.TTL()))
	t.metrics.IncChallenge(delivered)
	t.metrics.IncNotification(notifyVerificationCode, delivered)
	if !delivered {
		t.logger.Warn("verification code not delivered", "account_id", account.ID, "email", logging.MaskEmail(account.Email))
	}
	return delivered, nil
}

type LoginResult struct {
	Account           *storage.Account
	ChallengeRequired bool
	Delivered         bool
	// Bound is true when the session now belongs to the account without a challenge.
	Bound bool
}

// StartLogin checks credentials and either binds the session or starts a challenge.
func (t *TwoFactor) StartLogin(ctx context.Context, sess *session.Session, email, password string) (LoginResult, error) {
	account, err := t.accounts.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}
	ok, err := security.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		t.logger.Error("password hash unreadable", "account_id", account.ID, "error", err)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !ok {
		return LoginResult{}, ErrInvalidCredentials
	}

	state, err := t.EnsureConfigured(ctx, account.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if sess.AccountID != account.ID {
		sess.AccountID = uuid.Nil
		sess.Verified = false
		sess.VerifiedAt = time.Time{}
	}
	if !state.Enabled {
		sess.PendingAccountID = uuid.Nil
		sess.AccountID = account.ID
		return LoginResult{Account: account, Bound: true}, nil
	}
	delivered, err := t.BeginChallenge(ctx, sess, account)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Account: account, ChallengeRequired: true, Delivered: delivered}, nil
}

// Resend replaces the pending code with a fresh one.
func (t *TwoFactor) Resend(ctx context.Context, sess *session.Session) (bool, error) {
	accountID := sess.ChallengeAccount()
	if accountID == uuid.Nil {
		return false, ErrNoChallenge
	}
	account, err := t.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	state, err := t.EnsureConfigured(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !state.Enabled {
		return false, ErrTwoFactorDisabled
	}
	return t.BeginChallenge(ctx, sess, account)
}

// CompleteChallenge redeems code. On success the session is verified and bound to the
// challenged account; bound reports whether the binding is new.
func (t *TwoFactor) CompleteChallenge(ctx context.Context, sess *session.Session, code string) (bool, error) {
	accountID := sess.ChallengeAccount()
	if accountID == uuid.Nil {
		return false, ErrNoChallenge
	}
	ok, err := t.issuer.Verify(ctx, accountID, code)
	if err != nil {
		t.metrics.IncVerification("error")
		return false, err
	}
	if !ok {
		t.metrics.IncVerification("invalid")
		return false, ErrInvalidOrExpiredCode
	}
	t.metrics.IncVerification("ok")

	sess.Verified = true
	sess.VerifiedAt = t.clock.Now()
	sess.PendingAccountID = uuid.Nil
	bound := false
	if sess.AccountID != accountID {
		sess.AccountID = accountID
		bound = true
	}
	return bound, nil
}

type ChallengeStatus struct {
	AccountID uuid.UUID
	Email     string
	Required  bool
	Next      string
}

func (t *TwoFactor) ChallengeStatus(ctx context.Context, sess *session.Session) (ChallengeStatus, error) {
	accountID := sess.ChallengeAccount()
	if accountID == uuid.Nil {
		return ChallengeStatus{}, ErrNoChallenge
	}
	account, err := t.loadAccount(ctx, accountID)
	if err != nil {
		return ChallengeStatus{}, err
	}
	required, err := t.RequiresChallenge(ctx, sess)
	if err != nil {
		return ChallengeStatus{}, err
	}
	return ChallengeStatus{AccountID: accountID, Email: account.Email, Required: required, Next: sess.Next}, nil
}

type ToggleResult struct {
	State            storage.TwoFactorState
	ChallengeStarted bool
	Delivered        bool
}

// SetEnabled changes the bound account's setting. Turning it on from off starts a
// challenge right away.
func (t *TwoFactor) SetEnabled(ctx context.Context, sess *session.Session, enabled bool) (ToggleResult, error) {
	if !sess.Authenticated() {
		return ToggleResult{}, ErrUnauthorizedAction
	}
	previous, err := t.EnsureConfigured(ctx, sess.AccountID)
	if err != nil {
		return ToggleResult{}, err
	}
	state, err := t.accounts.SetTwoFactorEnabled(ctx, sess.AccountID, enabled, t.clock.Now())
	if err != nil {
		return ToggleResult{}, fmt.Errorf("update two-factor state: %w", err)
	}
	t.logger.Info("two-factor setting changed", "account_id", sess.AccountID, "enabled", enabled)
	result := ToggleResult{State: state}
	if !enabled {
		sess.PendingAccountID = uuid.Nil
		return result, nil
	}
	if previous.Enabled {
		return result, nil
	}
	account, err := t.loadAccount(ctx, sess.AccountID)
	if err != nil {
		return ToggleResult{}, err
	}
	delivered, err := t.BeginChallenge(ctx, sess, account)
	if err != nil {
		return ToggleResult{}, err
	}
	result.ChallengeStarted = true
	result.Delivered = delivered
	return result, nil
}

type Profile struct {
	Account storage.Account
	State   storage.TwoFactorState
}

func (t *TwoFactor) Profile(ctx context.Context, accountID uuid.UUID) (Profile, error) {
	account, err := t.loadAccount(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	state, err := t.EnsureConfigured(ctx, accountID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Account: *account, State: state}, nil
}

func (t *TwoFactor) loadAccount(ctx context.Context, id uuid.UUID) (*storage.Account, error) {
	account, err := t.accounts.GetAccountByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

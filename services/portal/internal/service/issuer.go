package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

const DefaultCodeTTL = 15 * time.Minute

// Issuer mints single-use verification codes. Issuing replaces every earlier code of
// the account, so at most one code is redeemable at a time.
type Issuer struct {
	store TxRunner
	codes security.CodeGenerator
	clock Clock
	ttl   time.Duration
}

func NewIssuer(store TxRunner, codes security.CodeGenerator, clock Clock, ttl time.Duration) *Issuer {
	if codes == nil {
		codes = security.RandomCodeGenerator{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &Issuer{store: store, codes: codes, clock: clock, ttl: ttl}
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) Issue(ctx context.Context, accountID uuid.UUID) (storage.VerificationCode, error) {
	value, err := i.codes.NewCode()
	if err != nil {
		return storage.VerificationCode{}, fmt.Errorf("generate code: %w", err)
	}
	now := i.clock.Now()
	code := storage.VerificationCode{
		ID:        uuid.New(),
		AccountID: accountID,
		Code:      value,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	err = i.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.ReplaceVerificationCode(ctx, code)
	})
	if err != nil {
		return storage.VerificationCode{}, fmt.Errorf("store code: %w", err)
	}
	return code, nil
}

// Verify redeems code for the account. It returns false for every kind of mismatch;
// err is only set for storage failures.
func (i *Issuer) Verify(ctx context.Context, accountID uuid.UUID, code string) (bool, error) {
	if !security.ValidCode(code) {
		return false, nil
	}
	ok := false
	err := i.store.InTx(ctx, func(tx storage.Tx) error {
		vc, err := tx.LockVerificationCode(ctx, accountID, code)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := i.clock.Now()
		if !vc.Usable(now) {
			return nil
		}
		if err := tx.MarkCodeUsed(ctx, vc.ID); err != nil {
			return err
		}
		if err := tx.TouchLastVerified(ctx, accountID, now); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("verify code: %w", err)
	}
	return ok, nil
}

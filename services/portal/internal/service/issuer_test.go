package service

import (
	"context"
	"testing"
	"time"
)

func TestIssuerCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.codes.push("123456")

	code, err := f.issuer.Issue(ctx, f.guest.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code.Code != "123456" || !code.ExpiresAt.Equal(f.clock.Now().Add(15*time.Minute)) {
		t.Fatalf("unexpected code %+v", code)
	}

	ok, err := f.issuer.Verify(ctx, f.guest.ID, "123456")
	if err != nil || !ok {
		t.Fatalf("expected first verify to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = f.issuer.Verify(ctx, f.guest.ID, "123456")
	if err != nil || ok {
		t.Fatalf("expected second verify to fail, got ok=%v err=%v", ok, err)
	}
}

func TestIssuerCodeExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.codes.push("111111")
	if _, err := f.issuer.Issue(ctx, f.guest.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.clock.Advance(14*time.Minute + 59*time.Second)
	if ok, _ := f.issuer.Verify(ctx, f.guest.ID, "111111"); !ok {
		t.Fatalf("expected code to be valid just before expiry")
	}

	f.codes.push("222222")
	if _, err := f.issuer.Issue(ctx, f.guest.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.clock.Advance(15 * time.Minute)
	if ok, _ := f.issuer.Verify(ctx, f.guest.ID, "222222"); ok {
		t.Fatalf("expected code to be rejected at expiry")
	}
}

func TestIssuerReissueInvalidatesPreviousCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.codes.push("111111", "222222")

	for i := 0; i < 2; i++ {
		if _, err := f.issuer.Issue(ctx, f.guest.ID); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}
	if codes := f.store.Codes(f.guest.ID); len(codes) != 1 {
		t.Fatalf("expected one stored code, got %d", len(codes))
	}
	if ok, _ := f.issuer.Verify(ctx, f.guest.ID, "111111"); ok {
		t.Fatalf("expected superseded code to be rejected")
	}
	if ok, _ := f.issuer.Verify(ctx, f.guest.ID, "222222"); !ok {
		t.Fatalf("expected latest code to be accepted")
	}
}

func TestIssuerCodesAreScopedToAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.codes.push("333333")

	if _, err := f.issuer.Issue(ctx, f.guest.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ok, _ := f.issuer.Verify(ctx, f.owner.ID, "333333"); ok {
		t.Fatalf("expected another account's code to be rejected")
	}
}

func TestIssuerRejectsMalformedCode(t *testing.T) {
	f := newFixture(t)
	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456"} {
		ok, err := f.issuer.Verify(context.Background(), f.guest.ID, code)
		if err != nil || ok {
			t.Fatalf("code %q: expected rejection without error, got ok=%v err=%v", code, ok, err)
		}
	}
}

func TestIssuerVerifyRecordsLastVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.twoFactor.EnsureConfigured(ctx, f.guest.ID); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	f.codes.push("444444")
	if _, err := f.issuer.Issue(ctx, f.guest.ID); err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.clock.Advance(time.Minute)
	if ok, _ := f.issuer.Verify(ctx, f.guest.ID, "444444"); !ok {
		t.Fatalf("expected verify to succeed")
	}
	state, err := f.store.GetTwoFactorState(ctx, f.guest.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.LastVerifiedAt == nil || !state.LastVerifiedAt.Equal(f.clock.Now()) {
		t.Fatalf("expected last_verified_at %v, got %v", f.clock.Now(), state.LastVerifiedAt)
	}
}

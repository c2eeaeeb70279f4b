package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPayRequiresExactAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{price: "25.00", paid: true})

	for _, amount := range []string{"24.99", "25.01", "0"} {
		_, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec(amount), "tx-1")
		var amountErr *AmountError
		if !errors.As(err, &amountErr) || !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected amount error, got %v", amount, err)
		}
		if amountErr.Error() != "amount must be 25.00" {
			t.Fatalf("unexpected message %q", amountErr.Error())
		}
	}
	if len(f.store.Invitations(event.ID)) != 0 || f.store.RSVPCount(event.ID) != 0 {
		t.Fatalf("expected nothing written for rejected payments")
	}

	res, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec("25"), "tx-1")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	inv := res.Invitation
	if inv.Status != storage.InvitationAccepted || !inv.Paid() || inv.PaymentAmount == nil || !inv.PaymentAmount.Equal(dec("25.00")) {
		t.Fatalf("unexpected invitation %+v", inv)
	}
	if res.TransactionID != "tx-1" || inv.PaymentDate == nil || !inv.PaymentDate.Equal(f.clock.Now()) {
		t.Fatalf("unexpected payment details %+v", res)
	}
	rsvp, err := f.store.GetRSVP(ctx, f.guest.ID, event.ID)
	if err != nil || rsvp.Response != storage.RSVPYes {
		t.Fatalf("expected rsvp yes, got %+v err=%v", rsvp, err)
	}
}

func TestPayTwiceIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{price: "10.50", paid: true})

	if _, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec("10.50"), "tx-a"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	again, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec("10.50"), "tx-b")
	if err != nil {
		t.Fatalf("pay again: %v", err)
	}
	if !again.AlreadyProcessed || again.TransactionID != "tx-a" {
		t.Fatalf("expected replay keeping first transaction, got %+v", again)
	}
	if n := len(f.store.Invitations(event.ID)); n != 1 {
		t.Fatalf("expected one invitation, got %d", n)
	}
	if n := f.store.RSVPCount(event.ID); n != 1 {
		t.Fatalf("expected one rsvp, got %d", n)
	}
}

func TestConcurrentPaymentsAdmitOnce(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(t, eventOpts{price: "25.00", paid: true})

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.admission.Pay(context.Background(), f.guest.ID, event.ID, dec("25.00"), "")
			if err != nil {
				t.Errorf("pay: %v", err)
				return
			}
			if !res.AlreadyProcessed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if fresh != 1 {
		t.Fatalf("expected exactly one admission, got %d", fresh)
	}
	invs := f.store.Invitations(event.ID)
	if len(invs) != 1 || invs[0].Status != storage.InvitationAccepted || !invs[0].Paid() {
		t.Fatalf("expected one paid invitation, got %+v", invs)
	}
	if n := f.store.RSVPCount(event.ID); n != 1 {
		t.Fatalf("expected one rsvp, got %d", n)
	}
}

func TestPayPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	free := f.addEvent(t, eventOpts{})
	zeroPriced := f.addEvent(t, eventOpts{paid: true, price: "0"})
	past := f.addEvent(t, eventOpts{price: "5", paid: true, startsIn: -time.Hour})

	if _, err := f.admission.Pay(ctx, f.guest.ID, free.ID, dec("0"), ""); !errors.Is(err, ErrPaymentNotRequired) {
		t.Fatalf("expected payment not required, got %v", err)
	}
	if _, err := f.admission.Pay(ctx, f.guest.ID, zeroPriced.ID, dec("0"), ""); !errors.Is(err, ErrPaymentNotRequired) {
		t.Fatalf("expected payment not required for zero price, got %v", err)
	}
	if _, err := f.admission.Pay(ctx, f.guest.ID, past.ID, dec("5"), ""); !errors.Is(err, ErrEventExpired) {
		t.Fatalf("expected event expired, got %v", err)
	}
}

func TestPayDefaultsMockTransactionID(t *testing.T) {
	f := newFixture(t)
	event := f.addEvent(t, eventOpts{price: "3", paid: true})
	res, err := f.admission.Pay(context.Background(), f.guest.ID, event.ID, dec("3.00"), "  ")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !strings.HasPrefix(res.TransactionID, "MOCK-"+f.guest.ID.String()+"-") {
		t.Fatalf("unexpected transaction id %q", res.TransactionID)
	}
}

func TestPayUsesExistingInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{kind: storage.EventPrivate, price: "12", paid: true})

	if _, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec("12"), ""); !errors.Is(err, ErrUnauthorizedAction) {
		t.Fatalf("expected uninvited payment on private event to fail, got %v", err)
	}

	inv := f.invite(t, event.ID, "GUEST@example.test")
	res, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec("12"), "tx")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if res.Invitation.ID != inv.ID || res.Invitation.Token != inv.Token || !res.Invitation.Paid() {
		t.Fatalf("expected existing invitation to be admitted, got %+v", res.Invitation)
	}
}

func TestPayAfterDeclineIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{price: "12", paid: true})
	inv := f.invite(t, event.ID, f.guest.Email)
	if _, err := f.registry.Respond(ctx, inv.Token, "decline", f.guest.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}

	if _, err := f.admission.Pay(ctx, f.guest.ID, event.ID, dec("12"), ""); !errors.Is(err, ErrInvitationDeclined) {
		t.Fatalf("expected declined invitation error, got %v", err)
	}
	rsvp, _ := f.store.GetRSVP(ctx, f.guest.ID, event.ID)
	if rsvp == nil || rsvp.Response != storage.RSVPNo {
		t.Fatalf("expected rsvp to stay no, got %+v", rsvp)
	}
}

func TestJoinFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{max: 1})
	paid := f.addEvent(t, eventOpts{price: "9", paid: true})

	res, err := f.admission.JoinFree(ctx, f.guest.ID, event.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Invitation.Status != storage.InvitationAccepted || res.Invitation.Paid() {
		t.Fatalf("unexpected invitation %+v", res.Invitation)
	}
	again, err := f.admission.JoinFree(ctx, f.guest.ID, event.ID)
	if err != nil || !again.AlreadyProcessed {
		t.Fatalf("expected replay, got %+v err=%v", again, err)
	}

	if _, err := f.admission.JoinFree(ctx, f.owner.ID, event.ID); !errors.Is(err, ErrEventFull) {
		t.Fatalf("expected event full, got %v", err)
	}
	if _, err := f.admission.JoinFree(ctx, f.guest.ID, paid.ID); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("expected payment required, got %v", err)
	}
}

func TestJoinFreeAfterAnonymousAcceptWritesRSVP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{})
	inv := f.invite(t, event.ID, f.guest.Email)
	if _, err := f.registry.Respond(ctx, inv.Token, "accept", uuid.Nil); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.store.GetRSVP(ctx, f.guest.ID, event.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no rsvp after anonymous accept, got %v", err)
	}

	res, err := f.admission.JoinFree(ctx, f.guest.ID, event.ID)
	if err != nil || !res.AlreadyProcessed {
		t.Fatalf("expected replay, got %+v err=%v", res, err)
	}
	rsvp, err := f.store.GetRSVP(ctx, f.guest.ID, event.ID)
	if err != nil || rsvp.Response != storage.RSVPYes {
		t.Fatalf("expected rsvp yes, got %+v err=%v", rsvp, err)
	}
}

func TestAdmissionUnknownAccountOrEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := f.addEvent(t, eventOpts{})

	if _, err := f.admission.JoinFree(ctx, event.ID, event.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if _, err := f.admission.JoinFree(ctx, f.guest.ID, f.guest.ID); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected event not found, got %v", err)
	}
}

package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/testutil"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(func() {
		_ = testutil.CleanupTestData(context.Background(), pool)
		pool.Close()
	})

	if err := Migrate(context.Background(), pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(pool), pool
}

func createOwnerAndEvent(t *testing.T, ctx context.Context, store *Store, kind EventKind, price string, startsAt time.Time) (Account, Event) {
	t.Helper()
	owner := Account{ID: uuid.New(), Email: testutil.UniqueEmail("owner"), PasswordHash: "x", CreatedAt: time.Now()}
	if err := store.CreateAccount(ctx, owner); err != nil {
		t.Fatalf("create account: %v", err)
	}
	event := Event{
		ID:        uuid.New(),
		Kind:      kind,
		OwnerID:   owner.ID,
		Title:     "Integration event",
		StartsAt:  startsAt,
		Price:     decimal.RequireFromString(price),
		IsPaid:    price != "0",
		CreatedAt: time.Now(),
	}
	if err := store.CreateEvent(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return owner, event
}

func TestEnsureTwoFactorStateIsIdempotent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	account := Account{ID: uuid.New(), Email: testutil.UniqueEmail("tfa"), PasswordHash: "x", CreatedAt: time.Now()}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	st, created, err := store.EnsureTwoFactorState(ctx, account.ID, true, time.Now())
	if err != nil || !created || !st.Enabled {
		t.Fatalf("expected created enabled state, got %+v %v %v", st, created, err)
	}
	st, created, err = store.EnsureTwoFactorState(ctx, account.ID, false, time.Now())
	if err != nil || created || !st.Enabled {
		t.Fatalf("expected existing state untouched, got %+v %v %v", st, created, err)
	}
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	email := testutil.UniqueEmail("dup")
	if err := store.CreateAccount(ctx, Account{ID: uuid.New(), Email: email, PasswordHash: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	err := store.CreateAccount(ctx, Account{ID: uuid.New(), Email: strings.ToUpper(email), PasswordHash: "x", CreatedAt: time.Now()})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken for case-insensitive duplicate, got %v", err)
	}
}

func TestReplaceAndConsumeVerificationCode(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	account := Account{ID: uuid.New(), Email: testutil.UniqueEmail("code"), PasswordHash: "x", CreatedAt: time.Now()}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	now := time.Now()
	for _, code := range []string{"111111", "222222"} {
		code := code
		err := store.InTx(ctx, func(tx Tx) error {
			return tx.ReplaceVerificationCode(ctx, VerificationCode{ID: uuid.New(), AccountID: account.ID, Code: code, CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute)})
		})
		if err != nil {
			t.Fatalf("replace code: %v", err)
		}
	}

	err := store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockVerificationCode(ctx, account.ID, "111111"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected superseded code to be gone, got %v", err)
		}
		vc, err := tx.LockVerificationCode(ctx, account.ID, "222222")
		if err != nil {
			return err
		}
		return tx.MarkCodeUsed(ctx, vc.ID)
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
}

func TestUpsertAdmissionConcurrentSingleRow(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()

	_, event := createOwnerAndEvent(t, ctx, store, EventPublic, "25.00", time.Now().Add(48*time.Hour))
	guest := Account{ID: uuid.New(), Email: testutil.UniqueEmail("guest"), PasswordHash: "x", CreatedAt: time.Now()}
	if err := store.CreateAccount(ctx, guest); err != nil {
		t.Fatalf("create guest: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.InTx(ctx, func(tx Tx) error {
				if _, err := tx.LockEvent(ctx, event.ID); err != nil {
					return err
				}
				if existing, err := tx.LockGuest(ctx, event.ID, guest.Email); err == nil && existing.Paid() {
					return nil
				} else if err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
				now := time.Now()
				if _, err := tx.UpsertAdmission(ctx, Admission{
					EventID: event.ID, Email: guest.Email, Token: uuid.NewString(), At: now,
					Payment: &Payment{Amount: decimal.RequireFromString("25.00"), TransactionID: "tx"},
				}); err != nil {
					return err
				}
				return tx.UpsertRSVP(ctx, RSVP{AccountID: guest.ID, EventID: event.ID, Response: RSVPYes, UpdatedAt: now})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("admission: %v", err)
		}
	}

	var invitations, rsvps int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM guest_invitations WHERE event_id = $1`, event.ID).Scan(&invitations); err != nil {
		t.Fatalf("count invitations: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM rsvps WHERE event_id = $1`, event.ID).Scan(&rsvps); err != nil {
		t.Fatalf("count rsvps: %v", err)
	}
	if invitations != 1 || rsvps != 1 {
		t.Fatalf("expected one invitation and one rsvp, got %d and %d", invitations, rsvps)
	}
}

func TestMarkInvitationRespondedOnlyFromPending(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, event := createOwnerAndEvent(t, ctx, store, EventPrivate, "0", time.Now().Add(24*time.Hour))
	inv, created, err := store.InsertInvitation(ctx, GuestInvitation{ID: uuid.New(), Token: uuid.NewString(), EventID: event.ID, Email: testutil.UniqueEmail("inv"), CreatedAt: time.Now()})
	if err != nil || !created {
		t.Fatalf("insert invitation: %v %v", created, err)
	}

	var first, second bool
	err = store.InTx(ctx, func(tx Tx) error {
		var err error
		if first, err = tx.MarkInvitationResponded(ctx, inv.ID, InvitationAccepted, time.Now()); err != nil {
			return err
		}
		second, err = tx.MarkInvitationResponded(ctx, inv.ID, InvitationDeclined, time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !first || second {
		t.Fatalf("expected only the first transition to apply, got %v %v", first, second)
	}

	got, err := store.GetInvitationByToken(ctx, inv.Token)
	if err != nil || got.Status != InvitationAccepted {
		t.Fatalf("expected accepted, got %+v %v", got, err)
	}
}

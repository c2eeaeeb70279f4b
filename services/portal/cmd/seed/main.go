package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/service"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

var (
	hostID        = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	guestID       = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	publicEventID = uuid.MustParse("00000000-0000-0000-0000-000000000101")
	privateEvtID  = uuid.MustParse("00000000-0000-0000-0000-000000000102")
)

type demoAccount struct {
	id       uuid.UUID
	email    string
	password string
}

var demoAccounts = []demoAccount{
	{id: hostID, email: "host@example.com", password: "host123"},
	{id: guestID, email: "guest@example.com", password: "guest123"},
}

func main() {
	env := getEnv("SEV_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: SEV_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "smartevent"),
		getEnv("POSTGRES_PASSWORD", "smartevent"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "smart_event"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := storage.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Println("✓ Schema applied")

	store := storage.New(pool)
	logger := logging.NewLogger("warn", "seed", env)
	clock := service.SystemClock{}
	mail := notify.LogDispatcher{Logger: logger}
	issuer := service.NewIssuer(store, security.RandomCodeGenerator{}, clock, service.DefaultCodeTTL)
	twoFactor := service.NewTwoFactor(store, issuer, mail, clock, logger, nil)
	registry := service.NewRegistry(store, security.UUIDTokenGenerator{}, mail, clock, logger, nil,
		service.WithBaseURL(getEnv("SEV_PUBLIC_BASE_URL", "http://localhost:8080")))

	if err := seedAccounts(ctx, store, twoFactor); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}
	fmt.Println("✓ Accounts seeded")

	if err := seedEvents(ctx, store); err != nil {
		log.Fatalf("seed events: %v", err)
	}
	fmt.Println("✓ Events seeded")

	inv, _, err := registry.CreateInvitation(ctx, privateEvtID, "guest@example.com")
	if err != nil {
		log.Fatalf("seed invitation: %v", err)
	}
	fmt.Println("✓ Invitation seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, store, twoFactor); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	for _, a := range demoAccounts {
		fmt.Printf("  Email: %s\n  Password: %s\n", a.email, a.password)
	}
	fmt.Println("\nGuest RSVP link (DEV ONLY):")
	fmt.Printf("  %s\n", registry.Link(inv.Token))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedAccounts(ctx context.Context, store *storage.Store, twoFactor *service.TwoFactor) error {
	for _, a := range demoAccounts {
		if err := ensureAccount(ctx, store, a); err != nil {
			return err
		}
		if _, err := twoFactor.EnsureConfigured(ctx, a.id); err != nil {
			return err
		}
	}
	return nil
}

func ensureAccount(ctx context.Context, store *storage.Store, a demoAccount) error {
	if _, err := store.GetAccountByEmail(ctx, a.email); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	hash, err := security.HashPassword(a.password, security.DefaultArgon2Params())
	if err != nil {
		return err
	}
	err = store.CreateAccount(ctx, storage.Account{
		ID:           a.id,
		Email:        a.email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		return nil
	}
	return err
}

func seedEvents(ctx context.Context, store *storage.Store) error {
	now := time.Now().UTC()
	events := []storage.Event{
		{
			ID:              publicEventID,
			Kind:            storage.EventPublic,
			OwnerID:         hostID,
			Title:           "Community Meetup",
			StartsAt:        now.AddDate(0, 1, 0),
			Location:        "Main Hall",
			Price:           decimal.RequireFromString("10.00"),
			IsPaid:          true,
			MaxParticipants: 50,
			CreatedAt:       now,
		},
		{
			ID:        privateEvtID,
			Kind:      storage.EventPrivate,
			OwnerID:   hostID,
			Title:     "Team Dinner",
			StartsAt:  now.AddDate(0, 0, 14),
			Location:  "Rooftop",
			Price:     decimal.Zero,
			CreatedAt: now,
		},
	}
	for _, e := range events {
		if err := ensureEvent(ctx, store, e); err != nil {
			return err
		}
	}
	return nil
}

func ensureEvent(ctx context.Context, store *storage.Store, e storage.Event) error {
	_, err := store.GetEvent(ctx, e.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return store.CreateEvent(ctx, e)
}

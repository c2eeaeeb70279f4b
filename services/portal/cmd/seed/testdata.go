package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/service"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

// seedTestData adds fixtures for manual edge-case testing: an account that opted
// out of two-factor and an event that already started.
func seedTestData(ctx context.Context, store *storage.Store, twoFactor *service.TwoFactor) error {
	noMFA := demoAccount{
		id:       uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		email:    "nomfa@example.com",
		password: "nomfa123",
	}
	if err := ensureAccount(ctx, store, noMFA); err != nil {
		return err
	}
	if _, err := twoFactor.EnsureConfigured(ctx, noMFA.id); err != nil {
		return err
	}
	if _, err := store.SetTwoFactorEnabled(ctx, noMFA.id, false, time.Now().UTC()); err != nil {
		return err
	}

	now := time.Now().UTC()
	return ensureEvent(ctx, store, storage.Event{
		ID:              uuid.MustParse("00000000-0000-0000-0000-000000000103"),
		Kind:            storage.EventPublic,
		OwnerID:         hostID,
		Title:           "Last Week's Workshop",
		StartsAt:        now.AddDate(0, 0, -7),
		Location:        "Lab 2",
		Price:           decimal.RequireFromString("5.00"),
		IsPaid:          true,
		MaxParticipants: 10,
		CreatedAt:       now.AddDate(0, 0, -30),
	})
}

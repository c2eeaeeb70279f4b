package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

// TxRunner is satisfied by storage.Store and storage.Memory.
type TxRunner interface {
	InTx(ctx context.Context, fn func(storage.Tx) error) error
}

type AccountStore interface {
	TxRunner
	GetAccountByID(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*storage.Account, error)
	EnsureTwoFactorState(ctx context.Context, accountID uuid.UUID, enabled bool, now time.Time) (storage.TwoFactorState, bool, error)
	SetTwoFactorEnabled(ctx context.Context, accountID uuid.UUID, enabled bool, now time.Time) (storage.TwoFactorState, error)
}

type EventStore interface {
	TxRunner
	GetAccountByID(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*storage.Event, error)
	InsertInvitation(ctx context.Context, inv storage.GuestInvitation) (*storage.GuestInvitation, bool, error)
	GetInvitationByToken(ctx context.Context, token string) (*storage.GuestInvitation, error)
}

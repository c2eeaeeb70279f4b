package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type TwoFactorState struct {
	AccountID      uuid.UUID
	Enabled        bool
	LastVerifiedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type VerificationCode struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Usable reports whether the code may still be redeemed at now.
func (v VerificationCode) Usable(now time.Time) bool {
	return !v.Used && v.ExpiresAt.After(now)
}

type EventKind string

const (
	EventPublic  EventKind = "public"
	EventPrivate EventKind = "private"
)

func (k EventKind) Valid() bool {
	return k == EventPublic || k == EventPrivate
}

// Event is either a public or a private event; Kind is the discriminant and
// MaxParticipants is only meaningful for public events (0 means unlimited).
type Event struct {
	ID              uuid.UUID
	Kind            EventKind
	OwnerID         uuid.UUID
	Title           string
	StartsAt        time.Time
	Location        string
	Price           decimal.Decimal
	IsPaid          bool
	MaxParticipants int
	CreatedAt       time.Time
}

// RequiresPayment is true only for paid events with a positive price.
func (e Event) RequiresPayment() bool {
	return e.IsPaid && e.Price.GreaterThan(decimal.Zero)
}

func (e Event) Past(now time.Time) bool {
	return e.StartsAt.Before(now)
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type GuestInvitation struct {
	ID                   uuid.UUID
	Token                string
	EventID              uuid.UUID
	Email                string
	Status               InvitationStatus
	PaymentAmount        *decimal.Decimal
	PaymentStatus        PaymentStatus
	PaymentTransactionID *string
	PaymentDate          *time.Time
	RespondedAt          *time.Time
	CreatedAt            time.Time
}

func (g GuestInvitation) Paid() bool {
	return g.PaymentStatus == PaymentPaid
}

type RSVPResponse string

const (
	RSVPYes   RSVPResponse = "yes"
	RSVPNo    RSVPResponse = "no"
	RSVPMaybe RSVPResponse = "maybe"
)

type RSVP struct {
	AccountID uuid.UUID
	EventID   uuid.UUID
	Response  RSVPResponse
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Admission is the find-or-create input for an accepted guest; Payment is nil for
// free admission.
type Admission struct {
	EventID uuid.UUID
	Email   string
	Token   string
	At      time.Time
	Payment *Payment
}

type Payment struct {
	Amount        decimal.Decimal
	TransactionID string
}

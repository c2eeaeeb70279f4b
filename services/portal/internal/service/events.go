package service

import (
	"context"
	"log/slog"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

const (
	InvitationRespondedType = "invitation.responded"
	GuestAdmittedType       = "guest.admitted"
)

type InvitationResponded struct {
	kafka.Envelope
	InvitationID string `json:"invitation_id"`
	EventID      string `json:"event_id"`
	Status       string `json:"status"`
	AccountID    string `json:"account_id,omitempty"`
}

type GuestAdmitted struct {
	kafka.Envelope
	InvitationID  string `json:"invitation_id"`
	EventID       string `json:"event_id"`
	AccountID     string `json:"account_id"`
	Paid          bool   `json:"paid"`
	Amount        string `json:"amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// eventPublisher emits domain events after commit. A nil publisher disables it.
type eventPublisher struct {
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
}

func (p *eventPublisher) invitationResponded(ctx context.Context, inv *storage.GuestInvitation, accountID string) {
	if p == nil || p.publisher == nil {
		return
	}
	env, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(InvitationRespondedType, inv.ID.String(), string(inv.Status)),
		InvitationRespondedType, 1, inv.ID.String())
	if err != nil {
		p.logger.Error("build event failed", "type", InvitationRespondedType, "error", err)
		return
	}
	p.publish(ctx, inv.EventID.String(), InvitationResponded{
		Envelope:     env,
		InvitationID: inv.ID.String(),
		EventID:      inv.EventID.String(),
		Status:       string(inv.Status),
		AccountID:    accountID,
	})
}

func (p *eventPublisher) guestAdmitted(ctx context.Context, inv *storage.GuestInvitation, accountID string) {
	if p == nil || p.publisher == nil {
		return
	}
	env, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(GuestAdmittedType, inv.ID.String(), string(inv.PaymentStatus)),
		GuestAdmittedType, 1, inv.ID.String())
	if err != nil {
		p.logger.Error("build event failed", "type", GuestAdmittedType, "error", err)
		return
	}
	event := GuestAdmitted{
		Envelope:     env,
		InvitationID: inv.ID.String(),
		EventID:      inv.EventID.String(),
		AccountID:    accountID,
		Paid:         inv.Paid(),
	}
	if inv.PaymentAmount != nil {
		event.Amount = inv.PaymentAmount.StringFixed(2)
	}
	if inv.PaymentTransactionID != nil {
		event.TransactionID = *inv.PaymentTransactionID
	}
	p.publish(ctx, inv.EventID.String(), event)
}

func (p *eventPublisher) publish(ctx context.Context, key string, event interface{ Type() string }) {
	if _, _, err := p.publisher.PublishJSON(ctx, p.topic, key, event); err != nil {
		p.logger.Warn("domain event not published", "type", event.Type(), "error", err)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

const DefaultMaxTokenAttempts = 3

type RegistryOption func(*Registry)

// WithBaseURL sets the absolute prefix of invitation links.
func WithBaseURL(baseURL string) RegistryOption {
	return func(r *Registry) {
		r.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithEventPublisher publishes invitation.responded and guest.admitted after commit.
func WithEventPublisher(publisher kafka.Publisher, topic string) RegistryOption {
	return func(r *Registry) {
		if publisher == nil || topic == "" {
			return
		}
		r.events = &eventPublisher{publisher: publisher, topic: topic, logger: r.logger}
	}
}

func WithMaxTokenAttempts(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxTokenAttempts = n
		}
	}
}

// Registry owns guest invitations: token issuance, the one-time pending transition
// and the admission primitive shared by payment and free join.
type Registry struct {
	store            EventStore
	tokens           security.TokenGenerator
	dispatcher       notify.Dispatcher
	events           *eventPublisher
	clock            Clock
	logger           *slog.Logger
	metrics          *Metrics
	baseURL          string
	maxTokenAttempts int
}

func NewRegistry(store EventStore, tokens security.TokenGenerator, dispatcher notify.Dispatcher, clock Clock, logger *slog.Logger, metrics *Metrics, opts ...RegistryOption) *Registry {
	if tokens == nil {
		tokens = security.UUIDTokenGenerator{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = notify.LogDispatcher{Logger: logger}
	}
	r := &Registry{
		store:            store,
		tokens:           tokens,
		dispatcher:       dispatcher,
		clock:            clock,
		logger:           logger,
		metrics:          metrics,
		maxTokenAttempts: DefaultMaxTokenAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Link is the URL a guest opens to answer an invitation.
func (r *Registry) Link(token string) string {
	return r.baseURL + "/guest/" + token
}

// CreateInvitation returns the pending invitation for (event, email). created is
// false when one already existed.
func (r *Registry) CreateInvitation(ctx context.Context, eventID uuid.UUID, email string) (*storage.GuestInvitation, bool, error) {
	if _, err := r.loadEvent(ctx, eventID); err != nil {
		return nil, false, err
	}
	return r.insertInvitation(ctx, eventID, email)
}

func (r *Registry) insertInvitation(ctx context.Context, eventID uuid.UUID, email string) (*storage.GuestInvitation, bool, error) {
	for attempt := 1; attempt <= r.maxTokenAttempts; attempt++ {
		token, err := r.tokens.NewToken()
		if err != nil {
			return nil, false, fmt.Errorf("generate token: %w", err)
		}
		inv, created, err := r.store.InsertInvitation(ctx, storage.GuestInvitation{
			ID:        uuid.New(),
			Token:     token,
			EventID:   eventID,
			Email:     email,
			CreatedAt: r.clock.Now(),
		})
		if errors.Is(err, storage.ErrTokenConflict) {
			r.logger.Warn("invitation token collision", "event_id", eventID, "attempt", attempt)
			continue
		}
		if err != nil {
			r.metrics.IncInvitationCreated("error")
			return nil, false, fmt.Errorf("insert invitation: %w", err)
		}
		if created {
			r.metrics.IncInvitationCreated("created")
		} else {
			r.metrics.IncInvitationCreated("existing")
		}
		return inv, created, nil
	}
	r.metrics.IncInvitationCreated("collision")
	return nil, false, ErrTokenCollision
}

type InviteFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type InviteSummary struct {
	Sent   []string        `json:"sent"`
	Failed []InviteFailure `json:"failed"`
}

// InviteAll invites every address on behalf of the event owner and mails the links.
// Per-address problems are reported in the summary instead of failing the batch.
func (r *Registry) InviteAll(ctx context.Context, actor, eventID uuid.UUID, emails []string) (InviteSummary, error) {
	event, err := r.loadEvent(ctx, eventID)
	if err != nil {
		return InviteSummary{}, err
	}
	if event.OwnerID != actor {
		return InviteSummary{}, ErrUnauthorizedAction
	}
	if event.Past(r.clock.Now()) {
		return InviteSummary{}, ErrEventExpired
	}

	summary := InviteSummary{Sent: []string{}, Failed: []InviteFailure{}}
	seen := make(map[string]struct{}, len(emails))
	for _, raw := range emails {
		email := strings.TrimSpace(raw)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			summary.Failed = append(summary.Failed, InviteFailure{Email: email, Reason: "invalid_email"})
			continue
		}
		inv, _, err := r.insertInvitation(ctx, eventID, email)
		if err != nil {
			r.logger.Error("create invitation failed", "event_id", eventID, "email", logging.MaskEmail(email), "error", err)
			summary.Failed = append(summary.Failed, InviteFailure{Email: email, Reason: "internal_error"})
			continue
		}
		if inv.Status != storage.InvitationPending {
			summary.Failed = append(summary.Failed, InviteFailure{Email: email, Reason: "already_responded"})
			continue
		}
		delivered := r.dispatcher.Send(ctx, invitationMessage(email, event, r.Link(inv.Token)))
		r.metrics.IncNotification(notifyInvitation, delivered)
		if !delivered {
			r.logger.Warn("invitation not delivered", "event_id", eventID, "email", logging.MaskEmail(email))
			summary.Failed = append(summary.Failed, InviteFailure{Email: email, Reason: "delivery_failed"})
			continue
		}
		summary.Sent = append(summary.Sent, email)
	}
	return summary, nil
}

type InvitationView struct {
	Invitation storage.GuestInvitation
	Event      storage.Event
}

func (r *Registry) Lookup(ctx context.Context, token string) (InvitationView, error) {
	if !security.ValidToken(token) {
		return InvitationView{}, ErrTokenNotFound
	}
	inv, err := r.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return InvitationView{}, ErrTokenNotFound
	}
	if err != nil {
		return InvitationView{}, fmt.Errorf("load invitation: %w", err)
	}
	event, err := r.loadEvent(ctx, inv.EventID)
	if err != nil {
		return InvitationView{}, err
	}
	return InvitationView{Invitation: *inv, Event: *event}, nil
}

type RespondResult struct {
	Invitation       storage.GuestInvitation
	Event            storage.Event
	AlreadyProcessed bool
	// Notified is false when the confirmation could not be delivered.
	Notified bool
}

// ParseResponse maps the accept/decline vocabulary onto invitation states.
func ParseResponse(response string) (storage.InvitationStatus, error) {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "accept":
		return storage.InvitationAccepted, nil
	case "decline":
		return storage.InvitationDeclined, nil
	default:
		return "", ErrInvalidResponse
	}
}

// Respond moves a pending invitation to accepted or declined exactly once. Later calls
// report the stored status with AlreadyProcessed set. responder, when not uuid.Nil and
// owning the invited address, gets a matching RSVP in the same transaction.
func (r *Registry) Respond(ctx context.Context, token, response string, responder uuid.UUID) (RespondResult, error) {
	status, err := ParseResponse(response)
	if err != nil {
		return RespondResult{}, err
	}
	if !security.ValidToken(token) {
		return RespondResult{}, ErrTokenNotFound
	}
	peek, err := r.store.GetInvitationByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return RespondResult{}, ErrTokenNotFound
	}
	if err != nil {
		return RespondResult{}, fmt.Errorf("load invitation: %w", err)
	}
	rsvpAccount, err := r.invitedAccount(ctx, responder, peek.Email)
	if err != nil {
		return RespondResult{}, err
	}

	var result RespondResult
	err = r.store.InTx(ctx, func(tx storage.Tx) error {
		// Event before invitation, the same order admission takes.
		event, err := tx.LockEvent(ctx, peek.EventID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return err
		}
		inv, err := tx.LockInvitationByToken(ctx, token)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if inv.EventID != event.ID {
			return ErrTokenNotFound
		}
		now := r.clock.Now()
		if event.Past(now) {
			return ErrEventExpired
		}
		result.Event = *event
		if inv.Status != storage.InvitationPending {
			result.Invitation = *inv
			result.AlreadyProcessed = true
			return nil
		}
		changed, err := tx.MarkInvitationResponded(ctx, inv.ID, status, now)
		if err != nil {
			return err
		}
		if !changed {
			current, err := tx.LockInvitationByToken(ctx, token)
			if err != nil {
				return err
			}
			result.Invitation = *current
			result.AlreadyProcessed = true
			return nil
		}
		inv.Status = status
		inv.RespondedAt = &now
		result.Invitation = *inv

		if rsvpAccount != uuid.Nil {
			rsvp := storage.RSVPNo
			if status == storage.InvitationAccepted {
				rsvp = storage.RSVPYes
			}
			if err := tx.UpsertRSVP(ctx, storage.RSVP{AccountID: rsvpAccount, EventID: event.ID, Response: rsvp, UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.metrics.IncResponse(resultLabel(err))
		return RespondResult{}, err
	}
	if result.AlreadyProcessed {
		r.metrics.IncResponse("already_processed")
		return result, nil
	}
	r.metrics.IncResponse(string(status))

	result.Notified = r.dispatcher.Send(ctx, confirmationMessage(result.Invitation.Email, &result.Event, status))
	r.metrics.IncNotification(notifyRSVPConfirmation, result.Notified)
	if !result.Notified {
		r.logger.Warn("rsvp confirmation not delivered", "invitation_id", result.Invitation.ID, "email", logging.MaskEmail(result.Invitation.Email))
	}
	accountID := ""
	if rsvpAccount != uuid.Nil {
		accountID = rsvpAccount.String()
	}
	r.events.invitationResponded(ctx, &result.Invitation, accountID)
	return result, nil
}

// invitedAccount returns responder when its address is the invited one, uuid.Nil
// otherwise. Anyone holding the link may answer, but only the invitee's RSVP moves.
func (r *Registry) invitedAccount(ctx context.Context, responder uuid.UUID, email string) (uuid.UUID, error) {
	if responder == uuid.Nil {
		return uuid.Nil, nil
	}
	account, err := r.store.GetAccountByID(ctx, responder)
	if errors.Is(err, storage.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("load account: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(account.Email), strings.TrimSpace(email)) {
		r.logger.Info("invitation answered by another account", "account_id", responder, "email", logging.MaskEmail(email))
		return uuid.Nil, nil
	}
	return account.ID, nil
}

type admitRequest struct {
	EventID   uuid.UUID
	AccountID uuid.UUID
	Email     string
	Payment   *storage.Payment
}

type AdmitResult struct {
	Invitation       storage.GuestInvitation
	Event            storage.Event
	AlreadyProcessed bool
}

// admit accepts the account's email as a guest of the event, recording the payment
// when given, and writes the matching RSVP in the same transaction. A token clash on
// a newly created invitation restarts the transaction with a fresh token.
func (r *Registry) admit(ctx context.Context, req admitRequest) (AdmitResult, error) {
	for attempt := 1; attempt <= r.maxTokenAttempts; attempt++ {
		token, err := r.tokens.NewToken()
		if err != nil {
			return AdmitResult{}, fmt.Errorf("generate token: %w", err)
		}
		result, err := r.admitOnce(ctx, req, token)
		if errors.Is(err, storage.ErrTokenConflict) {
			r.logger.Warn("invitation token collision", "event_id", req.EventID, "attempt", attempt)
			continue
		}
		if err != nil {
			return AdmitResult{}, err
		}
		if !result.AlreadyProcessed {
			r.events.guestAdmitted(ctx, &result.Invitation, req.AccountID.String())
		}
		return result, nil
	}
	return AdmitResult{}, ErrTokenCollision
}

func (r *Registry) admitOnce(ctx context.Context, req admitRequest, token string) (AdmitResult, error) {
	var result AdmitResult
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		event, err := tx.LockEvent(ctx, req.EventID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return err
		}
		now := r.clock.Now()
		if event.Past(now) {
			return ErrEventExpired
		}
		if req.Payment != nil {
			if !event.RequiresPayment() {
				return ErrPaymentNotRequired
			}
			if !req.Payment.Amount.Equal(event.Price) {
				return &AmountError{Required: event.Price}
			}
		} else if event.RequiresPayment() {
			return ErrPaymentRequired
		}
		result.Event = *event

		existing, err := tx.LockGuest(ctx, event.ID, req.Email)
		if errors.Is(err, storage.ErrNotFound) {
			existing = nil
		} else if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status == storage.InvitationDeclined {
				return ErrInvitationDeclined
			}
			if (req.Payment != nil && existing.Paid()) || (req.Payment == nil && existing.Status == storage.InvitationAccepted) {
				// An anonymous accept through the link leaves no RSVP behind.
				if err := tx.UpsertRSVP(ctx, storage.RSVP{AccountID: req.AccountID, EventID: event.ID, Response: storage.RSVPYes, UpdatedAt: now}); err != nil {
					return err
				}
				result.Invitation = *existing
				result.AlreadyProcessed = true
				return nil
			}
		} else if event.Kind == storage.EventPrivate {
			return ErrUnauthorizedAction
		}
		if existing == nil || existing.Status != storage.InvitationAccepted {
			if err := checkCapacity(ctx, tx, event); err != nil {
				return err
			}
		}

		inv, err := tx.UpsertAdmission(ctx, storage.Admission{
			EventID: event.ID,
			Email:   req.Email,
			Token:   token,
			At:      now,
			Payment: req.Payment,
		})
		if errors.Is(err, storage.ErrNotFound) {
			return ErrInvitationDeclined
		}
		if err != nil {
			return err
		}
		if err := tx.UpsertRSVP(ctx, storage.RSVP{AccountID: req.AccountID, EventID: event.ID, Response: storage.RSVPYes, UpdatedAt: now}); err != nil {
			return err
		}
		result.Invitation = *inv
		return nil
	})
	if err != nil {
		return AdmitResult{}, err
	}
	return result, nil
}

func checkCapacity(ctx context.Context, tx storage.Tx, event *storage.Event) error {
	if event.Kind != storage.EventPublic || event.MaxParticipants <= 0 {
		return nil
	}
	accepted, err := tx.CountAcceptedGuests(ctx, event.ID)
	if err != nil {
		return err
	}
	if accepted >= event.MaxParticipants {
		return ErrEventFull
	}
	return nil
}

func (r *Registry) loadEvent(ctx context.Context, id uuid.UUID) (*storage.Event, error) {
	event, err := r.store.GetEvent(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return event, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrEventExpired):
		return "event_expired"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrEventFull):
		return "event_full"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrPaymentRequired), errors.Is(err, ErrPaymentNotRequired):
		return "payment_mismatch"
	case errors.Is(err, ErrInvitationDeclined):
		return "declined"
	case errors.Is(err, ErrUnauthorizedAction):
		return "unauthorized"
	default:
		return "error"
	}
}

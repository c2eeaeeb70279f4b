package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

// AdmissionController admits accounts to events, through a payment for priced events
// or directly for free ones.
type AdmissionController struct {
	accounts AccountStore
	registry *Registry
	clock    Clock
	logger   *slog.Logger
	metrics  *Metrics
}

func NewAdmissionController(accounts AccountStore, registry *Registry, clock Clock, logger *slog.Logger, metrics *Metrics) *AdmissionController {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdmissionController{accounts: accounts, registry: registry, clock: clock, logger: logger, metrics: metrics}
}

type PaymentResult struct {
	AdmitResult
	TransactionID string
}

// Pay admits the account as a paid guest when amount equals the event price exactly.
// A repeated payment for an already paid guest is reported as AlreadyProcessed and
// records nothing.
func (a *AdmissionController) Pay(ctx context.Context, accountID, eventID uuid.UUID, amount decimal.Decimal, transactionID string) (PaymentResult, error) {
	account, err := a.loadAccount(ctx, accountID)
	if err != nil {
		return PaymentResult{}, err
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		transactionID = fmt.Sprintf("MOCK-%s-%d", accountID, a.clock.Now().Unix())
	}

	res, err := a.registry.admit(ctx, admitRequest{
		EventID:   eventID,
		AccountID: account.ID,
		Email:     account.Email,
		Payment:   &storage.Payment{Amount: amount, TransactionID: transactionID},
	})
	a.metrics.IncAdmission("paid", admissionLabel(res, err))
	if err != nil {
		if !isClientError(err) {
			a.logger.Error("payment admission failed", "event_id", eventID, "account_id", accountID, "error", err)
		}
		return PaymentResult{}, err
	}
	if !res.AlreadyProcessed {
		a.logger.Info("guest admitted", "event_id", eventID, "email", logging.MaskEmail(account.Email), "paid", true)
		a.confirm(ctx, res)
	}
	txID := transactionID
	if res.Invitation.PaymentTransactionID != nil {
		txID = *res.Invitation.PaymentTransactionID
	}
	return PaymentResult{AdmitResult: res, TransactionID: txID}, nil
}

// JoinFree admits the account to an event that does not require payment.
func (a *AdmissionController) JoinFree(ctx context.Context, accountID, eventID uuid.UUID) (AdmitResult, error) {
	account, err := a.loadAccount(ctx, accountID)
	if err != nil {
		return AdmitResult{}, err
	}
	res, err := a.registry.admit(ctx, admitRequest{
		EventID:   eventID,
		AccountID: account.ID,
		Email:     account.Email,
	})
	a.metrics.IncAdmission("free", admissionLabel(res, err))
	if err != nil {
		if !isClientError(err) {
			a.logger.Error("free admission failed", "event_id", eventID, "account_id", accountID, "error", err)
		}
		return AdmitResult{}, err
	}
	if !res.AlreadyProcessed {
		a.logger.Info("guest admitted", "event_id", eventID, "email", logging.MaskEmail(account.Email), "paid", false)
		a.confirm(ctx, res)
	}
	return res, nil
}

func (a *AdmissionController) confirm(ctx context.Context, res AdmitResult) {
	r := a.registry
	delivered := r.dispatcher.Send(ctx, confirmationMessage(res.Invitation.Email, &res.Event, res.Invitation.Status))
	a.metrics.IncNotification(notifyRSVPConfirmation, delivered)
	if !delivered {
		a.logger.Warn("admission confirmation not delivered", "invitation_id", res.Invitation.ID)
	}
}

func (a *AdmissionController) loadAccount(ctx context.Context, id uuid.UUID) (*storage.Account, error) {
	account, err := a.accounts.GetAccountByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

func admissionLabel(res AdmitResult, err error) string {
	if err == nil && res.AlreadyProcessed {
		return "already_processed"
	}
	return resultLabel(err)
}

// isClientError reports errors caused by the request rather than the system.
func isClientError(err error) bool {
	return resultLabel(err) != "error" || errors.Is(err, ErrAccountNotFound)
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

const maxInviteBatch = 100

type eventSummary struct {
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	StartsAt string `json:"starts_at"`
	Location string `json:"location,omitempty"`
	Price    string `json:"price"`
	IsPaid   bool   `json:"is_paid"`
}

type invitationResponse struct {
	Status           string       `json:"status"`
	Email            string       `json:"email"`
	PaymentStatus    string       `json:"payment_status"`
	AlreadyProcessed bool         `json:"already_processed"`
	Notified         *bool        `json:"notified,omitempty"`
	Event            eventSummary `json:"event"`
}

type respondRequest struct {
	Response string `json:"response"`
}

type paymentRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	TransactionID string           `json:"transaction_id"`
}

type admissionResponse struct {
	Status           string  `json:"status"`
	AlreadyProcessed bool    `json:"already_processed"`
	InvitationID     string  `json:"invitation_id"`
	EventID          string  `json:"event_id"`
	PaymentStatus    string  `json:"payment_status"`
	Amount           *string `json:"amount,omitempty"`
	TransactionID    string  `json:"transaction_id,omitempty"`
	PaidAt           *string `json:"paid_at,omitempty"`
}

type inviteRequest struct {
	Emails []string `json:"emails"`
}

func (h *Handler) GetInvitation(c *gin.Context) {
	view, err := h.Registry.Lookup(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.writeServiceError(c, "lookup invitation failed", err)
		return
	}
	c.JSON(http.StatusOK, toInvitationResponse(view.Invitation, view.Event))
}

func (h *Handler) RespondInvitation(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	// Only a bound session correlates an RSVP; anonymous guests answer by token alone.
	res, err := h.Registry.Respond(c.Request.Context(), c.Param("token"), req.Response, sessionFrom(c).AccountID)
	if err != nil {
		h.writeServiceError(c, "respond to invitation failed", err)
		return
	}
	resp := toInvitationResponse(res.Invitation, res.Event)
	resp.AlreadyProcessed = res.AlreadyProcessed
	if !res.AlreadyProcessed {
		notified := res.Notified
		resp.Notified = &notified
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Pay(c *gin.Context) {
	sess, ok := h.requireAccount(c)
	if !ok {
		return
	}
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if req.Amount == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "amount is required", nil)
		return
	}
	if len(req.TransactionID) > 128 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "transaction_id too long", nil)
		return
	}

	res, err := h.Admission.Pay(c.Request.Context(), sess.AccountID, eventID, *req.Amount, req.TransactionID)
	if err != nil {
		h.writeServiceError(c, "payment failed", err)
		return
	}
	resp := toAdmissionResponse(res.Invitation, res.AlreadyProcessed)
	resp.TransactionID = res.TransactionID
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Join(c *gin.Context) {
	sess, ok := h.requireAccount(c)
	if !ok {
		return
	}
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	res, err := h.Admission.JoinFree(c.Request.Context(), sess.AccountID, eventID)
	if err != nil {
		h.writeServiceError(c, "join event failed", err)
		return
	}
	c.JSON(http.StatusOK, toAdmissionResponse(res.Invitation, res.AlreadyProcessed))
}

func (h *Handler) Invite(c *gin.Context) {
	sess, ok := h.requireAccount(c)
	if !ok {
		return
	}
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if len(req.Emails) == 0 || len(req.Emails) > maxInviteBatch {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "emails must list 1 to 100 addresses", nil)
		return
	}
	summary, err := h.Registry.InviteAll(c.Request.Context(), sess.AccountID, eventID, req.Emails)
	if err != nil {
		h.writeServiceError(c, "invite guests failed", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func eventIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("eventId")))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid event id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func toEventSummary(e storage.Event) eventSummary {
	return eventSummary{
		EventID:  e.ID.String(),
		Kind:     string(e.Kind),
		Title:    e.Title,
		StartsAt: e.StartsAt.UTC().Format(time.RFC3339),
		Location: e.Location,
		Price:    e.Price.StringFixed(2),
		IsPaid:   e.IsPaid,
	}
}

func toInvitationResponse(inv storage.GuestInvitation, e storage.Event) invitationResponse {
	return invitationResponse{
		Status:        string(inv.Status),
		Email:         inv.Email,
		PaymentStatus: string(inv.PaymentStatus),
		Event:         toEventSummary(e),
	}
}

func toAdmissionResponse(inv storage.GuestInvitation, already bool) admissionResponse {
	resp := admissionResponse{
		Status:           string(inv.Status),
		AlreadyProcessed: already,
		InvitationID:     inv.ID.String(),
		EventID:          inv.EventID.String(),
		PaymentStatus:    string(inv.PaymentStatus),
	}
	if inv.PaymentAmount != nil {
		s := inv.PaymentAmount.StringFixed(2)
		resp.Amount = &s
	}
	if inv.PaymentTransactionID != nil {
		resp.TransactionID = *inv.PaymentTransactionID
	}
	if inv.PaymentDate != nil {
		s := inv.PaymentDate.UTC().Format(time.RFC3339)
		resp.PaidAt = &s
	}
	return resp
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type rsvpKey struct {
	account uuid.UUID
	event   uuid.UUID
}

type memData struct {
	accounts    map[uuid.UUID]Account
	states      map[uuid.UUID]TwoFactorState
	codes       map[uuid.UUID]VerificationCode
	events      map[uuid.UUID]Event
	invitations map[uuid.UUID]GuestInvitation
	rsvps       map[rsvpKey]RSVP
}

func (d memData) clone() memData {
	c := memData{
		accounts:    make(map[uuid.UUID]Account, len(d.accounts)),
		states:      make(map[uuid.UUID]TwoFactorState, len(d.states)),
		codes:       make(map[uuid.UUID]VerificationCode, len(d.codes)),
		events:      make(map[uuid.UUID]Event, len(d.events)),
		invitations: make(map[uuid.UUID]GuestInvitation, len(d.invitations)),
		rsvps:       make(map[rsvpKey]RSVP, len(d.rsvps)),
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.states {
		c.states[k] = v
	}
	for k, v := range d.codes {
		c.codes[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.invitations {
		c.invitations[k] = v
	}
	for k, v := range d.rsvps {
		c.rsvps[k] = v
	}
	return c
}

// Memory is an in-process Store used by tests and by dev runs without PostgreSQL.
// InTx serializes all transactions and restores a snapshot when fn fails. Callbacks
// must only use the Tx they are given; calling Memory methods from inside fn deadlocks.
type Memory struct {
	mu   sync.Mutex
	data memData
}

func NewMemory() *Memory {
	return &Memory{data: memData{}.clone()}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.data.clone()
	if err := fn(&memTx{d: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) CreateAccount(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return ErrEmailTaken
		}
	}
	m.data.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccountByID(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.data.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.TrimSpace(email)
	for _, a := range m.data.accounts {
		if strings.EqualFold(a.Email, email) {
			a := a
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) EnsureTwoFactorState(_ context.Context, accountID uuid.UUID, enabled bool, now time.Time) (TwoFactorState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.data.states[accountID]; ok {
		return st, false, nil
	}
	st := TwoFactorState{AccountID: accountID, Enabled: enabled, CreatedAt: now, UpdatedAt: now}
	m.data.states[accountID] = st
	return st, true, nil
}

func (m *Memory) GetTwoFactorState(_ context.Context, accountID uuid.UUID) (TwoFactorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.data.states[accountID]
	if !ok {
		return TwoFactorState{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) SetTwoFactorEnabled(_ context.Context, accountID uuid.UUID, enabled bool, now time.Time) (TwoFactorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.data.states[accountID]
	if !ok {
		st = TwoFactorState{AccountID: accountID, CreatedAt: now}
	}
	st.Enabled = enabled
	st.UpdatedAt = now
	m.data.states[accountID] = st
	return st, nil
}

func (m *Memory) CreateEvent(_ context.Context, e Event) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.Kind == EventPrivate {
		e.MaxParticipants = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.events[e.ID] = e
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id uuid.UUID) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{d: &m.data}).GetEvent(context.Background(), id)
}

func (m *Memory) InsertInvitation(_ context.Context, inv GuestInvitation) (*GuestInvitation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.invitations {
		if existing.Token == inv.Token {
			return nil, false, ErrTokenConflict
		}
	}
	for _, existing := range m.data.invitations {
		if existing.EventID == inv.EventID && strings.EqualFold(existing.Email, strings.TrimSpace(inv.Email)) {
			existing := existing
			return &existing, false, nil
		}
	}
	inv.Email = strings.TrimSpace(inv.Email)
	inv.Status = InvitationPending
	inv.PaymentStatus = PaymentUnpaid
	m.data.invitations[inv.ID] = inv
	return &inv, true, nil
}

func (m *Memory) GetInvitationByToken(_ context.Context, token string) (*GuestInvitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{d: &m.data}).LockInvitationByToken(context.Background(), token)
}

func (m *Memory) GetRSVP(_ context.Context, accountID, eventID uuid.UUID) (*RSVP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data.rsvps[rsvpKey{account: accountID, event: eventID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Invitations returns every invitation for eventID ordered by creation time.
func (m *Memory) Invitations(eventID uuid.UUID) []GuestInvitation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []GuestInvitation
	for _, inv := range m.data.invitations {
		if inv.EventID == eventID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Codes returns the verification codes currently stored for accountID.
func (m *Memory) Codes(accountID uuid.UUID) []VerificationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VerificationCode
	for _, c := range m.data.codes {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	return out
}

// RSVPCount returns the number of RSVP rows for eventID.
func (m *Memory) RSVPCount(eventID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data.rsvps {
		if k.event == eventID {
			n++
		}
	}
	return n
}

type memTx struct {
	d *memData
}

func (t *memTx) ReplaceVerificationCode(_ context.Context, code VerificationCode) error {
	for id, c := range t.d.codes {
		if c.AccountID == code.AccountID {
			delete(t.d.codes, id)
		}
	}
	t.d.codes[code.ID] = code
	return nil
}

func (t *memTx) LockVerificationCode(_ context.Context, accountID uuid.UUID, code string) (*VerificationCode, error) {
	for _, c := range t.d.codes {
		if c.AccountID == accountID && c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) MarkCodeUsed(_ context.Context, id uuid.UUID) error {
	c, ok := t.d.codes[id]
	if !ok {
		return ErrNotFound
	}
	c.Used = true
	t.d.codes[id] = c
	return nil
}

func (t *memTx) TouchLastVerified(_ context.Context, accountID uuid.UUID, at time.Time) error {
	st, ok := t.d.states[accountID]
	if !ok {
		return nil
	}
	st.LastVerifiedAt = &at
	st.UpdatedAt = at
	t.d.states[accountID] = st
	return nil
}

func (t *memTx) GetEvent(_ context.Context, id uuid.UUID) (*Event, error) {
	e, ok := t.d.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (t *memTx) LockEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *memTx) LockInvitationByToken(_ context.Context, token string) (*GuestInvitation, error) {
	for _, inv := range t.d.invitations {
		if inv.Token == token {
			inv := inv
			return &inv, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) MarkInvitationResponded(_ context.Context, id uuid.UUID, status InvitationStatus, at time.Time) (bool, error) {
	inv, ok := t.d.invitations[id]
	if !ok || inv.Status != InvitationPending {
		return false, nil
	}
	inv.Status = status
	inv.RespondedAt = &at
	t.d.invitations[id] = inv
	return true, nil
}

func (t *memTx) LockGuest(_ context.Context, eventID uuid.UUID, email string) (*GuestInvitation, error) {
	inv, ok := t.findGuest(eventID, email)
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (t *memTx) findGuest(eventID uuid.UUID, email string) (GuestInvitation, bool) {
	email = strings.TrimSpace(email)
	for _, inv := range t.d.invitations {
		if inv.EventID == eventID && strings.EqualFold(inv.Email, email) {
			return inv, true
		}
	}
	return GuestInvitation{}, false
}

func (t *memTx) CountAcceptedGuests(_ context.Context, eventID uuid.UUID) (int, error) {
	n := 0
	for _, inv := range t.d.invitations {
		if inv.EventID == eventID && inv.Status == InvitationAccepted {
			n++
		}
	}
	return n, nil
}

func (t *memTx) UpsertAdmission(_ context.Context, a Admission) (*GuestInvitation, error) {
	inv, exists := t.findGuest(a.EventID, a.Email)
	if exists && inv.Status == InvitationDeclined {
		return nil, ErrNotFound
	}
	if !exists {
		for _, other := range t.d.invitations {
			if other.Token == a.Token {
				return nil, ErrTokenConflict
			}
		}
		inv = GuestInvitation{
			ID:            uuid.New(),
			Token:         a.Token,
			EventID:       a.EventID,
			Email:         strings.TrimSpace(a.Email),
			PaymentStatus: PaymentUnpaid,
			CreatedAt:     a.At,
		}
	}
	inv.Status = InvitationAccepted
	if inv.RespondedAt == nil {
		at := a.At
		inv.RespondedAt = &at
	}
	if a.Payment != nil {
		amount := a.Payment.Amount
		txID := a.Payment.TransactionID
		at := a.At
		inv.PaymentAmount = &amount
		inv.PaymentStatus = PaymentPaid
		inv.PaymentTransactionID = &txID
		inv.PaymentDate = &at
	}
	t.d.invitations[inv.ID] = inv
	return &inv, nil
}

func (t *memTx) UpsertRSVP(_ context.Context, r RSVP) error {
	key := rsvpKey{account: r.AccountID, event: r.EventID}
	if existing, ok := t.d.rsvps[key]; ok {
		r.CreatedAt = existing.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}
	t.d.rsvps[key] = r
	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrTokenConflict = errors.New("invitation token conflict")
	ErrEmailTaken    = errors.New("email already registered")
)

const (
	invitationTokenConstraint = "guest_invitations_token_key"
	accountEmailConstraint    = "accounts_email_lower_key"

	invitationColumns = `id, token, event_id, email, status, payment_amount::text, payment_status,
		payment_transaction_id, payment_date, responded_at, created_at`
	eventColumns = `id, kind, owner_id, title, starts_at, location, price::text, is_paid,
		COALESCE(max_participants, 0), created_at`
)

// Tx is the unit of work handed to InTx callbacks. Methods named Lock* take row or
// advisory locks held until the transaction ends.
type Tx interface {
	ReplaceVerificationCode(ctx context.Context, code VerificationCode) error
	LockVerificationCode(ctx context.Context, accountID uuid.UUID, code string) (*VerificationCode, error)
	MarkCodeUsed(ctx context.Context, id uuid.UUID) error
	TouchLastVerified(ctx context.Context, accountID uuid.UUID, at time.Time) error

	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	LockEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	LockInvitationByToken(ctx context.Context, token string) (*GuestInvitation, error)
	MarkInvitationResponded(ctx context.Context, id uuid.UUID, status InvitationStatus, at time.Time) (bool, error)
	LockGuest(ctx context.Context, eventID uuid.UUID, email string) (*GuestInvitation, error)
	CountAcceptedGuests(ctx context.Context, eventID uuid.UUID) (int, error)
	UpsertAdmission(ctx context.Context, a Admission) (*GuestInvitation, error)
	UpsertRSVP(ctx context.Context, r RSVP) error
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a read-committed transaction and commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.Email, a.PasswordHash, a.CreatedAt)
	if isUniqueViolation(err, accountEmailConstraint) {
		return ErrEmailTaken
	}
	return err
}

func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at FROM accounts WHERE id = $1
	`, id))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at FROM accounts WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)))
}

// EnsureTwoFactorState inserts a state with the given default when none exists and
// returns the stored row. created is true only for the call that inserted it.
func (s *Store) EnsureTwoFactorState(ctx context.Context, accountID uuid.UUID, enabled bool, now time.Time) (TwoFactorState, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO two_factor_states (account_id, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, enabled, now)
	if err != nil {
		return TwoFactorState{}, false, err
	}
	state, err := s.GetTwoFactorState(ctx, accountID)
	if err != nil {
		return TwoFactorState{}, false, err
	}
	return state, tag.RowsAffected() == 1, nil
}

func (s *Store) GetTwoFactorState(ctx context.Context, accountID uuid.UUID) (TwoFactorState, error) {
	var st TwoFactorState
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, enabled, last_verified_at, created_at, updated_at
		FROM two_factor_states
		WHERE account_id = $1
	`, accountID).Scan(&st.AccountID, &st.Enabled, &st.LastVerifiedAt, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return TwoFactorState{}, mapNoRows(err)
	}
	return st, nil
}

func (s *Store) SetTwoFactorEnabled(ctx context.Context, accountID uuid.UUID, enabled bool, now time.Time) (TwoFactorState, error) {
	var st TwoFactorState
	err := s.pool.QueryRow(ctx, `
		INSERT INTO two_factor_states (account_id, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (account_id) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		RETURNING account_id, enabled, last_verified_at, created_at, updated_at
	`, accountID, enabled, now).Scan(&st.AccountID, &st.Enabled, &st.LastVerifiedAt, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return TwoFactorState{}, err
	}
	return st, nil
}

func (s *Store) CreateEvent(ctx context.Context, e Event) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	var maxParticipants *int
	if e.Kind == EventPublic && e.MaxParticipants > 0 {
		maxParticipants = &e.MaxParticipants
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (id, kind, owner_id, title, starts_at, location, price, is_paid, max_participants, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
	`, e.ID, string(e.Kind), e.OwnerID, e.Title, e.StartsAt, e.Location, e.Price.StringFixed(2), e.IsPaid, maxParticipants, e.CreatedAt)
	return err
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return getEvent(ctx, s.pool, id, false)
}

// InsertInvitation creates a pending invitation. An existing invitation for the same
// event and email is returned with created=false. A token clash yields ErrTokenConflict.
func (s *Store) InsertInvitation(ctx context.Context, inv GuestInvitation) (*GuestInvitation, bool, error) {
	created, err := scanInvitation(s.pool.QueryRow(ctx, `
		INSERT INTO guest_invitations (id, token, event_id, email, status, payment_status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 'unpaid', $5)
		ON CONFLICT (event_id, lower(email)) DO NOTHING
		RETURNING `+invitationColumns,
		inv.ID, inv.Token, inv.EventID, strings.TrimSpace(inv.Email), inv.CreatedAt))
	if err == nil {
		return created, true, nil
	}
	if isUniqueViolation(err, invitationTokenConstraint) {
		return nil, false, ErrTokenConflict
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	existing, err := scanInvitation(s.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM guest_invitations
		WHERE event_id = $1 AND lower(email) = lower($2)
	`, inv.EventID, strings.TrimSpace(inv.Email)))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*GuestInvitation, error) {
	return scanInvitation(s.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM guest_invitations WHERE token = $1
	`, token))
}

func (s *Store) GetRSVP(ctx context.Context, accountID, eventID uuid.UUID) (*RSVP, error) {
	var r RSVP
	var response string
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, event_id, response, created_at, updated_at
		FROM rsvps WHERE account_id = $1 AND event_id = $2
	`, accountID, eventID).Scan(&r.AccountID, &r.EventID, &response, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	r.Response = RSVPResponse(response)
	return &r, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ReplaceVerificationCode(ctx context.Context, code VerificationCode) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "verification_code:"+code.AccountID.String()); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM verification_codes WHERE account_id = $1`, code.AccountID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO verification_codes (id, account_id, code, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, false)
	`, code.ID, code.AccountID, code.Code, code.CreatedAt, code.ExpiresAt)
	return err
}

func (t *pgTx) LockVerificationCode(ctx context.Context, accountID uuid.UUID, code string) (*VerificationCode, error) {
	var vc VerificationCode
	err := t.tx.QueryRow(ctx, `
		SELECT id, account_id, code, created_at, expires_at, used
		FROM verification_codes
		WHERE account_id = $1 AND code = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, accountID, code).Scan(&vc.ID, &vc.AccountID, &vc.Code, &vc.CreatedAt, &vc.ExpiresAt, &vc.Used)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &vc, nil
}

func (t *pgTx) MarkCodeUsed(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE verification_codes SET used = true WHERE id = $1`, id)
	return err
}

func (t *pgTx) TouchLastVerified(ctx context.Context, accountID uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE two_factor_states SET last_verified_at = $2, updated_at = $2 WHERE account_id = $1
	`, accountID, at)
	return err
}

func (t *pgTx) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return getEvent(ctx, t.tx, id, false)
}

func (t *pgTx) LockEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

func (t *pgTx) LockInvitationByToken(ctx context.Context, token string) (*GuestInvitation, error) {
	return scanInvitation(t.tx.QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM guest_invitations WHERE token = $1 FOR UPDATE
	`, token))
}

// MarkInvitationResponded only moves a pending invitation; it reports false when the
// row had already left pending.
func (t *pgTx) MarkInvitationResponded(ctx context.Context, id uuid.UUID, status InvitationStatus, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE guest_invitations
		SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) LockGuest(ctx context.Context, eventID uuid.UUID, email string) (*GuestInvitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "guest:"+eventID.String()+":"+email); err != nil {
		return nil, err
	}
	return scanInvitation(t.tx.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM guest_invitations
		WHERE event_id = $1 AND lower(email) = $2
		FOR UPDATE
	`, eventID, email))
}

func (t *pgTx) CountAcceptedGuests(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM guest_invitations WHERE event_id = $1 AND status = 'accepted'
	`, eventID).Scan(&n)
	return n, err
}

// UpsertAdmission finds or creates the (event, email) invitation as accepted and, when
// a payment is given, records it as paid. Declined invitations are left untouched and
// reported as ErrNotFound.
func (t *pgTx) UpsertAdmission(ctx context.Context, a Admission) (*GuestInvitation, error) {
	var amount, txID *string
	var paidAt *time.Time
	paymentStatus := PaymentUnpaid
	if a.Payment != nil {
		s := a.Payment.Amount.StringFixed(2)
		amount = &s
		id := a.Payment.TransactionID
		txID = &id
		at := a.At
		paidAt = &at
		paymentStatus = PaymentPaid
	}

	inv, err := scanInvitation(t.tx.QueryRow(ctx, `
		INSERT INTO guest_invitations (id, token, event_id, email, status, payment_amount, payment_status,
			payment_transaction_id, payment_date, responded_at, created_at)
		VALUES ($1, $2, $3, $4, 'accepted', $5::numeric, $6, $7, $8, $9, $9)
		ON CONFLICT (event_id, lower(email)) DO UPDATE SET
			status = 'accepted',
			responded_at = COALESCE(guest_invitations.responded_at, EXCLUDED.responded_at),
			payment_amount = COALESCE(EXCLUDED.payment_amount, guest_invitations.payment_amount),
			payment_status = CASE WHEN EXCLUDED.payment_status = 'paid' THEN 'paid' ELSE guest_invitations.payment_status END,
			payment_transaction_id = COALESCE(EXCLUDED.payment_transaction_id, guest_invitations.payment_transaction_id),
			payment_date = COALESCE(EXCLUDED.payment_date, guest_invitations.payment_date)
		WHERE guest_invitations.status <> 'declined'
		RETURNING `+invitationColumns,
		uuid.New(), a.Token, a.EventID, strings.TrimSpace(a.Email), amount, string(paymentStatus), txID, paidAt, a.At))
	if isUniqueViolation(err, invitationTokenConstraint) {
		return nil, ErrTokenConflict
	}
	return inv, err
}

func (t *pgTx) UpsertRSVP(ctx context.Context, r RSVP) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO rsvps (account_id, event_id, response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (account_id, event_id) DO UPDATE SET response = EXCLUDED.response, updated_at = EXCLUDED.updated_at
	`, r.AccountID, r.EventID, string(r.Response), r.UpdatedAt)
	return err
}

func getEvent(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var e Event
	var kind, price string
	err := q.QueryRow(ctx, query, id).Scan(&e.ID, &kind, &e.OwnerID, &e.Title, &e.StartsAt, &e.Location, &price, &e.IsPaid, &e.MaxParticipants, &e.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	e.Kind = EventKind(kind)
	if e.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse event price: %w", err)
	}
	return &e, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, mapNoRows(err)
	}
	return &a, nil
}

func scanInvitation(row pgx.Row) (*GuestInvitation, error) {
	var inv GuestInvitation
	var status, paymentStatus string
	var amount *string
	err := row.Scan(&inv.ID, &inv.Token, &inv.EventID, &inv.Email, &status, &amount, &paymentStatus,
		&inv.PaymentTransactionID, &inv.PaymentDate, &inv.RespondedAt, &inv.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	inv.Status = InvitationStatus(status)
	inv.PaymentStatus = PaymentStatus(paymentStatus)
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("parse payment amount: %w", err)
		}
		inv.PaymentAmount = &d
	}
	return &inv, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

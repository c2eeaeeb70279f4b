package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/security"
	"github.com/yassinboulabiar13-svg/smart-event-app/services/portal/internal/storage"
)

const testPassword = "correct horse battery"

var testArgon2 = security.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seqCodes hands out the queued codes, then random ones.
type seqCodes struct {
	mu    sync.Mutex
	codes []string
}

func (s *seqCodes) push(codes ...string) {
	s.mu.Lock()
	s.codes = append(s.codes, codes...)
	s.mu.Unlock()
}

func (s *seqCodes) NewCode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return security.RandomDigits(security.CodeLength)
	}
	code := s.codes[0]
	s.codes = s.codes[1:]
	return code, nil
}

type seqTokens struct {
	mu     sync.Mutex
	tokens []string
}

func (s *seqTokens) push(tokens ...string) {
	s.mu.Lock()
	s.tokens = append(s.tokens, tokens...)
	s.mu.Unlock()
}

func (s *seqTokens) NewToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return uuid.NewString(), nil
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Message
	fail bool
}

func (d *recordingDispatcher) Send(_ context.Context, msg notify.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return !d.fail
}

func (d *recordingDispatcher) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *recordingDispatcher) messages() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Message(nil), d.sent...)
}

type fixture struct {
	store     *storage.Memory
	clock     *fakeClock
	codes     *seqCodes
	tokens    *seqTokens
	mail      *recordingDispatcher
	issuer    *Issuer
	twoFactor *TwoFactor
	registry  *Registry
	admission *AdmissionController
	owner     storage.Account
	guest     storage.Account
}

func newFixture(t *testing.T, opts ...RegistryOption) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemory(),
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		codes:  &seqCodes{},
		tokens: &seqTokens{},
		mail:   &recordingDispatcher{},
	}
	logger := logging.Discard()
	f.issuer = NewIssuer(f.store, f.codes, f.clock, DefaultCodeTTL)
	f.twoFactor = NewTwoFactor(f.store, f.issuer, f.mail, f.clock, logger, nil, WithExemptPaths("/metrics"))
	opts = append([]RegistryOption{WithBaseURL("https://events.test/")}, opts...)
	f.registry = NewRegistry(f.store, f.tokens, f.mail, f.clock, logger, nil, opts...)
	f.admission = NewAdmissionController(f.store, f.registry, f.clock, logger, nil)
	f.owner = f.addAccount(t, "owner@example.test")
	f.guest = f.addAccount(t, "guest@example.test")
	return f
}

func (f *fixture) addAccount(t *testing.T, email string) storage.Account {
	t.Helper()
	hash, err := security.HashPassword(testPassword, testArgon2)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	account := storage.Account{ID: uuid.New(), Email: email, PasswordHash: hash, CreatedAt: f.clock.Now()}
	if err := f.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func (f *fixture) setTwoFactor(t *testing.T, accountID uuid.UUID, enabled bool) {
	t.Helper()
	if _, err := f.store.SetTwoFactorEnabled(context.Background(), accountID, enabled, f.clock.Now()); err != nil {
		t.Fatalf("set two-factor: %v", err)
	}
}

type eventOpts struct {
	kind     storage.EventKind
	price    string
	paid     bool
	max      int
	startsIn time.Duration
}

func (f *fixture) addEvent(t *testing.T, opts eventOpts) storage.Event {
	t.Helper()
	if opts.kind == "" {
		opts.kind = storage.EventPublic
	}
	if opts.price == "" {
		opts.price = "0"
	}
	if opts.startsIn == 0 {
		opts.startsIn = 48 * time.Hour
	}
	event := storage.Event{
		ID:              uuid.New(),
		Kind:            opts.kind,
		OwnerID:         f.owner.ID,
		Title:           "Spring meetup",
		StartsAt:        f.clock.Now().Add(opts.startsIn),
		Location:        "Hall A",
		Price:           decimal.RequireFromString(opts.price),
		IsPaid:          opts.paid,
		MaxParticipants: opts.max,
		CreatedAt:       f.clock.Now(),
	}
	if err := f.store.CreateEvent(context.Background(), event); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func (f *fixture) invite(t *testing.T, eventID uuid.UUID, email string) storage.GuestInvitation {
	t.Helper()
	inv, _, err := f.registry.CreateInvitation(context.Background(), eventID, email)
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	return *inv
}

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	verifiedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{
		ID:               "sess-1",
		AccountID:        uuid.New(),
		PendingAccountID: uuid.Nil,
		Verified:         true,
		VerifiedAt:       verifiedAt,
		Next:             "/events",
	}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "sess-1" || got.AccountID != s.AccountID || !got.Verified || !got.VerifiedAt.Equal(verifiedAt) || got.Next != "/events" {
		t.Fatalf("unexpected session %+v", got)
	}

	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	if err := store.Save(context.Background(), &Session{ID: "s"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := store.Get(context.Background(), "s"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisStore(client, time.Hour, "test:session:")
	exerciseStore(t, store)

	if err := store.Save(context.Background(), &Session{ID: "ttl"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := s.TTL("test:session:ttl"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}
	s.FastForward(2 * time.Hour)
	if _, err := store.Get(context.Background(), "ttl"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestChallengeAccountPrefersPending(t *testing.T) {
	bound, pending := uuid.New(), uuid.New()
	s := &Session{AccountID: bound, PendingAccountID: pending}
	if s.ChallengeAccount() != pending {
		t.Fatalf("expected pending account")
	}
	s.PendingAccountID = uuid.Nil
	if s.ChallengeAccount() != bound {
		t.Fatalf("expected bound account")
	}
	var nilSession *Session
	if nilSession.Authenticated() || nilSession.ChallengeAccount() != uuid.Nil {
		t.Fatalf("nil session must be anonymous")
	}
}

package security

import (
	"errors"
	"testing"
)

func testParams() Argon2Params {
	return Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!", testParams())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	ok, err := VerifyPassword("s3cret!", hash)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, got %v %v", ok, err)
	}
	ok, err = VerifyPassword("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, h := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$aa$bb", "$argon2id$v=18$m=1,t=1,p=1$aa$bb"} {
		if _, err := VerifyPassword("x", h); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("expected ErrInvalidHash for %q, got %v", h, err)
		}
	}
}

func TestRandomCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := RandomCodeGenerator{}.NewCode()
		if err != nil {
			t.Fatalf("code: %v", err)
		}
		if !ValidCode(code) {
			t.Fatalf("invalid code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 150 {
		t.Fatalf("codes look insufficiently random: %d distinct of 200", len(seen))
	}
}

func TestRandomDigitsCoverAllValues(t *testing.T) {
	digits, err := RandomDigits(2000)
	if err != nil {
		t.Fatalf("digits: %v", err)
	}
	counts := map[rune]int{}
	for _, r := range digits {
		counts[r]++
	}
	if len(counts) != 10 {
		t.Fatalf("expected all ten digits, got %d", len(counts))
	}
}

func TestValidCode(t *testing.T) {
	for _, bad := range []string{"", "12345", "1234567", "12a456", " 123456", "１２３４５６"} {
		if ValidCode(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTokens(t *testing.T) {
	tok, err := UUIDTokenGenerator{}.NewToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !ValidToken(tok) {
		t.Fatalf("expected generated token to validate")
	}
	if ValidToken("not-a-token") || ValidToken("{"+tok+"}") {
		t.Fatalf("expected malformed tokens to be rejected")
	}

	a, _ := NewSessionID()
	b, _ := NewSessionID()
	if a == b || len(a) != 43 {
		t.Fatalf("unexpected session ids %q %q", a, b)
	}
}

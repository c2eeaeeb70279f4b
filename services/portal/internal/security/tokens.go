package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// TokenGenerator mints invitation tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// UUIDTokenGenerator issues random (v4) UUID tokens, 122 bits of entropy.
type UUIDTokenGenerator struct{}

func (UUIDTokenGenerator) NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return id.String(), nil
}

// ValidToken rejects anything that is not a canonical UUID before it reaches storage.
func ValidToken(token string) bool {
	id, err := uuid.Parse(token)
	return err == nil && id.String() == token
}

// NewSessionID returns 32 random bytes, base64url encoded.
func NewSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

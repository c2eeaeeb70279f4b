package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const CodeLength = 6

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// CodeGenerator mints one-time verification codes.
type CodeGenerator interface {
	NewCode() (string, error)
}

// RandomCodeGenerator draws each digit uniformly from crypto/rand.
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) NewCode() (string, error) {
	return RandomDigits(CodeLength)
}

func RandomDigits(n int) (string, error) {
	buf := make([]byte, n)
	ten := big.NewInt(10)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate digit: %w", err)
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}

// ValidCode reports whether s has the shape of a verification code.
func ValidCode(s string) bool {
	return codePattern.MatchString(s)
}

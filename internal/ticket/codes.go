package ticket

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	MinCodeLength = 4
	MaxCodeLength = 20

	// uppercase and digits without the look-alikes 0, O, 1 and I
	generatedAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var ErrInvalidCode = errors.New("invalid ticket code")

// NormalizeCode trims surrounding whitespace. Codes are case-sensitive.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// ValidateCode checks the length and the allowed characters [A-Za-z0-9.-].
func ValidateCode(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return fmt.Errorf("%w: length must be between %d and %d", ErrInvalidCode, MinCodeLength, MaxCodeLength)
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z',
			ch >= 'a' && ch <= 'z',
			ch >= '0' && ch <= '9',
			ch == '.', ch == '-':
		default:
			return fmt.Errorf("%w: character %q is not allowed", ErrInvalidCode, ch)
		}
	}
	return nil
}

// Generator draws random codes of a fixed length from crypto/rand.
type Generator struct {
	length int
}

func NewGenerator(length int) (*Generator, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, fmt.Errorf("code length %d out of range %d..%d", length, MinCodeLength, MaxCodeLength)
	}
	return &Generator{length: length}, nil
}

func (g *Generator) Generate() (string, error) {
	max := big.NewInt(int64(len(generatedAlphabet)))

	var sb strings.Builder
	sb.Grow(g.length)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		sb.WriteByte(generatedAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

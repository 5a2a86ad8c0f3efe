// Package secret generates random secret values.
package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	letters     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits      = "0123456789"
	punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// Spec describes a value to generate.
type Spec struct {
	Length int
	// ExcludeCharacters are never part of the generated value.
	ExcludeCharacters  string
	ExcludePunctuation bool
}

// Alphabet returns the characters generated values are drawn from.
func (s Spec) Alphabet() string {
	candidates := letters + digits
	if !s.ExcludePunctuation {
		candidates += punctuation
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(s.ExcludeCharacters, r) {
			return -1
		}
		return r
	}, candidates)
}

// Generate returns a random value of the given spec.
func Generate(spec Spec) (string, error) {
	if spec.Length <= 0 {
		return "", fmt.Errorf("secret length must be positive: %d", spec.Length)
	}
	alphabet := spec.Alphabet()
	if alphabet == "" {
		return "", errors.New("no characters left to generate a secret from")
	}

	size := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(spec.Length)
	for range spec.Length {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate secret: %v", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

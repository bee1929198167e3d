// Package keygen produces human-transcribable license keys of the form
// PREFIX-XXXX-XXXX-XXXX-XXXX.
package keygen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Alphabet has 32 symbols and omits 0/O and 1/I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultPrefix = "WPL"
	groups        = 4
	groupSize     = 4
)

var ErrInvalidPrefix = errors.New("key prefix must be 1-10 upper-case letters or digits")

type Generator struct {
	prefix string
}

func New(prefix string) (*Generator, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if len(prefix) > 10 || strings.ToUpper(prefix) != prefix || strings.ContainsAny(prefix, "- ") {
		return nil, ErrInvalidPrefix
	}
	return &Generator{prefix: prefix}, nil
}

func (g *Generator) Prefix() string {
	return g.prefix
}

// Generate draws 16 symbols uniformly from Alphabet. 256 is a multiple of 32 so
// masking a random byte introduces no bias.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, groups*groupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	var sb strings.Builder
	sb.Grow(len(g.prefix) + groups*(groupSize+1))
	sb.WriteString(g.prefix)
	for i, b := range buf {
		if i%groupSize == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(Alphabet[b&31])
	}
	return sb.String(), nil
}

// Valid reports whether key has the PREFIX-XXXX-XXXX-XXXX-XXXX shape with any
// prefix, so keys issued under an older prefix still pass.
func Valid(key string) bool {
	parts := strings.Split(key, "-")
	if len(parts) != groups+1 || parts[0] == "" {
		return false
	}
	for _, part := range parts[1:] {
		if len(part) != groupSize {
			return false
		}
		for i := 0; i < len(part); i++ {
			if strings.IndexByte(Alphabet, part[i]) < 0 {
				return false
			}
		}
	}
	return true
}

// Normalize upper-cases and trims a key typed by a user.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

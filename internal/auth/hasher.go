// Package auth hashes and verifies admin API keys with Argon2id.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVariant = errors.New("incompatible variant")
	ErrIncompatibleVersion = errors.New("incompatible version")
	ErrNoAdminKeys         = errors.New("no admin key hashes configured")
)

// Params defines Argon2id parameters
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultParams = &Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns the encoded Argon2id hash of an admin key:
// $argon2id$v=19$m=65536,t=1,p=4$salt$hash
func HashKey(key string) (string, error) {
	return hashWith(key, DefaultParams)
}

func hashWith(key string, p *Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(key), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, p.Memory, p.Iterations, p.Parallelism, b64Salt, b64Hash), nil
}

// CheckKey compares a presented key against an encoded hash in constant time.
func CheckKey(key, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, ErrInvalidHash
	}
	if parts[1] != "argon2id" {
		return false, ErrIncompatibleVariant
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	p := &Params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	p.KeyLength = uint32(len(decodedHash))

	otherHash := argon2.IDKey([]byte(key), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(decodedHash, otherHash) == 1, nil
}

// Verifier accepts a key matching any configured hash, so keys can be rotated
// by deploying the new hash alongside the old one.
type Verifier struct {
	hashes []string
}

func NewVerifier(hashes []string) (*Verifier, error) {
	var clean []string
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if len(strings.Split(h, "$")) != 6 {
			return nil, ErrInvalidHash
		}
		clean = append(clean, h)
	}
	if len(clean) == 0 {
		return nil, ErrNoAdminKeys
	}
	return &Verifier{hashes: clean}, nil
}

func (v *Verifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	for _, h := range v.hashes {
		if ok, err := CheckKey(key, h); err == nil && ok {
			return true
		}
	}
	return false
}

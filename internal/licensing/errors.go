package licensing

import (
	"errors"
	"fmt"
	"time"

	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/domains"
)

// Code is the stable tag clients see in the "error" field.
type Code string

const (
	CodeInvalidRequest  Code = "invalid_request"
	CodeInvalidKey      Code = "invalid_key"
	CodeExpired         Code = "expired"
	CodeLimitReached    Code = "limit_reached"
	CodeNotFound        Code = "not_found"
	CodeNotActivated    Code = "not_activated"
	CodeProductMismatch Code = "product_mismatch"
	CodeInvalidToken    Code = "invalid_token"
	CodeTokenExpired    Code = "token_expired"
	CodeTokenMismatch   Code = "token_mismatch"
	CodeConflict        Code = "conflict"
)

var (
	ErrInvalidRequest  = errors.New(string(CodeInvalidRequest))
	ErrInvalidKey      = errors.New(string(CodeInvalidKey))
	ErrExpired         = errors.New(string(CodeExpired))
	ErrLimitReached    = errors.New(string(CodeLimitReached))
	ErrNotFound        = errors.New(string(CodeNotFound))
	ErrNotActivated    = errors.New(string(CodeNotActivated))
	ErrProductMismatch = errors.New(string(CodeProductMismatch))
	ErrInvalidToken    = errors.New(string(CodeInvalidToken))
	ErrTokenExpired    = errors.New(string(CodeTokenExpired))
	ErrTokenMismatch   = errors.New(string(CodeTokenMismatch))
	ErrConflict        = errors.New(string(CodeConflict))

	// ErrStoreUnavailable wraps infrastructure failures. It is the only error
	// class callers should surface as a server error.
	ErrStoreUnavailable = errors.New("store unavailable")
)

var sentinels = map[Code]error{
	CodeInvalidRequest:  ErrInvalidRequest,
	CodeInvalidKey:      ErrInvalidKey,
	CodeExpired:         ErrExpired,
	CodeLimitReached:    ErrLimitReached,
	CodeNotFound:        ErrNotFound,
	CodeNotActivated:    ErrNotActivated,
	CodeProductMismatch: ErrProductMismatch,
	CodeInvalidToken:    ErrInvalidToken,
	CodeTokenExpired:    ErrTokenExpired,
	CodeTokenMismatch:   ErrTokenMismatch,
	CodeConflict:        ErrConflict,
}

// Codes lists every outcome tag, for exhaustive mapping by callers.
func Codes() []Code {
	return []Code{
		CodeInvalidRequest, CodeInvalidKey, CodeExpired, CodeLimitReached, CodeNotFound,
		CodeNotActivated, CodeProductMismatch, CodeInvalidToken, CodeTokenExpired, CodeTokenMismatch,
		CodeConflict,
	}
}

// ActivationInfo describes one active activation in a limit_reached outcome.
type ActivationInfo struct {
	Domain      string       `json:"domain"`
	Kind        domains.Kind `json:"type"`
	SiteURL     string       `json:"site_url,omitempty"`
	ActivatedAt time.Time    `json:"activated_at"`
}

// Error is a client-correctable outcome of an engine operation.
type Error struct {
	Code        Code
	Message     string
	Activations []ActivationInfo // set for CodeLimitReached
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes errors.Is(err, ErrLimitReached) and friends work.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf extracts the outcome tag, or "" for infrastructure errors.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// storeErr wraps a store failure as ErrStoreUnavailable, except values the
// database rejected, which the caller can correct.
func storeErr(op string, err error) error {
	if errors.Is(err, data.ErrInvalidValue) {
		return newError(CodeInvalidRequest, "a field is too long or out of range")
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

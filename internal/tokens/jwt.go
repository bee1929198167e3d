package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const (
	issuer = "license-server"
	keyID  = "v1"

	// PerpetualTTL bounds tokens for licenses without an expiry.
	PerpetualTTL = 365 * 24 * time.Hour
)

// ActivationClaims binds a license key to a domain. A valid token proves the
// server issued it for that pair; it says nothing about current license state.
type ActivationClaims struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
	Plan       string `json:"plan"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
	now        func() time.Time
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey), now: time.Now}
}

// WithClock is for tests that need to mint already-expired tokens.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	return &Manager{signingKey: m.signingKey, now: now}
}

// IssueActivation signs a token for (licenseKey, domain). It expires with the
// license, or PerpetualTTL from now when expiresAt is nil.
func (m *Manager) IssueActivation(licenseKey, domain, plan string, expiresAt *time.Time) (string, error) {
	now := m.now().UTC()
	exp := now.Add(PerpetualTTL)
	if expiresAt != nil {
		exp = expiresAt.UTC()
	}

	claims := ActivationClaims{
		LicenseKey: licenseKey,
		Domain:     domain,
		Plan:       plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   licenseKey,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	return token.SignedString(m.signingKey)
}

// VerifyActivation checks signature and time claims. Expiry is reported as
// ErrTokenExpired, every other failure as ErrInvalidToken.
func (m *Manager) VerifyActivation(tokenString string) (*ActivationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActivationClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ActivationClaims)
	if !ok || !token.Valid || claims.LicenseKey == "" || claims.Domain == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

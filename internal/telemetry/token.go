// ABOUTME: JWT passwords for the GCP IoT MQTT bridge
// ABOUTME: Signs {iat, exp, aud} claims with the device RSA key
package telemetry

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource mints RS256 device tokens
type TokenSource struct {
	ProjectID string
	Lifetime  time.Duration
	key       *rsa.PrivateKey

	// now is replaced in tests
	now func() time.Time
}

// NewTokenSource creates a token source for key
func NewTokenSource(projectID string, key *rsa.PrivateKey, lifetime time.Duration) *TokenSource {
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &TokenSource{ProjectID: projectID, Lifetime: lifetime, key: key, now: time.Now}
}

// LoadTokenSource reads a PEM RSA private key from keyFile
func LoadTokenSource(projectID, keyFile string, lifetime time.Duration) (*TokenSource, error) {
	pem, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read device key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse device key %s: %w", keyFile, err)
	}
	return NewTokenSource(projectID, key, lifetime), nil
}

// Token returns a freshly signed token
func (s *TokenSource) Token() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.Lifetime)),
		Audience:  jwt.ClaimStrings{s.ProjectID},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssueInput describes the grant to sign.
type IssueInput struct {
	Issuer   string
	Audience string
	Address  string
	TTL      time.Duration
	Now      func() time.Time
}

// IssueGrant signs an actor grant for an address. The grant carries a
// fresh jti and expires after the given TTL.
func IssueGrant(key ed25519.PrivateKey, input IssueInput) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", errors.New("signing key must be an ed25519 private key")
	}
	if strings.TrimSpace(input.Issuer) == "" {
		return "", errors.New("issuer is required")
	}
	if strings.TrimSpace(input.Audience) == "" {
		return "", errors.New("audience is required")
	}
	if strings.TrimSpace(input.Address) == "" {
		return "", errors.New("address is required")
	}
	if input.TTL <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := time.Now
	if input.Now != nil {
		now = input.Now
	}

	issued := now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    input.Issuer,
		Subject:   input.Address,
		Audience:  jwt.ClaimStrings{input.Audience},
		ExpiresAt: jwt.NewNumericDate(issued.Add(input.TTL)),
		NotBefore: jwt.NewNumericDate(issued),
		IssuedAt:  jwt.NewNumericDate(issued),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// ParseSigningKey decodes a base64-encoded ed25519 private key.
func ParseSigningKey(value string) (ed25519.PrivateKey, error) {
	raw, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("signing key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

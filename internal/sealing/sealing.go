// Package sealing encrypts message bodies under a per-token session
// key and computes the digests recorded on the ledger. The session key
// itself travels inside the identity-based ciphertext, so only the
// plaintext digest and the sealed bytes ever leave the sender.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// KeySize is the AES-256 session key length in bytes.
	KeySize = 32
	// IVSize is the counter-mode initialization vector length in bytes.
	IVSize = aes.BlockSize
)

// SessionKey is a symmetric key sealed to the token recipient.
type SessionKey [KeySize]byte

// IV is the counter-mode initialization vector shared by a deployment.
type IV [IVSize]byte

// NewSessionKey draws a fresh random session key.
func NewSessionKey() (SessionKey, error) {
	var key SessionKey
	if _, err := rand.Read(key[:]); err != nil {
		return SessionKey{}, err
	}
	return key, nil
}

// ParseIV decodes a hex-encoded initialization vector.
func ParseIV(s string) (IV, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return IV{}, fmt.Errorf("decode iv: %w", err)
	}
	if len(b) != IVSize {
		return IV{}, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(b))
	}
	var iv IV
	copy(iv[:], b)
	return iv, nil
}

// Seal encrypts a message with AES-256 in counter mode.
func Seal(key SessionKey, iv IV, message []byte) ([]byte, error) {
	return applyCTR(key, iv, message)
}

// Open decrypts a message sealed with the same key and vector.
func Open(key SessionKey, iv IV, sealed []byte) ([]byte, error) {
	return applyCTR(key, iv, sealed)
}

func applyCTR(key SessionKey, iv IV, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, in)
	return out, nil
}

// Digest returns the hex-encoded SHA-256 digest of data. Both the
// plaintext and sealed message digests recorded on the ledger use it.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Package grantkey generates actor-grant signing keys and signs
// grants for ledger addresses.
package grantkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/louisbranch/sealbox/internal/auth"
)

// Run generates a grant key pair and writes exports.
func Run(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate grant key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export SEALBOX_GRANT_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export SEALBOX_GRANT_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}

// SignInput describes the grant to sign.
type SignInput struct {
	PrivateKey string
	Issuer     string
	Audience   string
	Address    string
	TTL        time.Duration
}

// Sign issues a signed actor grant and writes it to out.
func Sign(out io.Writer, input SignInput) error {
	if out == nil {
		return errors.New("output is required")
	}
	key, err := auth.ParseSigningKey(input.PrivateKey)
	if err != nil {
		return err
	}
	grant, err := auth.IssueGrant(key, auth.IssueInput{
		Issuer:   input.Issuer,
		Audience: input.Audience,
		Address:  input.Address,
		TTL:      input.TTL,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, grant)
	return err
}

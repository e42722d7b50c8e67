// Package storage defines the persistence interfaces for the ledger.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/sealbox/internal/token"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// TokenStore persists token records. Records are never deleted:
// terminal states are retained as an immutable audit trail.
type TokenStore interface {
	// CreateToken persists a new record and returns its assigned ID.
	// IDs are monotonically increasing within a ledger.
	CreateToken(ctx context.Context, tok token.Token) (int64, error)
	// GetToken fetches a token record by ID. Returns ErrNotFound when
	// no record exists.
	GetToken(ctx context.Context, id int64) (token.Token, error)
	// UpdateToken replaces an existing record. Returns ErrNotFound when
	// no record exists.
	UpdateToken(ctx context.Context, tok token.Token) error
	// CountOwned returns the number of tokens owned by an address,
	// i.e. accepted or later.
	CountOwned(ctx context.Context, address string) (int64, error)
}

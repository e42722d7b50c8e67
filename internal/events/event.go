// Package events provides the ledger's outbound event journal.
//
// Events are a notification side-channel for off-core observers (the
// key-issuer watches for acceptance, the recipient for key release).
// The persisted journal is replayable by cursor, so observers that miss
// a live notification can always reconcile; the ledger's state reads
// remain the source of truth.
package events

import (
	"strings"
	"time"
)

// Type identifies the type of a ledger event.
type Type string

const (
	// TypeMinted records the creation of a token.
	TypeMinted Type = "token.minted"
	// TypeAccepted records the recipient claiming a token. This is the
	// event the key-issuer watches for.
	TypeAccepted Type = "token.accepted"
	// TypeRejected records the recipient declining a token.
	TypeRejected Type = "token.rejected"
	// TypeCancelled records the sender withdrawing a token.
	TypeCancelled Type = "token.cancelled"
	// TypeExpired records a deadline elapsing before the next transition.
	TypeExpired Type = "token.expired"
	// TypeKeyReleased records the key-issuer publishing the private key.
	TypeKeyReleased Type = "token.key_released"
)

// Event represents an immutable entry in the ledger event journal.
type Event struct {
	// Seq is the journal sequence number. Assigned by storage on append;
	// it totally orders events and is strictly increasing per token.
	Seq int64
	// TokenID is the token this event belongs to.
	TokenID int64
	// Type identifies the kind of event.
	Type Type
	// Actor is the address that triggered the transition, or "system"
	// for expiry materialization.
	Actor string
	// FromState and ToState are the persisted state labels around the
	// transition. Minted events use an empty FromState.
	FromState string
	ToState   string
	// Payload carries event-specific fields (sender, recipient, owner).
	Payload map[string]string
	// Timestamp is when the transition committed.
	Timestamp time.Time
}

// ActorSystem is the actor recorded for externally triggered expiry.
const ActorSystem = "system"

// KnownType reports whether label names a journal event type.
func KnownType(label string) bool {
	switch Type(strings.TrimSpace(label)) {
	case TypeMinted, TypeAccepted, TypeRejected, TypeCancelled, TypeExpired, TypeKeyReleased:
		return true
	default:
		return false
	}
}

// Package token provides the conditional-disclosure token domain model.
//
// A token is a non-transferable credential minted for a designated
// recipient. It conveys nothing until the recipient accepts it, and the
// sealed symmetric key it carries is only disclosed by the key-issuer
// after acceptance has been observed. All transitions are pure functions
// of (record, caller, now) so the hosting ledger can validate and commit
// them atomically.
package token

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/sealbox/internal/errors"
)

// State describes the lifecycle state of a token.
type State int

const (
	// StateUnspecified represents an invalid token state value.
	StateUnspecified State = iota
	// StatePending indicates the token awaits the recipient's decision.
	StatePending
	// StateAccepted indicates the recipient claimed the token.
	StateAccepted
	// StateRejected indicates the recipient declined the token.
	StateRejected
	// StateCancelled indicates the sender withdrew the token.
	StateCancelled
	// StateKeyReleased indicates the key-issuer published the private key.
	StateKeyReleased
	// StateExpired indicates a deadline elapsed before the next transition.
	StateExpired
)

// DigestSize is the byte length of content-integrity digests.
const DigestSize = 32

var (
	// ErrEmptySender indicates a missing sender address.
	ErrEmptySender = apperrors.New(apperrors.CodeTokenEmptySender, "sender address is required")
	// ErrEmptyRecipient indicates a missing recipient identity.
	ErrEmptyRecipient = apperrors.New(apperrors.CodeTokenEmptyRecipient, "recipient address is required")
	// ErrEmptySealedKey indicates a missing encrypted symmetric key.
	ErrEmptySealedKey = apperrors.New(apperrors.CodeTokenEmptySealedKey, "sealed symmetric key is required")
	// ErrEmptyKeyMaterial indicates missing released key material.
	ErrEmptyKeyMaterial = apperrors.New(apperrors.CodeKeyEmptyMaterial, "private key material is required")
)

// Identity is the recipient identity used as IBE public-key material.
// It is immutable after mint.
type Identity struct {
	Address   string
	Timestamp time.Time
}

// String renders the canonical identity string the IBE collaborator
// encrypts against. Address and timestamp must both match for a derived
// key to decrypt the sealed payload key.
func (i Identity) String() string {
	return fmt.Sprintf("%s@%d", i.Address, i.Timestamp.UTC().Unix())
}

// SealedKey is the IBE ciphertext of the one-time symmetric key. The
// core stores and returns it verbatim: two curve-coordinate fields and
// two byte-string fields, all hex-encoded.
type SealedKey struct {
	CipherUX string
	CipherUY string
	CipherV  string
	CipherW  string
}

// IsZero reports whether no ciphertext is present.
func (k SealedKey) IsZero() bool {
	return k.CipherUX == "" && k.CipherUY == "" && k.CipherV == "" && k.CipherW == ""
}

// ReleasedKey is the IBE private key published by the key-issuer,
// opaque to the core.
type ReleasedKey struct {
	X string
	Y string
}

// IsZero reports whether no key material is present.
func (k ReleasedKey) IsZero() bool {
	return k.X == "" && k.Y == ""
}

// Token represents one minted credential.
type Token struct {
	// ID is assigned by storage on create, monotonically per ledger.
	ID     int64
	Sender string
	// Recipient is the identity the sealed key was encrypted against.
	Recipient Identity
	// DeadlineAccept bounds the recipient's decision window.
	DeadlineAccept time.Time
	// DeadlineKeyRelease bounds the key-issuer's disclosure window.
	DeadlineKeyRelease time.Time
	// MessageHash is the content digest of the plaintext message.
	MessageHash string
	// EncryptedMessageHash is the content digest of the out-of-band ciphertext.
	EncryptedMessageHash string
	// SealedKey is the IBE ciphertext of the one-time symmetric key.
	SealedKey SealedKey
	State     State
	// Owner is the zero address until the token is accepted.
	Owner string
	// TransferableTo is the recipient address while the token is pending.
	TransferableTo string
	// ReleasedKey is set exactly when State is StateKeyReleased.
	ReleasedKey ReleasedKey
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MintInput describes the data needed to mint a token.
type MintInput struct {
	Sender               string
	Recipient            Identity
	DeadlineAccept       time.Time
	DeadlineKeyRelease   time.Time
	MessageHash          string
	EncryptedMessageHash string
	SealedKey            SealedKey
}

// NewToken validates mint input and creates a pending record. The ID is
// zero until storage assigns one.
func NewToken(input MintInput, now func() time.Time) (Token, error) {
	if now == nil {
		now = time.Now
	}
	createdAt := now().UTC()

	normalized, err := NormalizeMintInput(input)
	if err != nil {
		return Token{}, err
	}
	if err := validateDeadlines(normalized.DeadlineAccept, normalized.DeadlineKeyRelease, createdAt); err != nil {
		return Token{}, err
	}

	return Token{
		Sender:               normalized.Sender,
		Recipient:            normalized.Recipient,
		DeadlineAccept:       normalized.DeadlineAccept.UTC(),
		DeadlineKeyRelease:   normalized.DeadlineKeyRelease.UTC(),
		MessageHash:          normalized.MessageHash,
		EncryptedMessageHash: normalized.EncryptedMessageHash,
		SealedKey:            normalized.SealedKey,
		State:                StatePending,
		TransferableTo:       normalized.Recipient.Address,
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}, nil
}

// NormalizeMintInput trims and validates mint input.
func NormalizeMintInput(input MintInput) (MintInput, error) {
	input.Sender = strings.TrimSpace(input.Sender)
	if input.Sender == "" {
		return MintInput{}, ErrEmptySender
	}
	input.Recipient.Address = strings.TrimSpace(input.Recipient.Address)
	if input.Recipient.Address == "" || input.Recipient.Timestamp.IsZero() {
		return MintInput{}, ErrEmptyRecipient
	}
	input.MessageHash = strings.ToLower(strings.TrimSpace(input.MessageHash))
	if err := validateDigest(input.MessageHash); err != nil {
		return MintInput{}, err
	}
	input.EncryptedMessageHash = strings.ToLower(strings.TrimSpace(input.EncryptedMessageHash))
	if err := validateDigest(input.EncryptedMessageHash); err != nil {
		return MintInput{}, err
	}
	if input.SealedKey.IsZero() {
		return MintInput{}, ErrEmptySealedKey
	}
	return input, nil
}

// Accept claims a pending token for the recipient. Ownership is
// established exactly here and never changes afterwards.
func Accept(t Token, caller string, now time.Time) (Token, error) {
	if caller != t.Recipient.Address {
		return Token{}, unauthorizedError("caller is not the token recipient", caller)
	}
	if err := requirePending(t, now); err != nil {
		return Token{}, err
	}

	updated := t
	updated.State = StateAccepted
	updated.Owner = t.Recipient.Address
	updated.TransferableTo = ""
	updated.UpdatedAt = now.UTC()
	return updated, nil
}

// Reject declines a pending token. Only the recipient may reject.
func Reject(t Token, caller string, now time.Time) (Token, error) {
	if caller != t.Recipient.Address {
		return Token{}, unauthorizedError("caller is not the token recipient", caller)
	}
	if err := requirePending(t, now); err != nil {
		return Token{}, err
	}

	updated := t
	updated.State = StateRejected
	updated.TransferableTo = ""
	updated.UpdatedAt = now.UTC()
	return updated, nil
}

// Cancel withdraws a pending token. Only the original sender may cancel.
func Cancel(t Token, caller string, now time.Time) (Token, error) {
	if caller != t.Sender {
		return Token{}, unauthorizedError("caller is not the token sender", caller)
	}
	if err := requirePending(t, now); err != nil {
		return Token{}, err
	}

	updated := t
	updated.State = StateCancelled
	updated.TransferableTo = ""
	updated.UpdatedAt = now.UTC()
	return updated, nil
}

// ReleaseKey records the key-issuer's extracted private key. This is
// the sole path by which key material enters a record, and it is only
// open from StateAccepted before the key-release deadline.
func ReleaseKey(t Token, caller, keyIssuer string, key ReleasedKey, now time.Time) (Token, error) {
	if caller != keyIssuer {
		return Token{}, unauthorizedError("caller is not the key-issuer", caller)
	}
	if key.IsZero() {
		return Token{}, ErrEmptyKeyMaterial
	}
	if t.State == StateExpired && t.Owner != "" {
		return Token{}, deadlinePassedError("key-release window has closed", t.DeadlineKeyRelease)
	}
	if t.State != StateAccepted {
		return Token{}, invalidStateError(t.State, StateKeyReleased)
	}
	if !now.Before(t.DeadlineKeyRelease) {
		return Token{}, deadlinePassedError("key-release window has closed", t.DeadlineKeyRelease)
	}

	updated := t
	updated.State = StateKeyReleased
	updated.ReleasedKey = key
	updated.UpdatedAt = now.UTC()
	return updated, nil
}

// requirePending enforces the pending-state preconditions shared by
// accept, reject and cancel. A token expired out of Pending reports
// the closed deadline rather than the materialized state, so callers
// see the same error whether or not the expiry has been persisted
// yet. Tokens expired out of Accepted carry an owner and stay
// invalid-state here.
func requirePending(t Token, now time.Time) error {
	if t.State == StateExpired && t.Owner == "" {
		return deadlinePassedError("acceptance window has closed", t.DeadlineAccept)
	}
	if t.State != StatePending {
		return invalidStateError(t.State, StatePending)
	}
	if EffectiveState(t, now) == StateExpired {
		return deadlinePassedError("acceptance window has closed", t.DeadlineAccept)
	}
	return nil
}

func unauthorizedError(message, caller string) error {
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, message, map[string]string{
		"Caller": caller,
	})
}

func invalidStateError(from State, requested State) error {
	return apperrors.WithMetadata(
		apperrors.CodeInvalidState,
		fmt.Sprintf("operation not valid from state %s", StateLabel(from)),
		map[string]string{"State": StateLabel(from), "Requested": StateLabel(requested)},
	)
}

func deadlinePassedError(message string, deadline time.Time) error {
	return apperrors.WithMetadata(apperrors.CodeDeadlinePassed, message, map[string]string{
		"Deadline": deadline.UTC().Format(time.RFC3339),
	})
}

func validateDeadlines(accept, keyRelease, now time.Time) error {
	if !accept.After(now) || !keyRelease.After(now) || !accept.Before(keyRelease) {
		return apperrors.WithMetadata(
			apperrors.CodeInvalidDeadline,
			"deadlines must be in the future with acceptance before key release",
			map[string]string{
				"DeadlineAccept":     accept.UTC().Format(time.RFC3339),
				"DeadlineKeyRelease": keyRelease.UTC().Format(time.RFC3339),
			},
		)
	}
	return nil
}

func validateDigest(digest string) error {
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != DigestSize {
		return apperrors.WithMetadata(
			apperrors.CodeTokenInvalidDigest,
			fmt.Sprintf("digest must be %d hex-encoded bytes", DigestSize),
			map[string]string{"Digest": digest},
		)
	}
	return nil
}

// IsTerminal reports whether no further transition can leave the state.
func IsTerminal(s State) bool {
	switch s {
	case StateRejected, StateCancelled, StateKeyReleased, StateExpired:
		return true
	default:
		return false
	}
}

// StateLabel returns the string label for a token state.
func StateLabel(s State) string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	case StateCancelled:
		return "CANCELLED"
	case StateKeyReleased:
		return "KEY_RELEASED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNSPECIFIED"
	}
}

// StateFromLabel converts a state label to a State value.
func StateFromLabel(label string) State {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return StatePending
	case "ACCEPTED":
		return StateAccepted
	case "REJECTED":
		return StateRejected
	case "CANCELLED":
		return StateCancelled
	case "KEY_RELEASED":
		return StateKeyReleased
	case "EXPIRED":
		return StateExpired
	default:
		return StateUnspecified
	}
}

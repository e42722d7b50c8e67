// Package ledger hosts the conditional-disclosure token state machine.
//
// The service owns the token store, the event journal, and the clock.
// Every mutation is serialized behind a single mutex, validated against
// the current record and the current time, and committed in one step,
// so concurrent conflicting requests resolve with exactly one winner.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/louisbranch/sealbox/internal/errors"
	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/ibe"
	"github.com/louisbranch/sealbox/internal/storage"
	"github.com/louisbranch/sealbox/internal/token"
)

// Config is the construction-time ledger configuration. It is
// immutable after New.
type Config struct {
	// Name and Symbol are display metadata.
	Name   string
	Symbol string
	// KeyIssuer is the only address allowed to release private keys.
	KeyIssuer string
	// IV is the hex-encoded initialization vector senders use to seal
	// message bodies. Exposed read-only alongside the public parameters.
	IV string
	// Params are the key issuer's public IBE parameters.
	Params ibe.Params
}

// Service implements the token ledger.
type Service struct {
	cfg     Config
	store   storage.TokenStore
	emitter *events.Emitter
	clock   func() time.Time

	// mu serializes all mutations. Cross-token contention is acceptable
	// at this ledger's scale and keeps the commit path trivially atomic.
	mu sync.Mutex
}

// New creates a ledger service. The emitter may be nil, in which case
// transitions commit without notifications.
func New(cfg Config, store storage.TokenStore, emitter *events.Emitter) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.KeyIssuer == "" {
		return nil, fmt.Errorf("key-issuer address is required")
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}, nil
}

// WithClock overrides the ledger clock. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// MintRequest describes a mint call. The sender is always the caller.
type MintRequest struct {
	Recipient            token.Identity
	DeadlineAccept       time.Time
	DeadlineKeyRelease   time.Time
	MessageHash          string
	EncryptedMessageHash string
	SealedKey            token.SealedKey
}

// Mint creates a pending token for the caller and returns the stored
// record with its assigned ID.
func (s *Service) Mint(ctx context.Context, caller string, req MintRequest) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := token.NewToken(token.MintInput{
		Sender:               caller,
		Recipient:            req.Recipient,
		DeadlineAccept:       req.DeadlineAccept,
		DeadlineKeyRelease:   req.DeadlineKeyRelease,
		MessageHash:          req.MessageHash,
		EncryptedMessageHash: req.EncryptedMessageHash,
		SealedKey:            req.SealedKey,
	}, s.clock)
	if err != nil {
		return token.Token{}, err
	}

	id, err := s.store.CreateToken(ctx, tok)
	if err != nil {
		return token.Token{}, fmt.Errorf("create token: %w", err)
	}
	tok.ID = id

	s.emit(ctx, events.Event{
		TokenID: id,
		Type:    events.TypeMinted,
		Actor:   tok.Sender,
		ToState: token.StateLabel(tok.State),
		Payload: map[string]string{
			"Sender":    tok.Sender,
			"Recipient": tok.Recipient.Address,
		},
		Timestamp: tok.CreatedAt,
	})
	return tok, nil
}

// AcceptTransfer claims a pending token for the recipient.
func (s *Service) AcceptTransfer(ctx context.Context, id int64, caller string) (token.Token, error) {
	return s.transition(ctx, id, events.TypeAccepted, func(t token.Token, now time.Time) (token.Token, error) {
		return token.Accept(t, caller, now)
	})
}

// RejectTransfer declines a pending token.
func (s *Service) RejectTransfer(ctx context.Context, id int64, caller string) (token.Token, error) {
	return s.transition(ctx, id, events.TypeRejected, func(t token.Token, now time.Time) (token.Token, error) {
		return token.Reject(t, caller, now)
	})
}

// CancelTransfer withdraws a pending token.
func (s *Service) CancelTransfer(ctx context.Context, id int64, caller string) (token.Token, error) {
	return s.transition(ctx, id, events.TypeCancelled, func(t token.Token, now time.Time) (token.Token, error) {
		return token.Cancel(t, caller, now)
	})
}

// SendPrivateKey records the key-issuer's extracted private key and
// moves the token to KeyReleased. This is the sole path by which key
// material enters a record.
func (s *Service) SendPrivateKey(ctx context.Context, id int64, caller string, key token.ReleasedKey) (token.Token, error) {
	return s.transition(ctx, id, events.TypeKeyReleased, func(t token.Token, now time.Time) (token.Token, error) {
		return token.ReleaseKey(t, caller, s.cfg.KeyIssuer, key, now)
	})
}

// CheckExpiry persists the Expired state when a deadline has elapsed.
// Anyone may call it; it is idempotent and returns the current record
// either way.
func (s *Service) CheckExpiry(ctx context.Context, id int64) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.load(ctx, id)
	if err != nil {
		return token.Token{}, err
	}
	return s.materializeExpiry(ctx, tok)
}

// GetState returns the token state after materializing any elapsed
// deadline, so stale reads never show Pending or Accepted past their
// window.
func (s *Service) GetState(ctx context.Context, id int64) (token.State, error) {
	tok, err := s.CheckExpiry(ctx, id)
	if err != nil {
		return token.StateUnspecified, err
	}
	return tok.State, nil
}

// MessageData returns the full token record after expiry
// materialization, including the released key if present.
func (s *Service) MessageData(ctx context.Context, id int64) (token.Token, error) {
	return s.CheckExpiry(ctx, id)
}

// OwnerOf returns the confirmed owner, the zero address until the
// token has been accepted.
func (s *Service) OwnerOf(ctx context.Context, id int64) (string, error) {
	tok, err := s.CheckExpiry(ctx, id)
	if err != nil {
		return "", err
	}
	return tok.Owner, nil
}

// TransferableOwnerOf returns the pending recipient address, empty
// once the token has left Pending.
func (s *Service) TransferableOwnerOf(ctx context.Context, id int64) (string, error) {
	tok, err := s.CheckExpiry(ctx, id)
	if err != nil {
		return "", err
	}
	return tok.TransferableTo, nil
}

// BalanceOf counts the tokens owned by an address.
func (s *Service) BalanceOf(ctx context.Context, address string) (int64, error) {
	return s.store.CountOwned(ctx, address)
}

// Params describes the ledger's immutable configuration for clients:
// display metadata, the key-issuer address, the sealing vector, and
// the IBE public parameters as decimal strings.
type Params struct {
	Name          string
	Symbol        string
	KeyIssuer     string
	IV            string
	FieldOrder    string
	SubgroupOrder string
	PointP        [2]string
	PointPPublic  [2]string
}

// Params returns the construction-time configuration.
func (s *Service) Params() Params {
	p := Params{
		Name:      s.cfg.Name,
		Symbol:    s.cfg.Symbol,
		KeyIssuer: s.cfg.KeyIssuer,
		IV:        s.cfg.IV,
	}
	if s.cfg.Params.FieldOrder != nil {
		p.FieldOrder = s.cfg.Params.FieldOrder.String()
	}
	if s.cfg.Params.SubgroupOrder != nil {
		p.SubgroupOrder = s.cfg.Params.SubgroupOrder.String()
	}
	if s.cfg.Params.PointP.X != nil && s.cfg.Params.PointP.Y != nil {
		p.PointP = [2]string{s.cfg.Params.PointP.X.String(), s.cfg.Params.PointP.Y.String()}
	}
	if s.cfg.Params.PointPPublic.X != nil && s.cfg.Params.PointPPublic.Y != nil {
		p.PointPPublic = [2]string{s.cfg.Params.PointPPublic.X.String(), s.cfg.Params.PointPPublic.Y.String()}
	}
	return p
}

// Events returns the journal entries for one token in append order.
func (s *Service) Events(ctx context.Context, id int64) ([]events.Event, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.eventStore().ListEvents(ctx, id)
}

// EventsAfter returns up to limit journal entries past the cursor.
func (s *Service) EventsAfter(ctx context.Context, after int64, limit int) ([]events.Event, error) {
	return s.eventStore().ListEventsAfter(ctx, after, limit)
}

// Subscribe registers a live event channel.
func (s *Service) Subscribe() (<-chan events.Event, func()) {
	return s.emitter.Subscribe()
}

// transition runs a domain transition under the ledger lock and
// commits its result. When the transition fails on an elapsed
// deadline, the Expired state is materialized first, the same commit
// CheckExpiry performs, and the original error is still returned.
func (s *Service) transition(ctx context.Context, id int64, evtType events.Type, fn func(token.Token, time.Time) (token.Token, error)) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.load(ctx, id)
	if err != nil {
		return token.Token{}, err
	}
	now := s.clock().UTC()

	updated, err := fn(tok, now)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeDeadlinePassed) {
			if _, expErr := s.materializeExpiry(ctx, tok); expErr != nil {
				return token.Token{}, expErr
			}
		}
		return token.Token{}, err
	}

	if err := s.store.UpdateToken(ctx, updated); err != nil {
		return token.Token{}, fmt.Errorf("update token: %w", err)
	}
	s.emit(ctx, events.Event{
		TokenID:   id,
		Type:      evtType,
		Actor:     s.transitionActor(evtType, updated),
		FromState: token.StateLabel(tok.State),
		ToState:   token.StateLabel(updated.State),
		Payload:   transitionPayload(evtType, updated),
		Timestamp: updated.UpdatedAt,
	})
	return updated, nil
}

// materializeExpiry persists Expired when a deadline has elapsed.
// Callers must hold the ledger lock.
func (s *Service) materializeExpiry(ctx context.Context, tok token.Token) (token.Token, error) {
	now := s.clock().UTC()
	expired, changed := token.Expire(tok, now)
	if !changed {
		return tok, nil
	}
	if err := s.store.UpdateToken(ctx, expired); err != nil {
		return token.Token{}, fmt.Errorf("update token: %w", err)
	}
	s.emit(ctx, events.Event{
		TokenID:   expired.ID,
		Type:      events.TypeExpired,
		Actor:     events.ActorSystem,
		FromState: token.StateLabel(tok.State),
		ToState:   token.StateLabel(expired.State),
		Timestamp: expired.UpdatedAt,
	})
	return expired, nil
}

func (s *Service) load(ctx context.Context, id int64) (token.Token, error) {
	tok, err := s.store.GetToken(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return token.Token{}, apperrors.WithMetadata(apperrors.CodeNotFound, "token not found", map[string]string{
			"TokenID": strconv.FormatInt(id, 10),
		})
	}
	if err != nil {
		return token.Token{}, fmt.Errorf("get token: %w", err)
	}
	return tok, nil
}

func (s *Service) emit(ctx context.Context, evt events.Event) {
	// Journal append failures do not roll back a committed transition.
	// The state read path stays authoritative.
	_, _ = s.emitter.Emit(ctx, evt)
}

func (s *Service) eventStore() events.Store {
	if es, ok := s.store.(events.Store); ok {
		return es
	}
	return emptyJournal{}
}

func (s *Service) transitionActor(evtType events.Type, tok token.Token) string {
	switch evtType {
	case events.TypeAccepted, events.TypeRejected:
		return tok.Recipient.Address
	case events.TypeCancelled:
		return tok.Sender
	case events.TypeKeyReleased:
		return s.cfg.KeyIssuer
	default:
		return ""
	}
}

func transitionPayload(evtType events.Type, tok token.Token) map[string]string {
	if evtType != events.TypeAccepted {
		return nil
	}
	return map[string]string{
		"From":  "",
		"Owner": tok.Owner,
	}
}

// emptyJournal backs Events reads when the configured store has no
// journal of its own.
type emptyJournal struct{}

func (emptyJournal) AppendEvent(ctx context.Context, evt events.Event) (events.Event, error) {
	return evt, nil
}

func (emptyJournal) ListEvents(ctx context.Context, tokenID int64) ([]events.Event, error) {
	return nil, nil
}

func (emptyJournal) ListEventsAfter(ctx context.Context, after int64, limit int) ([]events.Event, error) {
	return nil, nil
}

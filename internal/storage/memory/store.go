// Package memory provides in-memory ledger storage for tests and
// single-process development runs.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/storage"
	"github.com/louisbranch/sealbox/internal/token"
)

// Store implements storage.TokenStore and events.Store in memory.
type Store struct {
	mu        sync.Mutex
	tokens    map[int64]token.Token
	nextToken int64
	journal   []events.Event
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		tokens:    make(map[int64]token.Token),
		nextToken: 1,
	}
}

// CreateToken persists a new record and assigns the next ID.
func (s *Store) CreateToken(ctx context.Context, tok token.Token) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tok.ID = s.nextToken
	s.nextToken++
	s.tokens[tok.ID] = tok
	return tok.ID, nil
}

// GetToken fetches a token record by ID.
func (s *Store) GetToken(ctx context.Context, id int64) (token.Token, error) {
	if err := ctx.Err(); err != nil {
		return token.Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[id]
	if !ok {
		return token.Token{}, storage.ErrNotFound
	}
	return tok, nil
}

// UpdateToken replaces an existing record.
func (s *Store) UpdateToken(ctx context.Context, tok token.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[tok.ID]; !ok {
		return storage.ErrNotFound
	}
	s.tokens[tok.ID] = tok
	return nil
}

// CountOwned returns the number of tokens owned by an address.
func (s *Store) CountOwned(ctx context.Context, address string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, tok := range s.tokens {
		if tok.Owner == address && tok.Owner != "" {
			count++
		}
	}
	return count, nil
}

// AppendEvent assigns the next sequence number and persists the event.
func (s *Store) AppendEvent(ctx context.Context, evt events.Event) (events.Event, error) {
	if err := ctx.Err(); err != nil {
		return events.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	evt.Seq = int64(len(s.journal)) + 1
	s.journal = append(s.journal, evt)
	return evt, nil
}

// ListEvents returns all events for a token in append order.
func (s *Store) ListEvents(ctx context.Context, tokenID int64) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Event
	for _, evt := range s.journal {
		if evt.TokenID == tokenID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// ListEventsAfter returns up to limit events past the given cursor.
func (s *Store) ListEventsAfter(ctx context.Context, after int64, limit int) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Event
	for _, evt := range s.journal {
		if evt.Seq <= after {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

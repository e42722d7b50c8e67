// Package keyissuer implements the trusted key-issuer daemon. It
// holds the IBE master secret, follows the ledger journal, and on
// every observed acceptance extracts the recipient's private key and
// publishes it through the ledger's key-release gateway. The ledger
// gates everything; this daemon only reacts.
package keyissuer

import (
	"context"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/sealbox/internal/errors"
	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/ibe"
	"github.com/louisbranch/sealbox/internal/ledgerclient"
)

// Ledger is the slice of the ledger client the watcher needs.
type Ledger interface {
	EventsAfter(ctx context.Context, after int64, limit int) ([]ledgerclient.Event, error)
	MessageData(ctx context.Context, id int64) (ledgerclient.Token, error)
	SendPrivateKey(ctx context.Context, id int64, key ledgerclient.ReleasedKey) (ledgerclient.Token, error)
}

const pageSize = 100

// Watcher polls the ledger journal and releases keys for accepted
// tokens. The cursor only advances past events that were handled, so
// transient failures are retried on the next poll.
type Watcher struct {
	ledger   Ledger
	master   *ibe.Master
	interval time.Duration
	logger   *log.Logger
	cursor   int64
}

// New creates a watcher starting at the given journal cursor.
func New(ledger Ledger, master *ibe.Master, interval time.Duration, cursor int64, logger *log.Logger) (*Watcher, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if master == nil {
		return nil, fmt.Errorf("ibe master is required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		ledger:   ledger,
		master:   master,
		interval: interval,
		logger:   logger,
		cursor:   cursor,
	}, nil
}

// Cursor returns the current journal position.
func (w *Watcher) Cursor() int64 { return w.cursor }

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil {
			w.logger.Printf("keyissuer: poll: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll drains the journal from the cursor, handling one page per
// call. It stops at the first event that could not be handled.
func (w *Watcher) Poll(ctx context.Context) error {
	evts, err := w.ledger.EventsAfter(ctx, w.cursor, pageSize)
	if err != nil {
		return fmt.Errorf("list events after %d: %w", w.cursor, err)
	}
	for _, evt := range evts {
		if evt.Type == string(events.TypeAccepted) {
			if err := w.release(ctx, evt.TokenID); err != nil {
				return fmt.Errorf("release key for token %d: %w", evt.TokenID, err)
			}
		}
		w.cursor = evt.Seq
	}
	return nil
}

// release extracts and publishes the private key for one token.
func (w *Watcher) release(ctx context.Context, id int64) error {
	tok, err := w.ledger.MessageData(ctx, id)
	if err != nil {
		return err
	}
	if tok.State != "ACCEPTED" {
		// Already released, expired, or otherwise settled.
		w.logger.Printf("keyissuer: token %d is %s, skipping", id, tok.State)
		return nil
	}

	identity := fmt.Sprintf("%s@%d", tok.Recipient.Address, tok.Recipient.Timestamp)
	key, err := w.master.Extract(identity)
	if err != nil {
		return fmt.Errorf("extract key for %s: %w", identity, err)
	}
	x, y, err := key.Components()
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if _, err := w.ledger.SendPrivateKey(ctx, id, ledgerclient.ReleasedKey{X: x, Y: y}); err != nil {
		// A closed window or a lost race is settled on the ledger and
		// retries cannot change the outcome.
		if apperrors.IsCode(err, apperrors.CodeDeadlinePassed) || apperrors.IsCode(err, apperrors.CodeInvalidState) {
			w.logger.Printf("keyissuer: token %d: %v", id, err)
			return nil
		}
		return err
	}
	w.logger.Printf("keyissuer: released key for token %d", id)
	return nil
}

package events

import (
	"context"
	"sync"
	"time"
)

// Store persists journal events.
type Store interface {
	// AppendEvent assigns the next sequence number and persists the
	// event, returning it with Seq set.
	AppendEvent(ctx context.Context, evt Event) (Event, error)
	// ListEvents returns all events for a token in append order.
	ListEvents(ctx context.Context, tokenID int64) ([]Event, error)
	// ListEventsAfter returns up to limit events with Seq greater than
	// after, in append order.
	ListEventsAfter(ctx context.Context, after int64, limit int) ([]Event, error)
}

// subscriberBuffer bounds each live subscription channel. Slow
// subscribers miss live sends and must reconcile via ListEventsAfter.
const subscriberBuffer = 64

// Emitter appends ledger events to the journal and fans them out to
// live subscribers. It is nil-safe: emitting on a nil emitter or one
// without a store is a no-op.
type Emitter struct {
	store Store
	clock func() time.Time

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewEmitter creates an emitter over the given journal store.
func NewEmitter(store Store) *Emitter {
	return &Emitter{
		store: store,
		clock: time.Now,
		subs:  make(map[int]chan Event),
	}
}

// WithClock overrides the emitter clock. Intended for tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	if e != nil && clock != nil {
		e.clock = clock
	}
	return e
}

// Emit persists an event and notifies live subscribers. The event is
// returned with its assigned sequence number.
func (e *Emitter) Emit(ctx context.Context, evt Event) (Event, error) {
	if e == nil || e.store == nil {
		return evt, nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.clock().UTC()
	}

	appended, err := e.store.AppendEvent(ctx, evt)
	if err != nil {
		return Event{}, err
	}

	e.mu.Lock()
	for _, ch := range e.subs {
		select {
		case ch <- appended:
		default:
			// Full buffer: the subscriber reconciles from the journal.
		}
	}
	e.mu.Unlock()

	return appended, nil
}

// Subscribe registers a live event channel. The returned cancel
// function must be called to release the subscription.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	if e == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, subscriberBuffer)
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

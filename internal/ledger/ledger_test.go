package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/sealbox/internal/errors"
	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/storage/memory"
	"github.com/louisbranch/sealbox/internal/token"
)

const (
	testSender    = "addr-sender"
	testRecipient = "addr-recipient"
	testIssuer    = "addr-key-issuer"
)

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// testLedger wires a service over a memory store with a settable clock.
type testLedger struct {
	svc   *Service
	store *memory.Store
	now   time.Time
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	store := memory.New()
	tl := &testLedger{store: store, now: testStart}
	svc, err := New(Config{
		Name:      "Sealbox",
		Symbol:    "SBX",
		KeyIssuer: testIssuer,
		IV:        strings.Repeat("0f", 16),
	}, store, events.NewEmitter(store))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	tl.svc = svc.WithClock(func() time.Time { return tl.now })
	return tl
}

func (tl *testLedger) advance(d time.Duration) { tl.now = tl.now.Add(d) }

func (tl *testLedger) mint(t *testing.T, acceptIn, releaseIn time.Duration) token.Token {
	t.Helper()
	tok, err := tl.svc.Mint(context.Background(), testSender, MintRequest{
		Recipient:            token.Identity{Address: testRecipient, Timestamp: tl.now.Add(-time.Minute)},
		DeadlineAccept:       tl.now.Add(acceptIn),
		DeadlineKeyRelease:   tl.now.Add(releaseIn),
		MessageHash:          strings.Repeat("ab", token.DigestSize),
		EncryptedMessageHash: strings.Repeat("cd", token.DigestSize),
		SealedKey:            token.SealedKey{CipherUX: "0a", CipherUY: "0b", CipherV: "0c", CipherW: "0d"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func releasedKey() token.ReleasedKey {
	return token.ReleasedKey{X: "1a", Y: "1b"}
}

func TestAcceptThenKeyRelease(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	tl.advance(10 * time.Second)
	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}
	state, err := tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateAccepted {
		t.Fatalf("expected ACCEPTED, got %s", token.StateLabel(state))
	}

	tl.advance(10 * time.Second)
	if _, err := tl.svc.SendPrivateKey(ctx, tok.ID, testIssuer, releasedKey()); err != nil {
		t.Fatalf("send private key: %v", err)
	}
	state, err = tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateKeyReleased {
		t.Fatalf("expected KEY_RELEASED, got %s", token.StateLabel(state))
	}

	data, err := tl.svc.MessageData(ctx, tok.ID)
	if err != nil {
		t.Fatalf("message data: %v", err)
	}
	if data.ReleasedKey.IsZero() {
		t.Fatal("expected released key on the record")
	}
}

func TestCancelBlocksAcceptance(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	if _, err := tl.svc.CancelTransfer(ctx, tok.ID, testSender); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	state, err := tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", token.StateLabel(state))
	}

	_, err = tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient)
	if !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestExpiryBeforeAcceptance(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 5*time.Second, 1800*time.Second)

	tl.advance(6 * time.Second)
	state, err := tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateExpired {
		t.Fatalf("expected EXPIRED, got %s", token.StateLabel(state))
	}

	// The read materialized expiry, but a late acceptance still
	// reports the closed deadline, not the persisted state.
	_, err = tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient)
	if !apperrors.IsCode(err, apperrors.CodeDeadlinePassed) {
		t.Fatalf("expected DEADLINE_PASSED after materialization, got %v", err)
	}
}

func TestKeyReleaseAfterMaterializedExpiry(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}

	tl.advance(1900 * time.Second)
	state, err := tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateExpired {
		t.Fatalf("expected EXPIRED, got %s", token.StateLabel(state))
	}

	_, err = tl.svc.SendPrivateKey(ctx, tok.ID, testIssuer, releasedKey())
	if !apperrors.IsCode(err, apperrors.CodeDeadlinePassed) {
		t.Fatalf("expected DEADLINE_PASSED after materialization, got %v", err)
	}
}

func TestLateAcceptanceFailsWithDeadlinePassed(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 5*time.Second, 1800*time.Second)

	tl.advance(6 * time.Second)
	_, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient)
	if !apperrors.IsCode(err, apperrors.CodeDeadlinePassed) {
		t.Fatalf("expected DEADLINE_PASSED, got %v", err)
	}

	// The failed acceptance materialized expiry as a side effect.
	got, err := tl.store.GetToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.State != token.StateExpired {
		t.Fatalf("expected persisted EXPIRED, got %s", token.StateLabel(got.State))
	}
}

func TestLateKeyReleaseExpires(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	tl.advance(10 * time.Second)
	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}

	tl.advance(1900 * time.Second)
	_, err := tl.svc.SendPrivateKey(ctx, tok.ID, testIssuer, releasedKey())
	if !apperrors.IsCode(err, apperrors.CodeDeadlinePassed) {
		t.Fatalf("expected DEADLINE_PASSED, got %v", err)
	}

	state, err := tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateExpired {
		t.Fatalf("expected EXPIRED, got %s", token.StateLabel(state))
	}
}

func TestNonIssuerCannotReleaseKey(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := tl.svc.SendPrivateKey(ctx, tok.ID, testSender, releasedKey())
	if !apperrors.IsCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	state, err := tl.svc.GetState(ctx, tok.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != token.StateAccepted {
		t.Fatalf("expected the record untouched, got %s", token.StateLabel(state))
	}
}

func TestPendingExitsAreMutuallyExclusive(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	if _, err := tl.svc.RejectTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE for accept, got %v", err)
	}
	if _, err := tl.svc.CancelTransfer(ctx, tok.ID, testSender); !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Fatalf("expected INVALID_STATE for cancel, got %v", err)
	}
}

func TestCheckExpiryIsIdempotent(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 5*time.Second, 1800*time.Second)

	tl.advance(10 * time.Second)
	first, err := tl.svc.CheckExpiry(ctx, tok.ID)
	if err != nil {
		t.Fatalf("first check expiry: %v", err)
	}
	second, err := tl.svc.CheckExpiry(ctx, tok.ID)
	if err != nil {
		t.Fatalf("second check expiry: %v", err)
	}
	if first.State != token.StateExpired || second.State != first.State {
		t.Fatalf("expected stable EXPIRED, got %s then %s",
			token.StateLabel(first.State), token.StateLabel(second.State))
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatal("expected the second check to leave the record untouched")
	}

	evts, err := tl.svc.Events(ctx, tok.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var expiredCount int
	for _, evt := range evts {
		if evt.Type == events.TypeExpired {
			expiredCount++
		}
	}
	if expiredCount != 1 {
		t.Fatalf("expected exactly one expiry event, got %d", expiredCount)
	}
}

func TestOwnershipAccessors(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	owner, err := tl.svc.OwnerOf(ctx, tok.ID)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected zero owner while pending, got %q", owner)
	}
	transferable, err := tl.svc.TransferableOwnerOf(ctx, tok.ID)
	if err != nil {
		t.Fatalf("transferable owner of: %v", err)
	}
	if transferable != testRecipient {
		t.Fatalf("expected recipient while pending, got %q", transferable)
	}

	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}
	owner, err = tl.svc.OwnerOf(ctx, tok.ID)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != testRecipient {
		t.Fatalf("expected recipient owner, got %q", owner)
	}
	transferable, err = tl.svc.TransferableOwnerOf(ctx, tok.ID)
	if err != nil {
		t.Fatalf("transferable owner of: %v", err)
	}
	if transferable != "" {
		t.Fatalf("expected cleared transferable owner, got %q", transferable)
	}

	balance, err := tl.svc.BalanceOf(ctx, testRecipient)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	if balance != 1 {
		t.Fatalf("expected balance 1, got %d", balance)
	}
}

func TestMintRejectsBadDeadlines(t *testing.T) {
	tl := newTestLedger(t)
	_, err := tl.svc.Mint(context.Background(), testSender, MintRequest{
		Recipient:            token.Identity{Address: testRecipient, Timestamp: tl.now},
		DeadlineAccept:       tl.now.Add(time.Hour),
		DeadlineKeyRelease:   tl.now.Add(time.Minute),
		MessageHash:          strings.Repeat("ab", token.DigestSize),
		EncryptedMessageHash: strings.Repeat("cd", token.DigestSize),
		SealedKey:            token.SealedKey{CipherUX: "0a", CipherUY: "0b", CipherV: "0c", CipherW: "0d"},
	})
	if !apperrors.IsCode(err, apperrors.CodeInvalidDeadline) {
		t.Fatalf("expected INVALID_DEADLINE, got %v", err)
	}
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	tl := newTestLedger(t)
	_, err := tl.svc.GetState(context.Background(), 99)
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestJournalOrderingPerToken(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := tl.svc.SendPrivateKey(ctx, tok.ID, testIssuer, releasedKey()); err != nil {
		t.Fatalf("send private key: %v", err)
	}

	evts, err := tl.svc.Events(ctx, tok.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []events.Type{events.TypeMinted, events.TypeAccepted, events.TypeKeyReleased}
	if len(evts) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(evts))
	}
	for i, evt := range evts {
		if evt.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], evt.Type)
		}
		if i > 0 && evts[i].Seq <= evts[i-1].Seq {
			t.Fatal("expected strictly increasing sequence numbers")
		}
	}

	replay, err := tl.svc.EventsAfter(ctx, evts[0].Seq, 10)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(replay) != 2 || replay[0].Type != events.TypeAccepted {
		t.Fatalf("unexpected cursor replay: %+v", replay)
	}
}

func TestSubscribeSeesAcceptance(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()
	tok := tl.mint(t, 900*time.Second, 1800*time.Second)

	ch, cancel := tl.svc.Subscribe()
	defer cancel()

	if _, err := tl.svc.AcceptTransfer(ctx, tok.ID, testRecipient); err != nil {
		t.Fatalf("accept: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != events.TypeAccepted || evt.TokenID != tok.ID {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for acceptance event")
	}
}

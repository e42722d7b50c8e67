package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/sealbox/internal/auth"
	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/ledger"
	"github.com/louisbranch/sealbox/internal/storage/memory"
	"github.com/louisbranch/sealbox/internal/token"
)

const (
	testSender    = "addr-sender"
	testRecipient = "addr-recipient"
	testIssuer    = "addr-key-issuer"
)

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	handler http.Handler
	signer  ed25519.PrivateKey
	now     time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate grant key: %v", err)
	}

	api := &testAPI{signer: priv, now: testStart}
	store := memory.New()
	svc, err := ledger.New(ledger.Config{
		Name:      "Sealbox",
		Symbol:    "SBX",
		KeyIssuer: testIssuer,
		IV:        strings.Repeat("0f", 16),
	}, store, events.NewEmitter(store))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	svc.WithClock(func() time.Time { return api.now })

	api.handler = New(svc, auth.GrantConfig{
		Issuer:   "sealbox-grants",
		Audience: "sealbox-ledger",
		Key:      pub,
		Now:      func() time.Time { return api.now },
	})
	return api
}

func (a *testAPI) grant(t *testing.T, address string) string {
	t.Helper()
	grant, err := auth.IssueGrant(a.signer, auth.IssueInput{
		Issuer:   "sealbox-grants",
		Audience: "sealbox-ledger",
		Address:  address,
		TTL:      time.Hour,
		Now:      func() time.Time { return a.now },
	})
	if err != nil {
		t.Fatalf("issue grant: %v", err)
	}
	return grant
}

func (a *testAPI) do(t *testing.T, method, path, grant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if grant != "" {
		req.Header.Set("Authorization", "Bearer "+grant)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func mintBody(now time.Time) map[string]any {
	return map[string]any{
		"recipient": map[string]any{
			"address":   testRecipient,
			"timestamp": now.Add(-time.Minute).Unix(),
		},
		"deadline_accept":        now.Add(15 * time.Minute).Format(time.RFC3339),
		"deadline_key_release":   now.Add(30 * time.Minute).Format(time.RFC3339),
		"message_hash":           strings.Repeat("ab", token.DigestSize),
		"encrypted_message_hash": strings.Repeat("cd", token.DigestSize),
		"sealed_key": map[string]any{
			"cipher_u_x": "0a",
			"cipher_u_y": "0b",
			"cipher_v":   "0c",
			"cipher_w":   "0d",
		},
	}
}

func (a *testAPI) mint(t *testing.T) int64 {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/tokens", a.grant(t, testSender), mintBody(a.now))
	if rec.Code != http.StatusCreated {
		t.Fatalf("mint: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token struct {
			ID int64 `json:"id"`
		} `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode mint response: %v", err)
	}
	return resp.Token.ID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMintRequiresGrant(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/v1/tokens", "", mintBody(api.now))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	if errorCode(t, rec) != "GRANT_INVALID" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}
}

func TestMintAndRead(t *testing.T) {
	api := newTestAPI(t)
	id := api.mint(t)

	rec := api.do(t, http.MethodGet, fmt.Sprintf("/v1/tokens/%d", id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token struct {
			Sender         string `json:"sender"`
			State          string `json:"state"`
			TransferableTo string `json:"transferable_to"`
		} `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token.Sender != testSender || resp.Token.State != "PENDING" {
		t.Fatalf("unexpected token: %+v", resp.Token)
	}
	if resp.Token.TransferableTo != testRecipient {
		t.Fatalf("expected transferable owner, got %q", resp.Token.TransferableTo)
	}
}

func TestAcceptFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.mint(t)

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:accept", id), api.grant(t, testSender), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for the wrong caller, got %d: %s", rec.Code, rec.Body.String())
	}
	if errorCode(t, rec) != "UNAUTHORIZED" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:accept", id), api.grant(t, testRecipient), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/v1/tokens/%d/state", id), "", nil)
	var stateResp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stateResp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if stateResp.State != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED, got %q", stateResp.State)
	}

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/v1/tokens/%d/owner", id), "", nil)
	var ownerResp struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ownerResp); err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if ownerResp.Owner != testRecipient {
		t.Fatalf("expected recipient owner, got %q", ownerResp.Owner)
	}

	rec = api.do(t, http.MethodGet, "/v1/addresses/"+testRecipient+"/balance", "", nil)
	var balanceResp struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &balanceResp); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balanceResp.Balance != 1 {
		t.Fatalf("expected balance 1, got %d", balanceResp.Balance)
	}
}

func TestSendKeyFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.mint(t)

	api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:accept", id), api.grant(t, testRecipient), nil)

	key := map[string]any{"x": "1a", "y": "1b"}
	rec := api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:sendKey", id), api.grant(t, testSender), key)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-issuer, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:sendKey", id), api.grant(t, testIssuer), key)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token struct {
			State       string `json:"state"`
			ReleasedKey *struct {
				X string `json:"x"`
			} `json:"released_key"`
		} `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token.State != "KEY_RELEASED" || resp.Token.ReleasedKey == nil || resp.Token.ReleasedKey.X != "1a" {
		t.Fatalf("unexpected token: %+v", resp.Token)
	}
}

func TestRejectedTokenConflicts(t *testing.T) {
	api := newTestAPI(t)
	id := api.mint(t)

	rec := api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:reject", id), api.grant(t, testRecipient), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:accept", id), api.grant(t, testRecipient), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if errorCode(t, rec) != "INVALID_STATE" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}
}

func TestCheckExpiryIsOpen(t *testing.T) {
	api := newTestAPI(t)
	id := api.mint(t)

	api.now = api.now.Add(time.Hour)
	rec := api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:checkExpiry", id), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token struct {
			State string `json:"state"`
		} `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token.State != "EXPIRED" {
		t.Fatalf("expected EXPIRED, got %q", resp.Token.State)
	}
}

func TestUnknownTokenIs404(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/v1/tokens/99/state", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if errorCode(t, rec) != "NOT_FOUND" {
		t.Fatalf("unexpected error code %q", errorCode(t, rec))
	}
}

func TestJournalCursor(t *testing.T) {
	api := newTestAPI(t)
	id := api.mint(t)
	api.do(t, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:accept", id), api.grant(t, testRecipient), nil)

	rec := api.do(t, http.MethodGet, "/v1/events?after_seq=1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Events []struct {
			Seq  int64  `json:"seq"`
			Type string `json:"type"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Type != string(events.TypeAccepted) {
		t.Fatalf("unexpected journal page: %+v", resp.Events)
	}
}

func TestJournalLimitClamped(t *testing.T) {
	api := newTestAPI(t)
	grant := api.grant(t, testSender)
	for i := 0; i < maxJournalPage+5; i++ {
		rec := api.do(t, http.MethodPost, "/v1/tokens", grant, mintBody(api.now))
		if rec.Code != http.StatusCreated {
			t.Fatalf("mint %d: expected 201, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := api.do(t, http.MethodGet, "/v1/events?limit=100000", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Events []struct {
			Seq int64 `json:"seq"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != maxJournalPage {
		t.Fatalf("expected page clamped to %d events, got %d", maxJournalPage, len(resp.Events))
	}

	if rec := api.do(t, http.MethodGet, "/v1/events?limit=0", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", rec.Code)
	}
}

func TestParams(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/v1/params", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Params struct {
			Name      string `json:"name"`
			KeyIssuer string `json:"key_issuer"`
			IV        string `json:"iv"`
		} `json:"params"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Params.Name != "Sealbox" || resp.Params.KeyIssuer != testIssuer {
		t.Fatalf("unexpected params: %+v", resp.Params)
	}
	if resp.Params.IV != strings.Repeat("0f", 16) {
		t.Fatalf("unexpected iv %q", resp.Params.IV)
	}
}

// Package api exposes the ledger over a JSON API.
//
// Mutating routes require an actor grant; the grant subject is the
// caller address every role check runs against. Expiry checks and all
// reads are open, anyone may observe the ledger.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/sealbox/internal/auth"
	"github.com/louisbranch/sealbox/internal/ledger"
	"github.com/louisbranch/sealbox/internal/token"
)

type contextKey string

const callerKey contextKey = "caller"

// Journal page bounds. Larger requested limits are clamped so a single
// request cannot drain the whole journal.
const (
	defaultJournalPage = 100
	maxJournalPage     = 500
)

// Handler serves the ledger API.
type Handler struct {
	ledger *ledger.Service
	grants auth.GrantConfig
}

// New builds the API router over a ledger service.
func New(svc *ledger.Service, grants auth.GrantConfig) http.Handler {
	h := &Handler{ledger: svc, grants: grants}

	r := chi.NewRouter()
	r.Use(tracing)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(api chi.Router) {
		api.Get("/params", h.params)
		api.Get("/events", h.journal)
		api.Get("/addresses/{address}/balance", h.balance)

		api.Get("/tokens/{id}", h.messageData)
		api.Get("/tokens/{id}/state", h.state)
		api.Get("/tokens/{id}/owner", h.owner)
		api.Get("/tokens/{id}/transferable-owner", h.transferableOwner)
		api.Get("/tokens/{id}/events", h.tokenEvents)
		api.Post("/tokens/{id}:checkExpiry", h.checkExpiry)

		api.Group(func(authed chi.Router) {
			authed.Use(h.requireGrant)
			authed.Post("/tokens", h.mint)
			authed.Post("/tokens/{id}:accept", h.accept)
			authed.Post("/tokens/{id}:reject", h.reject)
			authed.Post("/tokens/{id}:cancel", h.cancel)
			authed.Post("/tokens/{id}:sendKey", h.sendKey)
		})
	})
	return r
}

// requireGrant validates the bearer grant and stores the caller
// address on the request context.
func (h *Handler) requireGrant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		claims, err := auth.ValidateGrant(raw, h.grants)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, claims.Address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) string {
	address, _ := r.Context().Value(callerKey).(string)
	return address
}

func tokenID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type mintRequest struct {
	Recipient            identityView  `json:"recipient"`
	DeadlineAccept       time.Time     `json:"deadline_accept"`
	DeadlineKeyRelease   time.Time     `json:"deadline_key_release"`
	MessageHash          string        `json:"message_hash"`
	EncryptedMessageHash string        `json:"encrypted_message_hash"`
	SealedKey            sealedKeyView `json:"sealed_key"`
}

func (h *Handler) mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid mint request: "+err.Error())
		return
	}

	tok, err := h.ledger.Mint(r.Context(), caller(r), ledger.MintRequest{
		Recipient: token.Identity{
			Address:   req.Recipient.Address,
			Timestamp: time.Unix(req.Recipient.Timestamp, 0).UTC(),
		},
		DeadlineAccept:       req.DeadlineAccept,
		DeadlineKeyRelease:   req.DeadlineKeyRelease,
		MessageHash:          req.MessageHash,
		EncryptedMessageHash: req.EncryptedMessageHash,
		SealedKey: token.SealedKey{
			CipherUX: req.SealedKey.CipherUX,
			CipherUY: req.SealedKey.CipherUY,
			CipherV:  req.SealedKey.CipherV,
			CipherW:  req.SealedKey.CipherW,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id": newRequestID(),
		"token":      newTokenView(tok),
	})
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.AcceptTransfer)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.RejectTransfer)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.ledger.CancelTransfer)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, string) (token.Token, error)) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	tok, err := fn(r.Context(), id, caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"token":      newTokenView(tok),
	})
}

func (h *Handler) sendKey(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	var req releasedKeyView
	if err := readJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid key payload: "+err.Error())
		return
	}
	tok, err := h.ledger.SendPrivateKey(r.Context(), id, caller(r), token.ReleasedKey{X: req.X, Y: req.Y})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"token":      newTokenView(tok),
	})
}

func (h *Handler) checkExpiry(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	tok, err := h.ledger.CheckExpiry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"token":      newTokenView(tok),
	})
}

func (h *Handler) messageData(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	tok, err := h.ledger.MessageData(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"token":      newTokenView(tok),
	})
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	state, err := h.ledger.GetState(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"state":      token.StateLabel(state),
	})
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	owner, err := h.ledger.OwnerOf(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"owner":      owner,
	})
}

func (h *Handler) transferableOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	owner, err := h.ledger.TransferableOwnerOf(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id":         newRequestID(),
		"transferable_owner": owner,
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if strings.TrimSpace(address) == "" {
		writeBadRequest(w, "address is required")
		return
	}
	balance, err := h.ledger.BalanceOf(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"address":    address,
		"balance":    balance,
	})
}

func (h *Handler) tokenEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := tokenID(r)
	if !ok {
		writeBadRequest(w, "invalid token id")
		return
	}
	evts, err := h.ledger.Events(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"events":     newEventViews(evts),
	})
}

func (h *Handler) journal(w http.ResponseWriter, r *http.Request) {
	var after int64
	if raw := r.URL.Query().Get("after_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "invalid after_seq")
			return
		}
		after = parsed
	}
	limit := defaultJournalPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		if parsed > maxJournalPage {
			parsed = maxJournalPage
		}
		limit = parsed
	}

	evts, err := h.ledger.EventsAfter(r.Context(), after, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"events":     newEventViews(evts),
	})
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": newRequestID(),
		"params":     newParamsView(h.ledger.Params()),
	})
}

// tracing starts a server span per request when a global tracer
// provider is configured; otherwise the no-op provider makes this
// free.
func tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("sealbox/api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

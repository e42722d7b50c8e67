// Package ledgerclient is a JSON client for the ledger API. The
// key-issuer daemon uses it to follow the journal and release keys;
// it also backs the command-line tooling.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/sealbox/internal/errors"
)

// Client calls a ledger service. Grant, when set, is sent as the
// bearer credential on every request.
type Client struct {
	BaseURL string
	Grant   string
	HTTP    *http.Client
}

// New creates a client with a default timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Identity mirrors the API's recipient identity shape.
type Identity struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

// SealedKey mirrors the API's sealed-key quadruple.
type SealedKey struct {
	CipherUX string `json:"cipher_u_x"`
	CipherUY string `json:"cipher_u_y"`
	CipherV  string `json:"cipher_v"`
	CipherW  string `json:"cipher_w"`
}

// ReleasedKey mirrors the API's released-key pair.
type ReleasedKey struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// Token mirrors the API's token record.
type Token struct {
	ID                   int64        `json:"id"`
	Sender               string       `json:"sender"`
	Recipient            Identity     `json:"recipient"`
	DeadlineAccept       time.Time    `json:"deadline_accept"`
	DeadlineKeyRelease   time.Time    `json:"deadline_key_release"`
	MessageHash          string       `json:"message_hash"`
	EncryptedMessageHash string       `json:"encrypted_message_hash"`
	SealedKey            SealedKey    `json:"sealed_key"`
	State                string       `json:"state"`
	Owner                string       `json:"owner"`
	TransferableTo       string       `json:"transferable_to"`
	ReleasedKey          *ReleasedKey `json:"released_key"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Event mirrors the API's journal entry.
type Event struct {
	Seq       int64             `json:"seq"`
	TokenID   int64             `json:"token_id"`
	Type      string            `json:"type"`
	Actor     string            `json:"actor"`
	FromState string            `json:"from_state"`
	ToState   string            `json:"to_state"`
	Payload   map[string]string `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
}

// Params mirrors the API's ledger parameters.
type Params struct {
	Name          string    `json:"name"`
	Symbol        string    `json:"symbol"`
	KeyIssuer     string    `json:"key_issuer"`
	IV            string    `json:"iv"`
	FieldOrder    string    `json:"field_order"`
	SubgroupOrder string    `json:"subgroup_order"`
	PointP        [2]string `json:"point_p"`
	PointPPublic  [2]string `json:"point_p_public"`
}

// MintRequest is the mint call payload.
type MintRequest struct {
	Recipient            Identity  `json:"recipient"`
	DeadlineAccept       time.Time `json:"deadline_accept"`
	DeadlineKeyRelease   time.Time `json:"deadline_key_release"`
	MessageHash          string    `json:"message_hash"`
	EncryptedMessageHash string    `json:"encrypted_message_hash"`
	SealedKey            SealedKey `json:"sealed_key"`
}

// Mint creates a token for the grant's address.
func (c *Client) Mint(ctx context.Context, req MintRequest) (Token, error) {
	var resp struct {
		Token Token `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/tokens", req, &resp)
	return resp.Token, err
}

// Accept claims a pending token.
func (c *Client) Accept(ctx context.Context, id int64) (Token, error) {
	return c.transition(ctx, id, "accept")
}

// Reject declines a pending token.
func (c *Client) Reject(ctx context.Context, id int64) (Token, error) {
	return c.transition(ctx, id, "reject")
}

// Cancel withdraws a pending token.
func (c *Client) Cancel(ctx context.Context, id int64) (Token, error) {
	return c.transition(ctx, id, "cancel")
}

// CheckExpiry materializes an elapsed deadline.
func (c *Client) CheckExpiry(ctx context.Context, id int64) (Token, error) {
	return c.transition(ctx, id, "checkExpiry")
}

// SendPrivateKey publishes the key-issuer's extracted key.
func (c *Client) SendPrivateKey(ctx context.Context, id int64, key ReleasedKey) (Token, error) {
	var resp struct {
		Token Token `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:sendKey", id), key, &resp)
	return resp.Token, err
}

// MessageData fetches the full token record.
func (c *Client) MessageData(ctx context.Context, id int64) (Token, error) {
	var resp struct {
		Token Token `json:"token"`
	}
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/v1/tokens/%d", id), nil, &resp)
	return resp.Token, err
}

// GetState fetches the effective token state.
func (c *Client) GetState(ctx context.Context, id int64) (string, error) {
	var resp struct {
		State string `json:"state"`
	}
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/v1/tokens/%d/state", id), nil, &resp)
	return resp.State, err
}

// BalanceOf counts tokens owned by an address.
func (c *Client) BalanceOf(ctx context.Context, address string) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/addresses/"+url.PathEscape(address)+"/balance", nil, &resp)
	return resp.Balance, err
}

// EventsAfter pages the journal past a cursor.
func (c *Client) EventsAfter(ctx context.Context, after int64, limit int) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	path := "/v1/events?after_seq=" + strconv.FormatInt(after, 10)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	err := c.call(ctx, http.MethodGet, path, nil, &resp)
	return resp.Events, err
}

// Params fetches the ledger's immutable configuration.
func (c *Client) Params(ctx context.Context) (Params, error) {
	var resp struct {
		Params Params `json:"params"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/params", nil, &resp)
	return resp.Params, err
}

func (c *Client) transition(ctx context.Context, id int64, verb string) (Token, error) {
	var resp struct {
		Token Token `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/tokens/%d:%s", id, verb), nil, &resp)
	return resp.Token, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, &payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.Grant != "" {
		req.Header.Set("Authorization", "Bearer "+c.Grant)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the domain error carried in an error body so
// callers can match on codes with errors.Is.
func decodeError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code     string            `json:"code"`
			Message  string            `json:"message"`
			Metadata map[string]string `json:"metadata"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Code == "" {
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
	return apperrors.WithMetadata(apperrors.Code(body.Error.Code), body.Error.Message, body.Error.Metadata)
}

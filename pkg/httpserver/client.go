package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Client calls the settlement API, signing mutating requests with its key.
type Client struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// APIError is a non-2xx API response.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NewClient creates an API client. key may be nil for read-only use.
func NewClient(baseURL string, key *ecdsa.PrivateKey, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// HighestBid fetches a slot's winning bid.
func (c *Client) HighestBid(ctx context.Context, slotID uint64) (*HighestBidResponse, error) {
	var resp HighestBidResponse
	err := c.do(ctx, http.MethodGet, c.slotPath(slotID, "highest-bid"), nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events fetches journaled events for a slot.
func (c *Client) Events(ctx context.Context, slotID uint64, limit int) (*EventsResponse, error) {
	path := c.slotPath(slotID, "events")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp EventsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance fetches a payment token balance.
func (c *Client) Balance(ctx context.Context, tokenAddr string, account string) (*BalanceResponse, error) {
	var resp BalanceResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tokens/%s/balances/%s", tokenAddr, account), nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bid places a signed bid. Timestamp is filled in.
func (c *Client) Bid(ctx context.Context, req BidRequest) (*BidResponse, error) {
	req.Timestamp = c.now().Unix()

	var resp BidResponse
	err := c.doSigned(ctx, c.slotPath(req.SlotID, "bids"), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Payout draws from a slot's escrow. Timestamp is filled in.
func (c *Client) Payout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	req.Timestamp = c.now().Unix()

	var resp PayoutResponse
	err := c.doSigned(ctx, c.slotPath(req.SlotID, "payouts"), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchPayout pays several recipients from a slot's escrow. Timestamp is filled in.
func (c *Client) BatchPayout(ctx context.Context, req BatchPayoutRequest) (*PayoutResponse, error) {
	req.Timestamp = c.now().Unix()

	var resp PayoutResponse
	err := c.doSigned(ctx, c.slotPath(req.SlotID, "batch-payouts"), req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) slotPath(slotID uint64, leaf string) string {
	return fmt.Sprintf("/api/slots/%d/%s", slotID, leaf)
}

func (c *Client) doSigned(ctx context.Context, path string, body interface{}, out interface{}) error {
	if c.key == nil {
		return fmt.Errorf("client has no signing key")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	sig, err := SignBody(c.key, payload)
	if err != nil {
		return err
	}

	return c.send(ctx, http.MethodPost, path, payload, map[string]string{SignatureHeader: sig}, out)
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte, out interface{}) error {
	return c.send(ctx, method, path, body, nil, out)
}

func (c *Client) send(
	ctx context.Context,
	method string,
	path string,
	body []byte,
	headers map[string]string,
	out interface{},
) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(respBody))
		}
		return &APIError{Status: resp.StatusCode, Kind: errResp.Kind, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

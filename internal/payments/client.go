// Package payments wraps the external payment-order collaborator. It
// creates checkout orders; payment confirmation arrives through a
// webhook handled elsewhere.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ErrUpstream marks a collaborator failure: unreachable endpoint,
// non-2xx status, or malformed response. Never retried automatically;
// handlers surface it as 502.
var ErrUpstream = errors.New("payment collaborator failure")

// Order is the payment-order request.
type Order struct {
	AmountCents int               `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	ReferenceID string            `json:"reference_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type orderResponse struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkoutUrl"`
	Error       string `json:"error"`
}

// Client talks to the payment-order endpoint. No timeout beyond the
// supplied http.Client's own.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a payment client. httpClient nil uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, http: httpClient, logger: logger}
}

// CreateOrder posts the order and returns the checkout URL untouched.
func (c *Client) CreateOrder(ctx context.Context, order Order) (string, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("payment order rejected", zap.Int("status", resp.StatusCode), zap.String("reference_id", order.ReferenceID))
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}
	if !out.Success || out.CheckoutURL == "" {
		return "", fmt.Errorf("%w: %s", ErrUpstream, orDefault(out.Error, "order not created"))
	}
	return out.CheckoutURL, nil
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// Package gateway is the HTTP adapter for the mobile-money payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smartmarket/internal/core"
)

// Client talks to the mobile-money gateway's REST API. Every call is bounded
// by both the caller's context and the HTTP client timeout.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	Amount      string `json:"amount"`
	Phone       string `json:"phone"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("transaction id: unexpected %s", s)
		}
		*f = flexString(s)
	}
	return nil
}

func (c *Client) Charge(ctx context.Context, req core.ChargeRequest) (*core.ChargeResult, error) {
	body, err := json.Marshal(chargeRequest{
		Amount:      req.Amount.StringFixed(2),
		Phone:       req.Phone,
		Currency:    req.Currency,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/payments", body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Success       bool       `json:"success"`
		TransactionID flexString `json:"transaction_id"`
		Status        string     `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return &core.ChargeResult{
		Success:       payload.Success,
		TransactionID: string(payload.TransactionID),
		Status:        payload.Status,
		Raw:           raw,
	}, nil
}

func (c *Client) CheckStatus(ctx context.Context, ref string) (*core.StatusResult, error) {
	raw, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(ref)+"/status", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Status        string     `json:"status"`
		TransactionID flexString `json:"transaction_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return &core.StatusResult{
		Status:        MapStatus(payload.Status),
		TransactionID: string(payload.TransactionID),
		Raw:           raw,
	}, nil
}

// MapStatus folds the gateway's status vocabulary onto payment statuses.
// Anything unrecognised stays pending.
func MapStatus(s string) core.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "success", "successful", "paid":
		return core.PaymentCompleted
	case "failed", "failure", "cancelled", "canceled", "rejected", "expired", "declined":
		return core.PaymentFailed
	default:
		return core.PaymentPending
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(raw))
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("error parsing response: invalid JSON")
	}
	return raw, nil
}

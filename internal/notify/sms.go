package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"smartmarket/internal/core"
)

// SMS posts notifications to an HTTP SMS gateway.
type SMS struct {
	APIURL   string
	APIKey   string
	SenderID string
	Client   *http.Client
}

func NewSMS(apiURL, apiKey, senderID string) *SMS {
	return &SMS{APIURL: apiURL, APIKey: apiKey, SenderID: senderID, Client: &http.Client{Timeout: 10 * time.Second}}
}

type smsRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *SMS) Send(ctx context.Context, n core.Notification) error {
	body, err := json.Marshal(smsRequest{From: s.SenderID, To: n.Recipient, Message: n.Body})
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

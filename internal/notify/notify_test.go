package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"smartmarket/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu  sync.Mutex
	got []core.Notification
}

func (c *captureNotifier) Send(_ context.Context, n core.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func TestRouter_DispatchesByChannel(t *testing.T) {
	email, sms := &captureNotifier{}, &captureNotifier{}
	r := NewRouter().Handle(core.ChannelEmail, email).Handle(core.ChannelSMS, sms)

	require.NoError(t, r.Send(context.Background(), core.Notification{Channel: core.ChannelEmail, Recipient: "a@example.com"}))
	require.NoError(t, r.Send(context.Background(), core.Notification{Channel: core.ChannelSMS, Recipient: "+255712345678"}))

	assert.Len(t, email.got, 1)
	assert.Len(t, sms.got, 1)
	assert.Equal(t, "+255712345678", sms.got[0].Recipient)
}

func TestRouter_UnknownChannel(t *testing.T) {
	err := NewRouter().Send(context.Background(), core.Notification{Channel: core.ChannelWebhook})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
}

func TestWebhook_SlackAndDiscordPayloads(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		bodies[r.URL.Path] = payload
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(
		WebhookTarget{Name: "slack", URL: srv.URL + "/slack", Format: FormatSlack},
		WebhookTarget{Name: "discord", URL: srv.URL + "/discord", Format: FormatDiscord},
	)
	err := wh.Send(context.Background(), core.Notification{
		Channel: core.ChannelWebhook, Recipient: core.OpsRecipient,
		Subject: "Quote #7 approved", Body: "Order #3 created",
	})
	require.NoError(t, err)

	assert.Equal(t, "*Quote #7 approved*\nOrder #3 created", bodies["/slack"]["text"])
	assert.Equal(t, "**Quote #7 approved**\nOrder #3 created", bodies["/discord"]["content"])
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(WebhookTarget{Name: "slack", URL: srv.URL, Format: FormatSlack}).
		Send(context.Background(), core.Notification{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSMS_PostsMessage(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSMS(srv.URL, "secret", "TOPDESIGN")
	err := s.Send(context.Background(), core.Notification{Channel: core.ChannelSMS, Recipient: "+255712345678", Body: "Order #1 is ready"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, smsRequest{From: "TOPDESIGN", To: "+255712345678", Message: "Order #1 is ready"}, got)
}

func TestEmail_BuildsMessageAndUsesAuth(t *testing.T) {
	e := NewEmail("smtp.gmail.com", 587, "shop@example.com", "app-password", "shop@example.com")
	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, msg
		return nil
	}

	err := e.Send(context.Background(), core.Notification{
		Channel: core.ChannelEmail, Recipient: "jane@example.com",
		Subject: "Invoice #4\r\nBcc: evil@example.com", Body: "Amount due: 500.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.gmail.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"jane@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "To: jane@example.com\r\n")
	assert.Contains(t, msg, "Subject: Invoice #4  Bcc: evil@example.com\r\n")
	assert.True(t, strings.HasSuffix(msg, "Amount due: 500.00\r\n"))
}

func TestEmail_WrapsTransportError(t *testing.T) {
	e := NewEmail("localhost", 25, "", "", "shop@example.com")
	e.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("dial tcp: connection refused")
	}
	err := e.Send(context.Background(), core.Notification{Recipient: "jane@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jane@example.com")
}

func TestBuildMessage_Date(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	msg := string(buildMessage("a@example.com", core.Notification{Recipient: "b@example.com"}, now))
	assert.Contains(t, msg, "Date: Mon, 02 Mar 2026 09:30:00 +0000\r\n")
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"smartmarket/internal/core"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestHub_BroadcastsPaymentEvents(t *testing.T) {
	hub, url := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readMessage(t, conn)
	assert.Equal(t, TypeConnected, hello.Type)
	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, 1, hub.ClientCount())

	ev := core.PaymentEvent{
		Type: core.EventPaymentCompleted, PaymentID: 4, InvoiceID: 2,
		Status: core.PaymentCompleted, Amount: decimal.NewFromInt(600), TransactionID: "TX-1",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, hub.Publish(context.Background(), ev))

	msg := readMessage(t, conn)
	assert.Equal(t, TypePaymentEvent, msg.Type)
	var got core.PaymentEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, core.EventPaymentCompleted, got.Type)
	assert.Equal(t, 4, got.PaymentID)
	assert.True(t, decimal.NewFromInt(600).Equal(got.Amount))
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, url := newTestHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readMessage(t, conn)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub(logrus.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// fill the buffer so the stopped branch is the only ready case
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.broadcast <- nil
	}
	err := hub.Publish(context.Background(), core.PaymentEvent{Type: core.EventPaymentCreated})
	require.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://shop.example.com"})

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://shop.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker(nil)(r))
}

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (s *countingSink) Publish(context.Context, core.PaymentEvent) error {
	s.calls.Add(1)
	return s.err
}

func TestFanout_AttemptsEverySink(t *testing.T) {
	ok := &countingSink{}
	broken := &countingSink{err: errors.New("topic not found")}
	f := Fanout{ok, nil, broken}

	err := f.Publish(context.Background(), core.PaymentEvent{Type: core.EventPaymentFailed})
	require.Error(t, err)
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(1), broken.calls.Load())
}

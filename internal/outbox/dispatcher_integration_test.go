package outbox_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"smartmarket/internal/core"
	"smartmarket/internal/outbox"
	"smartmarket/internal/testdb"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, note core.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp: connection refused")
	}
	n.sent = append(n.sent, note)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func outboxStatus(t *testing.T, ctx context.Context, db core.DB, id int) (status string, attempts int) {
	t.Helper()
	err := db.QueryRow(ctx, "SELECT status, attempts FROM notification_outbox WHERE id = $1", id).Scan(&status, &attempts)
	require.NoError(t, err)
	return status, attempts
}

func TestDispatcher_DeliversAndMarksSent(t *testing.T) {
	pool, ctx := testdb.Open(t)
	_, err := pool.Exec(ctx, `
		INSERT INTO notification_outbox (channel, recipient, subject, body) VALUES
		('email',   'jane@example.com', 'Order #1 confirmed', 'hello'),
		('webhook', 'ops',              'Quote #1 approved',  'order created')
	`)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	d := outbox.NewDispatcher(pool, notifier, quietLogger())

	sent, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, core.ChannelEmail, notifier.sent[0].Channel)
	assert.Equal(t, "ops", notifier.sent[1].Recipient)

	status, attempts := outboxStatus(t, ctx, pool, 1)
	assert.Equal(t, outbox.StatusSent, status)
	assert.Equal(t, 1, attempts)

	// Nothing left to claim.
	sent, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestDispatcher_FailureSchedulesRetryThenDead(t *testing.T) {
	pool, ctx := testdb.Open(t)
	_, err := pool.Exec(ctx, `
		INSERT INTO notification_outbox (channel, recipient, subject, body)
		VALUES ('sms', '+255712345678', 'Order #1 is ready', 'pickup')
	`)
	require.NoError(t, err)

	notifier := &recordingNotifier{fail: true}
	d := outbox.NewDispatcher(pool, notifier, quietLogger())
	d.MaxAttempts = 2

	sent, err := d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	status, attempts := outboxStatus(t, ctx, pool, 1)
	assert.Equal(t, outbox.StatusFailed, status)
	assert.Equal(t, 1, attempts)

	// Not due yet: the backoff pushed next_attempt_at into the future.
	sent, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	_, attempts = outboxStatus(t, ctx, pool, 1)
	assert.Equal(t, 1, attempts)

	_, err = pool.Exec(ctx, "UPDATE notification_outbox SET next_attempt_at = NOW() - INTERVAL '1 second'")
	require.NoError(t, err)
	_, err = d.DispatchOnce(ctx)
	require.NoError(t, err)
	status, attempts = outboxStatus(t, ctx, pool, 1)
	assert.Equal(t, outbox.StatusDead, status)
	assert.Equal(t, 2, attempts)
}

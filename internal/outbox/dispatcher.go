package outbox

import (
	"context"
	"fmt"
	"time"

	"smartmarket/internal/core"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Row statuses in notification_outbox.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusSent       = "sent"
	StatusDead       = "dead"
)

const maxBackoff = 10 * time.Minute

// Dispatcher delivers queued notifications. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several server instances can run one each.
type Dispatcher struct {
	DB           core.DB
	Notifier     core.Notifier
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewDispatcher(db core.DB, notifier core.Notifier, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		DB:             db,
		Notifier:       notifier,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.Logger.WithFields(logrus.Fields{
				"module":        "outbox",
				"dispatcher_id": d.DispatcherID,
			}).WithError(err).Error("outbox dispatch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

type claimedRow struct {
	note     core.Notification
	attempts int
	dead     bool
}

// DispatchOnce claims one batch, sends it and returns the number of rows sent.
//
// Eligible rows:
//   - pending or failed and due for retry
//   - processing with a stale lock (a dispatcher died mid-batch)
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	claimed, err := d.claim(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range claimed {
		if rec.dead {
			continue
		}
		if err := d.Notifier.Send(ctx, rec.note); err != nil {
			d.markFailed(ctx, rec, err)
			continue
		}
		d.markSent(ctx, rec.note.ID)
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) claim(ctx context.Context) ([]claimedRow, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	tx, err := d.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, channel, recipient, subject, body, attempts
		FROM notification_outbox
		WHERE (status IN ('pending', 'failed') AND (next_attempt_at IS NULL OR next_attempt_at <= $1))
		   OR (status = 'processing' AND locked_at IS NOT NULL AND locked_at <= $2)
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now, staleBefore, d.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox rows: %w", err)
	}
	var claimed []claimedRow
	for rows.Next() {
		var rec claimedRow
		var channel string
		if err := rows.Scan(&rec.note.ID, &channel, &rec.note.Recipient, &rec.note.Subject, &rec.note.Body, &rec.attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		rec.note.Channel = core.Channel(channel)
		claimed = append(claimed, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range claimed {
		// Poison rows go terminal.
		if d.MaxAttempts > 0 && claimed[i].attempts >= d.MaxAttempts {
			claimed[i].dead = true
			msg := fmt.Sprintf("max delivery attempts exceeded (%d)", d.MaxAttempts)
			if _, err := tx.Exec(ctx, `
				UPDATE notification_outbox
				SET status = 'dead', last_error = $1, next_attempt_at = NULL, locked_at = NULL, locked_by = NULL
				WHERE id = $2
			`, msg, claimed[i].note.ID); err != nil {
				return nil, fmt.Errorf("failed to mark outbox row %d dead: %w", claimed[i].note.ID, err)
			}
			continue
		}

		claimed[i].attempts++
		if _, err := tx.Exec(ctx, `
			UPDATE notification_outbox
			SET status = 'processing', locked_at = $1, locked_by = $2, attempts = attempts + 1,
			    last_error = NULL, next_attempt_at = NULL
			WHERE id = $3
		`, now, d.DispatcherID, claimed[i].note.ID); err != nil {
			return nil, fmt.Errorf("failed to claim outbox row %d: %w", claimed[i].note.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit outbox claim: %w", err)
	}
	return claimed, nil
}

func (d *Dispatcher) markSent(ctx context.Context, id int64) {
	_, err := d.DB.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'sent', sent_at = NOW(), locked_at = NULL, locked_by = NULL, next_attempt_at = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		d.Logger.WithFields(logrus.Fields{"module": "outbox", "record_id": id}).WithError(err).Error("failed to mark notification sent")
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, rec claimedRow, sendErr error) {
	msg := sendErr.Error()
	fields := logrus.Fields{
		"module":    "outbox",
		"record_id": rec.note.ID,
		"channel":   string(rec.note.Channel),
		"attempt":   rec.attempts,
	}

	if d.MaxAttempts > 0 && rec.attempts >= d.MaxAttempts {
		_, err := d.DB.Exec(ctx, `
			UPDATE notification_outbox
			SET status = 'dead', last_error = $1, next_attempt_at = NULL, locked_at = NULL, locked_by = NULL
			WHERE id = $2
		`, msg, rec.note.ID)
		if err != nil {
			d.Logger.WithFields(fields).WithError(err).Error("failed to mark notification dead")
		}
		d.Logger.WithFields(fields).Error("notification moved to dead after max attempts: " + msg)
		return
	}

	next := time.Now().UTC().Add(Backoff(d.InitialBackoff, rec.attempts))
	_, err := d.DB.Exec(ctx, `
		UPDATE notification_outbox
		SET status = 'failed', last_error = $1, next_attempt_at = $2, locked_at = NULL, locked_by = NULL
		WHERE id = $3
	`, msg, next, rec.note.ID)
	if err != nil {
		d.Logger.WithFields(fields).WithError(err).Error("failed to mark notification failed")
	}
	fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	d.Logger.WithFields(fields).Warn("notification delivery failed: " + msg)
}

// Backoff is the retry delay after the given attempt: initial, doubling per
// attempt, capped at ten minutes.
func Backoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

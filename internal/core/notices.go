package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// NotifyOptions configures who hears about workflow transitions besides the customer.
type NotifyOptions struct {
	AdminEmail string
	// OpsWebhook also posts admin notices to the team chat webhook.
	OpsWebhook bool
}

// OpsRecipient is the webhook recipient used for admin notices.
const OpsRecipient = "ops"

type contact struct {
	Name  string
	Email string
	Phone string
}

func customerContact(ctx context.Context, q pgxQuerier, customerID int) (contact, error) {
	var c contact
	var email, phone *string
	err := q.QueryRow(ctx, "SELECT name, email, phone FROM customers WHERE id = $1", customerID).Scan(&c.Name, &email, &phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, notFound(ErrCustomerNotFound, "customer %d", customerID)
		}
		return c, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	if email != nil {
		c.Email = *email
	}
	if phone != nil {
		c.Phone = *phone
	}
	return c, nil
}

// toCustomer addresses subject/body to every channel the customer can be reached on.
func (c contact) toCustomer(subject, body string) []Notification {
	var out []Notification
	if c.Email != "" {
		out = append(out, Notification{Channel: ChannelEmail, Recipient: c.Email, Subject: subject, Body: body})
	}
	if c.Phone != "" {
		out = append(out, Notification{Channel: ChannelSMS, Recipient: c.Phone, Body: subject + ". " + body})
	}
	return out
}

func (o NotifyOptions) toAdmin(subject, body string) []Notification {
	var out []Notification
	if o.AdminEmail != "" {
		out = append(out, Notification{Channel: ChannelEmail, Recipient: o.AdminEmail, Subject: subject, Body: body})
	}
	if o.OpsWebhook {
		out = append(out, Notification{Channel: ChannelWebhook, Recipient: OpsRecipient, Subject: subject, Body: body})
	}
	return out
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// enqueueNotifications writes notices to the outbox inside tx so they are
// delivered if and only if the business transaction commits.
func enqueueNotifications(ctx context.Context, tx pgx.Tx, notes []Notification) error {
	for _, n := range notes {
		_, err := tx.Exec(ctx, `
			INSERT INTO notification_outbox (channel, recipient, subject, body)
			VALUES ($1, $2, $3, $4)
		`, string(n.Channel), n.Recipient, n.Subject, n.Body)
		if err != nil {
			return fmt.Errorf("failed to enqueue %s notification: %w", n.Channel, err)
		}
	}
	return nil
}

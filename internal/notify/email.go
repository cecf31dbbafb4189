package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"smartmarket/internal/core"
)

// Email sends notifications through an SMTP submission server (Gmail by default).
type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// sendMail is swapped out in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(host string, port int, username, password, from string) *Email {
	return &Email{Host: host, Port: port, Username: username, Password: password, From: from, sendMail: smtp.SendMail}
}

func (e *Email) Send(ctx context.Context, n core.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Recipient == "" {
		return fmt.Errorf("email recipient is empty")
	}

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	if err := e.sendMail(addr, auth, e.From, []string{n.Recipient}, buildMessage(e.From, n, time.Now())); err != nil {
		return fmt.Errorf("error sending email to %s: %w", n.Recipient, err)
	}
	return nil
}

func buildMessage(from string, n core.Notification, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + n.Recipient + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(n.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(n.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so a subject cannot inject extra headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

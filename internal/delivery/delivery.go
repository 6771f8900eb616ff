// Package delivery hands the rendered digest off to an email provider.
// Retries are the provider's concern; the core calls Deliver exactly once
// per run.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/singlethrowdata/scout/internal/secrets"
)

// Deliverer sends the rendered digest. Implementations return a provider
// message id on success.
type Deliverer interface {
	Deliver(ctx context.Context, digestHTML, digestText string, recipients []string) (providerID string, err error)
}

// LogDeliverer logs instead of sending. Used when no SMTP host is
// configured, e.g. in local development.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver implements Deliverer.
func (d *LogDeliverer) Deliver(_ context.Context, _, digestText string, recipients []string) (string, error) {
	d.Logger.Info("digest delivery skipped",
		"recipients", strings.Join(recipients, ","),
		"text_bytes", len(digestText),
	)
	return "log-" + uuid.NewString(), nil
}

// SMTPDeliverer sends the digest over SMTP with credentials resolved from
// the secrets store at send time.
type SMTPDeliverer struct {
	Host           string
	Port           int
	From           string
	CredentialName string
	Secrets        secrets.Store
	Logger         *slog.Logger
}

// Deliver implements Deliverer. The message is a multipart/alternative with
// the text part first so clients that cannot render HTML still get the
// digest.
func (d *SMTPDeliverer) Deliver(ctx context.Context, digestHTML, digestText string, recipients []string) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("no recipients configured")
	}
	cred, err := d.Secrets.GetCredential(ctx, d.CredentialName)
	if err != nil {
		return "", fmt.Errorf("resolving smtp credential: %w", err)
	}

	messageID := uuid.NewString()
	boundary := "scout-" + messageID

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: Scout daily digest\r\n")
	fmt.Fprintf(&msg, "Message-ID: <%s@scout>\r\n", messageID)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, digestText)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, digestHTML)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	auth := smtp.PlainAuth("", cred.Username, cred.Password, d.Host)
	if err := smtp.SendMail(addr, auth, d.From, recipients, []byte(msg.String())); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	d.Logger.Info("digest delivered",
		"provider_id", messageID,
		"recipients", len(recipients),
	)
	return messageID, nil
}

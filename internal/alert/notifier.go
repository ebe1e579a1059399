// Package alert sends best-effort critical failure notifications.
package alert

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/leadcore/intent-core/internal/mail"
)

// Alerter is what components depend on to raise critical failures.
type Alerter interface {
	SendCritical(ctx context.Context, subject, description string)
}

type Notifier struct {
	mailer     mail.Mailer
	recipients []string
	logger     *slog.Logger
	now        func() time.Time
}

func NewNotifier(mailer mail.Mailer, recipients []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		mailer:     mailer,
		recipients: append([]string(nil), recipients...),
		logger:     logger,
		now:        time.Now,
	}
}

// SendCritical logs the failure and mails it to the configured recipients.
// Delivery failures are logged and never returned.
func (n *Notifier) SendCritical(ctx context.Context, subject, description string) {
	if n == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			n.logger.Error("critical alert panicked", "subject", subject, "panic", recovered)
		}
	}()

	n.logger.ErrorContext(ctx, "critical failure", "subject", subject, "description", description)
	if n.mailer == nil || len(n.recipients) == 0 {
		return
	}

	at := n.now().UTC().Format(time.RFC3339)
	message := mail.Message{
		To:      n.recipients,
		Subject: "[CRITICAL] " + subject,
		Text:    fmt.Sprintf("%s\n\nTime: %s\n\n%s", subject, at, description),
		HTML: fmt.Sprintf("<h2>%s</h2><p><strong>Time:</strong> %s</p><pre>%s</pre>",
			html.EscapeString(subject), at, html.EscapeString(description)),
		Tags: []string{"critical-alert"},
	}
	if err := n.mailer.Send(ctx, message); err != nil {
		n.logger.WarnContext(ctx, "critical alert delivery failed", "subject", subject, "error", err)
	}
}

package alert

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/recordflow/internal/config"
	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/pkg/logger"
)

// Notifier surfaces dead-letter and fatal outcomes to operators. Only
// those two outcomes alert; transient retries never do.
type Notifier interface {
	CriticalEvent(ctx context.Context, evt *model.Event, reason string) error
}

// Mailer sends alert emails over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     []string
	logger *logger.Logger
}

func NewMailer(cfg config.SMTPConfig, logger *logger.Logger) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.AlertTo,
		logger: logger,
	}
}

func (m *Mailer) CriticalEvent(ctx context.Context, evt *model.Event, reason string) error {
	if len(m.to) == 0 {
		m.logger.Warn("no alert recipients configured, dropping critical alert",
			"event_id", evt.ID.String())
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[recordflow] event %s requires intervention", evt.ID))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Event %s (%s, entity %s/%s) is in status %s after %d attempts.\n\nReason: %s\n",
		evt.ID, evt.EventType, evt.EntityType, evt.EntityID, evt.Status, evt.AttemptCount, reason,
	))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// Nop discards alerts. Used by tests and by deployments that scrape
// the error ledger instead.
type Nop struct{}

func (Nop) CriticalEvent(ctx context.Context, evt *model.Event, reason string) error {
	return nil
}

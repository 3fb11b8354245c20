package email

import (
	"context"
	"fmt"

	"stock_notifier/internal/config"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

func New(cfg config.SMTP) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

// Send opens one SMTP session per message. Runs send sequentially, so
// there is no connection to share.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	const op = "transport.email.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := m.dialer.DialAndSend(m.message(to, subject, body)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Mailer) message(to, subject, body string) *gomail.Message {
	msg := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

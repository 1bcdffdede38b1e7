// Package mailer はメール送信（SMTP / ログ出力のみ）。
package mailer

import (
	"context"
	"fmt"

	"brickshop/internal/config"
	"brickshop/internal/gateway"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPMailer struct {
	from   string
	dialer dialer
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
	}
}

func (m *SMTPMailer) Send(ctx context.Context, mail gateway.Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mail.To == "" {
		return fmt.Errorf("mailer: empty recipient")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", mail.To)
	msg.SetHeader("Subject", mail.Subject)
	msg.SetBody("text/html", mail.HTML)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", mail.To, err)
	}
	return nil
}

// LogMailer は送らずにログへ出す（SMTP未設定の開発環境用）
type LogMailer struct {
	log logrus.FieldLogger
}

func NewLogMailer(log logrus.FieldLogger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, mail gateway.Mail) error {
	m.log.WithFields(logrus.Fields{"to": mail.To, "subject": mail.Subject}).Info("mail (not sent)")
	return nil
}

// New は SMTP_HOST があれば SMTP、無ければログ出力
func New(cfg config.MailConfig, log logrus.FieldLogger) gateway.Mailer {
	if cfg.SMTPHost == "" {
		return NewLogMailer(log)
	}
	return NewSMTPMailer(cfg)
}

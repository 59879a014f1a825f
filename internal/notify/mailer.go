package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/outbox"
)

type Mailer interface {
	Send(ctx context.Context, email EmailPayload) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	cfg    SMTPConfig
	send   func(ctx context.Context, msg *mail.Msg) error
	logger *zap.Logger
}

func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPMailer{
		cfg: cfg,
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
		logger: logger.With(zap.String("component", "mailer")),
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, email EmailPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(email.To) == 0 {
		return fmt.Errorf("email %q has no recipients", email.Subject)
	}

	msg, err := buildMessage(m.cfg.From, email)
	if err != nil {
		return err
	}

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	m.logger.Info("email sent", zap.Strings("to", email.To), zap.String("subject", email.Subject))
	return nil
}

func buildMessage(from string, email EmailPayload) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(email.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetDate()
	msg.SetMessageID()

	msg.SetBodyString(mail.TypeTextPlain, email.Text)
	if email.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTML)
	}
	return msg, nil
}

// LogMailer writes emails to the log instead of sending them. Used when no
// SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger.With(zap.String("component", "mailer"))}
}

func (m *LogMailer) Send(ctx context.Context, email EmailPayload) error {
	m.logger.Info("email (not sent, smtp disabled)",
		zap.Strings("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("text", email.Text))
	return nil
}

func EmailHandler(mailer Mailer) outbox.Handler {
	return func(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error {
		var payload EmailPayload
		if err := outbox.Decode(msg, &payload); err != nil {
			return err
		}
		return mailer.Send(ctx, payload)
	}
}

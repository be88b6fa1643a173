package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"pricewatch/internal/domain"
)

// SMTPOptions configures SMTPMailer.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends messages over SMTP. A new connection is dialled per Send.
type SMTPMailer struct {
	opts SMTPOptions
}

// NewSMTPMailer validates opts and returns a mailer.
func NewSMTPMailer(opts SMTPOptions) (*SMTPMailer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &SMTPMailer{opts: opts}, nil
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg domain.EmailMessage, recipients []string) error {
	message, err := m.message(msg, recipients)
	if err != nil {
		return err
	}

	clientOpts := []mail.Option{mail.WithPort(m.opts.Port)}
	if m.opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.opts.Username),
			mail.WithPassword(m.opts.Password),
		)
	}

	client, err := mail.NewClient(m.opts.Host, clientOpts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("send via %s: %w", m.opts.Host, err)
	}
	return nil
}

func (m *SMTPMailer) message(msg domain.EmailMessage, recipients []string) (*mail.Msg, error) {
	message := mail.NewMsg()
	if err := message.From(m.opts.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.opts.From, err)
	}
	// Subscribers must not see each other's addresses.
	if err := message.Bcc(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	message.Subject(msg.Subject)
	message.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	return message, nil
}

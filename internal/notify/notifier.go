// Package notify classifies price transitions into notification events and
// hands the rendered messages to a mail collaborator.
package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

// Mailer delivers a rendered message to a list of recipients.
type Mailer interface {
	Send(ctx context.Context, msg domain.EmailMessage, recipients []string) error
}

// Notifier renders events and passes them to a Mailer.
type Notifier struct {
	mailer Mailer
	log    logrus.FieldLogger
}

// NewNotifier creates a notifier that sends through mailer.
func NewNotifier(mailer Mailer, logger logrus.FieldLogger) *Notifier {
	return &Notifier{
		mailer: mailer,
		log:    logger.WithField("component", "notifier"),
	}
}

// Deliver renders event and sends it to its recipients. Events without
// recipients are skipped. Failures wrap domain.ErrNotificationDelivery and are
// logged here; callers must not treat them as a failed refresh.
func (n *Notifier) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	log := n.log.WithFields(logrus.Fields{
		"kind":       event.Kind,
		"url":        event.Product.URL,
		"recipients": len(event.Recipients),
	})
	if len(event.Recipients) == 0 {
		log.Debug("No recipients, skipping notification")
		return nil
	}

	msg, err := Render(event.Kind, event.Product)
	if err != nil {
		log.WithError(err).Error("Failed to render notification")
		return fmt.Errorf("%w: %w", domain.ErrNotificationDelivery, err)
	}

	if err := n.mailer.Send(ctx, msg, event.Recipients); err != nil {
		log.WithError(err).Error("Failed to send notification")
		return fmt.Errorf("%w: %w", domain.ErrNotificationDelivery, err)
	}

	log.Info("Notification sent")
	return nil
}

// LogMailer only logs messages. It is the default transport for local runs.
type LogMailer struct {
	log logrus.FieldLogger
}

// NewLogMailer creates a mailer that writes every message to logger.
func NewLogMailer(logger logrus.FieldLogger) *LogMailer {
	return &LogMailer{log: logger.WithField("component", "log_mailer")}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, msg domain.EmailMessage, recipients []string) error {
	m.log.WithFields(logrus.Fields{
		"subject":    msg.Subject,
		"recipients": recipients,
	}).Info("Email (log transport)")
	return nil
}

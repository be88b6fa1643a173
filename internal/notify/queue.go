package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"pricewatch/internal/domain"
)

// SQSAPI is the subset of the SQS client used by QueueMailer.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutboundEmail is the queue payload consumed by an external mail worker.
type OutboundEmail struct {
	Subject    string   `json:"subject"`
	HTMLBody   string   `json:"html_body"`
	Recipients []string `json:"recipients"`
}

// QueueMailer hands messages to an SQS queue instead of sending them directly.
type QueueMailer struct {
	client   SQSAPI
	queueURL string
}

// NewQueueMailer creates a mailer that enqueues to queueURL.
func NewQueueMailer(client SQSAPI, queueURL string) *QueueMailer {
	return &QueueMailer{client: client, queueURL: queueURL}
}

// Send implements Mailer.
func (m *QueueMailer) Send(ctx context.Context, msg domain.EmailMessage, recipients []string) error {
	body, err := json.Marshal(OutboundEmail{
		Subject:    msg.Subject,
		HTMLBody:   msg.HTMLBody,
		Recipients: recipients,
	})
	if err != nil {
		return fmt.Errorf("marshal outbound email: %w", err)
	}

	_, err = m.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(m.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("enqueue email to %s: %w", m.queueURL, err)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
)

const (
	EmailRequestedType    = "notification.email_requested"
	emailRequestedVersion = 1
)

// EmailRequested is the wire format between the portal and the notifier service.
type EmailRequested struct {
	kafka.Envelope
	Message Message `json:"message"`
}

func (e *EmailRequested) Header() kafka.Envelope { return e.Envelope }

func NewEmailRequested(msg Message, correlationID string) (EmailRequested, error) {
	env, err := kafka.NewEnvelope(EmailRequestedType, emailRequestedVersion, correlationID)
	if err != nil {
		return EmailRequested{}, err
	}
	return EmailRequested{Envelope: env, Message: msg}, nil
}

// KafkaDispatcher hands messages to the notifier service. Success means the request
// was durably queued, not that the mail was delivered.
type KafkaDispatcher struct {
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
}

func NewKafkaDispatcher(publisher kafka.Publisher, topic string, logger *slog.Logger) (*KafkaDispatcher, error) {
	if publisher == nil || topic == "" {
		return nil, fmt.Errorf("kafka publisher and topic required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaDispatcher{publisher: publisher, topic: topic, logger: logger}, nil
}

func (d *KafkaDispatcher) Send(ctx context.Context, msg Message) bool {
	if err := msg.Validate(); err != nil {
		d.logger.Warn("rejecting notification", "error", err)
		return false
	}
	event, err := NewEmailRequested(msg, "")
	if err != nil {
		d.logger.Error("build notification event failed", "error", err)
		return false
	}
	if _, _, err := d.publisher.PublishJSON(ctx, d.topic, msg.To, event); err != nil {
		d.logger.Error("queue notification failed", "topic", d.topic, "error", err)
		return false
	}
	return true
}

package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
)

type Deliverer interface {
	Deliver(ctx context.Context, msg notify.Message) error
}

type Metrics struct {
	Emails *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_emails_total",
				Help: "Email notification requests by outcome.",
			},
			[]string{"result"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.Emails)
	}
	return m
}

func (m *Metrics) inc(result string) {
	if m == nil {
		return
	}
	m.Emails.WithLabelValues(result).Inc()
}

// EmailConsumer turns EmailRequested events into SMTP deliveries.
type EmailConsumer struct {
	deliverer Deliverer
	dedupe    Deduper
	metrics   *Metrics
	logger    *slog.Logger
}

func NewEmailConsumer(deliverer Deliverer, dedupe Deduper, metrics *Metrics, logger *slog.Logger) *EmailConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailConsumer{deliverer: deliverer, dedupe: dedupe, metrics: metrics, logger: logger}
}

func (c *EmailConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		c.metrics.inc("invalid")
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "decode")
	}

	var event notify.EmailRequested
	if err := kafka.Decode(msg.Value, notify.EmailRequestedType, &event); err != nil {
		c.metrics.inc("invalid")
		return err
	}
	if err := event.Message.Validate(); err != nil {
		c.metrics.inc("invalid")
		return kafka.DLQ(err, "invalid_message")
	}

	if c.dedupe != nil {
		fresh, err := c.dedupe.Claim(ctx, event.EventID)
		if err != nil {
			return err
		}
		if !fresh {
			c.logger.Info("notification already delivered", "event_id", event.EventID)
			c.metrics.inc("duplicate")
			return nil
		}
	}

	if err := c.deliverer.Deliver(ctx, event.Message); err != nil {
		if c.dedupe != nil {
			if relErr := c.dedupe.Release(ctx, event.EventID); relErr != nil {
				c.logger.Warn("release dedupe claim failed", "event_id", event.EventID, "error", relErr)
			}
		}
		c.metrics.inc("failed")
		return fmt.Errorf("deliver %s: %w", event.EventID, err)
	}

	c.logger.Info("notification delivered",
		"event_id", event.EventID,
		"to", logging.MaskEmail(event.Message.To),
		"correlation_id", event.CorrelationID,
	)
	c.metrics.inc("delivered")
	return nil
}

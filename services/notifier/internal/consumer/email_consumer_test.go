package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/kafka"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/logging"
	"github.com/yassinboulabiar13-svg/smart-event-app/libs/notify"
)

type fakeDeliverer struct {
	err  error
	sent []notify.Message
}

func (f *fakeDeliverer) Deliver(_ context.Context, msg notify.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func emailMessage(t *testing.T, msg notify.Message) *sarama.ConsumerMessage {
	t.Helper()
	event, err := notify.NewEmailRequested(msg, "corr-1")
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "notifications.email", Key: []byte(msg.To), Value: raw}
}

func TestEmailConsumerDeliversOnce(t *testing.T) {
	deliverer := &fakeDeliverer{}
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewEmailConsumer(deliverer, NewMemoryDeduper(time.Hour), metrics, logging.Discard())

	msg := emailMessage(t, notify.Message{To: "guest@example.com", Subject: "Your code", Text: "123456"})
	for i := 0; i < 2; i++ {
		if err := c.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	if len(deliverer.sent) != 1 {
		t.Fatalf("expected one delivery, got %d", len(deliverer.sent))
	}
	if got := testutil.ToFloat64(metrics.Emails.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("expected duplicate count 1, got %v", got)
	}
}

func TestEmailConsumerRetriesAfterFailure(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("smtp down")}
	c := NewEmailConsumer(deliverer, NewMemoryDeduper(time.Hour), nil, logging.Discard())
	msg := emailMessage(t, notify.Message{To: "guest@example.com", Subject: "Invite", Text: "hi"})

	err := c.HandleMessage(context.Background(), msg)
	if err == nil {
		t.Fatalf("expected delivery error")
	}
	var dlqErr *kafka.DLQError
	if errors.As(err, &dlqErr) {
		t.Fatalf("smtp failure must be retried, not dead-lettered")
	}

	deliverer.err = nil
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(deliverer.sent) != 1 {
		t.Fatalf("expected delivery on retry, got %d", len(deliverer.sent))
	}
}

func TestEmailConsumerDeadLettersBadPayloads(t *testing.T) {
	c := NewEmailConsumer(&fakeDeliverer{}, nil, nil, logging.Discard())

	cases := map[string]*sarama.ConsumerMessage{
		"empty":   {Topic: "notifications.email"},
		"garbage": {Topic: "notifications.email", Value: []byte("{")},
		"address": emailMessage(t, notify.Message{To: "not-an-address", Subject: "x", Text: "x"}),
	}
	for name, msg := range cases {
		var dlqErr *kafka.DLQError
		if err := c.HandleMessage(context.Background(), msg); !errors.As(err, &dlqErr) {
			t.Fatalf("%s: expected dlq error, got %v", name, err)
		}
	}
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewRedisDeduper(client, time.Minute, "test:sent:")
	ctx := context.Background()

	fresh, err := d.Claim(ctx, "evt-1")
	if err != nil || !fresh {
		t.Fatalf("first claim: fresh=%v err=%v", fresh, err)
	}
	fresh, err = d.Claim(ctx, "evt-1")
	if err != nil || fresh {
		t.Fatalf("second claim: fresh=%v err=%v", fresh, err)
	}
	if err := d.Release(ctx, "evt-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if fresh, _ := d.Claim(ctx, "evt-1"); !fresh {
		t.Fatalf("expected claim after release")
	}

	mr.FastForward(2 * time.Minute)
	if fresh, _ := d.Claim(ctx, "evt-1"); !fresh {
		t.Fatalf("expected claim after ttl")
	}
}

package notify

import (
	"context"
	"errors"
	"testing"
)

type stubPublisher struct {
	topic string
	key   string
	value any
	err   error
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.topic, s.key, s.value = topic, key, value
	return 0, 0, s.err
}

func (s *stubPublisher) Close() error { return nil }

func TestKafkaDispatcherQueuesEmailRequest(t *testing.T) {
	pub := &stubPublisher{}
	d, err := NewKafkaDispatcher(pub, "notifications.email", nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if !d.Send(context.Background(), Message{To: "guest@example.com", Subject: "Invitation", Text: "hello"}) {
		t.Fatalf("expected queued")
	}
	event, ok := pub.value.(EmailRequested)
	if !ok {
		t.Fatalf("expected EmailRequested, got %T", pub.value)
	}
	if event.EventType != EmailRequestedType || event.Message.To != "guest@example.com" {
		t.Fatalf("unexpected event %+v", event)
	}
	if pub.topic != "notifications.email" || pub.key != "guest@example.com" {
		t.Fatalf("unexpected routing %s/%s", pub.topic, pub.key)
	}
}

func TestKafkaDispatcherReportsPublishFailure(t *testing.T) {
	d, err := NewKafkaDispatcher(&stubPublisher{err: errors.New("broker down")}, "notifications.email", nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if d.Send(context.Background(), Message{To: "guest@example.com", Subject: "x", Text: "y"}) {
		t.Fatalf("expected failure")
	}
}

func TestKafkaDispatcherRejectsInvalidRecipient(t *testing.T) {
	pub := &stubPublisher{}
	d, _ := NewKafkaDispatcher(pub, "notifications.email", nil)
	if d.Send(context.Background(), Message{To: "nope", Subject: "x"}) {
		t.Fatalf("expected rejection")
	}
	if pub.value != nil {
		t.Fatalf("nothing should be published")
	}
}

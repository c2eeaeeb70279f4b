package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return h(ctx, msg)
}

type stubSession struct {
	ctx     context.Context
	marked  int
	offsets []string
}

func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) Claims() map[string][]int32 {
	return map[string][]int32{}
}
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.marked++
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "notifications.email" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func TestConsumerGroupHandlerDLQsOnError(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return DLQ(errors.New("decode failed"), "decode")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(1, time.Minute),
	}

	msgCh := make(chan *sarama.ConsumerMessage, 1)
	msgCh <- &sarama.ConsumerMessage{Topic: "notifications.email", Partition: 0, Offset: 1, Value: []byte("bad")}
	close(msgCh)

	session := &stubSession{ctx: context.Background()}
	claim := &stubClaim{msgCh: msgCh}

	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if session.marked != 1 {
		t.Fatalf("expected message to be marked, got %d", session.marked)
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	if dlq.calls[0].topic != "dead_letter" {
		t.Fatalf("expected dlq topic, got %s", dlq.calls[0].topic)
	}
	payload, ok := dlq.calls[0].value.(DeadLetter)
	if !ok {
		t.Fatalf("expected DeadLetter, got %T", dlq.calls[0].value)
	}
	if payload.Stage != StageConsume || payload.Reason != "decode" || string(payload.Payload) != "bad" {
		t.Fatalf("unexpected dead letter %+v", payload)
	}
	if payload.Offset == nil || *payload.Offset != 1 {
		t.Fatalf("expected offset to be recorded")
	}
}

func TestConsumerGroupHandlerRetriesTransientErrors(t *testing.T) {
	dlq := &stubPublisher{}
	calls := 0
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			calls++
			return errors.New("smtp unavailable")
		}),
		logger:       slog.Default(),
		dlqPublisher: dlq,
		dlqTopic:     "dead_letter",
		retryTracker: newRetryTracker(2, time.Minute),
	}

	msg := &sarama.ConsumerMessage{Topic: "notifications.email", Partition: 0, Offset: 7, Value: []byte("{}")}
	session := &stubSession{ctx: context.Background()}

	for i := 0; i < 2; i++ {
		msgCh := make(chan *sarama.ConsumerMessage, 1)
		msgCh <- msg
		close(msgCh)
		if err := handler.ConsumeClaim(session, &stubClaim{msgCh: msgCh}); err != nil {
			t.Fatalf("consume claim error: %v", err)
		}
		if i == 0 && (session.marked != 0 || len(dlq.calls) != 0) {
			t.Fatalf("first failure must not be marked or dead-lettered")
		}
	}

	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
	if session.marked != 1 || len(dlq.calls) != 1 {
		t.Fatalf("expected dead-letter after max attempts, marked=%d dlq=%d", session.marked, len(dlq.calls))
	}
	payload := dlq.calls[0].value.(DeadLetter)
	if payload.Reason != "max_attempts" || payload.Attempts != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

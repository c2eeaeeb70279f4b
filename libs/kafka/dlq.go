package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const (
	StageConsume = "consume"
	StagePublish = "publish"
)

// DLQError marks a handler failure as permanent: the consumer dead-letters the
// message immediately instead of retrying it.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

// DeadLetter is the record written to the dead-letter topic. Partition and
// Offset are only set for messages that failed on the consume side.
type DeadLetter struct {
	Stage         string    `json:"stage"`
	OriginalTopic string    `json:"original_topic"`
	Partition     *int32    `json:"partition,omitempty"`
	Offset        *int64    `json:"offset,omitempty"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts"`
	Payload       []byte    `json:"payload"`
	FailedAt      time.Time `json:"failed_at"`
}

func deadLetterFromMessage(msg *sarama.ConsumerMessage, err *DLQError, attempts int, now time.Time) DeadLetter {
	partition, offset := msg.Partition, msg.Offset
	dl := DeadLetter{
		Stage:         StageConsume,
		OriginalTopic: msg.Topic,
		Partition:     &partition,
		Offset:        &offset,
		Key:           string(msg.Key),
		Attempts:      attempts,
		Payload:       msg.Value,
		FailedAt:      now.UTC(),
	}
	if err != nil {
		dl.Reason = err.Reason
		if err.Err != nil {
			dl.Error = err.Err.Error()
		}
	}
	return dl
}

func deadLetterFromPublish(topic, key string, value any, err error, now time.Time) DeadLetter {
	dl := DeadLetter{
		Stage:         StagePublish,
		OriginalTopic: topic,
		Key:           key,
		Reason:        "publish_failed",
		Attempts:      1,
		FailedAt:      now.UTC(),
	}
	if err != nil {
		dl.Error = err.Error()
	}
	if raw, marshalErr := json.Marshal(value); marshalErr == nil {
		dl.Payload = raw
	} else {
		dl.Payload = []byte(fmt.Sprintf("%v", value))
	}
	return dl
}

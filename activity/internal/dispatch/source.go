package dispatch

import (
	"context"
	"errors"
	"strconv"

	"github.com/segmentio/kafka-go"

	"jobportal-admin/shared/events"
	"jobportal-admin/shared/metricsx"
	"jobportal-admin/shared/mqx"
)

// Delivery is one record handed to the dispatcher.
type Delivery struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Attempt int

	msg kafka.Message
}

// Source is the consumer side of the event channel.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, d Delivery) error
	// Redeliver hands d back to the channel for another attempt and returns
	// the topic it went to.
	Redeliver(ctx context.Context, d Delivery, reason string) (string, error)
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}

// MessageReader is the subset of *kafka.Reader the source uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
}

// Republisher appends records back onto the channel. *mqx.Producer satisfies it.
type Republisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaSource reads the main and retry topics of one consumer group.
// Redelivery appends to <topic>.retry until maxAttempts, then to <topic>.dead.
type KafkaSource struct {
	reader      MessageReader
	producer    Republisher
	group       string
	maxAttempts int
}

func NewKafkaSource(reader MessageReader, producer Republisher, group string, maxAttempts int) *KafkaSource {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &KafkaSource{reader: reader, producer: producer, group: group, maxAttempts: maxAttempts}
}

func (s *KafkaSource) Fetch(ctx context.Context) (Delivery, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}
	headers := mqx.HeaderMap(msg)
	attempt, _ := strconv.Atoi(headers[events.HeaderAttempt])
	return Delivery{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Attempt: attempt,
		msg:     msg,
	}, nil
}

func (s *KafkaSource) Commit(ctx context.Context, d Delivery) error {
	if err := s.reader.CommitMessages(ctx, d.msg); err != nil {
		return err
	}
	stats := s.reader.Stats()
	metricsx.SetKafkaLag(stats.Topic, s.group, stats.Lag)
	return nil
}

func (s *KafkaSource) Redeliver(ctx context.Context, d Delivery, reason string) (string, error) {
	next := d.Attempt + 1
	topic := mqx.BaseTopic(d.Topic) + mqx.RetrySuffix
	if next >= s.maxAttempts {
		topic = mqx.BaseTopic(d.Topic) + mqx.DeadSuffix
	}
	return topic, s.append(ctx, topic, d, next, reason)
}

func (s *KafkaSource) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	return s.append(ctx, mqx.BaseTopic(d.Topic)+mqx.DeadSuffix, d, d.Attempt, reason)
}

func (s *KafkaSource) append(ctx context.Context, topic string, d Delivery, attempt int, reason string) error {
	if s.producer == nil {
		return errors.New("redelivery producer not configured")
	}
	headers := make(map[string]string, len(d.Headers)+2)
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[events.HeaderAttempt] = strconv.Itoa(attempt)
	headers["error"] = reason
	return s.producer.Publish(ctx, topic, d.Key, d.Value, headers)
}

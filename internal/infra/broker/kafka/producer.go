package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// ChatEventsTopic is the topic suffix chat events are published to.
const ChatEventsTopic = "chat.events"

// ChatEvent is the broker record for a persisted chat change.
type ChatEvent struct {
	Type       string          `json:"type"`
	MessageID  string          `json:"messageId"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	ListingID  string          `json:"listingId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Producer publishes chat events with a synchronous, idempotent sarama producer.
type Producer struct {
	sync  sarama.SyncProducer
	topic string
}

func NewProducer(brokers []string, topicPrefix string, cfg *sarama.Config) (*Producer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return WithSyncProducer(sync, topicPrefix), nil
}

// WithSyncProducer wraps an existing sarama producer.
func WithSyncProducer(sync sarama.SyncProducer, topicPrefix string) *Producer {
	return &Producer{sync: sync, topic: topicPrefix + ChatEventsTopic}
}

func (p *Producer) Topic() string { return p.topic }

// Publish sends ev keyed by conversation so events of one thread stay ordered.
func (p *Producer) Publish(ctx context.Context, ev ChatEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", ev.Type, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(conversationKey(ev)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
	}
	if _, _, err := p.sync.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}

// conversationKey orders the participant ids so both directions share a partition.
func conversationKey(ev ChatEvent) string {
	a, b := ev.SenderID, ev.ReceiverID
	if b < a {
		a, b = b, a
	}
	return a + ":" + b + ":" + ev.ListingID
}

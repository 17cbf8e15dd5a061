package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// ErrNoBrokers is returned when a Kafka publisher is built without brokers.
var ErrNoBrokers = errors.New("events: kafka brokers required")

// Publisher delivers JSON payloads to a topic.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

// KafkaPublisher publishes through a sarama SyncProducer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewKafkaPublisher dials brokers with an idempotent, all-acks producer.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherFromProducer(producer, logger), nil
}

// NewKafkaPublisherFromProducer wraps an existing producer.
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{producer: producer, logger: logger}
}

func (p *KafkaPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal kafka payload: %w", err)
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		p.logger.Error("kafka publish failed", "topic", topic, "key", key, "err", err)
		return 0, 0, fmt.Errorf("kafka publish: %w", err)
	}
	return partition, offset, nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// NopPublisher drops everything. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, string, any) (int32, int64, error) {
	return 0, 0, nil
}

func (NopPublisher) Close() error { return nil }

// Message is one payload captured by MemoryPublisher.
type Message struct {
	Topic string
	Key   string
	Value any
}

// MemoryPublisher records payloads in order. Used in tests and development.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryPublisher creates an empty recorder.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Key: key, Value: value})
	return 0, int64(len(p.messages) - 1), nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Emitter stamps envelopes and publishes to a single topic. Publish failures
// are logged and swallowed: events are a side channel and never undo
// in-memory state.
type Emitter struct {
	pub    Publisher
	topic  string
	tenant string
	logger *slog.Logger
}

// NewEmitter creates an emitter. A nil publisher drops everything.
func NewEmitter(pub Publisher, topic, tenant string, logger *slog.Logger) *Emitter {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, topic: topic, tenant: tenant, logger: logger}
}

// Envelope returns a fresh envelope for eventType stamped with the tenant.
func (e *Emitter) Envelope(eventType string) Envelope {
	return NewEnvelope(eventType, e.tenant)
}

// Emit publishes value keyed by key.
func (e *Emitter) Emit(ctx context.Context, key string, value any) {
	if _, _, err := e.pub.PublishJSON(ctx, e.topic, key, value); err != nil {
		e.logger.Warn("event publish failed", "topic", e.topic, "key", key, "err", err)
	}
}

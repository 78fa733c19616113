package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultFlushInterval = time.Second
	defaultFlushBatch    = 256
	defaultBufferSize    = 1024
)

// KafkaBus publishes the three audit topics to Kafka. Recorded and
// compliance events are produced synchronously; threat events are buffered
// in a bounded ring and flushed by a background worker started with Run.
type KafkaBus struct {
	client *kgo.Client
	logger *slog.Logger

	buffer        *ringBuffer
	flushInterval time.Duration
	flushBatch    int
}

// KafkaOption configures a KafkaBus.
type KafkaOption func(*KafkaBus)

// WithKafkaLogger sets the bus logger.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(b *KafkaBus) { b.logger = logger }
}

// WithThreatBuffer sets the threat ring capacity.
func WithThreatBuffer(capacity int) KafkaOption {
	return func(b *KafkaBus) { b.buffer = newRingBuffer(capacity) }
}

// WithFlushInterval sets how often buffered threat events are flushed.
func WithFlushInterval(d time.Duration) KafkaOption {
	return func(b *KafkaBus) {
		if d > 0 {
			b.flushInterval = d
		}
	}
}

// NewKafkaBus connects a producer to the given brokers.
func NewKafkaBus(brokers []string, opts ...KafkaOption) (*KafkaBus, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}

	b := &KafkaBus{
		client:        client,
		buffer:        newRingBuffer(defaultBufferSize),
		flushInterval: defaultFlushInterval,
		flushBatch:    defaultFlushBatch,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// PublishRecorded synchronously produces to the recorded topic.
func (b *KafkaBus) PublishRecorded(ctx context.Context, ev RecordedEvent) error {
	return b.produceSync(ctx, TopicRecorded, ev.ID, ev)
}

// PublishCompliance synchronously produces to the compliance topic. An
// error here is fail-closed for the caller.
func (b *KafkaBus) PublishCompliance(ctx context.Context, ev ComplianceEvent) error {
	if err := b.produceSync(ctx, TopicCompliance, ev.ID, ev); err != nil {
		if b.logger != nil {
			b.logger.ErrorContext(ctx, "compliance event publish failed",
				"event_id", ev.ID,
				"error", err)
		}
		return fmt.Errorf("compliance event publish: %w", err)
	}
	return nil
}

// PublishThreat buffers the alert for the background flush worker. It
// never blocks and never fails; a full buffer drops the oldest alert.
func (b *KafkaBus) PublishThreat(_ context.Context, ev ThreatEvent) error {
	b.buffer.enqueue(ev)
	return nil
}

// Run drains the threat buffer until ctx is cancelled. Call it in its own
// goroutine.
func (b *KafkaBus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flushThreats(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			b.flushThreats(ctx)
		}
	}
}

func (b *KafkaBus) flushThreats(ctx context.Context) {
	for {
		batch := b.buffer.dequeueBatch(b.flushBatch)
		if len(batch) == 0 {
			return
		}

		records := make([]*kgo.Record, 0, len(batch))
		for _, ev := range batch {
			value, err := json.Marshal(ev)
			if err != nil {
				if b.logger != nil {
					b.logger.ErrorContext(ctx, "threat event marshal failed, dropping",
						"event_id", ev.ID,
						"error", err)
				}
				continue
			}
			records = append(records, &kgo.Record{
				Topic: TopicThreat,
				Key:   []byte(ev.ID),
				Value: value,
			})
		}

		if err := b.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
			// Requeue so the next tick retries; the ring bounds the backlog.
			for _, ev := range batch {
				b.buffer.enqueue(ev)
			}
			if b.logger != nil {
				b.logger.WarnContext(ctx, "threat event flush failed, will retry",
					"batch", len(batch),
					"buffered", b.buffer.len(),
					"dropped", b.buffer.droppedCount(),
					"error", err)
			}
			return
		}
	}
}

func (b *KafkaBus) produceSync(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered threat events and shuts the producer down.
func (b *KafkaBus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.flushThreats(ctx)
	b.client.Close()
	return nil
}

// EnsureTopics creates the three audit topics if they do not exist.
func EnsureTopics(ctx context.Context, brokers []string, partitions int32) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("connect kafka admin: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, partitions, 1, nil,
		TopicRecorded, TopicThreat, TopicCompliance)
	if err != nil {
		return fmt.Errorf("create audit topics: %w", err)
	}
	for _, resp := range resps.Sorted() {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

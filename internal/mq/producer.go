// Package mq streams settlement events to Kafka.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/events"
)

const (
	defaultBatchSize      = 32 * 1024
	defaultLingerMs       = 5
	defaultDeliverTimeout = 10 * time.Second
)

// Config configures the Kafka producer.
type Config struct {
	Brokers    []string
	Topic      string
	Partitions int
	BatchSize  int
	LingerMs   int
	// DeliveryTimeout bounds how long Publish waits for the broker ack.
	DeliveryTimeout time.Duration
	// CreateTopic creates Topic on startup when missing.
	CreateTopic bool
}

// Producer publishes encoded events keyed by proposal id, so all events
// of one proposal land on the same partition in order.
type Producer struct {
	producer *kafka.Producer
	topic    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProducer connects to the brokers and optionally creates the topic.
func NewProducer(cfg Config, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("mq: brokers and topic are required")
	}
	if cfg.CreateTopic {
		if err := ensureTopic(cfg); err != nil {
			return nil, err
		}
	}
	p, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("mq: create producer: %w", err)
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	return &Producer{
		producer: p,
		topic:    cfg.Topic,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "kafka")),
	}, nil
}

func producerConfig(cfg Config) *kafka.ConfigMap {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	linger := cfg.LingerMs
	if linger < 0 {
		linger = defaultLingerMs
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"client.id":         "condvault-" + host,

		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,

		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		"batch.size":        batch,
		"linger.ms":         linger,
		"compression.type":  "none",
		"message.max.bytes": 2 * 1024 * 1024,
	}
}

func ensureTopic(cfg Config) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": strings.Join(cfg.Brokers, ",")})
	if err != nil {
		return fmt.Errorf("mq: admin client: %w", err)
	}
	defer admin.Close()

	meta, err := admin.GetMetadata(nil, true, 10_000)
	if err != nil {
		return fmt.Errorf("mq: metadata: %w", err)
	}
	if _, ok := meta.Topics[cfg.Topic]; ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{topicSpec(cfg, len(meta.Brokers))})
	if err != nil {
		return fmt.Errorf("mq: create topic %s: %w", cfg.Topic, err)
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("mq: create topic %s: %w", r.Topic, r.Error)
		}
	}
	return nil
}

func topicSpec(cfg Config, brokers int) kafka.TopicSpecification {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := 1
	if brokers > 1 {
		replication = 2
	}
	return kafka.TopicSpecification{
		Topic:             cfg.Topic,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	}
}

// Publish produces ev and waits for the delivery report.
func (p *Producer) Publish(ctx context.Context, ev domain.Event) error {
	value, err := events.Encode(ev)
	if err != nil {
		return fmt.Errorf("mq: %w", err)
	}
	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.ProposalID),
		Value:          value,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte(ev.Type)}},
	}, delivery)
	if err != nil {
		return fmt.Errorf("mq: produce %s: %w", ev.Type, err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case e := <-delivery:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("mq: unexpected delivery event %T", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("mq: deliver %s: %w", ev.Type, msg.TopicPartition.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("mq: deliver %s: timeout after %s", ev.Type, p.timeout)
	case <-ctx.Done():
		return fmt.Errorf("mq: deliver %s: %w", ev.Type, ctx.Err())
	}
}

// Close flushes pending messages for up to timeout and closes the producer.
func (p *Producer) Close(timeout time.Duration) {
	if left := p.producer.Flush(int(timeout.Milliseconds())); left > 0 {
		p.logger.Warn("kafka messages not flushed", slog.Int("pending", left))
	}
	p.producer.Close()
}

var _ domain.EventPublisher = (*Producer)(nil)

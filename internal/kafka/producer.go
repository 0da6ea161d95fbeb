package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/segmentio/kafka-go"
)

// Publisher sends committed state changes to the event stream.
type Publisher interface {
	Publish(ctx context.Context, event *model.VoteEvent) error
	Close() error
}

// NewEvent stamps a fresh event id.
func NewEvent(eventType model.EventType, at time.Time) *model.VoteEvent {
	return &model.VoteEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: at.UTC(),
	}
}

// eventKey routes every vote for one contestant to the same partition.
func eventKey(event *model.VoteEvent) []byte {
	if event.Type == model.EventVoteCast && event.ContestantID != 0 {
		return []byte(strconv.FormatInt(event.ContestantID, 10))
	}
	return []byte(event.Type)
}

func encodeEvent(event *model.VoteEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode vote event: %w", err)
	}
	return kafka.Message{
		Key:   eventKey(event),
		Value: data,
		Time:  event.OccurredAt,
	}, nil
}

// publishBatchTimeout caps how long a single event waits for a batch to fill.
const publishBatchTimeout = 10 * time.Millisecond

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(ctx context.Context, cfg config.KafkaConfig) (*Producer, error) {
	partitions, err := topicPartitions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Logger.Info().
		Str("topic", cfg.Topic).
		Int("partitions", len(partitions)).
		Msg("kafka producer connected")

	return &Producer{writer: newWriter(cfg)}, nil
}

func newWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: publishBatchTimeout,
	}
}

// topicPartitions lists the partition ids of the configured topic.
func topicPartitions(ctx context.Context, cfg config.KafkaConfig) ([]int, error) {
	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions: %w", err)
	}

	var ids []int
	for _, p := range partitions {
		if p.Topic == cfg.Topic {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (p *Producer) Publish(ctx context.Context, event *model.VoteEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish vote event: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events. Used when kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *model.VoteEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }

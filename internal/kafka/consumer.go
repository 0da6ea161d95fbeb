package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/segmentio/kafka-go"
)

const maxWorkers = 4

type MessageHandler func(ctx context.Context, event *model.VoteEvent) error

// Consumer reads vote events as members of one consumer group. Each worker
// owns a reader, so the group spreads partitions across workers.
type Consumer struct {
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewConsumer(ctx context.Context, cfg config.KafkaConfig) (*Consumer, error) {
	partitions, err := topicPartitions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	numWorkers := len(partitions)
	if numWorkers > maxWorkers {
		numWorkers = maxWorkers
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	readers := make([]*kafka.Reader, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}))
	}

	logger.Logger.Info().
		Str("topic", cfg.Topic).
		Str("group", cfg.GroupID).
		Int("partitions", len(partitions)).
		Int("workers", numWorkers).
		Msg("kafka consumer created")

	runCtx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		readers: readers,
		ctx:     runCtx,
		cancel:  cancel,
	}, nil
}

func decodeEvent(m kafka.Message) (*model.VoteEvent, error) {
	var event model.VoteEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to decode vote event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("vote event at offset %d has no type", m.Offset)
	}
	return &event, nil
}

// StartConsuming runs one goroutine per reader until Stop.
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}
}

func (c *Consumer) consumeMessages(workerID int, reader *kafka.Reader, handler MessageHandler) {
	log := logger.Named("kafka-consumer").With().Int("worker", workerID).Logger()

	for {
		m, err := reader.ReadMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || c.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("failed to read message")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := decodeEvent(m)
		if err != nil {
			log.Warn().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("skipping message")
			continue
		}

		if err := handler(c.ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Str("type", string(event.Type)).Msg("failed to handle event")
		}
	}
}

func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var firstErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

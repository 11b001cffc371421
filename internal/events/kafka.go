package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"
	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes ledger events so oracles and indexers can follow
// new swaps without polling. Publishing never blocks the ledger: the writer
// is asynchronous and delivery errors are only logged.
type KafkaEmitter struct {
	writer messageWriter
	logger *slog.Logger
}

var _ pool.Emitter = (*KafkaEmitter)(nil)

// NewKafkaEmitter creates a KafkaEmitter
func NewKafkaEmitter(cfg KafkaConfig, logger *slog.Logger) *KafkaEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // events of one currency stay ordered on one partition
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("ledger events not delivered", "count", len(msgs), "error", err)
			}
		},
	}
	return &KafkaEmitter{writer: writer, logger: logger}
}

// Emit sends an event to Kafka
func (e *KafkaEmitter) Emit(ctx context.Context, evt models.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error("failed to encode ledger event", "type", evt.Type, "error", err)
		return
	}
	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   partitionKey(evt),
		Value: data,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		e.logger.Error("failed to publish ledger event", "type", evt.Type, "error", err)
	}
}

// Close flushes pending messages and closes the writer
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}

func partitionKey(evt models.Event) []byte {
	if evt.Currency != "" {
		return []byte(evt.Currency)
	}
	if evt.SwapID != nil {
		return []byte("swap-" + strconv.FormatInt(*evt.SwapID, 10))
	}
	return []byte(evt.Type)
}

// Multi fans an event out to several emitters in order
type Multi []pool.Emitter

func (m Multi) Emit(ctx context.Context, evt models.Event) {
	for _, e := range m {
		e.Emit(ctx, evt)
	}
}

// Package queue publishes stored transfers to Kafka for downstream consumers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pair-tracker/internal/config"
	"github.com/pair-tracker/internal/models"
)

// messageWriter is the part of kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TransferPublisher writes transfer rows to one topic. Messages are keyed by
// the row's event key, so a compacted topic keeps one message per event and
// re-publishing a page is harmless.
type TransferPublisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewTransferPublisher creates a synchronous producer for cfg.Topic
func NewTransferPublisher(cfg *config.KafkaConfig) (*TransferPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic must not be empty")
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
		// acknowledged by all replicas before the poll counts as published
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newTransferPublisher(writer, cfg.Topic), nil
}

func newTransferPublisher(w messageWriter, topic string) *TransferPublisher {
	return &TransferPublisher{writer: w, topic: topic, now: time.Now}
}

// PublishTransfers sends one message per row in a single write
func (p *TransferPublisher) PublishTransfers(ctx context.Context, rows []*models.Transaction) error {
	if len(rows) == 0 {
		return nil
	}

	at := p.now()
	msgs := make([]kafka.Message, len(rows))
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("kafka: failed to encode transfer %s: %w", row.Hash, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(row.EventKey()),
			Value: data,
			Time:  at,
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: failed to publish %d transfers to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (p *TransferPublisher) Close() error {
	return p.writer.Close()
}

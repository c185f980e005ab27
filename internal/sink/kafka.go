package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
)

// MessageWriter is the part of kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one JSON article document per row, keyed by GKG id, with
// a single WriteMessages call per feed. It cannot answer AlreadyHas and is
// meant as a secondary sink behind a Tee.
type Kafka struct {
	writer MessageWriter
	topic  string
	layout processing.Layout
	log    *slog.Logger
}

// NewKafkaWriter builds a writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafka returns a sink publishing through w.
func NewKafka(w MessageWriter, topic string, layout processing.Layout, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Kafka{writer: w, topic: topic, layout: layout, log: logger}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) AlreadyHas(context.Context, string) (bool, error) { return false, nil }

func (k *Kafka) Write(ctx context.Context, batch models.Batch) error {
	if len(batch.Rows) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		payload, err := json.Marshal(k.layout.Document(batch.Feed.ID, row))
		if err != nil {
			return fmt.Errorf("%w: marshal %s: %w", ErrWrite, row.GKGID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(row.GKGID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "feed_id", Value: []byte(batch.Feed.ID)},
			},
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%w: publish %s to %s: %w", ErrWrite, batch.Feed.ID, k.topic, err)
	}
	k.log.Debug("published feed", slog.String("feed", batch.Feed.ID), slog.Int("messages", len(msgs)))
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }

package elasticsearch

import (
	"context"
	"fmt"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
	"github.com/xaviermiles/web-sentiment-analysis/internal/sink"
)

// Sink indexes article documents and records each written feed in the
// ledger index once its documents are searchable.
type Sink struct {
	client *Client
	layout processing.Layout
}

var _ sink.Sink = (*Sink)(nil)

// NewSink returns a sink writing through client.
func NewSink(client *Client, layout processing.Layout) *Sink {
	return &Sink{client: client, layout: layout}
}

func (s *Sink) Name() string { return "elasticsearch" }

func (s *Sink) AlreadyHas(ctx context.Context, feedID string) (bool, error) {
	return s.client.HasFeed(ctx, feedID)
}

func (s *Sink) Write(ctx context.Context, batch models.Batch) error {
	docs := make([]models.ArticleDocument, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		docs = append(docs, s.layout.Document(batch.Feed.ID, row))
	}
	if err := s.client.BulkIndex(ctx, docs); err != nil {
		return fmt.Errorf("%w: %w", sink.ErrWrite, err)
	}
	if err := s.client.RecordFeed(ctx, batch.Feed.ID, len(docs)); err != nil {
		return fmt.Errorf("%w: %w", sink.ErrWrite, err)
	}
	return nil
}

func (s *Sink) Close() error { return nil }

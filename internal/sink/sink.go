package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

var (
	// ErrWrite wraps any failure persisting a batch. A feed whose write
	// failed is not reported by AlreadyHas.
	ErrWrite = errors.New("sink write failed")
	// ErrUnsupported reports an unknown or misconfigured sink.
	ErrUnsupported = errors.New("unsupported sink")
)

// Sink persists the aligned rows of one feed file per Write call.
// Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	// AlreadyHas reports whether the feed id was fully written before.
	AlreadyHas(ctx context.Context, feedID string) (bool, error)
	// Write persists batch as one unit.
	Write(ctx context.Context, batch models.Batch) error
	Close() error
}

// Lister is implemented by sinks that can enumerate the feed ids they hold.
type Lister interface {
	Ingested(ctx context.Context) (map[string]struct{}, error)
}

// Tee writes every batch to a primary sink and a set of secondary ones.
// Secondaries are written first so the primary only records a feed once
// everything else has it; AlreadyHas and Ingested consult the primary.
type Tee struct {
	primary     Sink
	secondaries []Sink
	log         *slog.Logger
}

// NewTee returns primary itself when there are no secondaries.
func NewTee(logger *slog.Logger, primary Sink, secondaries ...Sink) Sink {
	if len(secondaries) == 0 {
		return primary
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tee{primary: primary, secondaries: secondaries, log: logger}
}

func (t *Tee) Name() string { return t.primary.Name() }

func (t *Tee) AlreadyHas(ctx context.Context, feedID string) (bool, error) {
	return t.primary.AlreadyHas(ctx, feedID)
}

func (t *Tee) Write(ctx context.Context, batch models.Batch) error {
	for _, s := range t.secondaries {
		if err := s.Write(ctx, batch); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return t.primary.Write(ctx, batch)
}

// Ingested delegates to the primary when it is a Lister.
func (t *Tee) Ingested(ctx context.Context) (map[string]struct{}, error) {
	l, ok := t.primary.(Lister)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot list feeds", ErrUnsupported, t.primary.Name())
	}
	return l.Ingested(ctx)
}

func (t *Tee) Close() error {
	var errs []error
	for _, s := range t.secondaries {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	if err := t.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", t.primary.Name(), err))
	}
	return errors.Join(errs...)
}

// AsLister returns s as a Lister if it can enumerate what it holds.
func AsLister(s Sink) (Lister, bool) {
	if t, ok := s.(*Tee); ok {
		l, ok := t.primary.(Lister)
		if !ok {
			return nil, false
		}
		return l, true
	}
	l, ok := s.(Lister)
	return l, ok
}

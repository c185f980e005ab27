package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/xaviermiles/web-sentiment-analysis/internal/decoder"
	"github.com/xaviermiles/web-sentiment-analysis/internal/dedupe"
	"github.com/xaviermiles/web-sentiment-analysis/internal/metrics"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/sink"
)

// Fetcher retrieves the compressed bytes of one feed file.
type Fetcher interface {
	Fetch(ctx context.Context, ref models.FeedReference) ([]byte, error)
}

// Config bounds a run.
type Config struct {
	Workers     int
	FeedTimeout time.Duration
}

// Runner fans feed references out to a bounded worker pool. Each feed is
// fetched and fully decoded before its rows are handed to the sink as one
// batch; a failed feed never reaches the sink.
type Runner struct {
	fetcher Fetcher
	decoder *decoder.Decoder
	sink    sink.Sink
	header  []string
	memo    *dedupe.Cache
	cfg     Config
	log     *slog.Logger
}

// New builds a Runner. memo may be nil.
func New(fetcher Fetcher, dec *decoder.Decoder, s sink.Sink, header []string, memo *dedupe.Cache, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		fetcher: fetcher,
		decoder: dec,
		sink:    s,
		header:  header,
		memo:    memo,
		cfg:     cfg,
		log:     logger,
	}
}

// Run processes refs and returns once every reference has an outcome.
// Per-feed failures are recorded in the summary and never stop the run.
// Canceling ctx marks feeds not yet written as canceled.
func (r *Runner) Run(ctx context.Context, refs []models.FeedReference) *Summary {
	summary := &Summary{RunID: uuid.NewString(), Started: time.Now()}
	log := r.log.With(slog.String("run_id", summary.RunID))
	log.Info("run started", slog.Int("feeds", len(refs)), slog.Int("workers", r.cfg.Workers))

	pool := pond.NewPool(r.cfg.Workers)
	group := pool.NewGroup()
	for _, ref := range refs {
		group.Submit(func() {
			metrics.WorkersRunning.Inc()
			defer metrics.WorkersRunning.Dec()

			outcome, rows, err := r.process(ctx, ref)
			var failure *Failure
			attrs := []any{slog.String("feed", ref.ID), slog.String("outcome", string(outcome))}
			switch outcome {
			case OutcomeFailed:
				failure = &Failure{FeedID: ref.ID, Kind: Classify(err), Err: err}
				log.Warn("feed failed", append(attrs, slog.String("kind", failure.Kind), slog.Any("err", err))...)
			case OutcomeSucceeded:
				log.Info("feed ingested", append(attrs, slog.Int("rows", rows))...)
			default:
				log.Debug("feed not ingested", attrs...)
			}
			metrics.FeedsProcessed.WithLabelValues(string(outcome)).Inc()
			summary.record(outcome, rows, failure)
		})
	}
	group.Wait()
	pool.StopAndWait()

	summary.Finished = time.Now()
	log.Info("run finished", slog.Any("summary", summary))
	return summary
}

func (r *Runner) process(ctx context.Context, ref models.FeedReference) (Outcome, int, error) {
	if ctx.Err() != nil {
		return OutcomeCanceled, 0, ctx.Err()
	}
	if r.memo != nil && r.memo.IsSeen(ref.ID) {
		return OutcomeSkipped, 0, nil
	}

	has, err := r.sink.AlreadyHas(ctx, ref.ID)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCanceled, 0, ctx.Err()
		}
		return OutcomeFailed, 0, fmt.Errorf("%w: already has: %w", sink.ErrWrite, err)
	}
	if has {
		r.markSeen(ref.ID)
		return OutcomeSkipped, 0, nil
	}

	rows, err := r.decode(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCanceled, 0, ctx.Err()
		}
		return OutcomeFailed, 0, err
	}
	if ctx.Err() != nil {
		return OutcomeCanceled, 0, ctx.Err()
	}

	start := time.Now()
	err = r.sink.Write(ctx, models.Batch{Feed: ref, Header: r.header, Rows: rows})
	metrics.WriteDuration.WithLabelValues(r.sink.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, sink.ErrWrite) {
			err = fmt.Errorf("%w: %w", sink.ErrWrite, err)
		}
		return OutcomeFailed, 0, err
	}
	metrics.RowsWritten.WithLabelValues(r.sink.Name()).Add(float64(len(rows)))
	r.markSeen(ref.ID)
	return OutcomeSucceeded, len(rows), nil
}

// decode fetches and decodes one feed under the per-feed timeout. Running
// out of time is reported as a decode failure.
func (r *Runner) decode(ctx context.Context, ref models.FeedReference) ([]models.AlignedRow, error) {
	feedCtx := ctx
	if r.cfg.FeedTimeout > 0 {
		var cancel context.CancelFunc
		feedCtx, cancel = context.WithTimeout(ctx, r.cfg.FeedTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() { metrics.DecodeDuration.Observe(time.Since(start).Seconds()) }()

	raw, err := r.fetcher.Fetch(feedCtx, ref)
	if err != nil {
		if errors.Is(feedCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s: timed out after %s: %w", decoder.ErrDecodeFailed, ref.ID, r.cfg.FeedTimeout, err)
		}
		return nil, err
	}

	rows, err := r.decoder.DecodeAll(feedCtx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.ID, err)
	}
	return rows, nil
}

func (r *Runner) markSeen(id string) {
	if r.memo != nil {
		r.memo.MarkSeen(id)
	}
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xaviermiles/web-sentiment-analysis/internal/decoder"
	"github.com/xaviermiles/web-sentiment-analysis/internal/feed"
	"github.com/xaviermiles/web-sentiment-analysis/internal/sink"
)

// Outcome is the result of processing one feed reference.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCanceled  Outcome = "canceled"
)

// Failure kinds, derived from the error that failed a feed.
const (
	KindFetch   = "fetch"
	KindArchive = "archive"
	KindDecode  = "decode"
	KindSink    = "sink"
	KindOther   = "other"
)

// Failure describes one feed that was not ingested.
type Failure struct {
	FeedID string
	Kind   string
	Err    error
}

// Summary aggregates the outcome of a run. It is safe for concurrent use
// while the run is in progress.
type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	mu        sync.Mutex
	total     int
	succeeded int
	failed    int
	skipped   int
	canceled  int
	rows      int
	failures  []Failure
}

// Counts is a point-in-time copy of a Summary's counters.
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Canceled  int
	Rows      int
}

func (s *Summary) record(o Outcome, rows int, f *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	switch o {
	case OutcomeSucceeded:
		s.succeeded++
		s.rows += rows
	case OutcomeFailed:
		s.failed++
		if f != nil {
			s.failures = append(s.failures, *f)
		}
	case OutcomeSkipped:
		s.skipped++
	case OutcomeCanceled:
		s.canceled++
	}
}

// Counts returns the current counters.
func (s *Summary) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Total:     s.total,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Skipped:   s.skipped,
		Canceled:  s.canceled,
		Rows:      s.rows,
	}
}

// Failures returns a copy of the recorded failures.
func (s *Summary) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Failure, len(s.failures))
	copy(out, s.failures)
	return out
}

// LogValue renders the summary as a slog group.
func (s *Summary) LogValue() slog.Value {
	c := s.Counts()
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Int("total", c.Total),
		slog.Int("succeeded", c.Succeeded),
		slog.Int("failed", c.Failed),
		slog.Int("skipped", c.Skipped),
		slog.Int("canceled", c.Canceled),
		slog.Int("rows", c.Rows),
		slog.Duration("elapsed", s.Finished.Sub(s.Started)),
	)
}

// Classify maps an error to a failure kind.
func Classify(err error) string {
	switch {
	case errors.Is(err, decoder.ErrArchive):
		return KindArchive
	case errors.Is(err, decoder.ErrDecodeFailed), errors.Is(err, context.DeadlineExceeded):
		return KindDecode
	case errors.Is(err, feed.ErrFetch):
		return KindFetch
	case errors.Is(err, sink.ErrWrite):
		return KindSink
	default:
		return KindOther
	}
}

package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/decoder"
	"github.com/xaviermiles/web-sentiment-analysis/internal/dedupe"
	"github.com/xaviermiles/web-sentiment-analysis/internal/feed"
	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/pipeline"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
	"github.com/xaviermiles/web-sentiment-analysis/internal/sink"
)

func line(id, locations, gcam string) string {
	fields := make([]string, 27)
	fields[0] = id
	fields[1] = "20200905031500"
	fields[9] = locations
	fields[17] = gcam
	return strings.Join(fields, "\t")
}

func feedZip(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("feed.gkg.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type stubFetcher struct {
	bodies map[string][]byte
	block  map[string]bool
}

func (f *stubFetcher) Fetch(ctx context.Context, ref models.FeedReference) ([]byte, error) {
	if f.block[ref.ID] {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s: %w", feed.ErrFetch, ref.ID, ctx.Err())
	}
	body, ok := f.bodies[ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s: not found", feed.ErrFetch, ref.ID)
	}
	return body, nil
}

type memorySink struct {
	mu       sync.Mutex
	batches  map[string]models.Batch
	writeErr error
	hasCalls int
}

func newMemorySink() *memorySink { return &memorySink{batches: map[string]models.Batch{}} }

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) AlreadyHas(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasCalls++
	_, ok := m.batches[id]
	return ok, nil
}

func (m *memorySink) Write(_ context.Context, b models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.batches[b.Feed.ID] = b
	return nil
}

func (m *memorySink) Close() error { return nil }

func newDecoder(t *testing.T) *decoder.Decoder {
	t.Helper()
	s, err := schema.New([]string{"c3.1", "c3.2"})
	require.NoError(t, err)
	return decoder.New(location.NewFilter([]string{"AS"}), s)
}

func refs(ids ...string) []models.FeedReference {
	out := make([]models.FeedReference, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.FeedReference{ID: id, Name: id + ".gkg.csv.zip"})
	}
	return out
}

const asLocation = "1#Australia#AS#AS#-25#135#AS"

func TestRunClassifiesEachFeed(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string][]byte{
		"20200101000000": feedZip(t, line("a", asLocation, "wc:1,c3.1:2"), line("b", "1#NZ#NZ#NZ#0#0#NZ", "wc:1")),
		"20200101001500": []byte("not a zip"),
		"20200101003000": feedZip(t, line("c", asLocation, "wc:1")),
		"20200101004500": feedZip(t, line("d", asLocation, "wc:1,c3.1:2"), line("e", asLocation, "wc:1,broken")),
		"20200101010000": feedZip(t, line("f", "", "wc:1")),
	}}
	mem := newMemorySink()
	mem.batches["20200101003000"] = models.Batch{}
	memo := dedupe.NewCache(100, time.Hour)

	r := pipeline.New(fetcher, newDecoder(t), mem, []string{"h"}, memo, pipeline.Config{Workers: 3}, nil)
	summary := r.Run(context.Background(), refs(
		"20200101000000", "20200101001500", "20200101003000", "20200101004500", "20200101010000", "20200101011500",
	))

	require.NotEmpty(t, summary.RunID)
	require.Equal(t, pipeline.Counts{Total: 6, Succeeded: 2, Failed: 3, Skipped: 1, Rows: 1}, summary.Counts())

	kinds := map[string]string{}
	for _, f := range summary.Failures() {
		kinds[f.FeedID] = f.Kind
	}
	require.Equal(t, map[string]string{
		"20200101001500": pipeline.KindArchive,
		"20200101004500": pipeline.KindDecode,
		"20200101011500": pipeline.KindFetch,
	}, kinds)

	require.Len(t, mem.batches["20200101000000"].Rows, 1)
	require.Equal(t, []string{"h"}, mem.batches["20200101000000"].Header)
	empty, ok := mem.batches["20200101010000"]
	require.True(t, ok, "feeds without matching rows are still recorded")
	require.Empty(t, empty.Rows)
	_, ok = mem.batches["20200101004500"]
	require.False(t, ok, "a feed that fails part way writes nothing")

	require.True(t, memo.IsSeen("20200101000000"))
	require.True(t, memo.IsSeen("20200101003000"))
	require.False(t, memo.IsSeen("20200101004500"))
}

func TestRunSkipsMemoizedFeeds(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string][]byte{
		"20200101000000": feedZip(t, line("a", asLocation, "wc:1,c3.1:2")),
	}}
	mem := newMemorySink()
	memo := dedupe.NewCache(100, time.Hour)
	r := pipeline.New(fetcher, newDecoder(t), mem, nil, memo, pipeline.Config{Workers: 1}, nil)

	first := r.Run(context.Background(), refs("20200101000000"))
	require.Equal(t, 1, first.Counts().Succeeded)
	require.Equal(t, 1, mem.hasCalls)

	second := r.Run(context.Background(), refs("20200101000000"))
	require.Equal(t, 1, second.Counts().Skipped)
	require.Equal(t, 1, mem.hasCalls)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestRunFeedTimeoutIsDecodeFailure(t *testing.T) {
	fetcher := &stubFetcher{block: map[string]bool{"20200101000000": true}}
	mem := newMemorySink()
	r := pipeline.New(fetcher, newDecoder(t), mem, nil, nil, pipeline.Config{Workers: 1, FeedTimeout: 20 * time.Millisecond}, nil)

	summary := r.Run(context.Background(), refs("20200101000000"))
	require.Equal(t, 1, summary.Counts().Failed)
	failures := summary.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, pipeline.KindDecode, failures[0].Kind)
	require.ErrorIs(t, failures[0].Err, decoder.ErrDecodeFailed)
	require.Empty(t, mem.batches)
}

func TestRunCanceledWritesNothing(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string][]byte{
		"20200101000000": feedZip(t, line("a", asLocation, "wc:1,c3.1:2")),
	}}
	mem := newMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := pipeline.New(fetcher, newDecoder(t), mem, nil, nil, pipeline.Config{Workers: 2}, nil)
	summary := r.Run(ctx, refs("20200101000000", "20200101001500"))
	require.Equal(t, pipeline.Counts{Total: 2, Canceled: 2}, summary.Counts())
	require.Empty(t, mem.batches)
}

func TestRunSinkFailureIsNotRemembered(t *testing.T) {
	fetcher := &stubFetcher{bodies: map[string][]byte{
		"20200101000000": feedZip(t, line("a", asLocation, "wc:1,c3.1:2")),
	}}
	mem := newMemorySink()
	mem.writeErr = errors.New("disk full")
	memo := dedupe.NewCache(100, time.Hour)

	r := pipeline.New(fetcher, newDecoder(t), mem, nil, memo, pipeline.Config{Workers: 1}, nil)
	summary := r.Run(context.Background(), refs("20200101000000"))

	failures := summary.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, pipeline.KindSink, failures[0].Kind)
	require.ErrorIs(t, failures[0].Err, sink.ErrWrite)
	require.False(t, memo.IsSeen("20200101000000"))
}

func TestClassify(t *testing.T) {
	require.Equal(t, pipeline.KindArchive, pipeline.Classify(fmt.Errorf("x: %w", decoder.ErrArchive)))
	require.Equal(t, pipeline.KindDecode, pipeline.Classify(decoder.ErrDecodeFailed))
	require.Equal(t, pipeline.KindFetch, pipeline.Classify(feed.ErrFetch))
	require.Equal(t, pipeline.KindSink, pipeline.Classify(sink.ErrWrite))
	require.Equal(t, pipeline.KindOther, pipeline.Classify(errors.New("x")))
}

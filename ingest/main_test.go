package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/config"
	"github.com/xaviermiles/web-sentiment-analysis/internal/decoder"
	"github.com/xaviermiles/web-sentiment-analysis/internal/dedupe"
	"github.com/xaviermiles/web-sentiment-analysis/internal/feed"
	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/pipeline"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
	"github.com/xaviermiles/web-sentiment-analysis/internal/sink"
)

func feedArchive(t *testing.T) []byte {
	t.Helper()
	fields := make([]string, 27)
	fields[0] = "20200905031500-1"
	fields[1] = "20200905031500"
	fields[3] = "nzherald.co.nz"
	fields[9] = "1#New Zealand#NZ#NZ#-41#174#NZ"
	fields[17] = "wc:40,c3.1:0.5,c9.9:3"

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("20200905031500.gkg.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Join(fields, "\t") + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRunOnceIngestsNewFeeds(t *testing.T) {
	archive := feedArchive(t)
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/masterfilelist.txt", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, strings.Join([]string{
			"100 abc " + srvURL + "/20200905031500.gkg.csv.zip",
			"100 abc " + srvURL + "/20200905031500.export.CSV.zip",
			"100 abc " + srvURL + "/20200905030000.gkg.csv.zip",
		}, "\n"))
	})
	mux.HandleFunc("/20200905031500.gkg.csv.zip", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := schema.New([]string{"c3.1", "c3.2"})
	require.NoError(t, err)
	layout := processing.Layout{Schema: s}
	dir := t.TempDir()
	out, err := sink.NewDir(dir, layout, log)
	require.NoError(t, err)

	client := feed.NewClient(srv.URL+"/masterfilelist.txt", log)
	source := feed.NewSource(client, feed.NewLocator(feed.Window{}, log), "", true, log)
	dec := decoder.New(location.NewFilter([]string{"NZ"}), s)

	run := func() *pipeline.Summary {
		memo := dedupe.NewCache(10, time.Hour)
		runner := pipeline.New(client, dec, out, layout.Header(), memo, pipeline.Config{Workers: 2}, log)
		summary, err := runOnce(context.Background(), log, source, runner, out, memo)
		require.NoError(t, err)
		return summary
	}

	first := run()
	require.Equal(t, pipeline.Counts{Total: 2, Succeeded: 1, Failed: 1, Rows: 1}, first.Counts())
	require.Equal(t, pipeline.KindFetch, first.Failures()[0].Kind)

	data, err := os.ReadFile(filepath.Join(dir, "20200905031500.gkg.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasSuffix(lines[1], ",0.5,"), lines[1])

	second := run()
	require.Equal(t, pipeline.Counts{Total: 1, Failed: 1}, second.Counts(), "the written feed is listed and excluded")
}

func TestBuildSink(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := schema.New([]string{"c3.1"})
	require.NoError(t, err)
	layout := processing.Layout{Schema: s}

	cfg := &config.Ingest{Sinks: config.Sinks{Kind: config.SinkCSV, CSVDir: t.TempDir()}}
	out, err := buildSink(context.Background(), cfg, layout, log)
	require.NoError(t, err)
	require.IsType(t, &sink.Dir{}, out)
	require.NoError(t, out.Close())

	cfg.Sinks.Publish = []string{config.SinkKafka}
	cfg.Sinks.KafkaBrokers = []string{"localhost:9092"}
	cfg.Sinks.KafkaTopic = "gkg_articles"
	out, err = buildSink(context.Background(), cfg, layout, log)
	require.NoError(t, err)
	require.IsType(t, &sink.Tee{}, out)
	_, ok := sink.AsLister(out)
	require.True(t, ok)
	require.NoError(t, out.Close())

	cfg.Sinks.Kind = "parquet"
	_, err = buildSink(context.Background(), cfg, layout, log)
	require.ErrorIs(t, err, sink.ErrUnsupported)
}

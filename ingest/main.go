package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xaviermiles/web-sentiment-analysis/internal/config"
	"github.com/xaviermiles/web-sentiment-analysis/internal/decoder"
	"github.com/xaviermiles/web-sentiment-analysis/internal/dedupe"
	"github.com/xaviermiles/web-sentiment-analysis/internal/elasticsearch"
	"github.com/xaviermiles/web-sentiment-analysis/internal/feed"
	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/logger"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/pipeline"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
	"github.com/xaviermiles/web-sentiment-analysis/internal/sink"
)

type referenceSource interface {
	References(ctx context.Context, ingested map[string]struct{}) ([]models.FeedReference, error)
}

func main() {
	os.Exit(run())
}

// run returns the process exit code: 1 when ingestion cannot start, 2 when
// a single run left feeds failed.
func run() int {
	config.LoadDotEnv()
	log := logger.New("ingest")
	cfg, err := config.LoadIngest()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	layout := cfg.Feed.Layout()
	out, err := buildSink(ctx, cfg, layout, log)
	if err != nil {
		log.Error("init sink", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("close sink", slog.Any("err", err))
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client := feed.NewClient(cfg.Feed.MasterListURL, log)
	locator := feed.NewLocator(feed.Window{Since: cfg.Feed.Since, Until: cfg.Feed.Until, Limit: cfg.Feed.Limit}, log)
	source := feed.NewSource(client, locator, cfg.Feed.MasterListCache, cfg.Feed.RefreshMasterList, log)

	filter := location.NewFilter(cfg.Feed.Countries, location.WithDedupe(cfg.Feed.DedupeCountries))
	dec := decoder.New(filter, cfg.Feed.Schema)
	memo := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)
	runner := pipeline.New(client, dec, out, layout.Header(), memo,
		pipeline.Config{Workers: cfg.Workers, FeedTimeout: cfg.FeedTimeout}, log)

	log.Info("ingest starting",
		slog.String("sink", out.Name()),
		slog.Any("countries", cfg.Feed.Countries),
		slog.Int("codes", cfg.Feed.Schema.Len()),
		slog.Int("workers", cfg.Workers),
		slog.Duration("interval", cfg.Interval),
	)

	summary, err := runOnce(ctx, log, source, runner, out, memo)
	if cfg.Interval <= 0 {
		if err != nil {
			log.Error("ingest run", slog.Any("err", err))
			return 1
		}
		if summary.Counts().Failed > 0 {
			return 2
		}
		return 0
	}
	if err != nil {
		log.Warn("ingest run failed (will retry on next interval)", slog.Any("err", err))
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return 0
		case <-ticker.C:
			if _, err := runOnce(ctx, log, source, runner, out, memo); err != nil {
				log.Warn("ingest run failed (will retry on next interval)", slog.Any("err", err))
			}
		}
	}
}

// runOnce locates the feeds the sink does not hold yet and ingests them.
func runOnce(ctx context.Context, log *slog.Logger, source referenceSource, runner *pipeline.Runner, out sink.Sink, memo *dedupe.Cache) (*pipeline.Summary, error) {
	ingested := map[string]struct{}{}
	if l, ok := sink.AsLister(out); ok {
		set, err := l.Ingested(ctx)
		if err != nil {
			log.Warn("list ingested feeds, falling back to per-feed checks", slog.Any("err", err))
		} else {
			ingested = set
			memo.MarkAll(set)
		}
	}

	refs, err := source.References(ctx, ingested)
	if err != nil {
		return nil, fmt.Errorf("locate feeds: %w", err)
	}
	log.Info("located feeds", slog.Int("feeds", len(refs)), slog.Int("already_ingested", len(ingested)))

	summary := runner.Run(ctx, refs)
	for _, f := range summary.Failures() {
		log.Warn("feed not ingested", slog.String("feed", f.FeedID), slog.String("kind", f.Kind), slog.Any("err", f.Err))
	}
	return summary, nil
}

// buildSink constructs the primary sink named by SINK_KIND and tees it with
// the SINK_PUBLISH targets.
func buildSink(ctx context.Context, cfg *config.Ingest, layout processing.Layout, log *slog.Logger) (sink.Sink, error) {
	var esClient *elasticsearch.Client
	es := func() (*elasticsearch.Client, error) {
		if esClient != nil {
			return esClient, nil
		}
		c, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err != nil {
			return nil, err
		}
		if err := c.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		esClient = c
		return c, nil
	}

	s := cfg.Sinks
	var primary sink.Sink
	switch s.Kind {
	case config.SinkCSV:
		d, err := sink.NewDir(s.CSVDir, layout, log)
		if err != nil {
			return nil, err
		}
		primary = d
	case config.SinkS3:
		s3cfg := sink.S3Config{
			Bucket:           s.S3.Bucket,
			Prefix:           s.S3.Prefix,
			Region:           s.S3.Region,
			Endpoint:         s.S3.Endpoint,
			AccessKeyID:      s.S3.AccessKeyID,
			SecretAccessKey:  s.S3.SecretAccessKey,
			EnableEncryption: s.S3.EnableEncryption,
			VerifyUpload:     s.S3.VerifyUpload,
		}
		client, err := sink.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		b, err := sink.NewS3(client, s3cfg, layout, log)
		if err != nil {
			return nil, err
		}
		primary = b
	case config.SinkPostgres:
		p, err := sink.NewPostgres(ctx, s.PostgresURL, s.PostgresTable, layout, log)
		if err != nil {
			return nil, err
		}
		primary = p
	case config.SinkClickhouse:
		c, err := sink.NewClickhouse(ctx, sink.ClickhouseConfig{
			Addr:       s.Clickhouse.Addr,
			Database:   s.Clickhouse.Database,
			Table:      s.Clickhouse.Table,
			User:       s.Clickhouse.User,
			Password:   s.Clickhouse.Password,
			DisableTLS: s.Clickhouse.DisableTLS,
		}, layout, log)
		if err != nil {
			return nil, err
		}
		primary = c
	case config.SinkElasticsearch:
		c, err := es()
		if err != nil {
			return nil, err
		}
		primary = elasticsearch.NewSink(c, layout)
	default:
		return nil, fmt.Errorf("%w: %q", sink.ErrUnsupported, s.Kind)
	}

	secondaries := make([]sink.Sink, 0, len(s.Publish))
	for _, target := range s.Publish {
		switch target {
		case config.SinkKafka:
			w := sink.NewKafkaWriter(s.KafkaBrokers, s.KafkaTopic)
			secondaries = append(secondaries, sink.NewKafka(w, s.KafkaTopic, layout, log))
		case config.SinkElasticsearch:
			c, err := es()
			if err != nil {
				return nil, errors.Join(err, primary.Close())
			}
			secondaries = append(secondaries, elasticsearch.NewSink(c, layout))
		default:
			return nil, errors.Join(fmt.Errorf("%w: publish %q", sink.ErrUnsupported, target), primary.Close())
		}
	}
	return sink.NewTee(log, primary, secondaries...), nil
}

func serveMetrics(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", slog.Any("err", err))
		}
	}()
	return srv
}

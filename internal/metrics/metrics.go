package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gkg_ingest_feeds_processed_total", Help: "Feed files processed, by result.",
	}, []string{"result"})
	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gkg_ingest_rows_written_total", Help: "Aligned rows persisted, by sink.",
	}, []string{"sink"})
	FetchedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gkg_ingest_fetched_bytes_total", Help: "Compressed feed bytes downloaded.",
	})
	FetchErrs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gkg_ingest_fetch_errors_total", Help: "Feed source request failures.",
	}, []string{"kind"})

	DecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gkg_ingest_decode_duration_seconds",
		Help:    "Time spent fetching and decoding one feed file.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	WriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gkg_ingest_write_duration_seconds",
		Help:    "Time spent writing one feed batch.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"sink"})

	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gkg_ingest_workers_running", Help: "Feed files currently being processed.",
	})

	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gkg_retention_deleted_total", Help: "Indexed articles removed by retention.",
	})
)

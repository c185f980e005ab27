package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
)

// ClickhouseConfig holds connection settings for the ClickHouse sink.
type ClickhouseConfig struct {
	Addr       string
	Database   string
	Table      string
	User       string
	Password   string
	DisableTLS bool
}

// Clickhouse inserts each feed with one batch and then records the feed in
// <table>_feeds. A feed is only reported by AlreadyHas after both succeed.
type Clickhouse struct {
	conn   clickhouse.Conn
	cfg    ClickhouseConfig
	layout processing.Layout
	log    *slog.Logger
}

// NewClickhouse connects and creates the tables if needed.
func NewClickhouse(ctx context.Context, cfg ClickhouseConfig, layout processing.Layout, logger *slog.Logger) (*Clickhouse, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: CLICKHOUSE_ADDR is empty", ErrUnsupported)
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "gdelt_raw"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	}
	if !cfg.DisableTLS {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	c := &Clickhouse{conn: conn, cfg: cfg, layout: layout, log: logger}
	for _, stmt := range clickhouseMigrations(c.table(), c.ledger(), layout) {
		if err := conn.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
	}
	return c, nil
}

func (c *Clickhouse) table() string {
	return quoteCH(c.cfg.Database) + "." + quoteCH(c.cfg.Table)
}

func (c *Clickhouse) ledger() string {
	return quoteCH(c.cfg.Database) + "." + quoteCH(c.cfg.Table+"_feeds")
}

func quoteCH(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "\\`") + "`"
}

func clickhouseMigrations(table, ledger string, layout processing.Layout) []string {
	cols := []string{
		"feed_id String",
		"gkg_id String",
		"date Nullable(DateTime('UTC'))",
		"source Nullable(Int64)",
		"source_name String",
		"doc_id String",
		"themes Array(String)",
		"locations String",
		"persons Array(String)",
		"orgs Array(String)",
	}
	if layout.WithCountries {
		cols = append(cols, "matched_countries Array(String)")
	}
	for _, name := range []string{"tone", "pos", "neg", "polarity", "ard", "srd"} {
		cols = append(cols, name+" Nullable(Float64)")
	}
	cols = append(cols, "wc Nullable(Int64)")
	for _, code := range layout.Schema.Codes() {
		cols = append(cols, quoteCH(code)+" Nullable(Float64)")
	}

	return []string{
		"CREATE TABLE IF NOT EXISTS " + table + " (\n\t" + strings.Join(cols, ",\n\t") + "\n) ENGINE = MergeTree ORDER BY (feed_id, gkg_id)",
		"CREATE TABLE IF NOT EXISTS " + ledger + " (feed_id String, row_count UInt32, ingested_at DateTime('UTC') DEFAULT now()) ENGINE = ReplacingMergeTree ORDER BY feed_id",
	}
}

func (c *Clickhouse) Name() string { return "clickhouse" }

func (c *Clickhouse) AlreadyHas(ctx context.Context, feedID string) (bool, error) {
	var n uint64
	if err := c.conn.QueryRow(ctx, "SELECT count() FROM "+c.ledger()+" WHERE feed_id = ?", feedID).Scan(&n); err != nil {
		return false, fmt.Errorf("query ledger for %s: %w", feedID, err)
	}
	return n > 0, nil
}

func (c *Clickhouse) Ingested(ctx context.Context) (map[string]struct{}, error) {
	rows, err := c.conn.Query(ctx, "SELECT DISTINCT feed_id FROM "+c.ledger())
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (c *Clickhouse) Write(ctx context.Context, batch models.Batch) error {
	if len(batch.Rows) > 0 {
		b, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.table())
		if err != nil {
			return fmt.Errorf("%w: prepare %s: %w", ErrWrite, batch.Feed.ID, err)
		}
		for _, row := range batch.Rows {
			if err := b.Append(clickhouseValues(c.layout, batch.Feed.ID, row)...); err != nil {
				b.Abort()
				return fmt.Errorf("%w: append %s: %w", ErrWrite, batch.Feed.ID, err)
			}
		}
		if err := b.Send(); err != nil {
			return fmt.Errorf("%w: send %s: %w", ErrWrite, batch.Feed.ID, err)
		}
	}

	err := c.conn.Exec(ctx, "INSERT INTO "+c.ledger()+" (feed_id, row_count) VALUES (?, ?)", batch.Feed.ID, uint32(len(batch.Rows)))
	if err != nil {
		return fmt.Errorf("%w: ledger %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	return nil
}

func (c *Clickhouse) Close() error { return c.conn.Close() }

func clickhouseValues(layout processing.Layout, feedID string, row models.AlignedRow) []any {
	var date *time.Time
	if row.Date.Valid {
		d := row.Date.Time.UTC()
		date = &d
	}
	vals := []any{
		feedID,
		row.GKGID,
		date,
		intPtrOf(row.Source.Int64, row.Source.Valid),
		row.SourceName,
		row.DocID,
		textArray(row.Themes),
		row.RawLocations,
		textArray(row.Persons),
		textArray(row.Orgs),
	}
	if layout.WithCountries {
		vals = append(vals, textArray(row.Countries))
	}
	vals = append(vals,
		floatPtrOf(row.Tone.Tone.Float64, row.Tone.Tone.Valid),
		floatPtrOf(row.Tone.Positive.Float64, row.Tone.Positive.Valid),
		floatPtrOf(row.Tone.Negative.Float64, row.Tone.Negative.Valid),
		floatPtrOf(row.Tone.Polarity.Float64, row.Tone.Polarity.Valid),
		floatPtrOf(row.Tone.ARD.Float64, row.Tone.ARD.Valid),
		floatPtrOf(row.Tone.SRD.Float64, row.Tone.SRD.Valid),
		intPtrOf(row.Tone.WordCount.Int64, row.Tone.WordCount.Valid),
	)
	for _, c := range row.Codes {
		var v *float64
		if f, ok := codeValue(c.String, c.Valid).(float64); ok {
			v = &f
		}
		vals = append(vals, v)
	}
	return vals
}

func floatPtrOf(v float64, valid bool) *float64 {
	if !valid {
		return nil
	}
	return &v
}

func intPtrOf(v int64, valid bool) *int64 {
	if !valid {
		return nil
	}
	return &v
}

package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
)

const locationItemType = "location_item"

// Postgres stores rows in one table and records every written feed in a
// <table>_feeds ledger inside the same transaction.
type Postgres struct {
	pool   *pgxpool.Pool
	table  string
	layout processing.Layout
	log    *slog.Logger
}

// NewPostgres runs the migrations for table and opens a pool whose
// connections know the location_item composite type.
func NewPostgres(ctx context.Context, url, table string, layout processing.Layout, logger *slog.Logger) (*Postgres, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: POSTGRES_URL is empty", ErrUnsupported)
	}
	if table == "" {
		table = "gdelt_raw"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := migratePostgres(ctx, url, table, layout, logger); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, name := range []string{locationItemType, "_" + locationItemType} {
			t, err := conn.LoadType(ctx, name)
			if err != nil {
				return fmt.Errorf("load type %s: %w", name, err)
			}
			conn.TypeMap().RegisterType(t)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, table: table, layout: layout, log: logger}, nil
}

func migratePostgres(ctx context.Context, url, table string, layout processing.Layout, log *slog.Logger) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(ctx)

	for _, stmt := range postgresMigrations(table, layout) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	log.Info("postgres migrations completed", slog.String("table", table))
	return nil
}

func postgresMigrations(table string, layout processing.Layout) []string {
	var cols strings.Builder
	cols.WriteString("feed_id text NOT NULL,\n")
	cols.WriteString("gkg_id text NOT NULL,\n")
	cols.WriteString("date timestamptz,\n")
	cols.WriteString("source bigint,\n")
	cols.WriteString("source_name text,\n")
	cols.WriteString("doc_id text,\n")
	cols.WriteString("themes text[],\n")
	cols.WriteString("locations " + locationItemType + "[],\n")
	cols.WriteString("persons text[],\n")
	cols.WriteString("orgs text[],\n")
	if layout.WithCountries {
		cols.WriteString("matched_countries text[],\n")
	}
	cols.WriteString("tone double precision,\npos double precision,\nneg double precision,\n")
	cols.WriteString("polarity double precision,\nard double precision,\nsrd double precision,\nwc bigint")
	for _, code := range layout.Schema.Codes() {
		cols.WriteString(",\n" + pgx.Identifier{code}.Sanitize() + " double precision")
	}

	tbl := pgx.Identifier{table}.Sanitize()
	return []string{
		`DO $$ BEGIN
			CREATE TYPE ` + locationItemType + ` AS (
				type integer,
				full_name text,
				country_code text,
				adm1_code text,
				lat double precision,
				long double precision,
				feature_id text
			);
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$`,
		"CREATE TABLE IF NOT EXISTS " + tbl + " (\n" + cols.String() + "\n)",
		"CREATE INDEX IF NOT EXISTS " + pgx.Identifier{table + "_feed_id_idx"}.Sanitize() + " ON " + tbl + " (feed_id)",
		"CREATE INDEX IF NOT EXISTS " + pgx.Identifier{table + "_date_idx"}.Sanitize() + " ON " + tbl + " (date)",
		"CREATE TABLE IF NOT EXISTS " + pgx.Identifier{table + "_feeds"}.Sanitize() + ` (
			feed_id text PRIMARY KEY,
			row_count integer NOT NULL,
			ingested_at timestamptz NOT NULL DEFAULT now()
		)`,
	}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) ledger() string { return pgx.Identifier{p.table + "_feeds"}.Sanitize() }

func (p *Postgres) AlreadyHas(ctx context.Context, feedID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+p.ledger()+" WHERE feed_id = $1)", feedID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query ledger for %s: %w", feedID, err)
	}
	return exists, nil
}

func (p *Postgres) Ingested(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, "SELECT feed_id FROM "+p.ledger())
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Write replaces any rows already stored for the feed, copies the new rows
// and records the feed in the ledger, all in one transaction.
func (p *Postgres) Write(ctx context.Context, batch models.Batch) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrWrite, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				p.log.Warn("rollback failed", slog.String("feed", batch.Feed.ID), slog.Any("err", rbErr))
			}
		}
	}()

	tbl := pgx.Identifier{p.table}
	if _, err = tx.Exec(ctx, "DELETE FROM "+tbl.Sanitize()+" WHERE feed_id = $1", batch.Feed.ID); err != nil {
		return fmt.Errorf("%w: clear %s: %w", ErrWrite, batch.Feed.ID, err)
	}

	if len(batch.Rows) > 0 {
		rows := make([][]any, 0, len(batch.Rows))
		for _, row := range batch.Rows {
			rows = append(rows, postgresValues(p.layout, batch.Feed.ID, row))
		}
		if _, err = tx.CopyFrom(ctx, tbl, postgresColumns(p.layout), pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("%w: copy %s: %w", ErrWrite, batch.Feed.ID, err)
		}
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO "+p.ledger()+" (feed_id, row_count) VALUES ($1, $2) "+
			"ON CONFLICT (feed_id) DO UPDATE SET row_count = EXCLUDED.row_count, ingested_at = now()",
		batch.Feed.ID, len(batch.Rows))
	if err != nil {
		return fmt.Errorf("%w: ledger %s: %w", ErrWrite, batch.Feed.ID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func postgresColumns(layout processing.Layout) []string {
	cols := []string{
		"feed_id", "gkg_id", "date", "source", "source_name", "doc_id",
		"themes", "locations", "persons", "orgs",
	}
	if layout.WithCountries {
		cols = append(cols, "matched_countries")
	}
	cols = append(cols, "tone", "pos", "neg", "polarity", "ard", "srd", "wc")
	return append(cols, layout.Schema.Codes()...)
}

func postgresValues(layout processing.Layout, feedID string, row models.AlignedRow) []any {
	locs := make([]locationItem, 0, len(row.Locations))
	for _, l := range row.Locations {
		locs = append(locs, locationItem(l))
	}

	vals := []any{
		feedID,
		row.GKGID,
		row.Date,
		row.Source,
		row.SourceName,
		row.DocID,
		textArray(row.Themes),
		locs,
		textArray(row.Persons),
		textArray(row.Orgs),
	}
	if layout.WithCountries {
		vals = append(vals, textArray(row.Countries))
	}
	vals = append(vals,
		row.Tone.Tone,
		row.Tone.Positive,
		row.Tone.Negative,
		row.Tone.Polarity,
		row.Tone.ARD,
		row.Tone.SRD,
		row.Tone.WordCount,
	)
	for _, c := range row.Codes {
		vals = append(vals, codeValue(c.String, c.Valid))
	}
	return vals
}

func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// codeValue stores non-numeric slot values as NULL.
func codeValue(raw string, valid bool) any {
	if !valid {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return v
}

// locationItem encodes a LocationItem as the location_item composite.
type locationItem models.LocationItem

func (l locationItem) IsNull() bool { return false }

func (l locationItem) Index(i int) any {
	switch i {
	case 0:
		if !l.Type.Valid {
			return nil
		}
		return int32(l.Type.Int64)
	case 1:
		return nullString(l.FullName.String, l.FullName.Valid)
	case 2:
		return nullString(l.CountryCode.String, l.CountryCode.Valid)
	case 3:
		return nullString(l.ADM1Code.String, l.ADM1Code.Valid)
	case 4:
		if !l.Lat.Valid {
			return nil
		}
		return l.Lat.Float64
	case 5:
		if !l.Long.Valid {
			return nil
		}
		return l.Long.Float64
	case 6:
		return nullString(l.FeatureID.String, l.FeatureID.Valid)
	}
	return nil
}

func nullString(s string, valid bool) any {
	if !valid {
		return nil
	}
	return s
}

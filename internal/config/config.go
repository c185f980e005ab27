package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

// Sink kinds accepted by SINK_KIND and SINK_PUBLISH.
const (
	SinkCSV           = "csv"
	SinkS3            = "s3"
	SinkPostgres      = "postgres"
	SinkClickhouse    = "clickhouse"
	SinkElasticsearch = "elasticsearch"
	SinkKafka         = "kafka"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Feed selects which feed files are ingested and how their rows are shaped.
type Feed struct {
	MasterListURL     string
	MasterListCache   string
	RefreshMasterList bool
	Countries         []string
	DedupeCountries   bool
	IncludeCountries  bool
	Schema            schema.Schema
	Since             time.Time
	Until             time.Time
	Limit             int
}

// Layout is the output row layout implied by the feed settings.
func (f Feed) Layout() processing.Layout {
	return processing.Layout{Schema: f.Schema, WithCountries: f.IncludeCountries}
}

// S3 configures the S3 sink.
type S3 struct {
	Bucket           string
	Prefix           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	EnableEncryption bool
	VerifyUpload     bool
}

// Clickhouse configures the ClickHouse sink.
type Clickhouse struct {
	Addr       string
	Database   string
	Table      string
	User       string
	Password   string
	DisableTLS bool
}

// Sinks selects the primary sink and its publish targets.
type Sinks struct {
	Kind          string
	Publish       []string
	CSVDir        string
	S3            S3
	PostgresURL   string
	PostgresTable string
	Clickhouse    Clickhouse
	KafkaBrokers  []string
	KafkaTopic    string
}

// Ingest holds configuration for the ingest binary.
type Ingest struct {
	Common
	Feed           Feed
	Sinks          Sinks
	Workers        int
	FeedTimeout    time.Duration
	Interval       time.Duration
	DedupeCapacity int
	DedupeTTL      time.Duration
	MetricsAddr    string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// File is the optional TOML file named by GKG_CONFIG_FILE. Environment
// variables take precedence over its values.
type File struct {
	Countries []string `toml:"countries"`
	Codes     []string `toml:"codes"`
	Since     string   `toml:"since"`
	Until     string   `toml:"until"`
	Limit     int      `toml:"limit"`
}

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// ReadFile parses a TOML config file.
func ReadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return f, nil
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "gkg"),
	}
}

// LoadIngest builds an Ingest config from the environment and, when
// GKG_CONFIG_FILE is set, the TOML file it names.
func LoadIngest() (*Ingest, error) {
	var file File
	if path := getEnv("GKG_CONFIG_FILE", ""); path != "" {
		var err error
		if file, err = ReadFile(path); err != nil {
			return nil, err
		}
	}

	feed, err := loadFeed(file)
	if err != nil {
		return nil, err
	}
	sinks, err := loadSinks()
	if err != nil {
		return nil, err
	}

	c := &Ingest{
		Common:         loadCommon(),
		Feed:           feed,
		Sinks:          sinks,
		Workers:        getInt("INGEST_WORKERS", 4),
		FeedTimeout:    getDuration("INGEST_FEED_TIMEOUT", "5m"),
		Interval:       getDuration("INGEST_INTERVAL", "0s"),
		DedupeCapacity: getInt("INGEST_DEDUPE_CAPACITY", 100000),
		DedupeTTL:      getDuration("INGEST_DEDUPE_TTL", "24h"),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
	}

	if c.Workers <= 0 {
		return nil, fmt.Errorf("INGEST_WORKERS must be positive")
	}
	if c.FeedTimeout < 0 {
		return nil, fmt.Errorf("INGEST_FEED_TIMEOUT cannot be negative")
	}
	if c.Interval < 0 {
		return nil, fmt.Errorf("INGEST_INTERVAL cannot be negative")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("INGEST_DEDUPE_CAPACITY must be positive")
	}
	return c, nil
}

func loadFeed(file File) (Feed, error) {
	f := Feed{
		MasterListURL:     getEnv("GKG_MASTER_LIST_URL", "http://data.gdeltproject.org/gdeltv2/masterfilelist.txt"),
		MasterListCache:   getEnv("GKG_MASTER_LIST_CACHE", "masterfilelist.cache"),
		RefreshMasterList: getBool("GKG_REFRESH_MASTER_LIST", true),
		DedupeCountries:   getBool("GKG_DEDUPE_COUNTRIES", false),
		Limit:             getInt("GKG_LIMIT", file.Limit),
	}

	f.Countries = file.Countries
	if raw := getEnv("GKG_COUNTRIES", ""); raw != "" {
		f.Countries = splitAndTrim(raw)
	}
	if len(f.Countries) == 0 {
		f.Countries = []string{"NZ"}
	}
	for i, c := range f.Countries {
		f.Countries[i] = strings.ToUpper(strings.TrimSpace(c))
	}
	f.IncludeCountries = getBool("GKG_INCLUDE_COUNTRIES", len(f.Countries) > 1)

	var err error
	switch raw := getEnv("GKG_CODES", ""); {
	case raw != "":
		f.Schema, err = schema.Parse(raw)
	case len(file.Codes) > 0:
		f.Schema, err = schema.FromCodes(file.Codes)
	default:
		f.Schema = schema.Default()
	}
	if err != nil {
		return f, fmt.Errorf("GKG_CODES: %w", err)
	}

	if f.Since, err = ParseBound(getEnv("GKG_SINCE", file.Since)); err != nil {
		return f, fmt.Errorf("GKG_SINCE: %w", err)
	}
	if f.Until, err = ParseBound(getEnv("GKG_UNTIL", file.Until)); err != nil {
		return f, fmt.Errorf("GKG_UNTIL: %w", err)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return f, fmt.Errorf("GKG_UNTIL cannot be before GKG_SINCE")
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("GKG_LIMIT cannot be negative")
	}
	return f, nil
}

func loadSinks() (Sinks, error) {
	s := Sinks{
		Kind:          strings.ToLower(getEnv("SINK_KIND", SinkCSV)),
		Publish:       splitAndTrim(strings.ToLower(getEnv("SINK_PUBLISH", ""))),
		CSVDir:        getEnv("CSV_DIR", "data"),
		PostgresURL:   getEnv("POSTGRES_URL", ""),
		PostgresTable: getEnv("POSTGRES_TABLE", "gdelt_raw"),
		KafkaBrokers:  splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "gkg_articles"),
		S3: S3{
			Bucket:           getEnv("S3_BUCKET", ""),
			Prefix:           getEnv("S3_PREFIX", "gdelt"),
			Region:           getEnv("S3_REGION", "us-east-1"),
			Endpoint:         getEnv("S3_ENDPOINT", ""),
			AccessKeyID:      getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("S3_SECRET_ACCESS_KEY", ""),
			EnableEncryption: getBool("S3_ENABLE_ENCRYPTION", true),
			VerifyUpload:     getBool("S3_VERIFY_UPLOAD", true),
		},
		Clickhouse: Clickhouse{
			Addr:       getEnv("CLICKHOUSE_ADDR", "clickhouse:9000"),
			Database:   getEnv("CLICKHOUSE_DATABASE", "default"),
			Table:      getEnv("CLICKHOUSE_TABLE", "gdelt_raw"),
			User:       getEnv("CLICKHOUSE_USER", "default"),
			Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
			DisableTLS: getBool("CLICKHOUSE_DISABLE_TLS", true),
		},
	}

	switch s.Kind {
	case SinkCSV, SinkElasticsearch, SinkClickhouse:
	case SinkS3:
		if s.S3.Bucket == "" {
			return s, fmt.Errorf("S3_BUCKET is required for SINK_KIND=s3")
		}
	case SinkPostgres:
		if s.PostgresURL == "" {
			return s, fmt.Errorf("POSTGRES_URL is required for SINK_KIND=postgres")
		}
	default:
		return s, fmt.Errorf("SINK_KIND %q is not one of csv, s3, postgres, clickhouse, elasticsearch", s.Kind)
	}

	for _, p := range s.Publish {
		switch p {
		case SinkKafka:
			if len(s.KafkaBrokers) == 0 {
				return s, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
			}
		case SinkElasticsearch:
			if s.Kind == SinkElasticsearch {
				return s, fmt.Errorf("SINK_PUBLISH repeats the primary sink %q", p)
			}
		default:
			return s, fmt.Errorf("SINK_PUBLISH target %q is not one of kafka, elasticsearch", p)
		}
	}
	return s, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:      loadCommon(),
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// ParseBound parses a window bound given as a 14-digit GDELT timestamp or
// RFC3339. An empty string is the zero time.
func ParseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := processing.ParseTimestamp(raw); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("expected YYYYMMDDHHMMSS or RFC3339, got " + strconv.Quote(raw))
	}
	return ts.UTC(), nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
)

var csvObjectName = regexp.MustCompile(`(?:^|/)(\d{14})\.gkg\.csv$`)

// ObjectName is the file or object name a feed's rows are stored under.
func ObjectName(feed models.FeedReference) string {
	return feed.ID + ".gkg.csv"
}

// feedIDFromName returns the feed id of a stored object name, if any.
func feedIDFromName(name string) (string, bool) {
	m := csvObjectName.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// encodeCSV writes the header then one record per row.
func encodeCSV(w io.Writer, layout processing.Layout, batch models.Batch) error {
	header := batch.Header
	if len(header) == 0 {
		header = layout.Header()
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range batch.Rows {
		if err := cw.Write(layout.Record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Dir writes each feed to <dir>/<id>.gkg.csv, ISO-8859-1 encoded like the
// source feeds. Files appear atomically through a rename.
type Dir struct {
	dir    string
	layout processing.Layout
	log    *slog.Logger
}

// NewDir creates dir if needed.
func NewDir(dir string, layout processing.Layout, logger *slog.Logger) (*Dir, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: csv directory is empty", ErrUnsupported)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dir{dir: dir, layout: layout, log: logger}, nil
}

func (d *Dir) Name() string { return "csv" }

func (d *Dir) path(feed models.FeedReference) string {
	return filepath.Join(d.dir, ObjectName(feed))
}

func (d *Dir) AlreadyHas(_ context.Context, feedID string) (bool, error) {
	_, err := os.Stat(d.path(models.FeedReference{ID: feedID}))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", feedID, err)
	}
}

func (d *Dir) Write(_ context.Context, batch models.Batch) error {
	tmp, err := os.CreateTemp(d.dir, ".gkg-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrWrite, err)
	}
	defer os.Remove(tmp.Name())

	w := transform.NewWriter(tmp, encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()))
	if err := encodeCSV(w, d.layout, batch); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: encode %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: encode %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	if err := os.Rename(tmp.Name(), d.path(batch.Feed)); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrWrite, batch.Feed.ID, err)
	}
	d.log.Debug("wrote csv", slog.String("feed", batch.Feed.ID), slog.Int("rows", len(batch.Rows)))
	return nil
}

func (d *Dir) Ingested(_ context.Context) (map[string]struct{}, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list csv directory: %w", err)
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := feedIDFromName(e.Name()); ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (d *Dir) Close() error { return nil }

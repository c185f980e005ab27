package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

// MasterLister downloads the master list.
type MasterLister interface {
	MasterList(ctx context.Context) ([]byte, error)
}

// Source produces feed references from the master list, going through a
// local cache file of feed URLs when one is configured.
type Source struct {
	lister    MasterLister
	locator   *Locator
	cachePath string
	refresh   bool
	log       *slog.Logger
}

// NewSource builds a Source. With refresh false and an existing cache file
// at cachePath the master list is not downloaded.
func NewSource(lister MasterLister, locator *Locator, cachePath string, refresh bool, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{lister: lister, locator: locator, cachePath: cachePath, refresh: refresh, log: logger}
}

// References returns the feed references to ingest, most recent first,
// excluding ids in ingested.
func (s *Source) References(ctx context.Context, ingested map[string]struct{}) ([]models.FeedReference, error) {
	if s.cachePath != "" && !s.refresh {
		urls, err := LoadURLs(s.cachePath)
		switch {
		case err == nil:
			s.log.Info("using cached feed list", slog.String("path", s.cachePath), slog.Int("urls", len(urls)))
			return s.locator.LocateURLs(urls, ingested), nil
		case errors.Is(err, fs.ErrNotExist):
			s.log.Info("feed cache missing, fetching master list", slog.String("path", s.cachePath))
		default:
			return nil, err
		}
	}

	raw, err := s.lister.MasterList(ctx)
	if err != nil {
		return nil, err
	}
	urls, err := s.feedURLs(raw)
	if err != nil {
		return nil, err
	}

	if s.cachePath != "" {
		if err := SaveURLs(s.cachePath, urls); err != nil {
			s.log.Warn("save feed cache", slog.String("path", s.cachePath), slog.Any("err", err))
		}
	}
	return s.locator.LocateURLs(urls, ingested), nil
}

func (s *Source) feedURLs(raw []byte) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		ref, ok, err := ParseLine(sc.Text())
		if err != nil {
			s.log.Warn("skip master list line", slog.Int("line", lineNo), slog.Any("err", err))
			continue
		}
		if ok {
			urls = append(urls, ref.URL)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read master list: %w", err)
	}
	return urls, nil
}

package feed

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
)

// ErrMalformedMasterList marks a master list line that lacks the expected
// "size hash url" structure or names a feed file without a valid timestamp.
var ErrMalformedMasterList = errors.New("malformed master list line")

// Suffix identifies GKG feed files among the master list entries.
const Suffix = ".gkg.csv.zip"

var feedName = regexp.MustCompile(`^(\d{14})\.gkg\.csv\.zip$`)

// Window restricts which feed references a Locator returns. Zero values
// disable the corresponding bound.
type Window struct {
	Since time.Time
	Until time.Time
	Limit int
}

func (w Window) contains(ts time.Time) bool {
	if !w.Since.IsZero() && ts.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && ts.After(w.Until) {
		return false
	}
	return true
}

// Locator turns master list contents into ordered feed references.
// Locating has no side effects other than logging.
type Locator struct {
	window Window
	log    *slog.Logger
}

// NewLocator returns a Locator applying window to every result.
func NewLocator(window Window, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Locator{window: window, log: logger}
}

// Locate reads a master list and returns its GKG feed references,
// most recent first, without those whose id is in ingested. Malformed lines
// are logged and skipped; only a read failure is returned as an error.
func (l *Locator) Locate(r io.Reader, ingested map[string]struct{}) ([]models.FeedReference, error) {
	var refs []models.FeedReference
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		ref, ok, err := ParseLine(sc.Text())
		if err != nil {
			l.log.Warn("skip master list line", slog.Int("line", lineNo), slog.Any("err", err))
			continue
		}
		if ok {
			refs = append(refs, ref)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read master list: %w", err)
	}
	return l.Select(refs, ingested), nil
}

// LocateURLs is Locate for a plain list of feed URLs such as the cache file.
func (l *Locator) LocateURLs(urls []string, ingested map[string]struct{}) []models.FeedReference {
	refs := make([]models.FeedReference, 0, len(urls))
	for _, u := range urls {
		ref, ok, err := ParseURL(u)
		if err != nil {
			l.log.Warn("skip cached feed url", slog.String("url", u), slog.Any("err", err))
			continue
		}
		if ok {
			refs = append(refs, ref)
		}
	}
	return l.Select(refs, ingested)
}

// Select orders refs most recent first, drops duplicate ids, ids in
// ingested and timestamps outside the window, then applies the limit.
// refs is not modified.
func (l *Locator) Select(refs []models.FeedReference, ingested map[string]struct{}) []models.FeedReference {
	sorted := make([]models.FeedReference, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	out := make([]models.FeedReference, 0, len(sorted))
	seen := make(map[string]struct{}, len(sorted))
	for _, ref := range sorted {
		if _, dup := seen[ref.ID]; dup {
			continue
		}
		seen[ref.ID] = struct{}{}
		if _, done := ingested[ref.ID]; done {
			continue
		}
		if !l.window.contains(ref.Timestamp) {
			continue
		}
		out = append(out, ref)
		if l.window.Limit > 0 && len(out) == l.window.Limit {
			break
		}
	}
	return out
}

// ParseLine parses one "size hash url" master list line. ok is false for
// blank lines and entries that are not GKG feed files.
func ParseLine(line string) (models.FeedReference, bool, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return models.FeedReference{}, false, nil
	}
	if len(tokens) < 3 {
		return models.FeedReference{}, false, fmt.Errorf("%w: %d tokens in %q", ErrMalformedMasterList, len(tokens), line)
	}
	return ParseURL(tokens[2])
}

// ParseURL builds a FeedReference from a feed URL. ok is false when the URL
// does not name a GKG feed file.
func ParseURL(raw string) (models.FeedReference, bool, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, Suffix) {
		return models.FeedReference{}, false, nil
	}
	name := path.Base(raw)
	m := feedName.FindStringSubmatch(name)
	if m == nil {
		return models.FeedReference{}, false, fmt.Errorf("%w: unexpected feed name %q", ErrMalformedMasterList, name)
	}
	ts, err := processing.ParseTimestamp(m[1])
	if err != nil {
		return models.FeedReference{}, false, fmt.Errorf("%w: %w", ErrMalformedMasterList, err)
	}
	return models.FeedReference{URL: raw, Name: name, ID: m[1], Timestamp: ts}, true, nil
}

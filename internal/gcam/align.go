package gcam

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

// ErrMalformedEntry is returned for a GCAM element that is not code:value.
var ErrMalformedEntry = errors.New("malformed gcam entry")

// Parse splits a raw V2GCAM block into entries. The first element is the
// word-count pseudo-entry ("wc:N") and is not returned.
func Parse(raw string) ([]models.GCAMEntry, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	entries := make([]models.GCAMEntry, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		code, value, ok := strings.Cut(part, ":")
		if !ok || code == "" || strings.Contains(value, ":") {
			return nil, fmt.Errorf("%w: %q", ErrMalformedEntry, part)
		}
		entries = append(entries, models.GCAMEntry{Code: code, Value: value})
	}
	return entries, nil
}

// Align projects entries, sorted ascending by code, onto s with a single
// sorted merge pass. The result always has s.Len() slots; slot k holds the
// value of the entry whose code equals s.At(k), or null. Entries whose code
// is not in s are dropped, and a slot is filled at most once.
func Align(entries []models.GCAMEntry, s schema.Schema) []sql.NullString {
	m := s.Len()
	out := make([]sql.NullString, 0, m)
	i := 0
	for _, e := range entries {
		for i < m && s.At(i) < e.Code {
			out = append(out, sql.NullString{})
			i++
		}
		if i < m && s.At(i) == e.Code {
			out = append(out, sql.NullString{String: e.Value, Valid: true})
			i++
		}
	}
	for len(out) < m {
		out = append(out, sql.NullString{})
	}
	return out
}

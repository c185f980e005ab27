package location

import (
	"strings"
)

// Positions of the '#'-delimited sub-fields of a V1 location element.
const (
	fieldType = iota
	fieldFullName
	fieldCountryCode
	fieldADM1
	fieldLat
	fieldLong
	fieldFeatureID
)

// Filter decides whether a record's location field mentions a country of
// interest. It is read-only after construction and safe for concurrent use.
type Filter struct {
	countries map[string]struct{}
	dedupe    bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithDedupe reports each matched country at most once per record.
func WithDedupe(dedupe bool) Option {
	return func(f *Filter) { f.dedupe = dedupe }
}

// NewFilter builds a Filter for the given country codes. Codes are compared
// exactly, without case folding or trimming.
func NewFilter(countries []string, opts ...Option) *Filter {
	f := &Filter{countries: make(map[string]struct{}, len(countries))}
	for _, c := range countries {
		if c == "" {
			continue
		}
		f.countries[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Countries returns the number of configured countries.
func (f *Filter) Countries() int { return len(f.countries) }

// Match reports whether any location element of raw refers to a country of
// interest and returns the matched codes in encounter order. An element
// matches when its country code, or failing that its ADM1 code, is one of
// the configured countries. An empty raw field never matches.
func (f *Filter) Match(raw string) (bool, []string) {
	if raw == "" {
		return false, nil
	}

	var matched []string
	var seen map[string]struct{}
	if f.dedupe {
		seen = make(map[string]struct{}, 2)
	}

	for _, elem := range strings.Split(raw, ";") {
		code, ok := f.matchElement(elem)
		if !ok {
			continue
		}
		if seen != nil {
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
		}
		matched = append(matched, code)
	}

	return len(matched) > 0, matched
}

func (f *Filter) matchElement(elem string) (string, bool) {
	parts := strings.SplitN(elem, "#", fieldLat+1)
	for _, pos := range []int{fieldCountryCode, fieldADM1} {
		if pos >= len(parts) {
			break
		}
		if _, ok := f.countries[parts[pos]]; ok {
			return parts[pos], true
		}
	}
	return "", false
}

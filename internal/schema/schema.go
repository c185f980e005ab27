package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Schema is an immutable, strictly increasing list of GCAM code identifiers.
// It fixes the width and column order of the code block of every aligned row.
type Schema struct {
	codes []string
	index map[string]int
}

// New validates codes and builds a Schema. Codes must be non-empty and
// strictly increasing under string ordering.
func New(codes []string) (Schema, error) {
	if len(codes) == 0 {
		return Schema{}, fmt.Errorf("code schema must contain at least one code")
	}
	index := make(map[string]int, len(codes))
	for i, code := range codes {
		if code == "" {
			return Schema{}, fmt.Errorf("code schema entry %d is empty", i)
		}
		if i > 0 && codes[i-1] >= code {
			return Schema{}, fmt.Errorf("code schema not strictly increasing at %d: %q >= %q", i, codes[i-1], code)
		}
		index[code] = i
	}
	out := make([]string, len(codes))
	copy(out, codes)
	return Schema{codes: out, index: index}, nil
}

// FromCodes sorts and de-duplicates codes before building a Schema.
func FromCodes(codes []string) (Schema, error) {
	set := make(map[string]struct{}, len(codes))
	uniq := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, ok := set[code]; ok {
			continue
		}
		set[code] = struct{}{}
		uniq = append(uniq, code)
	}
	sort.Strings(uniq)
	return New(uniq)
}

// Parse reads a comma separated code list, e.g. "c3.1,c3.2,c7.1".
func Parse(raw string) (Schema, error) {
	return FromCodes(strings.Split(raw, ","))
}

// Default returns the codes ingested into the gdelt_raw table: Lexicoder
// sentiment and topics, financial stability and sentiment, opinion
// observer and SentiWord measures.
func Default() Schema {
	codes := []string{"c3.1", "c3.2"}
	for i := 1; i <= 28; i++ {
		codes = append(codes, "c4."+strconv.Itoa(i))
	}
	codes = append(codes,
		"c41.1", "c41.2", "c41.3",
		"c6.4", "c6.5", "c6.6",
		"c7.1", "c7.2",
		"v10.1", "v10.2", "v11.1",
	)
	s, err := FromCodes(codes)
	if err != nil {
		panic(err)
	}
	return s
}

// Len is the number of code slots.
func (s Schema) Len() int { return len(s.codes) }

// At returns the code at position i.
func (s Schema) At(i int) string { return s.codes[i] }

// Codes returns a copy of the ordered codes.
func (s Schema) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

// Index reports the slot of code, if the schema has one.
func (s Schema) Index(code string) (int, bool) {
	i, ok := s.index[code]
	return i, ok
}

func (s Schema) String() string {
	return strings.Join(s.codes, ",")
}

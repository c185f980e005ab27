package schema_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

func TestNewRejectsInvalidSchemas(t *testing.T) {
	tests := []struct {
		name  string
		codes []string
	}{
		{name: "empty", codes: nil},
		{name: "blank entry", codes: []string{"c3.1", ""}},
		{name: "duplicate", codes: []string{"c3.1", "c3.1"}},
		{name: "unsorted", codes: []string{"c3.2", "c3.1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.New(tt.codes)
			require.Error(t, err)
		})
	}
}

func TestNewCopiesInput(t *testing.T) {
	codes := []string{"c3.1", "c3.2"}
	s, err := schema.New(codes)
	require.NoError(t, err)

	codes[0] = "zzz"
	require.Equal(t, "c3.1", s.At(0))

	out := s.Codes()
	out[1] = "zzz"
	require.Equal(t, "c3.2", s.At(1))
}

func TestFromCodesSortsAndDeduplicates(t *testing.T) {
	s, err := schema.FromCodes([]string{"c7.1", " c3.1", "c3.1", "", "c4.10", "c4.2"})
	require.NoError(t, err)
	require.Equal(t, []string{"c3.1", "c4.10", "c4.2", "c7.1"}, s.Codes())

	i, ok := s.Index("c4.2")
	require.True(t, ok)
	require.Equal(t, 2, i)

	_, ok = s.Index("c9.9")
	require.False(t, ok)
}

func TestParse(t *testing.T) {
	s, err := schema.Parse("c3.2,c3.1,c7.1")
	require.NoError(t, err)
	require.Equal(t, "c3.1,c3.2,c7.1", s.String())
	require.Equal(t, 3, s.Len())

	_, err = schema.Parse(" , ")
	require.Error(t, err)
}

func TestDefaultIsStrictlySorted(t *testing.T) {
	s := schema.Default()
	codes := s.Codes()

	require.Equal(t, 41, s.Len())
	require.True(t, sort.StringsAreSorted(codes))
	require.Equal(t, "c3.1", codes[0])
	require.Equal(t, "v11.1", codes[len(codes)-1])
	for i := 1; i < len(codes); i++ {
		require.Less(t, codes[i-1], codes[i])
	}
}

package location_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name      string
		countries []string
		raw       string
		accepted  bool
		matched   []string
	}{
		{
			name:      "empty field rejected",
			countries: []string{"NZ", "AS"},
			raw:       "",
		},
		{
			name:      "country code match",
			countries: []string{"AS"},
			raw:       "1#Auckland#NZ#..#...;2#Sydney#AS#..",
			accepted:  true,
			matched:   []string{"AS"},
		},
		{
			name:      "no country of interest",
			countries: []string{"CA"},
			raw:       "1#New Zealand#NZ#NZ#-41#174#NZ;1#Australia#AS#AS#-25#135#AS",
		},
		{
			name:      "encounter order with duplicates",
			countries: []string{"NZ", "AS"},
			raw:       "1#Australia#AS#AS#-25#135#AS;4#Wellington, Wellington, New Zealand#NZ#NZG2#-41.3#174.78#-1521348;1#Australia#AS#AS#-25#135#AS",
			accepted:  true,
			matched:   []string{"AS", "NZ", "AS"},
		},
		{
			name:      "adm1 position match",
			countries: []string{"UK"},
			raw:       "1#United Kingdom##UK#54#-2#UK",
			accepted:  true,
			matched:   []string{"UK"},
		},
		{
			name:      "case sensitive",
			countries: []string{"nz"},
			raw:       "1#New Zealand#NZ#NZ#-41#174#NZ",
		},
		{
			name:      "short elements tolerated",
			countries: []string{"NZ"},
			raw:       "1#Somewhere;;2#Auckland#NZ",
			accepted:  true,
			matched:   []string{"NZ"},
		},
		{
			name:      "semicolons only",
			countries: []string{"NZ"},
			raw:       ";;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := location.NewFilter(tt.countries)
			accepted, matched := f.Match(tt.raw)
			require.Equal(t, tt.accepted, accepted)
			require.Equal(t, tt.matched, matched)
		})
	}
}

func TestMatchDedupe(t *testing.T) {
	f := location.NewFilter([]string{"NZ", "AS"}, location.WithDedupe(true))
	accepted, matched := f.Match("1#Australia#AS#AS#-25#135#AS;1#New Zealand#NZ#NZ#-41#174#NZ;4#Sydney, New South Wales, Australia#AS#AS02#-33.88#151.2#-1603135")
	require.True(t, accepted)
	require.Equal(t, []string{"AS", "NZ"}, matched)
}

func TestNewFilterIgnoresEmptyCountry(t *testing.T) {
	f := location.NewFilter([]string{"", "NZ"})
	require.Equal(t, 1, f.Countries())

	accepted, _ := f.Match("1#Nowhere###0#0#")
	require.False(t, accepted)
}

func TestParseItems(t *testing.T) {
	items := location.ParseItems("1#Australia#AS#AS#-25#135#AS;;4#Sydney, New South Wales, Australia#AS#AS02#-33.8833#151.217#-1603135;2#Bad#NZ##x#")
	require.Len(t, items, 3)

	require.Equal(t, models.LocationItem{
		Type:        sql.NullInt64{Int64: 1, Valid: true},
		FullName:    sql.NullString{String: "Australia", Valid: true},
		CountryCode: sql.NullString{String: "AS", Valid: true},
		ADM1Code:    sql.NullString{String: "AS", Valid: true},
		Lat:         sql.NullFloat64{Float64: -25, Valid: true},
		Long:        sql.NullFloat64{Float64: 135, Valid: true},
		FeatureID:   sql.NullString{String: "AS", Valid: true},
	}, items[0])

	require.Equal(t, "AS02", items[1].ADM1Code.String)
	require.InDelta(t, -33.8833, items[1].Lat.Float64, 1e-9)

	bad := items[2]
	require.Equal(t, int64(2), bad.Type.Int64)
	require.False(t, bad.ADM1Code.Valid)
	require.False(t, bad.Lat.Valid)
	require.False(t, bad.Long.Valid)
	require.False(t, bad.FeatureID.Valid)

	require.Nil(t, location.ParseItems(""))
}

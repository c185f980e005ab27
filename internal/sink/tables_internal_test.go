package sink

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

func internalLayout(t *testing.T, withCountries bool) processing.Layout {
	t.Helper()
	s, err := schema.New([]string{"c3.1", "v10.1"})
	require.NoError(t, err)
	return processing.Layout{Schema: s, WithCountries: withCountries}
}

func sampleRow() models.AlignedRow {
	return models.AlignedRow{
		GKGID:  "1",
		Source: sql.NullInt64{Int64: 1, Valid: true},
		Locations: []models.LocationItem{{
			Type:        sql.NullInt64{Int64: 4, Valid: true},
			FullName:    sql.NullString{String: "Sydney", Valid: true},
			CountryCode: sql.NullString{String: "AS", Valid: true},
		}},
		Countries: []string{"AS"},
		Tone:      models.Tone{Tone: sql.NullFloat64{Float64: -2, Valid: true}},
		Codes:     []sql.NullString{{String: "0.25", Valid: true}, {String: "oops", Valid: true}},
	}
}

func TestPostgresColumnsMatchValues(t *testing.T) {
	for _, withCountries := range []bool{false, true} {
		layout := internalLayout(t, withCountries)
		cols := postgresColumns(layout)
		vals := postgresValues(layout, "20200905031500", sampleRow())
		require.Len(t, vals, len(cols))
		require.Equal(t, "20200905031500", vals[0])
		require.Equal(t, 0.25, vals[len(vals)-2])
		require.Nil(t, vals[len(vals)-1])
		require.Equal(t, "v10.1", cols[len(cols)-1])
	}
}

func TestPostgresMigrationsQuoteCodeColumns(t *testing.T) {
	stmts := postgresMigrations("gdelt_raw", internalLayout(t, true))
	require.Len(t, stmts, 5)
	require.Contains(t, stmts[0], "CREATE TYPE location_item")
	require.Contains(t, stmts[1], `"c3.1" double precision`)
	require.Contains(t, stmts[1], "matched_countries text[]")
	require.Contains(t, stmts[1], "locations location_item[]")
	require.Contains(t, stmts[4], `"gdelt_raw_feeds"`)
}

func TestLocationItemComposite(t *testing.T) {
	item := locationItem(sampleRow().Locations[0])
	require.False(t, item.IsNull())
	require.Equal(t, int32(4), item.Index(0))
	require.Equal(t, "Sydney", item.Index(1))
	require.Equal(t, "AS", item.Index(2))
	require.Nil(t, item.Index(3))
	require.Nil(t, item.Index(4))
	require.Nil(t, item.Index(6))
}

func TestClickhouseColumnsMatchValues(t *testing.T) {
	for _, withCountries := range []bool{false, true} {
		layout := internalLayout(t, withCountries)
		stmts := clickhouseMigrations("`default`.`gdelt_raw`", "`default`.`gdelt_raw_feeds`", layout)
		require.Len(t, stmts, 2)

		body := stmts[0][strings.Index(stmts[0], "(\n\t")+3 : strings.Index(stmts[0], "\n) ENGINE")]
		cols := strings.Split(body, ",\n\t")
		vals := clickhouseValues(layout, "20200905031500", sampleRow())
		require.Len(t, vals, len(cols))
		require.Contains(t, stmts[0], "`c3.1` Nullable(Float64)")

		first := vals[len(vals)-2].(*float64)
		require.Equal(t, 0.25, *first)
		require.Nil(t, vals[len(vals)-1].(*float64))
	}
}

func TestObjectNames(t *testing.T) {
	id, ok := feedIDFromName("prefix/20200905031500.gkg.csv")
	require.True(t, ok)
	require.Equal(t, "20200905031500", id)

	_, ok = feedIDFromName("20200905031500.gkg.csv.zip")
	require.False(t, ok)
	_, ok = feedIDFromName("x20200905031500.gkg.csv")
	require.False(t, ok)
}

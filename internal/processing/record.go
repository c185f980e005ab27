package processing

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

var (
	articleColumns = []string{
		"gkg_id", "date", "source", "source_name", "doc_id",
		"themes", "locations", "persons", "orgs",
	}
	countriesColumn = "matched_countries"
	toneColumns     = []string{"tone", "pos", "neg", "polarity", "ard", "srd", "wc"}
)

// Layout describes the columns of an output row.
type Layout struct {
	Schema        schema.Schema
	WithCountries bool
}

// Header returns the output column names: article fields, the optional
// matched countries, the tone fields, then one column per schema code.
func (l Layout) Header() []string {
	out := make([]string, 0, l.Width())
	out = append(out, articleColumns...)
	if l.WithCountries {
		out = append(out, countriesColumn)
	}
	out = append(out, toneColumns...)
	return append(out, l.Schema.Codes()...)
}

// Width is the number of columns in Header.
func (l Layout) Width() int {
	w := len(articleColumns) + len(toneColumns) + l.Schema.Len()
	if l.WithCountries {
		w++
	}
	return w
}

// Record renders row as strings in Header order; nulls become "".
func (l Layout) Record(row models.AlignedRow) []string {
	out := make([]string, 0, l.Width())
	date := ""
	if row.Date.Valid {
		date = row.Date.Time.UTC().Format(TimestampLayout)
	}
	out = append(out,
		row.GKGID,
		date,
		formatInt(row.Source),
		row.SourceName,
		row.DocID,
		strings.Join(row.Themes, ";"),
		row.RawLocations,
		strings.Join(row.Persons, ";"),
		strings.Join(row.Orgs, ";"),
	)
	if l.WithCountries {
		out = append(out, strings.Join(row.Countries, ";"))
	}
	out = append(out,
		formatFloat(row.Tone.Tone),
		formatFloat(row.Tone.Positive),
		formatFloat(row.Tone.Negative),
		formatFloat(row.Tone.Polarity),
		formatFloat(row.Tone.ARD),
		formatFloat(row.Tone.SRD),
		formatInt(row.Tone.WordCount),
	)
	for _, c := range row.Codes {
		out = append(out, c.String)
	}
	return out
}

// Document converts row into its JSON document form. Code slots that are
// null or not numeric are left out of the GCAM map.
func (l Layout) Document(feedID string, row models.AlignedRow) models.ArticleDocument {
	doc := models.ArticleDocument{
		FeedID:     feedID,
		GKGID:      row.GKGID,
		SourceName: row.SourceName,
		DocID:      row.DocID,
		Themes:     nonNil(row.Themes),
		Persons:    nonNil(row.Persons),
		Orgs:       nonNil(row.Orgs),
		Countries:  nonNil(row.Countries),
		Locations:  make([]models.LocationDocument, 0, len(row.Locations)),
		GCAM:       make(map[string]float64),
		Tone: models.ToneDocument{
			Tone:      floatPtr(row.Tone.Tone),
			Positive:  floatPtr(row.Tone.Positive),
			Negative:  floatPtr(row.Tone.Negative),
			Polarity:  floatPtr(row.Tone.Polarity),
			ARD:       floatPtr(row.Tone.ARD),
			SRD:       floatPtr(row.Tone.SRD),
			WordCount: intPtr(row.Tone.WordCount),
		},
	}
	if row.Date.Valid {
		ts := row.Date.Time.UTC()
		doc.Date = &ts
	}
	doc.Source = intPtr(row.Source)

	for _, loc := range row.Locations {
		doc.Locations = append(doc.Locations, models.LocationDocument{
			Type:        intPtr(loc.Type),
			FullName:    loc.FullName.String,
			CountryCode: loc.CountryCode.String,
			ADM1Code:    loc.ADM1Code.String,
			Lat:         floatPtr(loc.Lat),
			Long:        floatPtr(loc.Long),
			FeatureID:   loc.FeatureID.String,
		})
	}

	for i, c := range row.Codes {
		if !c.Valid || i >= l.Schema.Len() {
			continue
		}
		v, err := strconv.ParseFloat(c.String, 64)
		if err != nil {
			continue
		}
		doc.GCAM[l.Schema.At(i)] = v
	}
	return doc
}

func formatInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func formatFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

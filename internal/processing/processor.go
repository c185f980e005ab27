package processing

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

// Positions of the GKG 2.1 tab-delimited fields used by the aligned row.
const (
	FieldGKGID      = 0
	FieldDate       = 1
	FieldSource     = 2
	FieldSourceName = 3
	FieldDocID      = 4
	FieldThemes     = 7
	FieldLocations  = 9
	FieldPersons    = 11
	FieldOrgs       = 13
	FieldTone       = 15
	FieldGCAM       = 17
)

// MinFields is the fewest fields a line may have before it is dropped.
const MinFields = 10

// TimestampLayout is the GDELT YYYYMMDDHHMMSS layout.
const TimestampLayout = "20060102150405"

// Field returns fields[i], or "" when the line is too short.
func Field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// BuildRow assembles an aligned row from the raw fields of an accepted
// record, the countries it matched and its aligned code block.
func BuildRow(fields []string, countries []string, codes []sql.NullString) models.AlignedRow {
	rawLocations := Field(fields, FieldLocations)
	return models.AlignedRow{
		GKGID:        Field(fields, FieldGKGID),
		Date:         nullTime(Field(fields, FieldDate)),
		Source:       nullInt(Field(fields, FieldSource)),
		SourceName:   Field(fields, FieldSourceName),
		DocID:        Field(fields, FieldDocID),
		Themes:       SplitList(Field(fields, FieldThemes)),
		Locations:    location.ParseItems(rawLocations),
		RawLocations: rawLocations,
		Persons:      SplitList(Field(fields, FieldPersons)),
		Orgs:         SplitList(Field(fields, FieldOrgs)),
		Countries:    countries,
		Tone:         ParseTone(Field(fields, FieldTone)),
		Codes:        codes,
	}
}

// ParseTimestamp parses a 14-digit GDELT timestamp as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != len(TimestampLayout) {
		return time.Time{}, fmt.Errorf("timestamp %q is not 14 digits", raw)
	}
	ts, err := time.Parse(TimestampLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts, nil
}

// ParseTone splits the V1.5TONE block: tone, positive, negative, polarity,
// activity reference density, self/group reference density, word count.
func ParseTone(raw string) models.Tone {
	parts := strings.Split(raw, ",")
	get := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return models.Tone{
		Tone:      nullFloat(get(0)),
		Positive:  nullFloat(get(1)),
		Negative:  nullFloat(get(2)),
		Polarity:  nullFloat(get(3)),
		ARD:       nullFloat(get(4)),
		SRD:       nullFloat(get(5)),
		WordCount: nullInt(get(6)),
	}
}

// SplitList splits a ';'-delimited list, dropping empty items.
func SplitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nullTime(raw string) sql.NullTime {
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts, Valid: true}
}

func nullInt(raw string) sql.NullInt64 {
	if raw == "" {
		return sql.NullInt64{}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullFloat(raw string) sql.NullFloat64 {
	if raw == "" {
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

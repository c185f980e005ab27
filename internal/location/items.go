package location

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

// ParseItems splits a raw V1 location field into typed items. Missing or
// unparsable sub-fields are left null; empty elements are skipped.
func ParseItems(raw string) []models.LocationItem {
	if raw == "" {
		return nil
	}
	elems := strings.Split(raw, ";")
	items := make([]models.LocationItem, 0, len(elems))
	for _, elem := range elems {
		if elem == "" {
			continue
		}
		items = append(items, ParseItem(elem))
	}
	return items
}

// ParseItem parses one '#'-delimited location element.
func ParseItem(elem string) models.LocationItem {
	parts := strings.Split(elem, "#")
	get := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}
	return models.LocationItem{
		Type:        nullInt(get(fieldType)),
		FullName:    nullString(get(fieldFullName)),
		CountryCode: nullString(get(fieldCountryCode)),
		ADM1Code:    nullString(get(fieldADM1)),
		Lat:         nullFloat(get(fieldLat)),
		Long:        nullFloat(get(fieldLong)),
		FeatureID:   nullString(get(fieldFeatureID)),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(s string) sql.NullInt64 {
	if s == "" {
		return sql.NullInt64{}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullFloat(s string) sql.NullFloat64 {
	if s == "" {
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

package models

import (
	"database/sql"
	"time"
)

// FeedReference identifies one remote GKG feed file.
type FeedReference struct {
	URL       string
	Name      string
	ID        string // 14-digit YYYYMMDDHHMMSS taken from Name
	Timestamp time.Time
}

// CSVName is the name of the decompressed entry, e.g. 20200905031500.gkg.csv.
func (f FeedReference) CSVName() string {
	if len(f.Name) > 4 && f.Name[len(f.Name)-4:] == ".zip" {
		return f.Name[:len(f.Name)-4]
	}
	return f.ID + ".gkg.csv"
}

// LocationItem is one '#'-delimited element of the V1 location field.
type LocationItem struct {
	Type        sql.NullInt64
	FullName    sql.NullString
	CountryCode sql.NullString
	ADM1Code    sql.NullString
	Lat         sql.NullFloat64
	Long        sql.NullFloat64
	FeatureID   sql.NullString
}

// GCAMEntry is one code:value pair of the GCAM block.
type GCAMEntry struct {
	Code  string
	Value string
}

// Tone holds the V1.5TONE sub-fields.
type Tone struct {
	Tone      sql.NullFloat64
	Positive  sql.NullFloat64
	Negative  sql.NullFloat64
	Polarity  sql.NullFloat64
	ARD       sql.NullFloat64
	SRD       sql.NullFloat64
	WordCount sql.NullInt64
}

// AlignedRow is a decoded record with its GCAM block projected onto a code schema.
// Codes always has exactly one slot per schema entry.
type AlignedRow struct {
	GKGID        string
	Date         sql.NullTime
	Source       sql.NullInt64
	SourceName   string
	DocID        string
	Themes       []string
	Locations    []LocationItem
	RawLocations string
	Persons      []string
	Orgs         []string
	Countries    []string
	Tone         Tone
	Codes        []sql.NullString
}

// Batch is every aligned row decoded from one feed file.
type Batch struct {
	Feed   FeedReference
	Header []string
	Rows   []AlignedRow
}

// ArticleDocument is the JSON form of an aligned row used by document sinks.
type ArticleDocument struct {
	FeedID     string             `json:"feed_id"`
	GKGID      string             `json:"gkg_id"`
	Date       *time.Time         `json:"date,omitempty"`
	Source     *int64             `json:"source,omitempty"`
	SourceName string             `json:"source_name"`
	DocID      string             `json:"doc_id"`
	Themes     []string           `json:"themes"`
	Locations  []LocationDocument `json:"locations"`
	Persons    []string           `json:"persons"`
	Orgs       []string           `json:"orgs"`
	Countries  []string           `json:"countries"`
	Tone       ToneDocument       `json:"tone"`
	GCAM       map[string]float64 `json:"gcam"`
}

// LocationDocument is the JSON form of a LocationItem.
type LocationDocument struct {
	Type        *int64   `json:"type,omitempty"`
	FullName    string   `json:"full_name,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	ADM1Code    string   `json:"adm1_code,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Long        *float64 `json:"long,omitempty"`
	FeatureID   string   `json:"feature_id,omitempty"`
}

// ToneDocument is the JSON form of Tone.
type ToneDocument struct {
	Tone      *float64 `json:"tone,omitempty"`
	Positive  *float64 `json:"pos,omitempty"`
	Negative  *float64 `json:"neg,omitempty"`
	Polarity  *float64 `json:"polarity,omitempty"`
	ARD       *float64 `json:"ard,omitempty"`
	SRD       *float64 `json:"srd,omitempty"`
	WordCount *int64   `json:"wc,omitempty"`
}

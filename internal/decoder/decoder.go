package decoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"

	"github.com/xaviermiles/web-sentiment-analysis/internal/gcam"
	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
	"github.com/xaviermiles/web-sentiment-analysis/internal/processing"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

var (
	// ErrArchive means the feed bytes are not a zip archive holding exactly one file.
	ErrArchive = errors.New("archive error")
	// ErrDecodeFailed means reading or parsing the archive entry failed part way.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrConsumed is yielded when a row sequence is iterated a second time.
	ErrConsumed = errors.New("rows already consumed")
)

const ctxCheckEvery = 256

// Decoder turns compressed GKG feed files into aligned rows. It holds only
// read-only configuration and may be shared between goroutines.
type Decoder struct {
	filter *location.Filter
	schema schema.Schema
}

// New builds a Decoder that keeps records matching filter and aligns their
// GCAM blocks onto s.
func New(filter *location.Filter, s schema.Schema) *Decoder {
	return &Decoder{filter: filter, schema: s}
}

// Schema returns the code schema rows are aligned to.
func (d *Decoder) Schema() schema.Schema { return d.schema }

// Decode opens raw as a single-entry zip archive and returns a lazy sequence
// of the rows it contains. Archive problems are reported immediately as
// ErrArchive; problems found while reading are yielded once as
// ErrDecodeFailed and end the sequence. The sequence can be ranged over once.
func (d *Decoder) Decode(ctx context.Context, raw []byte) (iter.Seq2[models.AlignedRow, error], error) {
	entry, err := openEntry(raw)
	if err != nil {
		return nil, err
	}

	var used atomic.Bool
	return func(yield func(models.AlignedRow, error) bool) {
		if used.Swap(true) {
			yield(models.AlignedRow{}, ErrConsumed)
			return
		}

		rc, err := entry.Open()
		if err != nil {
			yield(models.AlignedRow{}, fmt.Errorf("%w: open %s: %v", ErrArchive, entry.Name, err))
			return
		}
		defer rc.Close()

		br := bufio.NewReaderSize(charmap.ISO8859_1.NewDecoder().Reader(rc), 64<<10)
		lineNo := 0
		for {
			line, readErr := br.ReadString('\n')
			if line != "" {
				lineNo++
				if lineNo%ctxCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						yield(models.AlignedRow{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err))
						return
					}
				}

				row, ok, err := d.decodeLine(line)
				if err != nil {
					yield(models.AlignedRow{}, fmt.Errorf("%w: line %d: %w", ErrDecodeFailed, lineNo, err))
					return
				}
				if ok && !yield(row, nil) {
					return
				}
			}
			if readErr == io.EOF {
				return
			}
			if readErr != nil {
				yield(models.AlignedRow{}, fmt.Errorf("%w: read %s: %w", ErrDecodeFailed, entry.Name, readErr))
				return
			}
		}
	}, nil
}

// DecodeAll decodes raw and collects every row. On any failure no rows are
// returned.
func (d *Decoder) DecodeAll(ctx context.Context, raw []byte) ([]models.AlignedRow, error) {
	seq, err := d.Decode(ctx, raw)
	if err != nil {
		return nil, err
	}
	return Collect(seq)
}

// Collect drains seq, returning nil rows if it yields an error.
func Collect(seq iter.Seq2[models.AlignedRow, error]) ([]models.AlignedRow, error) {
	var rows []models.AlignedRow
	for row, err := range seq {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeLine returns ok=false for lines that are dropped: too few fields or
// no location of interest.
func (d *Decoder) decodeLine(line string) (models.AlignedRow, bool, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, "\t")
	if len(fields) < processing.MinFields {
		return models.AlignedRow{}, false, nil
	}

	accepted, countries := d.filter.Match(fields[processing.FieldLocations])
	if !accepted {
		return models.AlignedRow{}, false, nil
	}

	entries, err := gcam.Parse(processing.Field(fields, processing.FieldGCAM))
	if err != nil {
		return models.AlignedRow{}, false, err
	}
	codes := gcam.Align(entries, d.schema)

	return processing.BuildRow(fields, countries, codes), true, nil
}

func openEntry(raw []byte) (*zip.File, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if entry != nil {
			return nil, fmt.Errorf("%w: unexpected entries %q and %q", ErrArchive, entry.Name, f.Name)
		}
		entry = f
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: archive has no entries", ErrArchive)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrArchive, entry.Name, err)
	}
	rc.Close()
	return entry, nil
}

package decoder_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/xaviermiles/web-sentiment-analysis/internal/decoder"
	"github.com/xaviermiles/web-sentiment-analysis/internal/location"
	"github.com/xaviermiles/web-sentiment-analysis/internal/schema"
)

// gkgLine builds a 27-field GKG 2.1 line.
func gkgLine(id, sourceName, locations, tone, gcam string) string {
	fields := make([]string, 27)
	fields[0] = id
	fields[1] = "20200905031500"
	fields[2] = "1"
	fields[3] = sourceName
	fields[4] = "https://example.com/" + id
	fields[7] = "TAX_FNCACT;"
	fields[9] = locations
	fields[15] = tone
	fields[17] = gcam
	return strings.Join(fields, "\t")
}

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func feedZip(t *testing.T, lines ...string) []byte {
	t.Helper()
	return zipBytes(t, map[string][]byte{
		"20200905031500.gkg.csv": []byte(strings.Join(lines, "\n") + "\n"),
	})
}

func newDecoder(t *testing.T, countries []string, codes ...string) *decoder.Decoder {
	t.Helper()
	s, err := schema.New(codes)
	require.NoError(t, err)
	return decoder.New(location.NewFilter(countries), s)
}

func TestDecodeEndToEnd(t *testing.T) {
	short := strings.Join([]string{"a", "b", "c", "d", "e", "f", "g", "h"}, "\t")
	noMatch := gkgLine("2", "nzherald.co.nz", "1#New Zealand#NZ#NZ#-41#174#NZ", "1,2,3,4,5,6,7", "wc:10,c3.1:1")
	match := gkgLine("3", "smh.com.au", "1#Australia#AS#AS#-25#135#AS", "-1.5,2,3.5,5.5,20,0.5,120", "wc:120,c3.1:0.2,c7.1:1.0")

	d := newDecoder(t, []string{"AS"}, "c3.1", "c3.2", "c7.1")
	rows, err := d.DecodeAll(context.Background(), feedZip(t, short, noMatch, match))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, "3", row.GKGID)
	require.Equal(t, []string{"AS"}, row.Countries)
	require.Equal(t, []sql.NullString{
		{String: "0.2", Valid: true},
		{},
		{String: "1.0", Valid: true},
	}, row.Codes)
	require.Equal(t, int64(120), row.Tone.WordCount.Int64)
	require.Equal(t, []string{"TAX_FNCACT"}, row.Themes)
}

func TestDecodeLatin1(t *testing.T) {
	line := gkgLine("1", "lemonde.fr", "1#France#FR#FR#46#2#FR", "", "wc:1")
	content := []byte(line)
	content = bytes.Replace(content, []byte("lemonde.fr"), []byte{'c', 'a', 'f', 0xE9, 0xFF, 0x80}, 1)

	d := newDecoder(t, []string{"FR"}, "c3.1")
	rows, err := d.DecodeAll(context.Background(), zipBytes(t, map[string][]byte{"x.gkg.csv": content}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "caféÿ\u0080", rows[0].SourceName)
}

func TestDecodeCRLF(t *testing.T) {
	line := gkgLine("1", "abc.net.au", "1#Australia#AS#AS#-25#135#AS", "", "wc:3,c3.2:4")
	raw := zipBytes(t, map[string][]byte{"x.gkg.csv": []byte(line + "\r\n")})

	d := newDecoder(t, []string{"AS"}, "c3.1", "c3.2")
	rows, err := d.DecodeAll(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "4", rows[0].Codes[1].String)
}

func TestDecodeArchiveErrors(t *testing.T) {
	d := newDecoder(t, []string{"AS"}, "c3.1")

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "not a zip", raw: []byte("this is not an archive")},
		{name: "empty bytes", raw: nil},
		{name: "no entries", raw: zipBytes(t, map[string][]byte{})},
		{name: "two entries", raw: zipBytes(t, map[string][]byte{"a.csv": []byte("x"), "b.csv": []byte("y")})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := d.Decode(context.Background(), tt.raw)
			require.ErrorIs(t, err, decoder.ErrArchive)
			require.Nil(t, seq)

			rows, err := d.DecodeAll(context.Background(), tt.raw)
			require.ErrorIs(t, err, decoder.ErrArchive)
			require.Empty(t, rows)
		})
	}
}

func TestDecodeFailureDiscardsRows(t *testing.T) {
	good := gkgLine("1", "a", "1#Australia#AS#AS#-25#135#AS", "", "wc:1,c3.1:1")
	bad := gkgLine("2", "b", "1#Australia#AS#AS#-25#135#AS", "", "wc:1,c3.1")

	d := newDecoder(t, []string{"AS"}, "c3.1")
	rows, err := d.DecodeAll(context.Background(), feedZip(t, good, bad))
	require.ErrorIs(t, err, decoder.ErrDecodeFailed)
	require.Nil(t, rows)
}

func TestDecodeMalformedGCAMOnRejectedLineIgnored(t *testing.T) {
	rejected := gkgLine("1", "a", "1#New Zealand#NZ#NZ#-41#174#NZ", "", "wc:1,c3.1")

	d := newDecoder(t, []string{"AS"}, "c3.1")
	rows, err := d.DecodeAll(context.Background(), feedZip(t, rejected))
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDecodeSequenceIsSingleUse(t *testing.T) {
	line := gkgLine("1", "a", "1#Australia#AS#AS#-25#135#AS", "", "wc:1,c3.1:1")

	d := newDecoder(t, []string{"AS"}, "c3.1")
	seq, err := d.Decode(context.Background(), feedZip(t, line, line))
	require.NoError(t, err)

	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
		break
	}
	require.Equal(t, 1, count)

	_, err = decoder.Collect(seq)
	require.ErrorIs(t, err, decoder.ErrConsumed)
}

func TestDecodeCanceled(t *testing.T) {
	line := gkgLine("1", "a", "1#Australia#AS#AS#-25#135#AS", "", "wc:1,c3.1:1")
	lines := make([]string, 600)
	for i := range lines {
		lines[i] = line
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDecoder(t, []string{"AS"}, "c3.1")
	rows, err := d.DecodeAll(ctx, feedZip(t, lines...))
	require.ErrorIs(t, err, decoder.ErrDecodeFailed)
	require.True(t, errors.Is(err, context.Canceled))
	require.Nil(t, rows)
}

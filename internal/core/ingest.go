package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// MaxHeaderSearchRows is the maximum number of rows to scan for the header.
var MaxHeaderSearchRows = 20

// ErrHeaderNotFound is returned when no header row names the business key.
var ErrHeaderNotFound = errors.New("csv header row not found")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV reads a CSV document into a Batch. The header is the first row,
// among the first MaxHeaderSearchRows, that names the schema's business
// key. Blank rows are skipped, blank cells become null, and cells past the
// header width are kept as _extra_N fields so nothing is dropped.
func ReadCSV(r io.Reader, source string, schema *Schema) (Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", source, err)
	}
	data = sanitizeUTF8(bytes.TrimPrefix(data, utf8BOM))

	records, err := parseCSV(data)
	if err != nil {
		return Batch{}, fmt.Errorf("parse %s: %w", source, err)
	}

	headerRow := findHeader(records, schema.Roles.OrderID)
	if headerRow < 0 {
		return Batch{}, errors.Wrapf(ErrHeaderNotFound, "%s: no row in the first %d names %q",
			source, MaxHeaderSearchRows, schema.Roles.OrderID)
	}

	header := make([]string, len(records[headerRow]))
	for i, h := range records[headerRow] {
		header[i] = CleanCell(h)
	}
	warnHeaderMismatch(source, schema, header)

	batch := Batch{Source: source}
	for _, rec := range records[headerRow+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make(RawRow, 0, max(len(header), len(rec)))
		for i, name := range header {
			var v any
			if i < len(rec) && strings.TrimSpace(rec[i]) != "" {
				v = rec[i]
			}
			row = append(row, Field{Name: name, Value: v})
		}
		for i := len(header); i < len(rec); i++ {
			row = append(row, Field{Name: fmt.Sprintf("_extra_%d", i-len(header)+1), Value: rec[i]})
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch, nil
}

func warnHeaderMismatch(source string, schema *Schema, header []string) {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.ToLower(h)] = true
	}

	var missing, extra []string
	for _, f := range schema.Fields {
		if !seen[strings.ToLower(f.Name)] {
			missing = append(missing, f.Name)
		}
	}
	for _, h := range header {
		if _, ok := schema.Spec(h); !ok {
			extra = append(extra, h)
		}
	}

	if len(missing) > 0 {
		slog.Warn("csv is missing schema columns; affected records will be routed to exceptions",
			"source", source, "missing", missing)
	}
	if len(extra) > 0 {
		slog.Info("csv has extra columns; kept in raw payload only", "source", source, "extra", extra)
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences and NUL bytes with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("\uFFFD"))
	}
	if bytes.IndexByte(data, 0) >= 0 {
		data = bytes.ReplaceAll(data, []byte{0}, []byte("\uFFFD"))
	}
	return data
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func findHeader(records [][]string, key string) int {
	maxRows := min(MaxHeaderSearchRows, len(records))
	for i := 0; i < maxRows; i++ {
		for _, cell := range records[i] {
			if strings.EqualFold(CleanCell(cell), key) {
				return i
			}
		}
	}
	return -1
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JonMunkholm/salesqc/internal/core"
)

var exceptionColumns = []string{"exception_id", "record_id", "category", "stage", "detail", "caught_at"}

// exportExceptions writes the run's exception records to
// dir/exceptions_<run>_<yyyymmdd_hhmmss>.csv and returns the path.
func exportExceptions(dir string, schema *core.Schema, res *core.RunResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create exceptions dir: %w", err)
	}
	name := fmt.Sprintf("exceptions_%s_%s.csv", res.RunID, res.EndedAt.UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	if err := writeExceptionsCSV(f, schema, res.ExceptionRecords); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	return path, nil
}

// writeExceptionsCSV writes one row per exception: the exception fields,
// then the original payload with schema columns first and any other keys
// in name order.
func writeExceptionsCSV(w io.Writer, schema *core.Schema, records []core.ExceptionRecord) error {
	payloads := make([]map[string]any, len(records))
	extra := make(map[string]bool)
	known := make(map[string]bool)
	for _, c := range schema.Columns() {
		known[c] = true
	}

	for i, rec := range records {
		p, err := decodePayload(rec.Payload)
		if err != nil {
			return fmt.Errorf("exception %s payload: %w", rec.ID, err)
		}
		payloads[i] = p
		for k := range p {
			if !known[k] {
				extra[k] = true
			}
		}
	}

	payloadCols := schema.Columns()
	extraCols := make([]string, 0, len(extra))
	for k := range extra {
		extraCols = append(extraCols, k)
	}
	sort.Strings(extraCols)
	payloadCols = append(payloadCols, extraCols...)

	cw := csv.NewWriter(w)
	header := append(append([]string{}, exceptionColumns...), payloadCols...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, rec := range records {
		row := []string{
			rec.ID,
			rec.RecordID,
			string(rec.Category),
			string(rec.Stage),
			rec.Detail,
			rec.CaughtAt.UTC().Format(time.RFC3339),
		}
		for _, col := range payloadCols {
			row = append(row, payloadCell(payloads[i][col]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func decodePayload(raw []byte) (map[string]any, error) {
	out := make(map[string]any)
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func payloadCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

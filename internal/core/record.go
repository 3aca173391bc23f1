package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawRecord is one ingested row plus its ingestion metadata.
// It is immutable: accessors hand out copies.
type RawRecord struct {
	id         string
	runID      string
	source     string
	position   int
	ingestedAt time.Time
	fields     []Field
}

// NewRawRecord wraps row with a fresh record id. position is 1-based.
// NUL characters in names and string values become U+FFFD, since
// PostgreSQL text and jsonb cannot hold them.
func NewRawRecord(runID, source string, position int, ingestedAt time.Time, row RawRow) RawRecord {
	fields := make([]Field, len(row))
	for i, f := range row {
		f.Name = stripNUL(f.Name)
		if s, ok := f.Value.(string); ok {
			f.Value = stripNUL(s)
		}
		fields[i] = f
	}
	return RawRecord{
		id:         uuid.NewString(),
		runID:      runID,
		source:     source,
		position:   position,
		ingestedAt: ingestedAt,
		fields:     fields,
	}
}

func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "\uFFFD")
}

func (r RawRecord) ID() string            { return r.id }
func (r RawRecord) RunID() string         { return r.runID }
func (r RawRecord) Source() string        { return r.source }
func (r RawRecord) Position() int         { return r.position }
func (r RawRecord) IngestedAt() time.Time { return r.ingestedAt }

// Fields returns a copy of the ordered field list.
func (r RawRecord) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Value returns the raw value of a field. The boolean is false when the
// field is absent; a present null field returns (nil, true).
func (r RawRecord) Value(name string) (any, bool) {
	return RawRow(r.fields).lookup(name)
}

// PayloadJSON encodes the fields as a JSON object preserving input order.
// Values that cannot be encoded are stored as their %v rendering.
func (r RawRecord) PayloadJSON() []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.Name)
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(f.Value)
		if err != nil || bytes.Contains(val, []byte(`\u0000`)) {
			val, _ = json.Marshal(stripNUL(fmt.Sprintf("%v", f.Value)))
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

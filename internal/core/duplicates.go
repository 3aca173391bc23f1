package core

import "strings"

// DuplicateIndex maps each well-formed business key to its first
// occurrence in ingestion order. It is built once per batch, before any
// validation starts, and is read-only afterwards.
type DuplicateIndex struct {
	first map[string]occurrence
}

type occurrence struct {
	recordID string
	position int
}

// BuildDuplicateIndex indexes records by the schema's business key.
// Records whose key is missing or blank are not indexed.
func BuildDuplicateIndex(schema *Schema, records []RawRecord) *DuplicateIndex {
	ix := &DuplicateIndex{first: make(map[string]occurrence, len(records))}
	for _, rec := range records {
		key, ok := businessKey(schema, rec)
		if !ok {
			continue
		}
		if _, seen := ix.first[key]; !seen {
			ix.first[key] = occurrence{recordID: rec.ID(), position: rec.Position()}
		}
	}
	return ix
}

// FirstOccurrence returns the record id and position that first used key.
func (ix *DuplicateIndex) FirstOccurrence(key string) (recordID string, position int, ok bool) {
	if ix == nil {
		return "", 0, false
	}
	o, ok := ix.first[key]
	return o.recordID, o.position, ok
}

// Len returns the number of distinct keys.
func (ix *DuplicateIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.first)
}

func businessKey(schema *Schema, rec RawRecord) (string, bool) {
	v, ok := rec.Value(schema.Roles.OrderID)
	if !ok || !isScalar(v) {
		return "", false
	}
	s, ok := cellText(v)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

package core

import (
	"bytes"
	"context"
	"strings"
	"time"
)

// Persistence is the narrow write interface the pipeline depends on.
// Each call must be atomic: either every row is durably written or none is.
// Satisfied by store/postgres.Store and store/memory.Store.
type Persistence interface {
	InsertMany(ctx context.Context, kind TableKind, rows []any) error
}

// TableKind names a logical destination table.
type TableKind string

const (
	TableRawRecords         TableKind = "raw_records"
	TableValidationResults  TableKind = "validation_results"
	TableCleanRecords       TableKind = "clean_records"
	TableExceptions         TableKind = "exceptions"
	TableAuditEvents        TableKind = "audit_events"
	TableAnalyticsSummaries TableKind = "analytics_summaries"
	TablePipelineRuns       TableKind = "pipeline_runs"
)

// TableKinds lists every table kind in write order.
var TableKinds = []TableKind{
	TableRawRecords,
	TableValidationResults,
	TableExceptions,
	TableCleanRecords,
	TableAnalyticsSummaries,
	TableAuditEvents,
	TablePipelineRuns,
}

// FieldType represents the expected data type for a record field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldInteger
)

func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldInteger:
		return "integer"
	default:
		return "text"
	}
}

// FieldSpec defines the rules for a single record field.
type FieldSpec struct {
	Name       string    // Field name as it appears in the input (matched case-insensitively)
	Type       FieldType // Expected data type
	Required   bool      // Must be present and non-null (schema layer)
	Expected   bool      // Optional but expected non-null (data quality layer)
	EnumValues []string  // Canonical spellings for FieldEnum
	Precision  int       // Total digits stored for FieldNumeric; 0 means unbounded
	Scale      int       // Fractional digits stored for FieldNumeric
}

// FieldRoles maps the pipeline's business concepts to field names.
type FieldRoles struct {
	OrderID   string
	OrderDate string
	Region    string
	Product   string
	Quantity  string
	Revenue   string
}

// Field is one named value of a raw row. A nil Value is null.
type Field struct {
	Name  string
	Value any
}

// RawRow is an ordered field list as produced by an input adapter.
type RawRow []Field

// Batch is one unit of ingestion.
type Batch struct {
	Source string
	Rows   []RawRow
}

// Outcome is the result of a single control.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// Category classifies why a record was routed to exceptions.
type Category string

const (
	CategoryMissingRequiredField Category = "MISSING_REQUIRED_FIELD"
	CategoryDataFormatError      Category = "DATA_FORMAT_ERROR"
	CategoryBusinessRule         Category = "BUSINESS_RULE_VIOLATION"
	CategoryDataQuality          Category = "DATA_QUALITY_ISSUE"
	CategoryInternalFault        Category = "INTERNAL_CONSISTENCY_FAULT"
)

// Layer names a validation stage.
type Layer string

const (
	LayerSchema       Layer = "schema"
	LayerBusinessRule Layer = "business_rule"
	LayerDataQuality  Layer = "data_quality"
	LayerDuplicate    Layer = "duplicate"
	LayerInternal     Layer = "internal"
)

// Verdict is the result of one control applied to one record.
type Verdict struct {
	RunID    string
	RecordID string
	Layer    Layer
	Control  string
	Outcome  Outcome
	Reason   string   // empty when passing
	Category Category // empty when passing
}

// Failed reports whether the control rejected the record.
func (v Verdict) Failed() bool { return v.Outcome == OutcomeFail }

// ExceptionStage is the pipeline stage that caught an exception.
type ExceptionStage string

const (
	ExceptionStageValidation     ExceptionStage = "validation"
	ExceptionStageTransformation ExceptionStage = "transformation"
)

// ExceptionRecord preserves a failed record for manual review.
// Exception records are append-only.
type ExceptionRecord struct {
	ID       string
	RunID    string
	RecordID string
	Category Category
	Stage    ExceptionStage
	Detail   string
	CaughtAt time.Time
	Payload  []byte // original fields as ordered JSON
}

// Clone returns a copy of e that shares no memory with it.
func (e ExceptionRecord) Clone() ExceptionRecord {
	e.Payload = bytes.Clone(e.Payload)
	return e
}

// CleanRecord is a validated, typed, enriched sales record.
type CleanRecord struct {
	RunID          string
	RecordID       string
	OrderID        string
	OrderDate      time.Time
	Region         string
	Product        string
	Quantity       int
	Revenue        Money
	RevenuePerUnit Money
	ProcessedAt    time.Time
}

// Dimension is an analytics grouping.
type Dimension string

const (
	DimensionOverall Dimension = "overall"
	DimensionRegion  Dimension = "region"
	DimensionProduct Dimension = "product"
	DimensionDay     Dimension = "day"
)

// AnalyticsSummary is one aggregated row for a run.
type AnalyticsSummary struct {
	RunID        string
	Dimension    Dimension
	Key          string
	TotalRevenue Money
	TotalOrders  int
}

// EventType identifies an audit event.
type EventType string

const (
	EventPipelineStart      EventType = "PIPELINE_START"
	EventDataIngestion      EventType = "DATA_INGESTION"
	EventValidationSummary  EventType = "VALIDATION_SUMMARY"
	EventExceptionRouting   EventType = "EXCEPTION_ROUTING"
	EventExceptionsRouted   EventType = "EXCEPTIONS_ROUTED"
	EventDataTransformation EventType = "DATA_TRANSFORMATION"
	EventAnalyticsSummary   EventType = "ANALYTICS_SUMMARY"
	EventPipelineEnd        EventType = "PIPELINE_END"
	EventPipelineFailed     EventType = "PIPELINE_FAILED"
)

// AuditEvent is an append-only entry in a run's audit trail.
// Within a run, events are ordered by timestamp then sequence.
type AuditEvent struct {
	RunID       string
	Seq         int
	Type        EventType
	Description string
	RecordCount int
	Timestamp   time.Time
}

// ControlCount is one row of the validation report.
type ControlCount struct {
	Layer   Layer
	Control string
	Outcome Outcome
	Count   int
}

// CategoryCount is one row of the exception trend report.
type CategoryCount struct {
	Category Category
	Count    int
}

// lookup finds a field by name, exact match first then case-insensitive.
func (r RawRow) lookup(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	for _, f := range r {
		if strings.EqualFold(strings.TrimSpace(f.Name), name) {
			return f.Value, true
		}
	}
	return nil, false
}

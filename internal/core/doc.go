// Package core implements the sales record quality-control pipeline.
//
// A run moves one batch through five stages:
//
//  1. Ingestion wraps each row as an immutable [RawRecord] with a record id
//  2. Validation applies the layered controls of [Validator]; a
//     [DuplicateIndex] built before any worker starts decides which
//     occurrence of a business key wins
//  3. Exception routing persists every failed record, payload intact,
//     through [ExceptionRouter]
//  4. Transformation turns passing records into [CleanRecord] values
//  5. Aggregation computes [AnalyticsSummary] rows per dimension
//
// [Pipeline.Run] drives the stages and asserts conservation: every
// ingested record ends up either clean or in the exception store, never
// both. Every stage transition is recorded by [AuditLogger].
//
// The package writes only through [Persistence]; store/postgres and
// store/memory provide implementations. Writes are retried with bounded
// exponential backoff, and exhausting the retries fails the run with a
// [*RunError].
//
// # Schemas
//
// Record shapes are registered at init time using [Register]. The sales
// schema lives in the tables subpackage:
//
//	import _ "github.com/JonMunkholm/salesqc/internal/core/tables"
//
//	schema, _ := core.Get("sales")
package core

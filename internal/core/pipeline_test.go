package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/core/tables"
	"github.com/JonMunkholm/salesqc/internal/fixture"
)

type PipelineSuite struct {
	suite.Suite
	ctx      context.Context
	store    *flakyStore
	metrics  *core.Metrics
	pipeline *core.Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newFlakyStore()
	s.metrics = core.NewMetrics(prometheus.NewRegistry())
	s.pipeline = newPipeline(s.T(), s.store, func(o *core.Options) { o.Metrics = s.metrics })
}

func (s *PipelineSuite) run(rows ...core.RawRow) *core.RunResult {
	res, err := s.pipeline.Run(s.ctx, core.Batch{Source: "test.csv", Rows: rows})
	s.Require().NoError(err)
	s.Require().Equal(core.RunCompleted, res.Status)
	return res
}

// assertConserved checks that every ingested record is in exactly one of
// the clean and exception sets.
func (s *PipelineSuite) assertConserved(runID string) {
	raw := s.store.RawRecords(runID)
	clean := s.store.CleanRecords(runID)
	exc := s.store.ExceptionRecords(runID)
	s.Require().Equal(len(raw), len(clean)+len(exc))

	seen := make(map[string]int)
	for _, c := range clean {
		seen[c.RecordID]++
	}
	for _, e := range exc {
		seen[e.RecordID]++
	}
	for _, r := range raw {
		s.Equal(1, seen[r.ID()], "record %d", r.Position())
	}
}

// ============================================================================
// Scenarios
// ============================================================================

func (s *PipelineSuite) TestScenarioA_MixedBatch() {
	res := s.run(
		sale("ORD1", "2024-03-01", "North", "Milk 1L", "1", "-5"),
		sale("ORD2", "2024-03-01", nil, "Milk 1L", "1", "5"),
		validSale("ORD3"),
	)

	s.Equal(3, res.Ingested)
	s.Equal(1, res.Clean)
	s.Equal(2, res.Exceptions)

	exc := s.store.ExceptionRecords(res.RunID)
	s.Require().Len(exc, 2)
	s.Equal(core.CategoryBusinessRule, exc[0].Category)
	s.Equal(core.CategoryMissingRequiredField, exc[1].Category)
	for _, e := range exc {
		s.Equal(core.ExceptionStageValidation, e.Stage)
		s.NotEmpty(e.Detail)
	}

	clean := s.store.CleanRecords(res.RunID)
	s.Require().Len(clean, 1)
	s.Equal("ORD3", clean[0].OrderID)

	s.Equal(map[core.Category]int{
		core.CategoryBusinessRule:         1,
		core.CategoryMissingRequiredField: 1,
	}, res.ByCategory)
	s.assertConserved(res.RunID)
}

func (s *PipelineSuite) TestScenarioB_DuplicateOrderID() {
	first := sale("ORD1", "2024-03-01", "North", "Milk 1L", "1", "10.00")
	second := sale("ORD1", "2024-03-02", "South", "Cola 500ml", "2", "20.00")
	res := s.run(first, second)

	s.Equal(1, res.Clean)
	s.Equal(1, res.Exceptions)

	exc := s.store.ExceptionRecords(res.RunID)
	s.Require().Len(exc, 1)
	s.Equal(core.CategoryBusinessRule, exc[0].Category)
	s.Contains(exc[0].Detail, "duplicate order_id")

	clean := s.store.CleanRecords(res.RunID)
	s.Require().Len(clean, 1)
	s.Equal("North", clean[0].Region)
	s.Equal(core.Money(1000), clean[0].Revenue)

	raw := s.store.RawRecords(res.RunID)
	s.Equal(raw[0].ID(), clean[0].RecordID)
	s.Equal(raw[1].ID(), exc[0].RecordID)
}

func (s *PipelineSuite) TestScenarioC_PersistenceExhaustsRetries() {
	s.store.failNext(core.TableCleanRecords, -1)

	res, err := s.pipeline.Run(s.ctx, core.Batch{Source: "test.csv", Rows: []core.RawRow{validSale("ORD1")}})
	s.Require().Error(err)

	var runErr *core.RunError
	s.Require().True(errors.As(err, &runErr))
	s.Equal(res.RunID, runErr.RunID)
	s.Equal(core.StageTransforming, runErr.Stage)
	s.Equal("persist clean records", runErr.Op)
	s.True(errors.Is(err, core.ErrInfrastructure))

	s.Equal(core.RunFailed, res.Status)
	s.Equal(core.StageTransforming, res.FailedStage)

	// Three attempts: the first plus two retries.
	s.Equal(3, s.store.callCount(core.TableCleanRecords))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.WriteRetries.WithLabelValues(string(core.TableCleanRecords))))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Runs.WithLabelValues(string(core.RunFailed))))

	events := s.store.Events(res.RunID)
	s.Require().NotEmpty(events)
	last := events[len(events)-1]
	s.Equal(core.EventPipelineFailed, last.Type)
	s.Contains(last.Description, string(core.StageTransforming))
	s.Contains(last.Description, "persist clean records")

	runs := s.store.Runs()
	s.Require().Len(runs, 1)
	s.Equal(core.RunFailed, runs[0].Status)
	s.Equal(core.StageTransforming, runs[0].FailedStage)
}

func (s *PipelineSuite) TestScenarioD_ExactRevenueTotals() {
	rows := make([]core.RawRow, 100)
	var want core.Money
	for i := range rows {
		revenue := (i + 1) * 10
		want += core.Money(revenue * 100)
		rows[i] = sale(fmt.Sprintf("ORD%03d", i+1), "2024-03-01", "East", "Milk 1L", "1", fmt.Sprint(revenue))
	}

	res := s.run(rows...)

	s.Require().Equal(100, res.Clean)
	overall := res.Summaries[0]
	s.Equal(core.DimensionOverall, overall.Dimension)
	s.Equal(core.Money(5050000), want)
	s.Equal(want, overall.TotalRevenue)
	s.Equal("50500.00", overall.TotalRevenue.String())
	s.Equal(100, overall.TotalOrders)
}

// ============================================================================
// Run lifecycle
// ============================================================================

func (s *PipelineSuite) TestAuditTrailFollowsStages() {
	res := s.run(validSale("ORD1"), sale("ORD2", nil, "North", "Milk 1L", "1", "1"))

	var types []core.EventType
	for _, ev := range s.store.Events(res.RunID) {
		types = append(types, ev.Type)
	}
	s.Equal([]core.EventType{
		core.EventPipelineStart,
		core.EventDataIngestion,
		core.EventValidationSummary,
		core.EventExceptionsRouted,
		core.EventExceptionRouting,
		core.EventDataTransformation,
		core.EventAnalyticsSummary,
		core.EventPipelineEnd,
	}, types)

	err := s.pipeline.Audit().EndRun(s.ctx, &core.RunContext{ID: res.RunID}, core.RunFailed)
	s.True(errors.Is(err, core.ErrDuplicateRunCompletion))
}

func (s *PipelineSuite) TestAllRecordsFail() {
	res := s.run(
		sale(nil, "2024-03-01", "North", "Milk 1L", "1", "1"),
		sale("ORD2", "2024-03-01", "North", "Milk 1L", "-1", "1"),
	)

	s.Equal(0, res.Clean)
	s.Equal(2, res.Exceptions)
	s.Equal(0.0, res.QualityPercentage())
	s.Len(res.Summaries, 6)
	s.assertConserved(res.RunID)
}

func (s *PipelineSuite) TestEmptyBatch() {
	res := s.run()

	s.Equal(0, res.Ingested)
	s.Equal(0, res.Clean)
	s.Equal(0, res.Exceptions)
}

func (s *PipelineSuite) TestExceptionPayloadIsVerbatim() {
	res := s.run(sale("ORD1", "someday", " north ", "Milk 1L", "$1,000", "(5.00)"))

	exc := s.store.ExceptionRecords(res.RunID)
	s.Require().Len(exc, 1)
	s.Equal(`{"order_id":"ORD1","order_date":"someday","region":" north ","product":"Milk 1L","quantity":"$1,000","revenue":"(5.00)"}`,
		string(exc[0].Payload))
	s.Equal(core.CategoryBusinessRule, exc[0].Category)
}

func (s *PipelineSuite) TestValidationResultsPersisted() {
	res := s.run(validSale("ORD1"), sale("ORD2", "2024-03-01", "Nowhere", "Milk 1L", "1", "1"))

	verdicts := s.store.Verdicts(res.RunID)
	// 9 for the passing record, schema (2) + business (4) for the failing one.
	s.Len(verdicts, 15)
	s.Equal(15, res.Validation.TotalChecks)
	s.Equal(1, res.Validation.FailedChecks)
	s.Equal(map[string]int{core.ControlValidRegion: 1}, res.Validation.FailureBreakdown)
}

func (s *PipelineSuite) TestAuditSinkOutageDoesNotFailRun() {
	var failures int
	s.pipeline = newPipeline(s.T(), s.store, func(o *core.Options) {
		o.OnAuditSinkFailure = func(core.AuditEvent, error) { failures++ }
	})
	s.store.failNext(core.TableAuditEvents, -1)

	res := s.run(validSale("ORD1"))

	s.Equal(1, res.Clean)
	s.Positive(failures)
	s.Equal(7, s.pipeline.Audit().Pending())

	s.store.failNext(core.TableAuditEvents, 0)
	s.Require().NoError(s.pipeline.Audit().Flush(s.ctx))
	s.Len(s.store.Events(res.RunID), 7)
}

func (s *PipelineSuite) TestCancelledContextFailsRun() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	res, err := s.pipeline.Run(ctx, core.Batch{Source: "test.csv", Rows: []core.RawRow{validSale("ORD1")}})
	s.Require().Error(err)
	s.Equal(core.RunFailed, res.Status)
	s.Equal(core.StageIngesting, res.FailedStage)
	s.True(errors.Is(err, context.Canceled))
}

// ============================================================================
// Fault isolation
// ============================================================================

// failingTransformer rejects one order and delegates the rest.
type failingTransformer struct {
	core.RecordTransformer
	orderID string
}

func (t failingTransformer) Transform(rec core.RawRecord) (core.CleanRecord, error) {
	if v, _ := rec.Value("order_id"); v == t.orderID {
		return core.CleanRecord{}, errors.Mark(errors.Newf("order %s: region lost canonical form", t.orderID), core.ErrInternalConsistency)
	}
	return t.RecordTransformer.Transform(rec)
}

// panickingValidator panics on one order and delegates the rest.
type panickingValidator struct {
	core.RecordValidator
	orderID string
}

func (v panickingValidator) Evaluate(rec core.RawRecord, dups *core.DuplicateIndex) []core.Verdict {
	if got, _ := rec.Value("order_id"); got == v.orderID {
		panic("control table corrupted")
	}
	return v.RecordValidator.Evaluate(rec, dups)
}

func (s *PipelineSuite) TestTransformerFaultIsRoutedAndRunCompletes() {
	s.pipeline = newPipeline(s.T(), s.store, func(o *core.Options) {
		o.Transformer = failingTransformer{RecordTransformer: core.NewTransformer(tables.Sales), orderID: "ORD2"}
	})

	res := s.run(validSale("ORD1"), validSale("ORD2"), validSale("ORD3"))

	s.Equal(3, res.Ingested)
	s.Equal(2, res.Clean)
	s.Equal(1, res.Exceptions)
	s.Equal(map[core.Category]int{core.CategoryInternalFault: 1}, res.ByCategory)

	exc := s.store.ExceptionRecords(res.RunID)
	s.Require().Len(exc, 1)
	s.Equal(core.ExceptionStageTransformation, exc[0].Stage)
	s.Equal(core.CategoryInternalFault, exc[0].Category)
	s.Contains(exc[0].Detail, "region lost canonical form")
	s.Equal(s.store.RawRecords(res.RunID)[1].ID(), exc[0].RecordID)

	var routed []core.AuditEvent
	for _, ev := range s.store.Events(res.RunID) {
		if ev.Type == core.EventExceptionsRouted {
			routed = append(routed, ev)
		}
	}
	s.Require().Len(routed, 1)
	s.Contains(routed[0].Description, string(core.ExceptionStageTransformation))

	s.Equal(2, res.Summaries[0].TotalOrders)
	s.assertConserved(res.RunID)
}

func (s *PipelineSuite) TestValidatorPanicBecomesFault() {
	s.pipeline = newPipeline(s.T(), s.store, func(o *core.Options) {
		o.Validator = panickingValidator{RecordValidator: core.NewValidator(tables.Sales), orderID: "ORD2"}
	})

	res := s.run(validSale("ORD1"), validSale("ORD2"))

	s.Equal(1, res.Clean)
	s.Equal(1, res.Exceptions)
	s.Equal(map[core.Category]int{core.CategoryInternalFault: 1}, res.ByCategory)

	exc := s.store.ExceptionRecords(res.RunID)
	s.Require().Len(exc, 1)
	s.Equal(core.ExceptionStageValidation, exc[0].Stage)
	s.Equal(core.CategoryInternalFault, exc[0].Category)

	var faults []core.Verdict
	for _, v := range s.store.Verdicts(res.RunID) {
		if v.RecordID == exc[0].RecordID {
			faults = append(faults, v)
		}
	}
	s.Require().Len(faults, 1)
	s.Equal(core.ControlValidatorFault, faults[0].Control)
	s.Equal(core.LayerInternal, faults[0].Layer)
	s.Equal(core.OutcomeFail, faults[0].Outcome)
	s.Contains(faults[0].Reason, "control table corrupted")
	s.assertConserved(res.RunID)
}

func (s *PipelineSuite) TestRevenueBeyondColumnLimitIsIsolated() {
	res := s.run(
		sale("ORD1", "2024-03-01", "North", "Milk 1L", "1", "92233720368547758.07"),
		sale("ORD2", "2024-03-01", "North", "Milk 1L", "1", "92233720368547758.07"),
		sale("ORD3", "2024-03-01", "North", "Milk 1L", "1", "10000000000000.00"),
		validSale("ORD4"),
	)

	s.Equal(1, res.Clean)
	s.Equal(3, res.Exceptions)
	s.Equal(map[core.Category]int{core.CategoryBusinessRule: 3}, res.ByCategory)
	s.Equal(map[string]int{core.ControlRevenueLimit: 3}, res.Validation.FailureBreakdown)

	for _, e := range s.store.ExceptionRecords(res.RunID) {
		s.Contains(e.Detail, core.ControlRevenueLimit)
	}
	overall := res.Summaries[0]
	s.Equal(core.DimensionOverall, overall.Dimension)
	s.Equal("10.00", overall.TotalRevenue.String())
	s.assertConserved(res.RunID)
}

func (s *PipelineSuite) TestNULBytesAreReplacedBeforeStorage() {
	res := s.run(
		sale("ORD1", "2024-03-01", "North", "Milk\x00 1L", "1", "5.00"),
		sale("ORD2", "2024-03-01", "North", []string{"a\x00b"}, "1", "5.00"),
	)

	s.Equal(1, res.Clean)
	s.Equal(1, res.Exceptions)

	clean := s.store.CleanRecords(res.RunID)
	s.Require().Len(clean, 1)
	s.Equal("Milk\uFFFD 1L", clean[0].Product)

	for _, r := range s.store.RawRecords(res.RunID) {
		s.NotContains(string(r.PayloadJSON()), `\u0000`)
	}
	exc := s.store.ExceptionRecords(res.RunID)
	s.Require().Len(exc, 1)
	s.NotContains(string(exc[0].Payload), `\u0000`)
	s.Contains(string(exc[0].Payload), "a\uFFFDb")
	s.assertConserved(res.RunID)
}

func (s *PipelineSuite) TestReturnedExceptionsDoNotAliasStore() {
	res := s.run(sale("ORD1", "2024-03-01", "North", "Milk 1L", "1", "-5"))
	s.Require().Len(res.ExceptionRecords, 1)

	want := string(s.store.ExceptionRecords(res.RunID)[0].Payload)
	s.Equal(want, string(res.ExceptionRecords[0].Payload))

	res.ExceptionRecords[0].Payload[0] = 'X'
	read := s.store.ExceptionRecords(res.RunID)
	read[0].Payload[1] = 'Y'

	stored, err := s.store.Exceptions(s.ctx, res.RunID)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(want, string(stored[0].Payload))
}

// ============================================================================
// Properties over generated batches
// ============================================================================

func TestPipeline_ConservationAndDeterminism(t *testing.T) {
	batch := fixture.Generate(fixture.Config{Rows: 2000, Seed: 42, Rates: fixture.DefaultRates})

	outcomes := func() ([]core.Category, int) {
		store := newFlakyStore()
		res, err := newPipeline(t, store).Run(context.Background(), batch)
		require.NoError(t, err)

		raw := store.RawRecords(res.RunID)
		byRecord := make(map[string]core.Category)
		for _, e := range store.ExceptionRecords(res.RunID) {
			byRecord[e.RecordID] = e.Category
		}
		cats := make([]core.Category, len(raw))
		for i, r := range raw {
			cats[i] = byRecord[r.ID()]
		}

		assert.Equal(t, res.Ingested, res.Clean+res.Exceptions)
		assert.Equal(t, len(raw), len(store.CleanRecords(res.RunID))+len(store.ExceptionRecords(res.RunID)))
		return cats, res.Clean
	}

	first, clean := outcomes()
	second, cleanAgain := outcomes()

	assert.Equal(t, first, second, "per-position categories differ between runs")
	assert.Equal(t, clean, cleanAgain)
	assert.Greater(t, clean, 1500)
	assert.Less(t, clean, 2000)
}

func TestPipeline_WorkerCountDoesNotChangeOutcome(t *testing.T) {
	batch := fixture.Generate(fixture.Config{Rows: 500, Seed: 7, Rates: fixture.DefaultRates})

	var results []*core.RunResult
	for _, workers := range []int{1, 3, 16} {
		p := newPipeline(t, newFlakyStore(), func(o *core.Options) { o.Config.Workers = workers })
		res, err := p.Run(context.Background(), batch)
		require.NoError(t, err)
		results = append(results, res)
	}

	for _, res := range results[1:] {
		assert.Equal(t, results[0].Clean, res.Clean)
		assert.Equal(t, results[0].ByCategory, res.ByCategory)
		assert.Equal(t, results[0].Summaries[0].TotalRevenue, res.Summaries[0].TotalRevenue)
	}
}

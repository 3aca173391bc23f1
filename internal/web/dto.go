package web

import (
	"encoding/json"
	"time"

	"github.com/JonMunkholm/salesqc/internal/core"
)

// JSON shapes for API responses. Money is rendered as a two-decimal string
// so no client ever sees a float.

type runJSON struct {
	RunID             string         `json:"run_id"`
	Source            string         `json:"source"`
	Status            string         `json:"status"`
	FailedStage       string         `json:"failed_stage,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	EndedAt           time.Time      `json:"ended_at"`
	Ingested          int            `json:"ingested"`
	Clean             int            `json:"clean"`
	Exceptions        int            `json:"exceptions"`
	QualityPercentage float64        `json:"quality_percentage"`
	ByCategory        map[string]int `json:"exceptions_by_category"`
	Validation        validationJSON `json:"validation"`
	Summaries         []summaryJSON  `json:"summaries"`
}

type validationJSON struct {
	TotalChecks       int            `json:"total_checks"`
	PassedChecks      int            `json:"passed_checks"`
	FailedChecks      int            `json:"failed_checks"`
	FailurePercentage float64        `json:"failure_percentage"`
	FailureBreakdown  map[string]int `json:"failure_breakdown"`
}

type runSummaryJSON struct {
	RunID       string     `json:"run_id"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	FailedStage string     `json:"failed_stage,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Ingested    int        `json:"ingested"`
	Clean       int        `json:"clean"`
	Exceptions  int        `json:"exceptions"`
}

type auditEventJSON struct {
	Seq         int       `json:"seq"`
	Type        string    `json:"event_type"`
	Description string    `json:"description"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
}

type exceptionJSON struct {
	ID       string          `json:"exception_id"`
	RecordID string          `json:"record_id"`
	Category string          `json:"category"`
	Stage    string          `json:"stage"`
	Detail   string          `json:"detail"`
	CaughtAt time.Time       `json:"caught_at"`
	Payload  json.RawMessage `json:"payload"`
}

type summaryJSON struct {
	Dimension    string `json:"dimension"`
	Key          string `json:"key"`
	TotalRevenue string `json:"total_revenue"`
	TotalOrders  int    `json:"total_orders"`
}

type controlCountJSON struct {
	Layer   string `json:"layer"`
	Control string `json:"control"`
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

type categoryCountJSON struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type validationReportJSON struct {
	RunID      string              `json:"run_id"`
	Controls   []controlCountJSON  `json:"controls"`
	Exceptions []categoryCountJSON `json:"exceptions"`
}

func toRunJSON(res *core.RunResult) runJSON {
	out := runJSON{
		RunID:             res.RunID,
		Source:            res.Source,
		Status:            string(res.Status),
		FailedStage:       string(res.FailedStage),
		StartedAt:         res.StartedAt,
		EndedAt:           res.EndedAt,
		Ingested:          res.Ingested,
		Clean:             res.Clean,
		Exceptions:        res.Exceptions,
		QualityPercentage: res.QualityPercentage(),
		ByCategory:        make(map[string]int, len(res.ByCategory)),
		Validation: validationJSON{
			TotalChecks:       res.Validation.TotalChecks,
			PassedChecks:      res.Validation.PassedChecks,
			FailedChecks:      res.Validation.FailedChecks,
			FailurePercentage: res.Validation.FailurePercentage,
			FailureBreakdown:  res.Validation.FailureBreakdown,
		},
		Summaries: toSummariesJSON(res.Summaries),
	}
	for c, n := range res.ByCategory {
		out.ByCategory[string(c)] = n
	}
	return out
}

func toRunSummaryJSON(r core.RunSummary) runSummaryJSON {
	out := runSummaryJSON{
		RunID:       r.RunID,
		Source:      r.Source,
		Status:      string(r.Status),
		FailedStage: string(r.FailedStage),
		Failure:     r.Failure,
		StartedAt:   r.StartedAt,
		Ingested:    r.Ingested,
		Clean:       r.Clean,
		Exceptions:  r.Exceptions,
	}
	if !r.EndedAt.IsZero() {
		ended := r.EndedAt
		out.EndedAt = &ended
	}
	return out
}

func toSummariesJSON(in []core.AnalyticsSummary) []summaryJSON {
	out := make([]summaryJSON, len(in))
	for i, a := range in {
		out[i] = summaryJSON{
			Dimension:    string(a.Dimension),
			Key:          a.Key,
			TotalRevenue: a.TotalRevenue.String(),
			TotalOrders:  a.TotalOrders,
		}
	}
	return out
}

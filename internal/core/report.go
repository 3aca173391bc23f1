package core

import (
	"math"
	"sort"
)

// ValidationSummary aggregates the verdicts of one run.
type ValidationSummary struct {
	TotalChecks       int
	PassedChecks      int
	FailedChecks      int
	FailurePercentage float64        // rounded to 2 decimals
	FailureBreakdown  map[string]int // failed checks by control
}

// SummarizeVerdicts folds verdicts into a ValidationSummary.
func SummarizeVerdicts(verdicts []Verdict) ValidationSummary {
	s := ValidationSummary{FailureBreakdown: make(map[string]int)}
	for _, v := range verdicts {
		s.TotalChecks++
		if v.Failed() {
			s.FailedChecks++
			s.FailureBreakdown[v.Control]++
		} else {
			s.PassedChecks++
		}
	}
	if s.TotalChecks > 0 {
		pct := float64(s.FailedChecks) / float64(s.TotalChecks) * 100
		s.FailurePercentage = math.Round(pct*100) / 100
	}
	return s
}

// ControlCounts groups verdicts by layer, control and outcome, ordered by
// layer evaluation order then control then outcome.
func ControlCounts(verdicts []Verdict) []ControlCount {
	type key struct {
		layer   Layer
		control string
		outcome Outcome
	}
	counts := make(map[key]int)
	for _, v := range verdicts {
		counts[key{v.Layer, v.Control, v.Outcome}]++
	}

	out := make([]ControlCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, ControlCount{Layer: k.layer, Control: k.control, Outcome: k.outcome, Count: n})
	}
	SortControlCounts(out)
	return out
}

// SortControlCounts orders counts by layer evaluation order, then control,
// then outcome.
func SortControlCounts(out []ControlCount) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return layerRank(out[i].Layer) < layerRank(out[j].Layer)
		}
		if out[i].Control != out[j].Control {
			return out[i].Control < out[j].Control
		}
		return out[i].Outcome < out[j].Outcome
	})
}

// CategoryCounts counts exceptions by category, largest first.
func CategoryCounts(exceptions []ExceptionRecord) []CategoryCount {
	counts := make(map[Category]int)
	for _, e := range exceptions {
		counts[e.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	SortCategoryCounts(out)
	return out
}

// SortCategoryCounts orders counts largest first, ties by category.
func SortCategoryCounts(out []CategoryCount) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
}

func layerRank(l Layer) int {
	switch l {
	case LayerSchema:
		return 0
	case LayerBusinessRule:
		return 1
	case LayerDataQuality:
		return 2
	case LayerDuplicate:
		return 3
	default:
		return 4
	}
}

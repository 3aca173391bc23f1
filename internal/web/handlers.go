package web

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/logging"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
	defaultSource       = "api-upload.csv"
)

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			respondError(w, r, err, http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.limiter.Status(),
	})
}

// handleCreateRun runs the pipeline over an uploaded CSV, either a raw
// text/csv body or a multipart form field named "file". The run is
// detached from the request so a dropped client cannot abort it halfway.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer s.limiter.Release()

	body, source, err := s.uploadedFile(w, r)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer body.Close()

	batch, err := core.ReadCSV(body, source, s.pipeline.Schema())
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		respondError(w, r, err, status)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.runTimeout())
	defer cancel()

	res, err := s.pipeline.Run(ctx, batch)
	if err != nil {
		if res != nil {
			logging.WithRun(r.Context(), res.RunID, res.Source).Warn("run failed via api",
				"stage", res.FailedStage,
				"ingested", res.Ingested,
			)
		}
		respondError(w, r, err, statusFor(err))
		return
	}

	logging.WithRun(r.Context(), res.RunID, res.Source).Info("run completed via api",
		"ingested", res.Ingested,
		"clean", res.Clean,
		"exceptions", res.Exceptions,
	)
	writeJSON(w, http.StatusCreated, toRunJSON(res))
}

// uploadedFile returns the CSV body and the source name to record.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, error) {
	maxSize := s.cfg.MaxUploadSize
	if maxSize <= 0 {
		maxSize = 100 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		source := r.URL.Query().Get("source")
		if source == "" {
			source = defaultSource
		}
		return r.Body, filepath.Base(source), nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", fmt.Errorf("parse multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("form field %q: %w", "file", err)
	}
	return file, filepath.Base(header.Filename), nil
}

// handleListRuns lists recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", defaultRunListLimit)
	if limit > maxRunListLimit {
		limit = maxRunListLimit
	}

	runs, err := s.reports.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	out := make([]runSummaryJSON, len(runs))
	for i, run := range runs {
		out[i] = toRunSummaryJSON(run)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAuditTrail lists a run's audit events.
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	events, err := s.reports.AuditTrail(r.Context(), runID)
	if err == nil && len(events) == 0 {
		err = fmt.Errorf("audit trail for %s: %w", runID, core.ErrRunNotFound)
	}
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	out := make([]auditEventJSON, len(events))
	for i, ev := range events {
		out[i] = auditEventJSON{
			Seq:         ev.Seq,
			Type:        string(ev.Type),
			Description: ev.Description,
			RecordCount: ev.RecordCount,
			Timestamp:   ev.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleExceptions lists a run's exception records with their payloads.
func (s *Server) handleExceptions(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.requireRun(w, r, runID) {
		return
	}

	exceptions, err := s.reports.Exceptions(r.Context(), runID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	out := make([]exceptionJSON, len(exceptions))
	for i, e := range exceptions {
		out[i] = exceptionJSON{
			ID:       e.ID,
			RecordID: e.RecordID,
			Category: string(e.Category),
			Stage:    string(e.Stage),
			Detail:   e.Detail,
			CaughtAt: e.CaughtAt,
			Payload:  e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSummaries lists a run's analytics rows.
func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.requireRun(w, r, runID) {
		return
	}

	summaries, err := s.reports.Summaries(r.Context(), runID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toSummariesJSON(summaries))
}

// handleValidationReport returns verdict counts by control and exception
// counts by category.
func (s *Server) handleValidationReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.requireRun(w, r, runID) {
		return
	}

	controls, err := s.reports.ValidationReport(r.Context(), runID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	trend, err := s.reports.ExceptionTrend(r.Context(), runID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	out := validationReportJSON{
		RunID:      runID,
		Controls:   make([]controlCountJSON, len(controls)),
		Exceptions: make([]categoryCountJSON, len(trend)),
	}
	for i, c := range controls {
		out.Controls[i] = controlCountJSON{Layer: string(c.Layer), Control: c.Control, Outcome: string(c.Outcome), Count: c.Count}
	}
	for i, c := range trend {
		out.Exceptions[i] = categoryCountJSON{Category: string(c.Category), Count: c.Count}
	}
	writeJSON(w, http.StatusOK, out)
}

// requireRun writes a 404 and returns false when runID has no audit trail.
func (s *Server) requireRun(w http.ResponseWriter, r *http.Request, runID string) bool {
	events, err := s.reports.AuditTrail(r.Context(), runID)
	if err == nil && len(events) == 0 {
		err = fmt.Errorf("run %s: %w", runID, core.ErrRunNotFound)
	}
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return false
	}
	return true
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

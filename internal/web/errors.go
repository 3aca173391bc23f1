package web

// errors.go maps errors to JSON responses. The technical error is logged
// with the request id; the client gets core.MapError's message and code.

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error       string `json:"error"`
	Action      string `json:"action,omitempty"`
	Code        string `json:"code"`
	RunID       string `json:"run_id,omitempty"`
	FailedStage string `json:"failed_stage,omitempty"`
}

// respondError logs err and writes its user-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)
	resp := ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code}

	var runErr *core.RunError
	if errors.As(err, &runErr) {
		resp.RunID = runErr.RunID
		resp.FailedStage = string(runErr.Stage)
	}

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"run_id", resp.RunID,
	)

	writeJSON(w, status, resp)
}

// statusFor picks the HTTP status for an error returned while handling a run.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrHeaderNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInfrastructure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package core

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "run limit",
			err:         fmt.Errorf("acquire: %w", ErrTooManyRuns),
			wantCode:    "RUN001",
			wantMessage: "Too many pipeline runs are in progress",
		},
		{
			name:        "duplicate completion wins over consistency",
			err:         errors.Mark(consistencyf("run %s already ended", "r1"), ErrDuplicateRunCompletion),
			wantCode:    "RUN002",
			wantMessage: "The run was already finalized",
		},
		{
			name:        "internal consistency",
			err:         consistencyf("record %d has no quantity", 3),
			wantCode:    "RUN003",
			wantMessage: "The pipeline detected an internal inconsistency and stopped",
		},
		{
			name:        "infrastructure inside a run error",
			err:         &RunError{RunID: "r1", Stage: StageTransforming, Op: "persist clean records", Err: errors.Mark(errors.New("connection refused"), ErrInfrastructure)},
			wantCode:    "RUN004",
			wantMessage: "Results could not be saved",
		},
		{
			name:        "unknown run",
			err:         fmt.Errorf("audit trail: %w", ErrRunNotFound),
			wantCode:    "RUN005",
			wantMessage: "No run with this id was found",
		},
		{
			name:        "header not found",
			err:         errors.Wrap(ErrHeaderNotFound, "read orders.csv"),
			wantCode:    "FILE002",
			wantMessage: "No header row with an order id column was found",
		},
		{
			name:        "duplicate key maps correctly",
			err:         errors.New("ERROR: duplicate key value violates unique constraint"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "timeout maps correctly",
			err:         errors.New("context deadline exceeded (timeout)"),
			wantCode:    "DB006",
			wantMessage: "Operation timed out",
		},
		{
			name:        "file too large maps correctly",
			err:         errors.New("file too large: 200MB exceeds limit"),
			wantCode:    "FILE001",
			wantMessage: "File exceeds maximum size limit",
		},
		{
			name:        "csv parse error",
			err:         errors.New(`parse error on line 3, column 7: bare " in non-quoted-field`),
			wantCode:    "FILE003",
			wantMessage: "The file could not be parsed as CSV",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("duplicate key value violates")
	result := FormatUserError(err)

	expected := "A record with this ID already exists (Code: DB001). This run was probably already stored; check the run id"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  errors.New("duplicate key"),
			want: true,
		},
		{
			name: "marked error is user facing",
			err:  ErrTooManyRuns,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

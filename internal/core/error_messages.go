package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Codes are grouped by prefix:
//
//	RUN001-RUN099   pipeline run failures (aborted runs, concurrency limits)
//	DB001-DB099     database connectivity and constraint errors
//	FILE001-FILE099 input file problems
//	ERR000          fallback for anything unrecognised
//
// Class checks (errors.Is against the marks in errors.go) run first, then
// substring patterns on the lowercased message.

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// UserMessage is a user-facing description of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorClass struct {
	target error
	msg    UserMessage
}

// errorClasses are checked in order before any pattern.
var errorClasses = []errorClass{
	{
		target: ErrTooManyRuns,
		msg: UserMessage{
			Message: "Too many pipeline runs are in progress",
			Action:  "Wait a moment and submit the file again",
			Code:    "RUN001",
		},
	},
	{
		target: ErrDuplicateRunCompletion,
		msg: UserMessage{
			Message: "The run was already finalized",
			Action:  "Report this run id to support",
			Code:    "RUN002",
		},
	},
	{
		target: ErrInternalConsistency,
		msg: UserMessage{
			Message: "The pipeline detected an internal inconsistency and stopped",
			Action:  "Report this run id to support; no partial results were published",
			Code:    "RUN003",
		},
	},
	{
		target: ErrInfrastructure,
		msg: UserMessage{
			Message: "Results could not be saved",
			Action:  "Check database availability and run the file again",
			Code:    "RUN004",
		},
	},
	{
		target: ErrRunNotFound,
		msg: UserMessage{
			Message: "No run with this id was found",
			Action:  "Check the run id returned when the file was submitted",
			Code:    "RUN005",
		},
	},
	{
		target: ErrHeaderNotFound,
		msg: UserMessage{
			Message: "No header row with an order id column was found",
			Action:  "Make sure the file has a header row naming order_id within the first 20 rows",
			Code:    "FILE002",
		},
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Database connectivity
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "This run was probably already stored; check the run id",
			Code:    "DB001",
		},
	},

	// Input files
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller batches",
			Code:    "FILE001",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller batches",
			Code:    "FILE001",
		},
	},
	{
		pattern: "parse ",
		msg: UserMessage{
			Message: "The file could not be parsed as CSV",
			Action:  "Check that the file is comma separated and quotes are balanced",
			Code:    "FILE003",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

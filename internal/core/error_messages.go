// error_messages.go maps technical errors to user-facing messages.
//
// # Error Code Reference
//
// Every user-facing error carries a code that support can look up here.
//
// Extraction jobs (EXT):
//
//	EXT001 - Extraction cancelled: The job was stopped before it finished
//	         Action: Start the extraction again if you still need it
//	EXT002 - Project busy: Another extraction is running on this project
//	         Action: Wait for it to finish or cancel it
//	EXT003 - Too many jobs: The server is running its maximum number of jobs
//	         Action: Please wait a moment before trying again
//	EXT004 - Job not found: The job id is unknown or has expired
//	         Action: Check the job id; finished jobs are kept for a limited time
//	EXT005 - Unknown service: A selected service is not configured
//	         Action: Check the service names with the services listing
//	EXT006 - Unknown column: The source or filter column does not exist
//	         Action: Check the column name against the project header
//	EXT007 - Column exists: A destination column name is already taken
//	         Action: Rename the column or set the service's column property
//	EXT008 - Service misconfigured: A service is missing required settings
//	         Action: Update the service settings and try again
//	EXT009 - Invalid filter: A row filter could not be parsed
//	         Action: Use the form column:operator:value
//	EXT010 - Timed out: The operation took too long
//	         Action: Try again with fewer rows or a longer timeout
//
// History (HIS):
//
//	HIS001 - Nothing to undo
//	HIS002 - Nothing to redo
//	HIS003 - History out of sync: The table no longer matches the change
//	         Action: Reload the project; contact support if it persists
//
// Journal (JRN):
//
//	JRN001 - Corrupted history: A stored change could not be read
//	JRN002 - Storage unavailable: The history store could not be reached
//	JRN003 - Project not found
//
// Files (FILE):
//
//	FILE001 - File too large
//	FILE002 - Empty file
//	FILE003 - Invalid CSV
//	FILE004 - No file uploaded
//
// Rate limiting:
//
//	RATE001 - Too many requests
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones. When a user
// reports ERR000, the original error is in the application log.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgCancelled = UserMessage{
		Message: "Extraction was cancelled",
		Action:  "Start the extraction again if you still need it",
		Code:    "EXT001",
	}
	msgUnknownService = UserMessage{
		Message: "A selected service is not configured",
		Action:  "Check the service names with the services listing",
		Code:    "EXT005",
	}
	msgCorrupted = UserMessage{
		Message: "A stored history entry could not be read",
		Action:  "Contact support with the project id",
		Code:    "JRN001",
	}
	msgStoreDown = UserMessage{
		Message: "The history store could not be reached",
		Action:  "Please try again in a few minutes",
		Code:    "JRN002",
	}
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}
)

// errorPatterns is ordered: more specific patterns before general ones.
// Keep the reference table at the top of this file in sync.
var errorPatterns = []errorPattern{
	// Extraction jobs
	{pattern: "extraction cancelled", msg: msgCancelled},
	{pattern: "context canceled", msg: msgCancelled},
	{
		pattern: "active extraction job",
		msg: UserMessage{
			Message: "Another extraction is running on this project",
			Action:  "Wait for it to finish or cancel it",
			Code:    "EXT002",
		},
	},
	{
		pattern: "too many concurrent extraction jobs",
		msg: UserMessage{
			Message: "The server is busy with other extractions",
			Action:  "Please wait a moment before trying again",
			Code:    "EXT003",
		},
	},
	{
		pattern: "job not found",
		msg: UserMessage{
			Message: "Extraction job not found",
			Action:  "Check the job id; finished jobs are kept for a limited time",
			Code:    "EXT004",
		},
	},
	{pattern: "unknown service", msg: msgUnknownService},
	{pattern: "no services selected", msg: msgUnknownService},
	{
		pattern: "column not found",
		msg: UserMessage{
			Message: "Column does not exist in this project",
			Action:  "Check the column name against the project header",
			Code:    "EXT006",
		},
	},
	{
		pattern: "column already exists",
		msg: UserMessage{
			Message: "A destination column with this name already exists",
			Action:  "Rename the column or set the service's column property",
			Code:    "EXT007",
		},
	},
	{
		pattern: "service not configured",
		msg: UserMessage{
			Message: "A service is missing required settings",
			Action:  "Update the service settings and try again",
			Code:    "EXT008",
		},
	},
	{
		pattern: "filter",
		msg: UserMessage{
			Message: "Row filter is invalid",
			Action:  "Use the form column:operator:value with a known operator",
			Code:    "EXT009",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again with fewer rows or a longer timeout",
			Code:    "EXT010",
		},
	},

	// History
	{
		pattern: "nothing to undo",
		msg: UserMessage{
			Message: "There is nothing to undo",
			Action:  "The project is at the start of its history",
			Code:    "HIS001",
		},
	},
	{
		pattern: "nothing to redo",
		msg: UserMessage{
			Message: "There is nothing to redo",
			Action:  "The project is at the end of its history",
			Code:    "HIS002",
		},
	},
	{
		pattern: "does not match recorded change",
		msg: UserMessage{
			Message: "The table no longer matches its history",
			Action:  "Reload the project; contact support if it persists",
			Code:    "HIS003",
		},
	},

	// Journal
	{pattern: "malformed extraction change", msg: msgCorrupted},
	{pattern: "journal entry corrupted", msg: msgCorrupted},
	{pattern: "unknown change kind", msg: msgCorrupted},
	{pattern: "connection refused", msg: msgStoreDown},
	{pattern: "failed to connect", msg: msgStoreDown},
	{pattern: "closed pool", msg: msgStoreDown},
	{
		pattern: "project not found",
		msg: UserMessage{
			Message: "Project not found",
			Action:  "Check the project id with the project listing",
			Code:    "JRN003",
		},
	},

	// Files
	{pattern: "file too large", msg: msgTooLarge},
	{pattern: "request body too large", msg: msgTooLarge},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Upload a CSV file with a header and at least one row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "The file is not valid CSV",
			Action:  "Export the file again as comma-separated values",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "No file was uploaded",
			Action:  "Attach a CSV file in the file field",
			Code:    "FILE004",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. If no
// pattern matches, the ERR000 fallback is returned.
//
// Example:
//
//	msg := MapError(history.ErrNothingToUndo)
//	// msg.Code == "HIS001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

package core

// error_messages.go maps technical errors to short user messages with a
// support code. Codes by category:
//
//	FMT001  Unsupported format: the format is unknown or not compiled in
//
//	FILE001 File too large
//	FILE002 Unreadable file: the source could not be decoded
//	FILE003 Encoding error: the source is not valid UTF-8
//	FILE004 Sheet not found
//	FILE005 No file provided
//
//	IMP001  System busy: another import holds the only slot
//	IMP002  Request cancelled
//	IMP003  Request timed out
//
//	DB001   Duplicate SKU
//	DB002   Unique constraint
//	DB003   Foreign key
//	DB004   Connection refused
//	DB005   Connection reset
//	DB006   Database timeout
//	DB007   Deadlock
//
//	RATE001 Rate limited
//	ERR000  Unknown error; check the logs for the technical error
//
// Typed errors are matched with errors.Is first. Anything else, driver
// errors in particular, is matched case-insensitively against the pattern
// table where the first hit wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgUnsupported = UserMessage{
		Message: "This file format is not supported",
		Action:  "Export the sheet as CSV or XLSX and try again",
		Code:    "FMT001",
	}
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum import size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}
	msgBusy = UserMessage{
		Message: "Another import is still running",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
	}
)

// sentinelMessages are checked in order with errors.Is.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{formats.ErrUnsupported, msgUnsupported},
	{formats.ErrInvalidUTF8, UserMessage{
		Message: "File contains invalid characters",
		Action:  "Save the file with UTF-8 encoding",
		Code:    "FILE003",
	}},
	{formats.ErrSheetNotFound, UserMessage{
		Message: "The requested sheet does not exist in this workbook",
		Action:  "Check the sheet name or leave it empty to use the first sheet",
		Code:    "FILE004",
	}},
	{formats.ErrDecode, UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file matches the selected format",
		Code:    "FILE002",
	}},
	{ErrTooManyImports, msgBusy},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "IMP002",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "IMP003",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"unsupported format", msgUnsupported},
	{"file too large", msgTooLarge},
	{"request body too large", msgTooLarge},
	{"no file provided", UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV or Excel file to import",
		Code:    "FILE005",
	}},
	{"too many concurrent imports", msgBusy},

	// Store errors
	{"sku_key", UserMessage{
		Message: "A product with this SKU already exists",
		Action:  "Remove or change the duplicate SKU and import again",
		Code:    "DB001",
	}},
	{"duplicate key", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate entries in your file",
		Code:    "DB002",
	}},
	{"unique constraint", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate entries in your file",
		Code:    "DB002",
	}},
	{"foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Import the products before their images",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},

	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns the zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
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

// UserError pairs a technical error with its user message. Error returns
// the user message; Unwrap returns the technical error for logging.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

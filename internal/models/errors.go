package models

import (
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable failure code
type ErrorCode string

// Failure codes. These are produced at the point of failure and carried on
// SyncError; nothing downstream reconstructs semantics from message text.
const (
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeVersionRequired    ErrorCode = "VERSION_REQUIRED"
	CodeVersionConflict    ErrorCode = "VERSION_CONFLICT"
	CodeWriteTokenReplay   ErrorCode = "WRITE_TOKEN_REPLAY"
	CodeLibraryLocked      ErrorCode = "LIBRARY_LOCKED"
	CodeObjectNotFound     ErrorCode = "OBJECT_NOT_FOUND"
	CodeLibraryNotFound    ErrorCode = "LIBRARY_NOT_FOUND"
	CodeInvalidSession     ErrorCode = "INVALID_SESSION_ID"
	CodeInvalidLogin       ErrorCode = "INVALID_LOGIN"
	CodeUpdateKeyMismatch  ErrorCode = "INVALID_UPDATE_KEY"
	CodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	CodeTooManyUploads     ErrorCode = "TOO_MANY_UPLOADS"
	CodeFileNotFound       ErrorCode = "FILE_NOT_FOUND"
	CodeNoteTooLong        ErrorCode = "NOTE_TOO_LONG"
	CodeTagTooLong         ErrorCode = "TAG_TOO_LONG"
	CodeFieldTooLong       ErrorCode = "FIELD_TOO_LONG"
	CodeMalformedTimestamp ErrorCode = "MALFORMED_TIMESTAMP"
	CodeSchemaInvalid      ErrorCode = "SCHEMA_VALIDATION_FAILED"
	CodeProcessingFailed   ErrorCode = "PROCESSING_FAILED"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// SyncError is the typed failure produced by the sync core. Handlers map it
// onto HTTP status codes or legacy XML error elements; Retryable marks
// transient contention that clients should resolve by waiting and retrying.
type SyncError struct {
	Status         int       `json:"-"`
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	CurrentVersion int64     `json:"-"` // attached to 412 responses when known
	RetryAfter     int       `json:"-"` // seconds, for 429/413 hints
	Retryable      bool      `json:"-"`
	ReportID       string    `json:"-"` // correlation id on 500s
	// SuppressPayloadLog is set for failures whose payload is itself the
	// oversized offender, so the full body is never written to logs.
	SuppressPayloadLog bool `json:"-"`
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPreconditionRequired reports a write to an existing object that carried
// no version information on any channel (428).
func NewPreconditionRequired(objectType string) *SyncError {
	return &SyncError{
		Status:  http.StatusPreconditionRequired,
		Code:    CodeVersionRequired,
		Message: fmt.Sprintf("version not provided for existing %s", objectType),
	}
}

// NewPreconditionFailed reports a stale supplied version (412). The current
// version is carried so the client can resynchronize before retrying.
func NewPreconditionFailed(message string, currentVersion int64) *SyncError {
	return &SyncError{
		Status:         http.StatusPreconditionFailed,
		Code:           CodeVersionConflict,
		Message:        message,
		CurrentVersion: currentVersion,
	}
}

// NewBadRequest reports an unrecoverable client error (400)
func NewBadRequest(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Status:  http.StatusBadRequest,
		Code:    code,
		Message: message,
	}
}

// NewLibraryLocked reports an administratively locked library (409)
func NewLibraryLocked(libraryID int64) *SyncError {
	return &SyncError{
		Status:  http.StatusConflict,
		Code:    CodeLibraryLocked,
		Message: fmt.Sprintf("library %d is locked for maintenance", libraryID),
	}
}

// NewWriteTokenReplay reports reuse of a write token (412). The original
// response is authoritative; this request must not be applied again.
func NewWriteTokenReplay() *SyncError {
	return &SyncError{
		Status:  http.StatusPreconditionFailed,
		Code:    CodeWriteTokenReplay,
		Message: "write token already used",
	}
}

// NewNotFound reports a missing object (404)
func NewNotFound(objectType, key string) *SyncError {
	return &SyncError{
		Status:  http.StatusNotFound,
		Code:    CodeObjectNotFound,
		Message: fmt.Sprintf("%s %q not found", objectType, key),
	}
}

// NewQuotaExceeded reports that an upload would exceed the owner's storage
// entitlement (413).
func NewQuotaExceeded(usage, quota int64) *SyncError {
	return &SyncError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("storage quota exceeded (%d of %d bytes used)", usage, quota),
	}
}

// NewTooManyUploads reports per-user upload slot exhaustion (429)
func NewTooManyUploads(retryAfter int) *SyncError {
	return &SyncError{
		Status:     http.StatusTooManyRequests,
		Code:       CodeTooManyUploads,
		Message:    "too many concurrent uploads",
		RetryAfter: retryAfter,
	}
}

// NewInternal wraps an unexpected failure with a correlation report ID (500)
func NewInternal(reportID string) *SyncError {
	return &SyncError{
		Status:   http.StatusInternalServerError,
		Code:     CodeInternal,
		Message:  fmt.Sprintf("an error occurred (report ID: %s)", reportID),
		ReportID: reportID,
	}
}

// NewRetryable marks a transient infrastructure failure as contention. The
// client's correct action is identical to a lock-check failure: wait and
// retry the same request.
func NewRetryable(message string) *SyncError {
	return &SyncError{
		Status:    http.StatusServiceUnavailable,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// AsSyncError extracts a *SyncError from err, or nil
func AsSyncError(err error) *SyncError {
	if se, ok := err.(*SyncError); ok {
		return se
	}
	return nil
}

// Excerpt truncates oversized content for inclusion in error messages
func Excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package models

import (
	"encoding/json"
	"time"
)

// WriteManifest partitions the indices of a batch write into successful,
// unchanged, and failed. The endpoint always answers 200 with this manifest;
// partial failures are never surfaced as an HTTP error.
type WriteManifest struct {
	Successful map[string]ObjectResponse `json:"successful"`
	Unchanged  map[string]string         `json:"unchanged"`
	Failed     map[string]WriteFailure   `json:"failed"`

	// Legacy aliases carrying keys only, no nested data
	Success       map[string]string       `json:"success"`
	LegacyFailure map[string]WriteFailure `json:"failure"`
}

// WriteFailure describes one failed index of a batch write
type WriteFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewWriteManifest creates an empty manifest with all partitions allocated
func NewWriteManifest() *WriteManifest {
	return &WriteManifest{
		Successful:    make(map[string]ObjectResponse),
		Unchanged:     make(map[string]string),
		Failed:        make(map[string]WriteFailure),
		Success:       make(map[string]string),
		LegacyFailure: make(map[string]WriteFailure),
	}
}

// AddSuccess records a written object at the given batch index
func (m *WriteManifest) AddSuccess(index string, obj ObjectResponse) {
	m.Successful[index] = obj
	m.Success[index] = obj.Key
}

// AddUnchanged records a no-op write at the given batch index
func (m *WriteManifest) AddUnchanged(index, key string) {
	m.Unchanged[index] = key
}

// AddFailure records a failed index with its status code and message
func (m *WriteManifest) AddFailure(index string, status int, message string) {
	f := WriteFailure{Code: status, Message: message}
	m.Failed[index] = f
	m.LegacyFailure[index] = f
}

// ObjectListResponse is returned when listing a library's objects
type ObjectListResponse struct {
	Objects    []ObjectResponse `json:"objects"`
	TotalCount int              `json:"totalCount"`
}

// ObjectPayload is one element of a write request body: arbitrary object
// data with optional key and version properties extracted for the
// conditional-write evaluation.
type ObjectPayload struct {
	Key     string
	Version *int64
	Data    json.RawMessage
}

// ParseObjectPayload extracts key/version from a raw object payload,
// preserving the full body as canonical data.
func ParseObjectPayload(raw json.RawMessage) (*ObjectPayload, error) {
	var envelope struct {
		Key     string `json:"key"`
		Version *int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return &ObjectPayload{
		Key:     envelope.Key,
		Version: envelope.Version,
		Data:    raw,
	}, nil
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

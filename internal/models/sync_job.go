package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync job kinds
const (
	JobKindUpload   = "upload"
	JobKindDownload = "download"
)

// Sync job states. Queued jobs are drained by the external queue processor;
// this server enqueues, observes status, and records synchronous completions.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
)

// SyncJob is one queued upload or download operation
type SyncJob struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	SessionID    string     `json:"sessionId"`
	Kind         string     `json:"kind"`
	Payload      string     `json:"payload,omitempty"`
	Status       string     `json:"status"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// NewSyncJob creates a queued job for the given session
func NewSyncJob(userID, sessionID, kind, payload string) *SyncJob {
	return &SyncJob{
		ID:         uuid.New().String(),
		UserID:     userID,
		SessionID:  sessionID,
		Kind:       kind,
		Payload:    payload,
		Status:     JobStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Finished reports whether the job reached a terminal state
func (j *SyncJob) Finished() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusFailed
}

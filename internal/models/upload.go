package models

import (
	"time"

	"github.com/google/uuid"
)

// FileInfo is the client-declared metadata for a pending binary upload
type FileInfo struct {
	Hash        string `json:"hash"`
	Filename    string `json:"filename"`
	Size        int64  `json:"filesize"`
	Mtime       int64  `json:"mtime"`
	ContentType string `json:"contentType,omitempty"`
	Zip         bool   `json:"zip,omitempty"`
}

// StorageFile is a deduplicated stored file. At most one row exists per
// (hash, zip) pair; items link to it rather than owning their own copy.
type StorageFile struct {
	ID          int64     `json:"id"`
	Hash        string    `json:"hash"`
	Zip         bool      `json:"zip"`
	Size        int64     `json:"size"`
	Filename    string    `json:"filename"`
	Mtime       int64     `json:"mtime"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UploadSlot is a reserved, time-boxed authorization to upload one file's
// bytes. Slots are ephemeral: they live in the cache layer and expire if the
// client never registers the upload.
type UploadSlot struct {
	UploadKey string    `json:"uploadKey"`
	OwnerID   string    `json:"ownerId"`
	LibraryID int64     `json:"libraryId"`
	ItemKey   string    `json:"itemKey"`
	File      FileInfo  `json:"file"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUploadSlot reserves a slot for the given file
func NewUploadSlot(ownerID string, libraryID int64, itemKey string, file FileInfo) *UploadSlot {
	return &UploadSlot{
		UploadKey: uuid.New().String(),
		OwnerID:   ownerID,
		LibraryID: libraryID,
		ItemKey:   itemKey,
		File:      file,
		CreatedAt: time.Now().UTC(),
	}
}

// UploadAuthorization is the response to a file upload authorization request.
// Exists means the bytes were deduplicated against an existing stored file
// and no transfer is needed.
type UploadAuthorization struct {
	Exists    bool   `json:"exists,omitempty"`
	UploadKey string `json:"uploadKey,omitempty"`
	URL       string `json:"url,omitempty"`
}

// FileRegistration is the response after an upload is finalized
type FileRegistration struct {
	Hash    string `json:"hash"`
	Version int64  `json:"version"`
}

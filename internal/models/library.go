package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Library type constants
const (
	LibraryTypeUser  = "user"
	LibraryTypeGroup = "group"
)

// Library is a versioned collection of data objects owned by a user or group.
// Version is stamped on every object the library owns at the time of its last
// accepted write and never decreases. Stored versions may contain gaps: the
// counter is pre-incremented at the start of a write transaction, before it is
// known whether the write is a no-op.
type Library struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Type         string    `json:"type"`
	Version      int64     `json:"version"`
	Locked       bool      `json:"locked"`
	LastModified time.Time `json:"lastModified"`
}

// UpdateKey returns the whole-library CAS token required on legacy bulk
// uploads. It changes on every accepted write, so a client holding a stale
// key is forced to re-download before retrying.
func (l *Library) UpdateKey() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%d", l.ID, l.OwnerID, l.Version)))
	return hex.EncodeToString(h[:16])
}

// LibraryResponse is the API representation of a library
type LibraryResponse struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Version int64  `json:"version"`
	Locked  bool   `json:"locked"`
}

// ToResponse converts Library to LibraryResponse
func (l *Library) ToResponse() LibraryResponse {
	return LibraryResponse{
		ID:      l.ID,
		Type:    l.Type,
		Version: l.Version,
		Locked:  l.Locked,
	}
}

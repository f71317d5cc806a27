package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// SyncSession is an authenticated legacy-protocol session. The session ID is
// an unguessable 128-bit token tied to exactly one user. The durable record
// is the fallback behind the session cache; LastDBSync tracks when the
// durable "last used" timestamp was last refreshed.
type SyncSession struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// NewSyncSession creates a session with a freshly minted random ID
func NewSyncSession(userID, ipAddress string) (*SyncSession, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &SyncSession{
		ID:         id,
		UserID:     userID,
		IPAddress:  ipAddress,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// GenerateSessionID returns a random 128-bit hex token
func GenerateSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Age returns how long ago the session was last used
func (s *SyncSession) Age() time.Duration {
	return time.Since(s.LastUsedAt)
}

// Touch updates the last-used timestamp
func (s *SyncSession) Touch() {
	s.LastUsedAt = time.Now().UTC()
}

package models

import "time"

// CreateUserRequest is the request body for admin user creation
type CreateUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
}

// CreateUserResponse contains the new user, their library, and their API key
// (shown only once)
type CreateUserResponse struct {
	User    UserResponse    `json:"user"`
	Library LibraryResponse `json:"library"`
	APIKey  string          `json:"apiKey"`
}

// AdminUserResponse contains extended user info for admin views
type AdminUserResponse struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"displayName"`
	IsAdmin        bool      `json:"isAdmin"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
	LibraryID      int64     `json:"libraryId"`
	LibraryVersion int64     `json:"libraryVersion"`
	LibraryLocked  bool      `json:"libraryLocked"`
	StorageUsed    int64     `json:"storageUsed"`
}

// LibraryLockResponse reports the lock state of a library after an admin
// lock or unlock operation
type LibraryLockResponse struct {
	LibraryID int64 `json:"libraryId"`
	Locked    bool  `json:"locked"`
	Version   int64 `json:"version"`
}

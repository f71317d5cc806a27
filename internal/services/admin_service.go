package services

import (
	"context"
	"net/http"

	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
)

// AdminService handles administrative operations: provisioning users with
// their libraries and toggling the maintenance lock on a library.
type AdminService struct {
	users     repository.UserRepo
	libraries repository.LibraryRepo
	storage   repository.StorageRepo
}

// NewAdminService creates a new AdminService
func NewAdminService(users repository.UserRepo, libraries repository.LibraryRepo, storage repository.StorageRepo) *AdminService {
	return &AdminService{users: users, libraries: libraries, storage: storage}
}

// CreateUser provisions a new user together with their personal library and
// returns the user carrying the freshly minted API key. The key is stored
// only as a hash; this is the single time it is visible.
func (s *AdminService) CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, *models.Library, error) {
	existing, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, models.ErrUsernameExists
	}

	user, err := models.NewUser(req.Username, req.DisplayName, req.IsAdmin)
	if err != nil {
		return nil, nil, err
	}
	if req.Password != "" {
		if err := user.SetPassword(req.Password); err != nil {
			return nil, nil, err
		}
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	library := &models.Library{
		OwnerID: user.ID,
		Type:    models.LibraryTypeUser,
	}
	if err := s.libraries.Create(ctx, library); err != nil {
		return nil, nil, err
	}

	return user, library, nil
}

// GetUser returns extended user info including library state and storage use
func (s *AdminService) GetUser(ctx context.Context, userID string) (*models.AdminUserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.ErrUserNotFound
	}

	resp := &models.AdminUserResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		IsAdmin:     user.IsAdmin,
		IsActive:    user.IsActive,
		CreatedAt:   user.CreatedAt,
	}

	library, err := s.libraries.GetByOwner(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if library != nil {
		resp.LibraryID = library.ID
		resp.LibraryVersion = library.Version
		resp.LibraryLocked = library.Locked
	}

	used, err := s.storage.GetUsage(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	resp.StorageUsed = used

	return resp, nil
}

// SetLibraryLock locks or unlocks a library for maintenance. While locked,
// every client write to the library is rejected until the lock is lifted;
// reads are unaffected.
func (s *AdminService) SetLibraryLock(ctx context.Context, libraryID int64, locked bool) (*models.Library, error) {
	library, err := s.libraries.GetByID(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	if library == nil {
		return nil, &models.SyncError{
			Status: http.StatusNotFound, Code: models.CodeLibraryNotFound,
			Message: "library not found",
		}
	}

	if err := s.libraries.SetLocked(ctx, libraryID, locked); err != nil {
		return nil, err
	}
	library.Locked = locked

	return library, nil
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/services"
)

// AdminHandler handles admin API endpoints
type AdminHandler struct {
	adminService *services.AdminService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// CreateUser creates a new user with their library
// @Summary Create a new user
// @Description Create a new user and their personal library, returning the API key (shown only once)
// @Tags admin
// @Accept json
// @Produce json
// @Param request body models.CreateUserRequest true "User details"
// @Success 201 {object} models.CreateUserResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/users [post]
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, library, err := h.adminService.CreateUser(r.Context(), req)
	if err != nil {
		switch err {
		case models.ErrUsernameExists:
			respondError(w, http.StatusConflict, err.Error())
		case models.ErrEmptyUsername, models.ErrPasswordTooShort:
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondSyncError(w, err)
		}
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateUserResponse{
		User:    user.ToResponse(),
		Library: library.ToResponse(),
		APIKey:  user.APIKey,
	})
}

// GetUser returns extended info about a user
// @Summary Get user details
// @Description Get a user together with their library state and storage usage
// @Tags admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} models.AdminUserResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/users/{id} [get]
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.adminService.GetUser(r.Context(), userID)
	if err != nil {
		if err == models.ErrUserNotFound {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondSyncError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// LockLibrary locks a library for maintenance
// @Summary Lock a library
// @Description Reject all client writes to the library until it is unlocked
// @Tags admin
// @Produce json
// @Param libraryID path int true "Library ID"
// @Success 200 {object} models.LibraryLockResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/libraries/{libraryID}/lock [post]
func (h *AdminHandler) LockLibrary(w http.ResponseWriter, r *http.Request) {
	h.setLock(w, r, true)
}

// UnlockLibrary lifts a maintenance lock
// @Summary Unlock a library
// @Description Allow client writes to the library again
// @Tags admin
// @Produce json
// @Param libraryID path int true "Library ID"
// @Success 200 {object} models.LibraryLockResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/libraries/{libraryID}/unlock [post]
func (h *AdminHandler) UnlockLibrary(w http.ResponseWriter, r *http.Request) {
	h.setLock(w, r, false)
}

func (h *AdminHandler) setLock(w http.ResponseWriter, r *http.Request, locked bool) {
	libraryID, err := strconv.ParseInt(chi.URLParam(r, "libraryID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid library ID")
		return
	}

	library, err := h.adminService.SetLibraryLock(r.Context(), libraryID, locked)
	if err != nil {
		respondSyncError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.LibraryLockResponse{
		LibraryID: library.ID,
		Locked:    library.Locked,
		Version:   library.Version,
	})
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/libsync/server/internal/middleware"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
	"github.com/libsync/server/internal/services"
)

// FileHandler coordinates attachment file storage for items. Byte transfer
// happens out of band against the storage backend; the server only brokers
// authorization, deduplication, and registration.
type FileHandler struct {
	uploads *services.FileUploadService
	storage repository.StorageRepo
}

// NewFileHandler creates a new FileHandler
func NewFileHandler(uploads *services.FileUploadService, storage repository.StorageRepo) *FileHandler {
	return &FileHandler{uploads: uploads, storage: storage}
}

type fileActionRequest struct {
	models.FileInfo
	UploadKey string `json:"uploadKey"`
	Algorithm string `json:"algorithm"`
}

// GetFileInfo returns the stored file metadata for an item
// @Summary Get item file info
// @Description Returns the metadata of the file linked to an attachment item.
// @Tags files
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Item key"
// @Success 200 {object} models.StorageFile
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items/{key}/file [get]
func (h *FileHandler) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	library := middleware.GetLibraryFromContext(r.Context())
	itemKey := chi.URLParam(r, "key")

	file, err := h.storage.GetItemFile(r.Context(), library.ID, itemKey)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	if file == nil {
		respondError(w, http.StatusNotFound, "no file attached to this item")
		return
	}

	respondJSON(w, http.StatusOK, file)
}

// Upload authorizes, registers, or patch-registers a file upload
// @Summary Authorize or finalize a file upload
// @Description With file metadata in the body, authorizes an upload (or reports the bytes already exist). With an uploadKey, finalizes a completed upload. An uploadKey plus an algorithm finalizes a binary patch upload.
// @Tags files
// @Accept json
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Item key"
// @Param If-Match header string false "MD5 of the file version being replaced"
// @Param If-None-Match header string false "Must be * when creating the item's first file"
// @Param request body fileActionRequest true "File metadata or upload key"
// @Success 200 {object} models.UploadAuthorization
// @Failure 412 {object} models.ErrorResponse
// @Failure 413 {object} models.ErrorResponse
// @Failure 428 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items/{key}/file [post]
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	library := middleware.GetLibraryFromContext(r.Context())
	itemKey := chi.URLParam(r, "key")

	var req fileActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UploadKey != "" {
		h.finalize(w, r, user.ID, req)
		return
	}

	ifMatch := r.Header.Get("If-Match")
	ifNoneMatchAny := r.Header.Get("If-None-Match") == "*"

	auth, err := h.uploads.Authorize(r.Context(), user.ID, library.ID, itemKey,
		req.FileInfo, ifMatch, ifNoneMatchAny)
	if err != nil {
		respondSyncError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, auth)
}

func (h *FileHandler) finalize(w http.ResponseWriter, r *http.Request, ownerID string, req fileActionRequest) {
	var reg *models.FileRegistration
	var err error

	if req.Algorithm != "" {
		reg, err = h.uploads.RegisterPatch(r.Context(), ownerID, req.UploadKey, req.Algorithm)
	} else {
		reg, err = h.uploads.Register(r.Context(), ownerID, req.UploadKey)
	}
	if err != nil {
		respondSyncError(w, err)
		return
	}

	setVersionHeader(w, reg.Version)
	respondJSON(w, http.StatusOK, reg)
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/libsync/server/internal/middleware"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/observability"
	"github.com/libsync/server/internal/repository"
	"github.com/libsync/server/internal/services"
)

const maxWriteBodyBytes = 20 << 20

// ObjectHandler serves the versioned data-object REST API. One handler
// covers items, collections, searches, and settings; the object type is
// bound per route.
type ObjectHandler struct {
	objects   repository.ObjectRepo
	objectSvc *services.ObjectService
	precond   *services.PreconditionService
	metrics   *observability.BusinessMetrics
}

// NewObjectHandler creates a new ObjectHandler. metrics may be nil.
func NewObjectHandler(
	objects repository.ObjectRepo,
	objectSvc *services.ObjectService,
	precond *services.PreconditionService,
	metrics *observability.BusinessMetrics,
) *ObjectHandler {
	return &ObjectHandler{
		objects:   objects,
		objectSvc: objectSvc,
		precond:   precond,
		metrics:   metrics,
	}
}

func (h *ObjectHandler) recordWrite(r *http.Request, objectType string, changed bool) {
	if h.metrics != nil {
		h.metrics.RecordObjectWrite(r.Context(), objectType, changed)
	}
}

func (h *ObjectHandler) recordFailure(r *http.Request, err error) {
	if h.metrics == nil {
		return
	}
	if se := models.AsSyncError(err); se != nil &&
		(se.Status == http.StatusPreconditionFailed || se.Status == http.StatusPreconditionRequired) {
		h.metrics.RecordPreconditionFailure(r.Context(), se.Status)
	}
}

// List returns the library's objects of one type
// @Summary List objects
// @Description Lists a library's objects of one type, optionally restricted to those changed after a version cursor. Supports If-Modified-Since-Version.
// @Tags objects
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param since query int false "Only objects changed after this version"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param start query int false "Page offset"
// @Success 200 {object} models.ObjectListResponse
// @Success 304 "Not modified"
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items [get]
func (h *ObjectHandler) List(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())

		ifModified, err := parseVersionHeader(r, "If-Modified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		since := queryInt64(r, "since", 0)
		limit := int(queryInt64(r, "limit", 50))
		if limit < 1 || limit > 100 {
			limit = 50
		}
		start := int(queryInt64(r, "start", 0))
		filtered := since > 0 || start > 0 || r.URL.Query().Get("limit") != ""

		setVersionHeader(w, lib.Version)
		if h.precond.NotModified(ifModified, lib.Version, filtered) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		objects, err := h.objects.List(r.Context(), lib.ID, objectType, since, limit, start)
		if err != nil {
			respondSyncError(w, err)
			return
		}
		total, err := h.objects.Count(r.Context(), lib.ID, objectType)
		if err != nil {
			respondSyncError(w, err)
			return
		}

		resp := models.ObjectListResponse{Objects: make([]models.ObjectResponse, 0, len(objects)), TotalCount: total}
		for _, obj := range objects {
			resp.Objects = append(resp.Objects, obj.ToResponse())
		}
		w.Header().Set("Total-Results", strconv.Itoa(total))
		respondJSON(w, http.StatusOK, resp)
	}
}

// Get returns a single object
// @Summary Get an object
// @Description Returns one object by key. Supports If-Modified-Since-Version against the object's version.
// @Tags objects
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Success 200 {object} models.ObjectResponse
// @Success 304 "Not modified"
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items/{key} [get]
func (h *ObjectHandler) Get(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())
		key := chi.URLParam(r, "key")

		obj, err := h.objects.Get(r.Context(), lib.ID, objectType, key)
		if err != nil {
			respondSyncError(w, err)
			return
		}
		if obj == nil || obj.Deleted {
			respondSyncError(w, models.NewNotFound(objectType, key))
			return
		}

		ifModified, err := parseVersionHeader(r, "If-Modified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		setVersionHeader(w, obj.Version)
		if ifModified != nil && obj.Version <= *ifModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		respondJSON(w, http.StatusOK, obj.ToResponse())
	}
}

// Write handles POST: a JSON array is a batch write answered with a
// manifest, a JSON object is a single create
// @Summary Write objects
// @Description Writes objects. A JSON array becomes a batch evaluated per-object with a 200 manifest; a JSON object is a single conditional create. Honors Zotero-Write-Token and If-Unmodified-Since-Version.
// @Tags objects
// @Accept json
// @Produce json
// @Param libraryID path int true "Library ID"
// @Success 200 {object} models.WriteManifest
// @Failure 409 {object} models.ErrorResponse "Library locked"
// @Failure 412 {object} models.ErrorResponse "Version conflict or token replay"
// @Failure 428 {object} models.ErrorResponse "Version required"
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items [post]
func (h *ObjectHandler) Write(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())
		user := middleware.GetUserFromContext(r.Context())
		writeToken := r.Header.Get("Zotero-Write-Token")

		if err := h.objectSvc.CheckWritable(lib, user.ID, writeToken); err != nil {
			respondSyncError(w, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Failed to read request body.")
			return
		}

		headerVersion, err := parseVersionHeader(r, "If-Unmodified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		trimmed := strings.TrimLeft(string(body), " \t\r\n")
		if strings.HasPrefix(trimmed, "[") {
			h.writeBatch(w, r, lib, user.ID, writeToken, objectType, body, headerVersion)
			return
		}

		h.writeSingle(w, r, lib, user.ID, writeToken, objectType, "", body, headerVersion)
	}
}

// Update handles PUT: a single conditional write to a keyed object
// @Summary Update an object
// @Description Replaces one object under the conditional-write contract. The version may come from If-Unmodified-Since-Version or the body's version property; both must agree.
// @Tags objects
// @Accept json
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Success 200 {object} models.ObjectResponse
// @Failure 412 {object} models.ErrorResponse "Version conflict"
// @Failure 428 {object} models.ErrorResponse "Version required"
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items/{key} [put]
func (h *ObjectHandler) Update(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())
		user := middleware.GetUserFromContext(r.Context())
		key := chi.URLParam(r, "key")
		writeToken := r.Header.Get("Zotero-Write-Token")

		if err := h.objectSvc.CheckWritable(lib, user.ID, writeToken); err != nil {
			respondSyncError(w, err)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Failed to read request body.")
			return
		}

		headerVersion, err := parseVersionHeader(r, "If-Unmodified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		h.writeSingle(w, r, lib, user.ID, writeToken, objectType, key, body, headerVersion)
	}
}

// Patch handles PATCH: supplied fields are merged into the existing object
// and the result written under the same conditional contract
// @Summary Patch an object
// @Description Merges the supplied fields into the existing object under the conditional-write contract.
// @Tags objects
// @Accept json
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Success 200 {object} models.ObjectResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 412 {object} models.ErrorResponse "Version conflict"
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items/{key} [patch]
func (h *ObjectHandler) Patch(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())
		user := middleware.GetUserFromContext(r.Context())
		key := chi.URLParam(r, "key")
		writeToken := r.Header.Get("Zotero-Write-Token")

		if err := h.objectSvc.CheckWritable(lib, user.ID, writeToken); err != nil {
			respondSyncError(w, err)
			return
		}

		current, err := h.objects.Get(r.Context(), lib.ID, objectType, key)
		if err != nil {
			respondSyncError(w, err)
			return
		}
		if current == nil || current.Deleted {
			respondSyncError(w, models.NewNotFound(objectType, key))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Failed to read request body.")
			return
		}

		merged, err := mergeObjectJSON(current.Data, body)
		if err != nil {
			respondSyncError(w, err)
			return
		}

		headerVersion, err := parseVersionHeader(r, "If-Unmodified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		h.writeSingle(w, r, lib, user.ID, writeToken, objectType, key, merged, headerVersion)
	}
}

// Delete handles DELETE on a keyed object
// @Summary Delete an object
// @Description Tombstones one object. If-Unmodified-Since-Version is required.
// @Tags objects
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param key path string true "Object key"
// @Success 204 "Deleted"
// @Failure 412 {object} models.ErrorResponse "Version conflict"
// @Failure 428 {object} models.ErrorResponse "Version required"
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items/{key} [delete]
func (h *ObjectHandler) Delete(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())
		user := middleware.GetUserFromContext(r.Context())
		key := chi.URLParam(r, "key")

		if err := h.objectSvc.CheckWritable(lib, user.ID, ""); err != nil {
			respondSyncError(w, err)
			return
		}

		headerVersion, err := parseVersionHeader(r, "If-Unmodified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		version, err := h.objectSvc.DeleteObject(r.Context(), lib, objectType, key, headerVersion)
		if err != nil {
			respondSyncError(w, err)
			return
		}

		setVersionHeader(w, version)
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteMany handles DELETE with a key list query parameter. The version
// precondition is the library version, carried in the header; the body
// channel does not exist for deletes.
// @Summary Delete multiple objects
// @Description Tombstones the listed objects in one transaction at one new version. If-Unmodified-Since-Version names the library version and is required.
// @Tags objects
// @Produce json
// @Param libraryID path int true "Library ID"
// @Param itemKey query string false "Comma-separated object keys"
// @Success 204 "Deleted"
// @Failure 412 {object} models.ErrorResponse "Version conflict"
// @Failure 428 {object} models.ErrorResponse "Version required"
// @Security ApiKeyAuth
// @Router /api/libraries/{libraryID}/items [delete]
func (h *ObjectHandler) DeleteMany(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib := middleware.GetLibraryFromContext(r.Context())
		user := middleware.GetUserFromContext(r.Context())

		keys := deleteKeys(r, objectType)
		if len(keys) == 0 {
			respondError(w, http.StatusBadRequest, "No object keys provided.")
			return
		}

		if err := h.objectSvc.CheckWritable(lib, user.ID, ""); err != nil {
			respondSyncError(w, err)
			return
		}

		headerVersion, err := parseVersionHeader(r, "If-Unmodified-Since-Version")
		if err != nil {
			respondSyncError(w, err)
			return
		}

		version, err := h.objectSvc.DeleteObjects(r.Context(), lib, objectType, keys, headerVersion)
		if err != nil {
			respondSyncError(w, err)
			return
		}

		setVersionHeader(w, version)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *ObjectHandler) writeSingle(w http.ResponseWriter, r *http.Request, lib *models.Library, credential, writeToken, objectType, key string, body []byte, headerVersion *int64) {
	payload, err := models.ParseObjectPayload(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Request body must be a JSON object.")
		return
	}

	cond := services.WriteCondition{HeaderVersion: headerVersion, BodyVersion: payload.Version}
	outcome, err := h.objectSvc.WriteObject(r.Context(), lib, objectType, key, payload, cond)
	if err != nil {
		h.recordFailure(r, err)
		respondSyncError(w, err)
		return
	}

	h.recordWrite(r, objectType, outcome.Changed)
	h.objectSvc.MarkWriteToken(credential, writeToken)
	setVersionHeader(w, outcome.ReportedVersion)
	respondJSON(w, http.StatusOK, outcome.Object.ToResponse())
}

func (h *ObjectHandler) writeBatch(w http.ResponseWriter, r *http.Request, lib *models.Library, credential, writeToken, objectType string, body []byte, headerVersion *int64) {
	var payloads []json.RawMessage
	if err := json.Unmarshal(body, &payloads); err != nil {
		respondError(w, http.StatusBadRequest, "Request body must be a JSON array of objects.")
		return
	}

	manifest, version, err := h.objectSvc.WriteObjects(r.Context(), lib, objectType, payloads, headerVersion)
	if err != nil {
		h.recordFailure(r, err)
		respondSyncError(w, err)
		return
	}

	h.recordWrite(r, objectType, len(manifest.Successful) > 0)
	// A manifest where every index failed did not consume the token; the
	// client may retry the same batch with it.
	if len(manifest.Successful) > 0 || len(manifest.Unchanged) > 0 {
		h.objectSvc.MarkWriteToken(credential, writeToken)
	}
	setVersionHeader(w, version)
	respondJSON(w, http.StatusOK, manifest)
}

// mergeObjectJSON overlays patch fields onto the existing object data.
// Server-managed properties cannot be patched away.
func mergeObjectJSON(current, patch json.RawMessage) (json.RawMessage, error) {
	var base map[string]interface{}
	if err := json.Unmarshal(current, &base); err != nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "stored object is not a JSON object")
	}
	var overlay map[string]interface{}
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "patch body must be a JSON object")
	}
	for k, v := range overlay {
		if k == "key" {
			continue
		}
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return json.Marshal(base)
}

// deleteKeys reads the key list for a multi-delete, accepting both the
// type-specific parameter name and a generic "key"
func deleteKeys(r *http.Request, objectType string) []string {
	// "item" -> "itemKey", "search" -> "searchKey"
	raw := r.URL.Query().Get(objectType + "Key")
	if raw == "" {
		raw = r.URL.Query().Get("key")
	}
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func queryInt64(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

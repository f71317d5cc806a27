package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/middleware"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
	"github.com/libsync/server/internal/services"
)

type objectHandlerEnv struct {
	handler   *ObjectHandler
	libraries repository.LibraryRepo
	lib       *models.Library
	user      *models.User
}

func setupObjectHandlerTest(t *testing.T) *objectHandlerEnv {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := repository.NewUserRepository(db)
	libraries := repository.NewLibraryRepository(db)
	objects := repository.NewObjectRepository(db)

	user, err := models.NewUser("erin", "Erin", false)
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), user))

	lib := &models.Library{OwnerID: user.ID, Type: models.LibraryTypeUser}
	require.NoError(t, libraries.Create(context.Background(), lib))

	writeTokens := cache.NewWriteTokenCache(cache.NewMemoryCache(), time.Hour)
	precond := services.NewPreconditionService()
	svc := services.NewObjectService(db, libraries, objects, precond, writeTokens)

	return &objectHandlerEnv{
		handler:   NewObjectHandler(objects, svc, precond, nil),
		libraries: libraries,
		lib:       lib,
		user:      user,
	}
}

// postObjects drives the Write handler directly with the library and user
// attached the way the route middleware would
func (e *objectHandlerEnv) postObjects(t *testing.T, writeToken, body string) *httptest.ResponseRecorder {
	lib, err := e.libraries.GetByID(context.Background(), e.lib.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/libraries/1/items", strings.NewReader(body))
	if writeToken != "" {
		req.Header.Set("Zotero-Write-Token", writeToken)
	}
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, e.user)
	ctx = context.WithValue(ctx, middleware.LibraryContextKey, lib)

	w := httptest.NewRecorder()
	e.handler.Write(models.ObjectTypeItem)(w, req.WithContext(ctx))
	return w
}

func decodeManifest(t *testing.T, w *httptest.ResponseRecorder) *models.WriteManifest {
	var manifest models.WriteManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &manifest))
	return &manifest
}

func TestObjectHandler_WriteTokenMarking(t *testing.T) {
	token := "retry-batch-token"

	t.Run("token consumed after a successful batch", func(t *testing.T) {
		env := setupObjectHandlerTest(t)

		w := env.postObjects(t, token, `[{"key":"AAAA2222","data":{"title":"one"}}]`)
		require.Equal(t, http.StatusOK, w.Code)
		manifest := decodeManifest(t, w)
		assert.Len(t, manifest.Successful, 1)

		w = env.postObjects(t, token, `[{"key":"BBBB2222","data":{"title":"two"}}]`)
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})

	t.Run("all-failed batch leaves the token unconsumed", func(t *testing.T) {
		env := setupObjectHandlerTest(t)

		// Lowercase keys fail per-object validation, so the manifest is
		// 200 with every index under failed
		w := env.postObjects(t, token, `[{"key":"bad-key!"}]`)
		require.Equal(t, http.StatusOK, w.Code)
		manifest := decodeManifest(t, w)
		assert.Empty(t, manifest.Successful)
		assert.Empty(t, manifest.Unchanged)

		// The same token still admits the corrected retry
		w = env.postObjects(t, token, `[{"key":"AAAA2222","data":{"title":"fixed"}}]`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeManifest(t, w).Successful, 1)
	})

	t.Run("no-op batch still consumes the token", func(t *testing.T) {
		env := setupObjectHandlerTest(t)

		w := env.postObjects(t, "", `[{"key":"AAAA2222","data":{"title":"one"}}]`)
		require.Equal(t, http.StatusOK, w.Code)

		// Re-writing identical content is unchanged, which counts as a
		// successful application of the token
		w = env.postObjects(t, token, `[{"key":"AAAA2222","version":1,"data":{"title":"one"}}]`)
		require.Equal(t, http.StatusOK, w.Code)
		manifest := decodeManifest(t, w)
		assert.Len(t, manifest.Unchanged, 1)

		w = env.postObjects(t, token, `[{"key":"BBBB2222","data":{"title":"two"}}]`)
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	})
}

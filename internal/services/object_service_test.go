package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
)

type objectTestEnv struct {
	svc     *ObjectService
	lib     *models.Library
	user    *models.User
	objects repository.ObjectRepo
}

func setupObjectTest(t *testing.T) *objectTestEnv {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := repository.NewUserRepository(db)
	libraries := repository.NewLibraryRepository(db)
	objects := repository.NewObjectRepository(db)

	user, err := models.NewUser("alice", "Alice", false)
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), user))

	lib := &models.Library{OwnerID: user.ID, Type: models.LibraryTypeUser}
	require.NoError(t, libraries.Create(context.Background(), lib))

	memCache := cache.NewMemoryCache()
	writeTokens := cache.NewWriteTokenCache(memCache, time.Hour)
	svc := NewObjectService(db, libraries, objects, NewPreconditionService(), writeTokens)

	return &objectTestEnv{svc: svc, lib: lib, user: user, objects: objects}
}

func (e *objectTestEnv) reloadLibrary(t *testing.T) *models.Library {
	lib, err := e.svc.libraries.GetByID(context.Background(), e.lib.ID)
	require.NoError(t, err)
	require.NotNil(t, lib)
	return lib
}

func intPtr(v int64) *int64 {
	return &v
}

func TestObjectService_WriteObject(t *testing.T) {
	ctx := context.Background()

	t.Run("creates object with bumped library version", func(t *testing.T) {
		env := setupObjectTest(t)

		payload := &models.ObjectPayload{Data: json.RawMessage(`{"title":"First"}`)}
		outcome, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", payload, WriteCondition{})
		require.NoError(t, err)

		assert.True(t, outcome.Changed)
		assert.Equal(t, int64(1), outcome.ReportedVersion)
		assert.Equal(t, int64(1), outcome.Object.Version)
		assert.Equal(t, "AAAA2222", outcome.Object.Key)

		lib := env.reloadLibrary(t)
		assert.Equal(t, int64(1), lib.Version)
	})

	t.Run("generates key when none supplied", func(t *testing.T) {
		env := setupObjectTest(t)

		payload := &models.ObjectPayload{Data: json.RawMessage(`{"title":"Keyless"}`)}
		outcome, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "", payload, WriteCondition{})
		require.NoError(t, err)

		assert.Len(t, outcome.Object.Key, 8)
		assert.True(t, models.IsValidObjectKey(outcome.Object.Key))
	})

	t.Run("updates with matching version", func(t *testing.T) {
		env := setupObjectTest(t)

		payload := &models.ObjectPayload{Data: json.RawMessage(`{"title":"v1"}`)}
		outcome, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", payload, WriteCondition{})
		require.NoError(t, err)

		payload2 := &models.ObjectPayload{Data: json.RawMessage(`{"title":"v2"}`)}
		outcome2, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", payload2,
			WriteCondition{HeaderVersion: intPtr(outcome.Object.Version)})
		require.NoError(t, err)

		assert.True(t, outcome2.Changed)
		assert.Equal(t, int64(2), outcome2.Object.Version)
	})

	t.Run("stale version fails with 412 and leaves object unchanged", func(t *testing.T) {
		env := setupObjectTest(t)

		payload := &models.ObjectPayload{Data: json.RawMessage(`{"title":"v1"}`)}
		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", payload, WriteCondition{})
		require.NoError(t, err)

		stale := &models.ObjectPayload{Data: json.RawMessage(`{"title":"stale"}`)}
		_, err = env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", stale,
			WriteCondition{HeaderVersion: intPtr(99)})
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 412, se.Status)
		assert.Equal(t, int64(1), se.CurrentVersion)

		obj, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "AAAA2222")
		require.NoError(t, err)
		assert.Equal(t, int64(1), obj.Version)
		assert.JSONEq(t, `{"key":"AAAA2222","version":1,"title":"v1"}`, string(obj.Data))
	})

	t.Run("missing version on existing object fails with 428", func(t *testing.T) {
		env := setupObjectTest(t)

		payload := &models.ObjectPayload{Data: json.RawMessage(`{"title":"v1"}`)}
		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", payload, WriteCondition{})
		require.NoError(t, err)

		_, err = env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"v2"}`)}, WriteCondition{})
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 428, se.Status)
	})

	t.Run("nonzero version against missing object fails with 412", func(t *testing.T) {
		env := setupObjectTest(t)

		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "BBBB3333",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"ghost"}`)},
			WriteCondition{HeaderVersion: intPtr(5)})
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 412, se.Status)
	})

	t.Run("identical write is a no-op reporting prior version", func(t *testing.T) {
		env := setupObjectTest(t)

		payload := &models.ObjectPayload{Data: json.RawMessage(`{"title":"same"}`)}
		outcome1, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", payload, WriteCondition{})
		require.NoError(t, err)
		require.True(t, outcome1.Changed)

		// The resubmission carries the server-stamped key and version, as a
		// client echoing back what it downloaded would
		outcome2, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			&models.ObjectPayload{Data: json.RawMessage(`{"key":"AAAA2222","version":1,"title":"same"}`)},
			WriteCondition{HeaderVersion: intPtr(1)})
		require.NoError(t, err)

		assert.False(t, outcome2.Changed)
		assert.Equal(t, int64(1), outcome2.ReportedVersion)
		assert.Equal(t, int64(1), outcome2.Object.Version)

		// The counter was still consumed, leaving a gap
		lib := env.reloadLibrary(t)
		assert.Equal(t, int64(2), lib.Version)
	})

	t.Run("rejects invalid object key", func(t *testing.T) {
		env := setupObjectTest(t)

		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "bad key!",
			&models.ObjectPayload{Data: json.RawMessage(`{}`)}, WriteCondition{})
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 400, se.Status)
	})

	t.Run("settings are exempt from key format rules", func(t *testing.T) {
		env := setupObjectTest(t)

		outcome, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeSetting, "tagColors",
			&models.ObjectPayload{Data: json.RawMessage(`{"value":[]}`)}, WriteCondition{})
		require.NoError(t, err)
		assert.Equal(t, "tagColors", outcome.Object.Key)
	})
}

func TestObjectService_CheckWritable(t *testing.T) {
	env := setupObjectTest(t)
	credential := env.user.ID

	t.Run("locked library refuses writes", func(t *testing.T) {
		locked := *env.lib
		locked.Locked = true

		err := env.svc.CheckWritable(&locked, credential, "")
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 409, se.Status)
		assert.Equal(t, models.CodeLibraryLocked, se.Code)
	})

	t.Run("malformed write token is a 400", func(t *testing.T) {
		err := env.svc.CheckWritable(env.lib, credential, "abc")
		require.Error(t, err)
		assert.Equal(t, 400, models.AsSyncError(err).Status)
	})

	t.Run("write token replay is a 412", func(t *testing.T) {
		token := "deadbeefdeadbeef"
		require.NoError(t, env.svc.CheckWritable(env.lib, credential, token))

		env.svc.MarkWriteToken(credential, token)

		err := env.svc.CheckWritable(env.lib, credential, token)
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 412, se.Status)
		assert.Equal(t, models.CodeWriteTokenReplay, se.Code)
	})

	t.Run("same token under another credential passes", func(t *testing.T) {
		token := "cafecafecafecafe"
		env.svc.MarkWriteToken(credential, token)
		require.NoError(t, env.svc.CheckWritable(env.lib, "other-user", token))
	})
}

func TestObjectService_WriteObjects(t *testing.T) {
	ctx := context.Background()

	t.Run("partial failure persists the successes", func(t *testing.T) {
		env := setupObjectTest(t)

		// Seed an object so index 1 can fail its precondition
		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "EXISTING",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"seed"}`)}, WriteCondition{})
		require.NoError(t, err)

		lib := env.reloadLibrary(t)
		payloads := []json.RawMessage{
			json.RawMessage(`{"key":"NEWKEY22","title":"zero"}`),
			json.RawMessage(`{"key":"EXISTING","version":99,"title":"stale"}`),
			json.RawMessage(`{"key":"NEWKEY33","title":"two"}`),
		}

		manifest, _, err := env.svc.WriteObjects(ctx, lib, models.ObjectTypeItem, payloads, nil)
		require.NoError(t, err)

		assert.Len(t, manifest.Successful, 2)
		assert.Len(t, manifest.Failed, 1)
		assert.Contains(t, manifest.Failed, "1")

		// The failed sibling did not abort the others
		obj0, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "NEWKEY22")
		require.NoError(t, err)
		require.NotNil(t, obj0)

		obj2, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "NEWKEY33")
		require.NoError(t, err)
		require.NotNil(t, obj2)

		// The existing object kept its state
		seed, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "EXISTING")
		require.NoError(t, err)
		assert.Equal(t, int64(1), seed.Version)
	})

	t.Run("stale library header version fails whole batch", func(t *testing.T) {
		env := setupObjectTest(t)

		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"seed"}`)}, WriteCondition{})
		require.NoError(t, err)

		lib := env.reloadLibrary(t)
		_, _, err = env.svc.WriteObjects(ctx, lib, models.ObjectTypeItem,
			[]json.RawMessage{json.RawMessage(`{"key":"NEWKEY22"}`)}, intPtr(lib.Version-1))
		require.Error(t, err)
		assert.Equal(t, 412, models.AsSyncError(err).Status)
	})
}

func TestObjectService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("delete tombstones at a new version", func(t *testing.T) {
		env := setupObjectTest(t)

		outcome, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"doomed"}`)}, WriteCondition{})
		require.NoError(t, err)

		version, err := env.svc.DeleteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			intPtr(outcome.Object.Version))
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)

		obj, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "AAAA2222")
		require.NoError(t, err)
		assert.True(t, obj.Deleted)
		assert.Equal(t, int64(2), obj.Version)
	})

	t.Run("delete without version fails with 428", func(t *testing.T) {
		env := setupObjectTest(t)

		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"x"}`)}, WriteCondition{})
		require.NoError(t, err)

		_, err = env.svc.DeleteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222", nil)
		require.Error(t, err)
		assert.Equal(t, 428, models.AsSyncError(err).Status)
	})

	t.Run("multi-delete shares one version across tombstones", func(t *testing.T) {
		env := setupObjectTest(t)

		for _, key := range []string{"AAAA2222", "BBBB3333"} {
			_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, key,
				&models.ObjectPayload{Data: json.RawMessage(`{"title":"` + key + `"}`)}, WriteCondition{})
			require.NoError(t, err)
		}

		lib := env.reloadLibrary(t)
		version, err := env.svc.DeleteObjects(ctx, lib, models.ObjectTypeItem,
			[]string{"AAAA2222", "BBBB3333"}, intPtr(lib.Version))
		require.NoError(t, err)

		for _, key := range []string{"AAAA2222", "BBBB3333"} {
			obj, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, key)
			require.NoError(t, err)
			assert.True(t, obj.Deleted)
			assert.Equal(t, version, obj.Version)
		}
	})

	t.Run("multi-delete with stale library version fails with 412", func(t *testing.T) {
		env := setupObjectTest(t)

		_, err := env.svc.WriteObject(ctx, env.lib, models.ObjectTypeItem, "AAAA2222",
			&models.ObjectPayload{Data: json.RawMessage(`{"title":"x"}`)}, WriteCondition{})
		require.NoError(t, err)

		lib := env.reloadLibrary(t)
		_, err = env.svc.DeleteObjects(ctx, lib, models.ObjectTypeItem, []string{"AAAA2222"}, intPtr(lib.Version-1))
		require.Error(t, err)
		assert.Equal(t, 412, models.AsSyncError(err).Status)
	})
}

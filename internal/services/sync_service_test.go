package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
)

type recordingNotifier struct {
	notified []string
}

func (n *recordingNotifier) Notify(userID string) {
	n.notified = append(n.notified, userID)
}

type syncTestEnv struct {
	db        *sql.DB
	svc       *SyncService
	lib       *models.Library
	user      *models.User
	session   *models.SyncSession
	objects   repository.ObjectRepo
	libraries repository.LibraryRepo
	queue     repository.SyncQueueRepo
	notifier  *recordingNotifier
	waitIndex *cache.WaitIndex
}

func setupSyncTest(t *testing.T, queueThreshold int) *syncTestEnv {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := repository.NewUserRepository(db)
	libraries := repository.NewLibraryRepository(db)
	objects := repository.NewObjectRepository(db)
	locks := repository.NewSyncLockRepository(db)
	queue := repository.NewSyncQueueRepository(db)

	user, err := models.NewUser("carol", "Carol", false)
	require.NoError(t, err)
	require.NoError(t, users.Create(context.Background(), user))

	lib := &models.Library{OwnerID: user.ID, Type: models.LibraryTypeUser}
	require.NoError(t, libraries.Create(context.Background(), lib))

	session, err := models.NewSyncSession(user.ID, "10.0.0.1")
	require.NoError(t, err)

	validator, err := NewUploadValidator(250000)
	require.NoError(t, err)

	memCache := cache.NewMemoryCache()
	downloads := cache.NewDownloadCache(memCache, 30*time.Minute)
	waitIndex := cache.NewWaitIndex(memCache, time.Hour)
	notifier := &recordingNotifier{}

	svc := NewSyncService(db, libraries, objects, locks, queue, validator,
		downloads, waitIndex, notifier, queueThreshold, true, 30*time.Second)

	return &syncTestEnv{
		db: db, svc: svc, lib: lib, user: user, session: session,
		objects: objects, libraries: libraries, queue: queue,
		notifier: notifier, waitIndex: waitIndex,
	}
}

func (e *syncTestEnv) seedObjects(t *testing.T, n int) {
	ctx := context.Background()
	err := repository.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		for i := 0; i < n; i++ {
			version, err := e.libraries.NextVersionTx(ctx, tx, e.lib.ID, time.Now().UTC())
			if err != nil {
				return err
			}
			obj := &models.DataObject{
				LibraryID:  e.lib.ID,
				ObjectType: models.ObjectTypeItem,
				Key:        fmt.Sprintf("SEED%04d", i+2222),
				Version:    version,
				Data:       json.RawMessage(fmt.Sprintf(`{"title":"seed %d"}`, i)),
			}
			if err := e.objects.UpsertTx(ctx, tx, obj); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (e *syncTestEnv) grantLock(t *testing.T, kind, sessionID string) {
	var sid interface{}
	if sessionID != "" {
		sid = sessionID
	}
	_, err := e.db.Exec(
		`INSERT INTO sync_locks (user_id, kind, session_id, acquired_at) VALUES ($1, $2, $3, $4)`,
		e.user.ID, kind, sid, time.Now().UTC())
	require.NoError(t, err)
}

func (e *syncTestEnv) currentUpdateKey(t *testing.T) string {
	lib, err := e.libraries.GetByID(context.Background(), e.lib.ID)
	require.NoError(t, err)
	return lib.UpdateKey()
}

func TestSyncService_Updated(t *testing.T) {
	ctx := context.Background()

	t.Run("small change set is served synchronously", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.seedObjects(t, 3)

		result, err := env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)

		assert.Equal(t, models.SyncReady, result.Kind)
		require.NotNil(t, result.Payload)
		assert.Equal(t, int64(3), result.Payload.Version)
		assert.Len(t, result.Payload.Objects, 3)
	})

	t.Run("repeat request hits the response cache", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.seedObjects(t, 2)

		first, err := env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)

		// More changes arrive, but the cached response for this cursor
		// still answers until it expires
		env.seedObjects(t, 1)

		second, err := env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)
		assert.Equal(t, first.Payload, second.Payload)
	})

	t.Run("cursor filters already-synced objects", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.seedObjects(t, 4)

		result, err := env.svc.Updated(ctx, env.session, 2, 9, "", false)
		require.NoError(t, err)
		assert.Len(t, result.Payload.Objects, 2)
	})

	t.Run("read lock yields escalating wait hints", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.grantLock(t, repository.LockKindRead, "")

		result, err := env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)
		assert.Equal(t, models.SyncLocked, result.Kind)
		assert.Equal(t, 2000, result.Wait)

		result, err = env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)
		assert.Equal(t, 5000, result.Wait)
	})

	t.Run("write lock only matters when the client will upload", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.seedObjects(t, 1)
		env.grantLock(t, repository.LockKindWrite, "")

		result, err := env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)
		assert.Equal(t, models.SyncReady, result.Kind)

		result, err = env.svc.Updated(ctx, env.session, 0, 9, "filter", true)
		require.NoError(t, err)
		assert.Equal(t, models.SyncLocked, result.Kind)
	})

	t.Run("large change set is queued", func(t *testing.T) {
		env := setupSyncTest(t, 2)
		env.seedObjects(t, 3)

		result, err := env.svc.Updated(ctx, env.session, 0, 9, "", false)
		require.NoError(t, err)

		assert.Equal(t, models.SyncLocked, result.Kind)
		assert.Equal(t, 1000, result.Wait)
		assert.Equal(t, []string{env.user.ID}, env.notifier.notified)

		job, err := env.queue.GetLatestForSession(ctx, env.session.ID)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, models.JobKindDownload, job.Kind)
	})
}

func TestSyncService_Upload(t *testing.T) {
	ctx := context.Background()

	uploadBody := func(t *testing.T, n int) []byte {
		doc := map[string]interface{}{"objects": []interface{}{}}
		objs := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			objs = append(objs, map[string]interface{}{
				"objectType": "item",
				"key":        fmt.Sprintf("UPLD%04d", i+2222),
				"data":       map[string]interface{}{"title": fmt.Sprintf("uploaded %d", i)},
			})
		}
		doc["objects"] = objs
		raw, err := json.Marshal(doc)
		require.NoError(t, err)
		return raw
	}

	t.Run("small upload is applied synchronously", func(t *testing.T) {
		env := setupSyncTest(t, 5)

		result, err := env.svc.Upload(ctx, env.session, env.currentUpdateKey(t), uploadBody(t, 2))
		require.NoError(t, err)

		assert.Equal(t, models.SyncUploaded, result.Kind)

		// Both objects persisted with one shared version
		obj, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "UPLD2222")
		require.NoError(t, err)
		require.NotNil(t, obj)
		assert.Equal(t, int64(1), obj.Version)

		obj2, err := env.objects.Get(ctx, env.lib.ID, models.ObjectTypeItem, "UPLD2223")
		require.NoError(t, err)
		require.NotNil(t, obj2)
		assert.Equal(t, int64(1), obj2.Version)
	})

	t.Run("locked library rejects the upload without advancing the version", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		updateKey := env.currentUpdateKey(t)
		require.NoError(t, env.libraries.SetLocked(ctx, env.lib.ID, true))

		_, err := env.svc.Upload(ctx, env.session, updateKey, uploadBody(t, 1))
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 409, se.Status)
		assert.Equal(t, models.CodeLibraryLocked, se.Code)

		lib, err := env.libraries.GetByID(ctx, env.lib.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), lib.Version)
	})

	t.Run("stale update key is a conflict", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		staleKey := env.currentUpdateKey(t)
		env.seedObjects(t, 1)

		_, err := env.svc.Upload(ctx, env.session, staleKey, uploadBody(t, 1))
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 409, se.Status)
		assert.Equal(t, models.CodeUpdateKeyMismatch, se.Code)
	})

	t.Run("another session's lock defers the upload", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.grantLock(t, repository.LockKindWrite, "other-session")

		result, err := env.svc.Upload(ctx, env.session, env.currentUpdateKey(t), uploadBody(t, 1))
		require.NoError(t, err)
		assert.Equal(t, models.SyncLocked, result.Kind)
	})

	t.Run("own session's lock does not block", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		env.grantLock(t, repository.LockKindWrite, env.session.ID)

		result, err := env.svc.Upload(ctx, env.session, env.currentUpdateKey(t), uploadBody(t, 1))
		require.NoError(t, err)
		assert.Equal(t, models.SyncUploaded, result.Kind)
	})

	t.Run("malformed document is rejected before any write", func(t *testing.T) {
		env := setupSyncTest(t, 5)

		_, err := env.svc.Upload(ctx, env.session, env.currentUpdateKey(t), []byte(`{"wrong":true}`))
		require.Error(t, err)
		assert.Equal(t, models.CodeSchemaInvalid, models.AsSyncError(err).Code)

		lib, err := env.libraries.GetByID(ctx, env.lib.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), lib.Version)
	})

	t.Run("large upload is queued", func(t *testing.T) {
		env := setupSyncTest(t, 1)

		result, err := env.svc.Upload(ctx, env.session, env.currentUpdateKey(t), uploadBody(t, 3))
		require.NoError(t, err)

		assert.Equal(t, models.SyncQueued, result.Kind)
		assert.NotEmpty(t, env.notifier.notified)

		job, err := env.queue.GetLatestForSession(ctx, env.session.ID)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, models.JobKindUpload, job.Kind)
	})
}

func TestSyncService_UploadStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no pending upload is a bad request", func(t *testing.T) {
		env := setupSyncTest(t, 5)

		_, err := env.svc.UploadStatus(ctx, env.session)
		require.Error(t, err)
		assert.Equal(t, 400, models.AsSyncError(err).Status)
	})

	t.Run("queued job reports a wait hint", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		job := models.NewSyncJob(env.user.ID, env.session.ID, models.JobKindUpload, "{}")
		require.NoError(t, env.queue.Enqueue(ctx, job))

		result, err := env.svc.UploadStatus(ctx, env.session)
		require.NoError(t, err)
		assert.Equal(t, models.SyncQueued, result.Kind)
		assert.Equal(t, 2000, result.Wait)
	})

	t.Run("completed job reports uploaded and resets backoff", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		job := models.NewSyncJob(env.user.ID, env.session.ID, models.JobKindUpload, "{}")
		require.NoError(t, env.queue.Enqueue(ctx, job))
		require.NoError(t, env.queue.MarkDone(ctx, job.ID))

		// Burn through a few polls first
		env.waitIndex.Next(env.session.ID)
		env.waitIndex.Next(env.session.ID)

		result, err := env.svc.UploadStatus(ctx, env.session)
		require.NoError(t, err)
		assert.Equal(t, models.SyncUploaded, result.Kind)

		assert.Equal(t, 2000, env.waitIndex.Next(env.session.ID))
	})

	t.Run("failed job surfaces the recorded error", func(t *testing.T) {
		env := setupSyncTest(t, 5)
		job := models.NewSyncJob(env.user.ID, env.session.ID, models.JobKindUpload, "{}")
		require.NoError(t, env.queue.Enqueue(ctx, job))
		require.NoError(t, env.queue.MarkFailed(ctx, job.ID, string(models.CodeProcessingFailed), "worker exploded"))

		_, err := env.svc.UploadStatus(ctx, env.session)
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, models.CodeProcessingFailed, se.Code)
		assert.Equal(t, "worker exploded", se.Message)
	})
}

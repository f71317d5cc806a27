package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
)

type sessionTestEnv struct {
	svc      *SessionService
	sessions repository.SessionRepo
	cache    *cache.MemoryCache
	user     *models.User
}

func setupSessionTest(t *testing.T) *sessionTestEnv {
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)

	user, err := models.NewUser("bob", "Bob", false)
	require.NoError(t, err)
	require.NoError(t, user.SetPassword("correct horse"))
	require.NoError(t, users.Create(context.Background(), user))

	memCache := cache.NewMemoryCache()
	svc := NewSessionService(sessions, users, memCache, time.Hour, 20*time.Minute)

	return &sessionTestEnv{svc: svc, sessions: sessions, cache: memCache, user: user}
}

func TestSessionService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials mint a session", func(t *testing.T) {
		env := setupSessionTest(t)

		session, err := env.svc.Login(ctx, "bob", "correct horse", "10.0.0.1")
		require.NoError(t, err)
		assert.Len(t, session.ID, 32)
		assert.Equal(t, env.user.ID, session.UserID)

		// Durable record exists alongside the cache entry
		stored, err := env.sessions.Get(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)

		_, cached := env.cache.Get(sessionCacheKey(session.ID))
		assert.True(t, cached)
	})

	t.Run("wrong password is a 403", func(t *testing.T) {
		env := setupSessionTest(t)

		_, err := env.svc.Login(ctx, "bob", "wrong", "10.0.0.1")
		require.Error(t, err)

		se := models.AsSyncError(err)
		require.NotNil(t, se)
		assert.Equal(t, 403, se.Status)
		assert.Equal(t, models.CodeInvalidLogin, se.Code)
	})

	t.Run("unknown user is indistinguishable from wrong password", func(t *testing.T) {
		env := setupSessionTest(t)

		_, err := env.svc.Login(ctx, "nobody", "whatever", "10.0.0.1")
		require.Error(t, err)
		assert.Equal(t, models.CodeInvalidLogin, models.AsSyncError(err).Code)
	})
}

func TestSessionService_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("cached session authenticates", func(t *testing.T) {
		env := setupSessionTest(t)

		session, err := env.svc.Login(ctx, "bob", "correct horse", "10.0.0.1")
		require.NoError(t, err)

		checked, err := env.svc.Check(ctx, session.ID, 9)
		require.NoError(t, err)
		assert.Equal(t, session.ID, checked.ID)
	})

	t.Run("falls back to the durable record on cache miss", func(t *testing.T) {
		env := setupSessionTest(t)

		session, err := env.svc.Login(ctx, "bob", "correct horse", "10.0.0.1")
		require.NoError(t, err)

		env.cache.Clear()

		checked, err := env.svc.Check(ctx, session.ID, 9)
		require.NoError(t, err)
		assert.Equal(t, session.ID, checked.ID)

		// The fallback re-primed the cache
		_, cached := env.cache.Get(sessionCacheKey(session.ID))
		assert.True(t, cached)
	})

	t.Run("unknown session uses protocol-dependent status", func(t *testing.T) {
		env := setupSessionTest(t)

		_, err := env.svc.Check(ctx, "ffffffffffffffffffffffffffffffff", 9)
		require.Error(t, err)
		assert.Equal(t, 403, models.AsSyncError(err).Status)

		_, err = env.svc.Check(ctx, "ffffffffffffffffffffffffffffffff", 8)
		require.Error(t, err)
		assert.Equal(t, 500, models.AsSyncError(err).Status)
	})

	t.Run("empty session ID is invalid", func(t *testing.T) {
		env := setupSessionTest(t)

		_, err := env.svc.Check(ctx, "", 9)
		require.Error(t, err)
		assert.Equal(t, models.CodeInvalidSession, models.AsSyncError(err).Code)
	})

	t.Run("expired session is invalid", func(t *testing.T) {
		env := setupSessionTest(t)

		session, err := models.NewSyncSession(env.user.ID, "10.0.0.1")
		require.NoError(t, err)
		session.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
		session.LastUsedAt = session.CreatedAt
		require.NoError(t, env.sessions.Create(ctx, session))

		_, err = env.svc.Check(ctx, session.ID, 9)
		require.Error(t, err)
		assert.Equal(t, models.CodeInvalidSession, models.AsSyncError(err).Code)
	})

	t.Run("concurrent checks work on independent session copies", func(t *testing.T) {
		env := setupSessionTest(t)

		session, err := env.svc.Login(ctx, "bob", "correct horse", "10.0.0.1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				checked, err := env.svc.Check(ctx, session.ID, 9)
				if assert.NoError(t, err) {
					assert.Equal(t, session.ID, checked.ID)
				}
			}()
		}
		wg.Wait()

		// Each cache hit hands back its own copy, never a shared record
		a, err := env.svc.Check(ctx, session.ID, 9)
		require.NoError(t, err)
		b, err := env.svc.Check(ctx, session.ID, 9)
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("repeated checks debounce the durable update", func(t *testing.T) {
		env := setupSessionTest(t)

		session, err := env.svc.Login(ctx, "bob", "correct horse", "10.0.0.1")
		require.NoError(t, err)

		_, err = env.svc.Check(ctx, session.ID, 9)
		require.NoError(t, err)

		// The debounce flag is now set, so a second check leaves the
		// durable timestamp alone
		stored1, err := env.sessions.Get(ctx, session.ID)
		require.NoError(t, err)

		_, err = env.svc.Check(ctx, session.ID, 9)
		require.NoError(t, err)

		stored2, err := env.sessions.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, stored1.LastUsedAt, stored2.LastUsedAt)
	})
}

func TestSessionService_Logout(t *testing.T) {
	ctx := context.Background()
	env := setupSessionTest(t)

	session, err := env.svc.Login(ctx, "bob", "correct horse", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, session.ID))

	_, err = env.svc.Check(ctx, session.ID, 9)
	require.Error(t, err)
	assert.Equal(t, models.CodeInvalidSession, models.AsSyncError(err).Code)

	stored, err := env.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

package services

import (
	"context"
	"net/http"
	"time"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
)

// Protocol version at which clients can parse a 403 on session failure.
// Older clients get a 500 they know how to display.
const sessionErrorProtocolVersion = 9

// SessionService manages legacy sync sessions as a two-tier store: a fast
// expiring cache in front of a durable record. Cache TTLs are set shorter
// than the session lifetime so the durable record is refreshed before a
// valid session could be stranded by an expiring cache entry.
type SessionService struct {
	sessions repository.SessionRepo
	users    repository.UserRepo
	cache    *cache.MemoryCache
	lifetime time.Duration
	debounce time.Duration
}

// NewSessionService creates a new SessionService
func NewSessionService(
	sessions repository.SessionRepo,
	users repository.UserRepo,
	memCache *cache.MemoryCache,
	lifetime, debounce time.Duration,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		users:    users,
		cache:    memCache,
		lifetime: lifetime,
		debounce: debounce,
	}
}

// Login validates credentials and mints a new session
func (s *SessionService) Login(ctx context.Context, username, password, ipAddress string) (*models.SyncSession, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.VerifyPassword(password) {
		return nil, &models.SyncError{
			Status:  http.StatusForbidden,
			Code:    models.CodeInvalidLogin,
			Message: "invalid username or password",
		}
	}

	session, err := models.NewSyncSession(user.ID, ipAddress)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.cache.Set(sessionCacheKey(session.ID), *session, s.loginCacheTTL())
	return session, nil
}

// Check authenticates a session ID, preferring the cache and falling back to
// the durable record. The durable last-used timestamp is refreshed at most
// once per debounce interval, gated by a short-TTL cache flag that is never
// consulted for authorization.
func (s *SessionService) Check(ctx context.Context, sessionID string, protocolVersion int) (*models.SyncSession, error) {
	if sessionID == "" {
		return nil, s.invalidSession(protocolVersion)
	}

	// The cache holds session values, not pointers, so every hit works on
	// its own copy; concurrent checks never share a mutable record.
	if v, ok := s.cache.Get(sessionCacheKey(sessionID)); ok {
		session := v.(models.SyncSession)
		session.Touch()
		s.cache.Set(sessionCacheKey(sessionID), session, s.refreshCacheTTL())
		s.debouncedDBUpdate(ctx, &session)
		return &session, nil
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Age() > s.lifetime {
		return nil, s.invalidSession(protocolVersion)
	}

	session.Touch()
	if err := s.sessions.UpdateLastUsed(ctx, sessionID, session.LastUsedAt); err != nil {
		return nil, err
	}
	s.cache.Set(sessionCacheKey(sessionID), *session, s.refreshCacheTTL())
	return session, nil
}

// Logout deletes the session from both tiers
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	s.cache.Delete(sessionCacheKey(sessionID))
	s.cache.Delete(sessionDebounceKey(sessionID))
	return s.sessions.Delete(ctx, sessionID)
}

// debouncedDBUpdate bounds write amplification on the durable record: the
// cache flag acts purely as a debounce marker.
func (s *SessionService) debouncedDBUpdate(ctx context.Context, session *models.SyncSession) {
	if !s.cache.SetIfAbsent(sessionDebounceKey(session.ID), true, s.debounce) {
		return
	}
	// Best effort: a missed update only delays the durable timestamp
	_ = s.sessions.UpdateLastUsed(ctx, session.ID, session.LastUsedAt)
}

func (s *SessionService) invalidSession(protocolVersion int) *models.SyncError {
	status := http.StatusInternalServerError
	if protocolVersion >= sessionErrorProtocolVersion {
		status = http.StatusForbidden
	}
	return &models.SyncError{
		Status:  status,
		Code:    models.CodeInvalidSession,
		Message: "invalid session ID",
	}
}

// loginCacheTTL leaves a 10 minute margin before the durable record expires
func (s *SessionService) loginCacheTTL() time.Duration {
	return clampTTL(s.lifetime - 10*time.Minute)
}

// refreshCacheTTL leaves a 20 minute margin on refresh
func (s *SessionService) refreshCacheTTL() time.Duration {
	return clampTTL(s.lifetime - 20*time.Minute)
}

func clampTTL(d time.Duration) time.Duration {
	if d < time.Minute {
		return time.Minute
	}
	return d
}

func sessionCacheKey(id string) string {
	return "session_" + id
}

func sessionDebounceKey(id string) string {
	return "session_db_updated_" + id
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/observability"
	"github.com/libsync/server/internal/repository"
)

// QueueNotifier wakes the external queue processor after a job is enqueued
type QueueNotifier interface {
	Notify(userID string)
}

// LogNotifier is the default notifier when no queue processor is attached
type LogNotifier struct{}

// Notify logs the wake-up that would be delivered to the queue processor
func (LogNotifier) Notify(userID string) {
	observability.WithField("user_id", userID).Debug("sync queue notify")
}

// SyncService coordinates the legacy whole-library sync protocol: it checks
// the per-user locks owned by the background processor, decides between
// synchronous and queued execution, and computes poll backoff. Contention is
// always answered with a wait hint, never by holding the connection open.
type SyncService struct {
	db        *sql.DB
	libraries repository.LibraryRepo
	objects   repository.ObjectRepo
	locks     repository.SyncLockRepo
	queue     repository.SyncQueueRepo
	validator *UploadValidator
	downloads *cache.DownloadCache
	waitIndex *cache.WaitIndex
	notifier  QueueNotifier

	queueThreshold       int
	backgroundProcessing bool
	uploadTimeout        time.Duration
}

// NewSyncService creates a new SyncService
func NewSyncService(
	db *sql.DB,
	libraries repository.LibraryRepo,
	objects repository.ObjectRepo,
	locks repository.SyncLockRepo,
	queue repository.SyncQueueRepo,
	validator *UploadValidator,
	downloads *cache.DownloadCache,
	waitIndex *cache.WaitIndex,
	notifier QueueNotifier,
	queueThreshold int,
	backgroundProcessing bool,
	uploadTimeout time.Duration,
) *SyncService {
	return &SyncService{
		db:                   db,
		libraries:            libraries,
		objects:              objects,
		locks:                locks,
		queue:                queue,
		validator:            validator,
		downloads:            downloads,
		waitIndex:            waitIndex,
		notifier:             notifier,
		queueThreshold:       queueThreshold,
		backgroundProcessing: backgroundProcessing,
		uploadTimeout:        uploadTimeout,
	}
}

// Updated serves a whole-library download. lastSync is the client's version
// cursor; willUpload signals that the client intends to upload next, which
// additionally requires the write lock to be free.
func (s *SyncService) Updated(ctx context.Context, session *models.SyncSession, lastSync int64, protocolVersion int, filters string, willUpload bool) (models.SyncResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "updated")
	defer span.End()

	lib, err := s.libraries.GetByOwner(ctx, session.UserID)
	if err != nil {
		return s.classify(err, session.ID)
	}
	if lib == nil {
		return models.SyncResult{}, &models.SyncError{
			Status: http.StatusNotFound, Code: models.CodeLibraryNotFound,
			Message: "no library for user",
		}
	}

	cacheKey := s.downloads.Key(session.UserID, lastSync, protocolVersion, filters)
	if payload, ok := s.downloads.Get(cacheKey); ok {
		s.waitIndex.Clear(session.ID)
		return models.Ready(payload), nil
	}

	locked, err := s.locks.HasLock(ctx, session.UserID, repository.LockKindRead)
	if err != nil {
		return s.classify(err, session.ID)
	}
	if !locked && willUpload {
		locked, err = s.locks.HasLock(ctx, session.UserID, repository.LockKindWrite)
		if err != nil {
			return s.classify(err, session.ID)
		}
	}
	if locked {
		// Nothing is enqueued; the client polls again after the hint
		return models.Locked(s.waitIndex.Next(session.ID)), nil
	}

	changed, err := s.objects.CountModifiedSince(ctx, lib.ID, lastSync)
	if err != nil {
		return s.classify(err, session.ID)
	}

	if changed <= s.queueThreshold || !s.backgroundProcessing {
		payload, err := s.buildUpdatedPayload(ctx, lib, lastSync)
		if err != nil {
			return s.classify(err, session.ID)
		}
		s.downloads.Set(cacheKey, payload)
		s.waitIndex.Clear(session.ID)
		return models.Ready(payload), nil
	}

	// Large change set: hand it to the background processor and tell the
	// client to come back shortly. The wait index is cleared only once the
	// computed payload lands in the cache.
	job := models.NewSyncJob(session.UserID, session.ID, models.JobKindDownload, "")
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return s.classify(err, session.ID)
	}
	s.notifier.Notify(session.UserID)
	return models.Locked(1000), nil
}

// Upload applies a whole-library upload. updateKey is the library CAS token;
// a mismatch forces the client to re-download before retrying.
func (s *SyncService) Upload(ctx context.Context, session *models.SyncSession, updateKey string, raw []byte) (models.SyncResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "upload")
	defer span.End()

	readLocked, err := s.locks.HasLockExcludingSession(ctx, session.UserID, repository.LockKindRead, session.ID)
	if err != nil {
		return s.classify(err, session.ID)
	}
	writeLocked, err := s.locks.HasLockExcludingSession(ctx, session.UserID, repository.LockKindWrite, session.ID)
	if err != nil {
		return s.classify(err, session.ID)
	}
	if readLocked || writeLocked {
		// No state mutation before this point
		return models.Locked(s.waitIndex.Next(session.ID)), nil
	}

	lib, err := s.libraries.GetByOwner(ctx, session.UserID)
	if err != nil {
		return s.classify(err, session.ID)
	}
	if lib == nil {
		return models.SyncResult{}, &models.SyncError{
			Status: http.StatusNotFound, Code: models.CodeLibraryNotFound,
			Message: "no library for user",
		}
	}
	if lib.Locked {
		return models.SyncResult{}, models.NewLibraryLocked(lib.ID)
	}

	if updateKey != lib.UpdateKey() {
		return models.SyncResult{}, &models.SyncError{
			Status:  http.StatusConflict,
			Code:    models.CodeUpdateKeyMismatch,
			Message: "invalid update key; download the latest library state and retry",
		}
	}

	doc, err := s.validator.Validate(raw)
	if err != nil {
		return models.SyncResult{}, err
	}

	if doc.Size() <= s.queueThreshold || !s.backgroundProcessing {
		execCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()

		if err := s.processUpload(execCtx, lib, doc); err != nil {
			return s.classify(err, session.ID)
		}
		s.waitIndex.Clear(session.ID)
		return models.Uploaded(time.Now().Unix()), nil
	}

	job := models.NewSyncJob(session.UserID, session.ID, models.JobKindUpload, string(raw))
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return s.classify(err, session.ID)
	}
	s.notifier.Notify(session.UserID)
	return models.Queued(s.waitIndex.Next(session.ID)), nil
}

// UploadStatus reports the state of the session's queued upload
func (s *SyncService) UploadStatus(ctx context.Context, session *models.SyncSession) (models.SyncResult, error) {
	job, err := s.queue.GetLatestForSession(ctx, session.ID)
	if err != nil {
		return s.classify(err, session.ID)
	}
	if job == nil {
		return models.SyncResult{}, models.NewBadRequest(models.CodeInvalidRequest, "no upload pending for session")
	}

	switch job.Status {
	case models.JobStatusDone:
		s.waitIndex.Clear(session.ID)
		ts := time.Now().Unix()
		if job.FinishedAt != nil {
			ts = job.FinishedAt.Unix()
		}
		return models.Uploaded(ts), nil
	case models.JobStatusFailed:
		return models.SyncResult{}, &models.SyncError{
			Status:  http.StatusInternalServerError,
			Code:    models.ErrorCode(job.ErrorCode),
			Message: job.ErrorMessage,
		}
	default:
		return models.Queued(s.waitIndex.Next(session.ID)), nil
	}
}

// processUpload applies the document in one write transaction. The updateKey
// check already serialized this upload against the library state, so objects
// are written without per-object preconditions, all stamped with a single
// bumped version.
func (s *SyncService) processUpload(ctx context.Context, lib *models.Library, doc *models.UploadDocument) error {
	return repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		version, err := s.libraries.NextVersionTx(ctx, tx, lib.ID, time.Now().UTC())
		if err != nil {
			return err
		}

		for _, uo := range doc.Objects {
			key := uo.Key
			if key == "" {
				if key, err = generateObjectKey(); err != nil {
					return err
				}
			}
			data, err := canonicalData(uo.Data, key, version)
			if err != nil {
				return err
			}
			obj := &models.DataObject{
				LibraryID:  lib.ID,
				ObjectType: uo.ObjectType,
				Key:        key,
				Version:    version,
				Data:       data,
			}
			if err := s.objects.UpsertTx(ctx, tx, obj); err != nil {
				return err
			}
		}

		for _, ref := range doc.Deleted {
			if err := s.objects.DeleteTx(ctx, tx, lib.ID, ref.ObjectType, ref.Key, version); err != nil {
				return err
			}
		}

		return nil
	})
}

// buildUpdatedPayload computes the download payload for everything changed
// after the cursor
func (s *SyncService) buildUpdatedPayload(ctx context.Context, lib *models.Library, lastSync int64) (*models.UpdatedElement, error) {
	objects, err := s.objects.ListModifiedSince(ctx, lib.ID, lastSync)
	if err != nil {
		return nil, err
	}

	payload := &models.UpdatedElement{Version: lib.Version}
	for _, obj := range objects {
		payload.Objects = append(payload.Objects, models.SyncObjectEl{
			Type:    obj.ObjectType,
			Key:     obj.Key,
			Version: obj.Version,
			Deleted: obj.Deleted,
			Data:    string(obj.Data),
		})
	}
	return payload, nil
}

// classify maps failures per the error taxonomy: transient storage errors
// become retryable contention with a wait hint; timeouts become a definitive
// typed error; anything else is wrapped with a correlation report ID and
// surfaced as a generic 500.
func (s *SyncService) classify(err error, sessionID string) (models.SyncResult, error) {
	if se := models.AsSyncError(err); se != nil {
		return models.SyncResult{}, se
	}

	if repository.IsRetryable(err) {
		observability.Warnf("transient storage error treated as contention: %v", err)
		return models.Locked(s.waitIndex.Next(sessionID)), nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.SyncResult{}, &models.SyncError{
			Status:  http.StatusInternalServerError,
			Code:    models.CodeTimeout,
			Message: "the operation exceeded its execution budget",
		}
	}

	reportID := uuid.New().String()[:8]
	observability.Errorf("sync operation failed (report %s): %v", reportID, err)
	return models.SyncResult{}, models.NewInternal(reportID)
}

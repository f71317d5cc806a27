package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/observability"
	"github.com/libsync/server/internal/repository"
)

var fileHashRegex = regexp.MustCompile(`^[a-f0-9]{32}$`)

// Patch algorithms accepted for partial uploads
var supportedPatchAlgorithms = map[string]bool{
	"xdelta": true,
	"bsdiff": true,
}

// FileUploadService coordinates attachment uploads: content-hash
// deduplication, quota enforcement, and a bounded pool of pending upload
// slots per user. The actual bytes go to external storage; this service only
// authorizes the transfer and registers its completion.
type FileUploadService struct {
	db        *sql.DB
	libraries repository.LibraryRepo
	objects   repository.ObjectRepo
	storage   repository.StorageRepo
	precond   *PreconditionService
	slots     *cache.MemoryCache

	quotaBytes     int64
	maxSlots       int
	slotTTL        time.Duration
	slotRetryAfter int
	uploadBaseURL  string

	// slotMu guards the per-user slot key lists; the cache itself is safe
	// for concurrent use but the list read-modify-write is not
	slotMu    sync.Mutex
	userSlots map[string][]string

	metrics *observability.BusinessMetrics
}

// SetMetrics attaches storage accounting instruments. May be left unset.
func (s *FileUploadService) SetMetrics(m *observability.BusinessMetrics) {
	s.metrics = m
}

// NewFileUploadService creates a new FileUploadService
func NewFileUploadService(
	db *sql.DB,
	libraries repository.LibraryRepo,
	objects repository.ObjectRepo,
	storage repository.StorageRepo,
	precond *PreconditionService,
	slots *cache.MemoryCache,
	quotaBytes int64,
	maxSlots int,
	slotTTL time.Duration,
	slotRetryAfter int,
	uploadBaseURL string,
) *FileUploadService {
	return &FileUploadService{
		db:             db,
		libraries:      libraries,
		objects:        objects,
		storage:        storage,
		precond:        precond,
		slots:          slots,
		quotaBytes:     quotaBytes,
		maxSlots:       maxSlots,
		slotTTL:        slotTTL,
		slotRetryAfter: slotRetryAfter,
		uploadBaseURL:  uploadBaseURL,
		userSlots:      make(map[string][]string),
	}
}

// Authorize evaluates an upload authorization request for an item's
// attachment file. If a file with the same content hash is already stored,
// the item is linked to it and no transfer happens. Otherwise the caller
// receives a time-boxed upload key.
func (s *FileUploadService) Authorize(ctx context.Context, ownerID string, libraryID int64, itemKey string, info models.FileInfo, ifMatch string, ifNoneMatchAny bool) (*models.UploadAuthorization, error) {
	if err := validateFileInfo(info); err != nil {
		return nil, err
	}
	if err := s.checkLibraryWritable(ctx, libraryID); err != nil {
		return nil, err
	}

	item, err := s.objects.Get(ctx, libraryID, models.ObjectTypeItem, itemKey)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Deleted {
		return nil, models.NewNotFound(models.ObjectTypeItem, itemKey)
	}

	currentHash := ""
	if existing, err := s.storage.GetItemFile(ctx, libraryID, itemKey); err != nil {
		return nil, err
	} else if existing != nil {
		currentHash = existing.Hash
	}

	if err := s.precond.EvaluateFileWrite(ifMatch, ifNoneMatchAny, currentHash, item.Version); err != nil {
		return nil, err
	}

	// Quota is billed per item link, so a deduplicated file counts against
	// the owner the same as a fresh upload. Check before linking anything.
	usage, err := s.storage.GetUsage(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if usage+info.Size > s.quotaBytes {
		return nil, models.NewQuotaExceeded(usage, s.quotaBytes)
	}

	// Dedup fast path: identical bytes already stored for some other item
	if stored, err := s.storage.FindFile(ctx, info.Hash, info.Zip); err != nil {
		return nil, err
	} else if stored != nil {
		if _, err := s.linkStoredFile(ctx, libraryID, itemKey, stored.ID); err != nil {
			return nil, err
		}
		return &models.UploadAuthorization{Exists: true}, nil
	}

	slot, err := s.reserveSlot(ownerID, libraryID, itemKey, info)
	if err != nil {
		return nil, err
	}

	return &models.UploadAuthorization{
		UploadKey: slot.UploadKey,
		URL:       fmt.Sprintf("%s/%s", s.uploadBaseURL, slot.UploadKey),
	}, nil
}

// Register finalizes an upload: the client has transferred the bytes and now
// asks the server to record the file and link it to the item
func (s *FileUploadService) Register(ctx context.Context, ownerID string, uploadKey string) (*models.FileRegistration, error) {
	slot, err := s.claimSlot(ctx, ownerID, uploadKey)
	if err != nil {
		return nil, err
	}

	version, err := s.registerFile(ctx, slot)
	if err != nil {
		return nil, err
	}
	return &models.FileRegistration{Hash: slot.File.Hash, Version: version}, nil
}

// RegisterPatch finalizes a partial upload produced by a binary diff against
// the item's previous file. Patch application itself happens in external
// storage; the server records the resulting file identically to a full
// upload once the algorithm is recognized.
func (s *FileUploadService) RegisterPatch(ctx context.Context, ownerID string, uploadKey, algorithm string) (*models.FileRegistration, error) {
	if !supportedPatchAlgorithms[algorithm] {
		return nil, models.NewBadRequest(models.CodeInvalidRequest,
			fmt.Sprintf("unsupported patch algorithm %q", algorithm))
	}

	slot, err := s.claimSlot(ctx, ownerID, uploadKey)
	if err != nil {
		return nil, err
	}

	observability.WithFields(map[string]interface{}{
		"algorithm": algorithm,
		"item_key":  slot.ItemKey,
	}).Debug("registering patched upload")

	version, err := s.registerFile(ctx, slot)
	if err != nil {
		return nil, err
	}
	return &models.FileRegistration{Hash: slot.File.Hash, Version: version}, nil
}

// PendingSlots reports how many upload authorizations the user currently
// holds
func (s *FileUploadService) PendingSlots(ownerID string) int {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	return len(s.activeSlotKeys(ownerID))
}

// registerFile records the stored file and links the item to it. Dedup is
// re-checked under a serializable transaction: a concurrent upload of the
// same bytes may have been registered since authorization, and the UNIQUE
// constraint on (hash, zip) must never be hit blind.
func (s *FileUploadService) registerFile(ctx context.Context, slot *models.UploadSlot) (int64, error) {
	var version int64
	created := false
	err := repository.WithSerializableTx(ctx, s.db, func(tx *sql.Tx) error {
		stored, err := s.storage.FindFileTx(ctx, tx, slot.File.Hash, slot.File.Zip)
		if err != nil {
			return err
		}
		if stored == nil {
			created = true
			stored = &models.StorageFile{
				Hash:        slot.File.Hash,
				Zip:         slot.File.Zip,
				Size:        slot.File.Size,
				Filename:    slot.File.Filename,
				Mtime:       slot.File.Mtime,
				ContentType: slot.File.ContentType,
				CreatedAt:   time.Now().UTC(),
			}
			if err := s.storage.CreateFileTx(ctx, tx, stored); err != nil {
				return err
			}
		}

		version, err = s.linkInTx(ctx, tx, slot.LibraryID, slot.ItemKey, stored.ID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if created && s.metrics != nil {
		s.metrics.RecordStoredBytes(ctx, slot.File.Size)
	}
	return version, nil
}

// linkStoredFile links an item to an already stored file in its own write
// transaction, bumping the library version
func (s *FileUploadService) linkStoredFile(ctx context.Context, libraryID int64, itemKey string, storageFileID int64) (int64, error) {
	var version int64
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var txErr error
		version, txErr = s.linkInTx(ctx, tx, libraryID, itemKey, storageFileID)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// linkInTx records the item-to-file link and stamps the item with a freshly
// bumped library version so other devices see the attachment change
func (s *FileUploadService) linkInTx(ctx context.Context, tx *sql.Tx, libraryID int64, itemKey string, storageFileID int64) (int64, error) {
	version, err := s.libraries.NextVersionTx(ctx, tx, libraryID, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	if err := s.storage.LinkItemTx(ctx, tx, libraryID, itemKey, storageFileID); err != nil {
		return 0, err
	}

	item, err := s.objects.GetTx(ctx, tx, libraryID, models.ObjectTypeItem, itemKey)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return 0, models.NewNotFound(models.ObjectTypeItem, itemKey)
	}

	data, err := canonicalData(item.Data, item.Key, version)
	if err != nil {
		return 0, err
	}
	item.Version = version
	item.Data = data
	if err := s.objects.UpsertTx(ctx, tx, item); err != nil {
		return 0, err
	}

	return version, nil
}

// reserveSlot allocates a bounded, time-boxed upload slot for the user
func (s *FileUploadService) reserveSlot(ownerID string, libraryID int64, itemKey string, info models.FileInfo) (*models.UploadSlot, error) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	active := s.activeSlotKeys(ownerID)
	if len(active) >= s.maxSlots {
		return nil, models.NewTooManyUploads(s.slotRetryAfter)
	}

	slot := models.NewUploadSlot(ownerID, libraryID, itemKey, info)
	s.slots.Set(slotCacheKey(slot.UploadKey), slot, s.slotTTL)
	s.userSlots[ownerID] = append(active, slot.UploadKey)
	return slot, nil
}

// claimSlot resolves the slot for uploadKey and consumes it once the target
// library is confirmed writable. A locked library leaves the slot intact so
// the client can retry after the lock clears.
func (s *FileUploadService) claimSlot(ctx context.Context, ownerID, uploadKey string) (*models.UploadSlot, error) {
	slot := s.peekSlot(ownerID, uploadKey)
	if slot == nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "upload key is invalid or has expired")
	}
	if err := s.checkLibraryWritable(ctx, slot.LibraryID); err != nil {
		return nil, err
	}
	if slot = s.takeSlot(ownerID, uploadKey); slot == nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "upload key is invalid or has expired")
	}
	return slot, nil
}

// checkLibraryWritable rejects writes against an administratively locked
// library
func (s *FileUploadService) checkLibraryWritable(ctx context.Context, libraryID int64) error {
	lib, err := s.libraries.GetByID(ctx, libraryID)
	if err != nil {
		return err
	}
	if lib == nil {
		return &models.SyncError{
			Status: http.StatusNotFound, Code: models.CodeLibraryNotFound,
			Message: "library not found",
		}
	}
	if lib.Locked {
		return models.NewLibraryLocked(lib.ID)
	}
	return nil
}

// peekSlot returns the slot for uploadKey without consuming it
func (s *FileUploadService) peekSlot(ownerID, uploadKey string) *models.UploadSlot {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	v, ok := s.slots.Get(slotCacheKey(uploadKey))
	if !ok {
		return nil
	}
	slot := v.(*models.UploadSlot)
	if slot.OwnerID != ownerID {
		return nil
	}
	return slot
}

// takeSlot removes and returns the slot for uploadKey if it belongs to the
// user and has not expired
func (s *FileUploadService) takeSlot(ownerID, uploadKey string) *models.UploadSlot {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	v, ok := s.slots.Get(slotCacheKey(uploadKey))
	if !ok {
		// Expired slots also fall out of the user's key list here
		s.userSlots[ownerID] = s.activeSlotKeys(ownerID)
		return nil
	}
	slot := v.(*models.UploadSlot)
	if slot.OwnerID != ownerID {
		return nil
	}

	s.slots.Delete(slotCacheKey(uploadKey))
	s.userSlots[ownerID] = s.activeSlotKeys(ownerID)
	return slot
}

// activeSlotKeys filters the user's slot key list down to entries still
// present in the cache. Callers must hold slotMu.
func (s *FileUploadService) activeSlotKeys(ownerID string) []string {
	var active []string
	for _, key := range s.userSlots[ownerID] {
		if _, ok := s.slots.Get(slotCacheKey(key)); ok {
			active = append(active, key)
		}
	}
	return active
}

func slotCacheKey(uploadKey string) string {
	return "upload_slot_" + uploadKey
}

func validateFileInfo(info models.FileInfo) error {
	if !fileHashRegex.MatchString(info.Hash) {
		return models.NewBadRequest(models.CodeInvalidRequest, "hash must be a 32-character lowercase hex digest")
	}
	if info.Filename == "" {
		return models.NewBadRequest(models.CodeInvalidRequest, "filename is required")
	}
	if info.Size <= 0 {
		return models.NewBadRequest(models.CodeInvalidRequest, "filesize must be positive")
	}
	if info.Mtime <= 0 {
		return models.NewBadRequest(models.CodeInvalidRequest, "mtime must be a positive epoch timestamp")
	}
	return nil
}

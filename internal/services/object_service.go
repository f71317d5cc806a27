package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"reflect"
	"strconv"
	"time"

	"github.com/libsync/server/internal/cache"
	"github.com/libsync/server/internal/models"
	"github.com/libsync/server/internal/repository"
)

// ObjectService is the conditional-write pipeline for data objects. Every
// accepted mutation runs inside one transaction that pre-increments the
// library version counter as its first durable step, evaluates the write
// condition against the row it just locked out other writers from, and
// stamps the object with the bumped version.
type ObjectService struct {
	db          *sql.DB
	libraries   repository.LibraryRepo
	objects     repository.ObjectRepo
	precond     *PreconditionService
	writeTokens *cache.WriteTokenCache
}

// NewObjectService creates a new ObjectService
func NewObjectService(
	db *sql.DB,
	libraries repository.LibraryRepo,
	objects repository.ObjectRepo,
	precond *PreconditionService,
	writeTokens *cache.WriteTokenCache,
) *ObjectService {
	return &ObjectService{
		db:          db,
		libraries:   libraries,
		objects:     objects,
		precond:     precond,
		writeTokens: writeTokens,
	}
}

// WriteOutcome reports one object write. ReportedVersion is the library
// version the response must carry: the bumped version for a real change,
// the pre-increment version for a no-op.
type WriteOutcome struct {
	Object          *models.DataObject
	Changed         bool
	ReportedVersion int64
}

// CheckWritable fails fast when the library is administratively locked or
// the write token was already used. Both checks run before any
// version-specific logic.
func (s *ObjectService) CheckWritable(lib *models.Library, credential, writeToken string) error {
	if lib.Locked {
		return models.NewLibraryLocked(lib.ID)
	}
	if writeToken != "" {
		if !cache.ValidToken(writeToken) {
			return models.NewBadRequest(models.CodeInvalidRequest, "invalid write token")
		}
		if s.writeTokens.Exists(credential, writeToken) {
			return models.NewWriteTokenReplay()
		}
	}
	return nil
}

// MarkWriteToken records the token after the first successful write that
// carried it
func (s *ObjectService) MarkWriteToken(credential, writeToken string) {
	if writeToken != "" {
		s.writeTokens.Mark(credential, writeToken)
	}
}

// WriteObject performs a single conditional object write
func (s *ObjectService) WriteObject(ctx context.Context, lib *models.Library, objectType, key string, payload *models.ObjectPayload, cond WriteCondition) (*WriteOutcome, error) {
	if key != "" && payload.Key != "" && key != payload.Key {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "object key does not match URL")
	}
	if key == "" {
		key = payload.Key
	}
	if key != "" && objectType != models.ObjectTypeSetting && !models.IsValidObjectKey(key) {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "invalid object key "+models.Excerpt(key, 50))
	}

	var outcome *WriteOutcome
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Optimistic pre-increment: the counter is consumed before it is
		// known whether the write changes anything, which is why stored
		// version numbers may contain gaps.
		newVersion, err := s.libraries.NextVersionTx(ctx, tx, lib.ID, time.Now().UTC())
		if err != nil {
			return err
		}
		priorVersion := newVersion - 1

		var current *models.DataObject
		if key != "" {
			current, err = s.objects.GetTx(ctx, tx, lib.ID, objectType, key)
			if err != nil {
				return err
			}
		}
		if current != nil && current.Deleted {
			current = nil
		}

		decision, err := s.precond.EvaluateWrite(cond, current, objectType)
		if err != nil {
			return err
		}

		if decision == DecisionCreate && key == "" {
			key, err = generateObjectKey()
			if err != nil {
				return err
			}
		}

		if current != nil && jsonEqual(current.Data, payload.Data) {
			// No-op write: the object keeps its version and the response
			// reports the pre-increment library version.
			outcome = &WriteOutcome{Object: current, Changed: false, ReportedVersion: priorVersion}
			return nil
		}

		data, err := canonicalData(payload.Data, key, newVersion)
		if err != nil {
			return err
		}

		obj := &models.DataObject{
			LibraryID:  lib.ID,
			ObjectType: objectType,
			Key:        key,
			Version:    newVersion,
			Data:       data,
		}
		if err := s.objects.UpsertTx(ctx, tx, obj); err != nil {
			return err
		}

		outcome = &WriteOutcome{Object: obj, Changed: true, ReportedVersion: newVersion}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// WriteObjects evaluates a batch payload per-object independently and always
// produces a complete manifest; an individual failure never aborts its
// siblings. Only a structurally invalid payload short-circuits before this
// point (handled by the caller).
func (s *ObjectService) WriteObjects(ctx context.Context, lib *models.Library, objectType string, payloads []json.RawMessage, headerVersion *int64) (*models.WriteManifest, int64, error) {
	if err := s.precond.EvaluateLibraryWrite(headerVersion, lib.Version); err != nil {
		return nil, 0, err
	}

	manifest := models.NewWriteManifest()
	reported := lib.Version

	for i, raw := range payloads {
		index := itoa(i)

		payload, err := models.ParseObjectPayload(raw)
		if err != nil {
			manifest.AddFailure(index, 400, "invalid object payload")
			continue
		}

		cond := WriteCondition{BodyVersion: payload.Version}
		outcome, err := s.WriteObject(ctx, lib, objectType, payload.Key, payload, cond)
		if err != nil {
			if se := models.AsSyncError(err); se != nil {
				manifest.AddFailure(index, se.Status, se.Message)
				continue
			}
			return nil, 0, err
		}

		if outcome.Changed {
			manifest.AddSuccess(index, outcome.Object.ToResponse())
		} else {
			manifest.AddUnchanged(index, outcome.Object.Key)
		}
		if outcome.ReportedVersion > reported {
			reported = outcome.ReportedVersion
		}
	}

	return manifest, reported, nil
}

// DeleteObject tombstones a single object under the delete contract
func (s *ObjectService) DeleteObject(ctx context.Context, lib *models.Library, objectType, key string, headerVersion *int64) (int64, error) {
	var reported int64
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		newVersion, err := s.libraries.NextVersionTx(ctx, tx, lib.ID, time.Now().UTC())
		if err != nil {
			return err
		}

		current, err := s.objects.GetTx(ctx, tx, lib.ID, objectType, key)
		if err != nil {
			return err
		}

		if err := s.precond.EvaluateDelete(headerVersion, current, objectType); err != nil {
			return err
		}

		if err := s.objects.DeleteTx(ctx, tx, lib.ID, objectType, key, newVersion); err != nil {
			return err
		}
		reported = newVersion
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reported, nil
}

// DeleteObjects tombstones a key list. The header version names the library
// version, the only channel available to multi-object deletes.
func (s *ObjectService) DeleteObjects(ctx context.Context, lib *models.Library, objectType string, keys []string, headerVersion *int64) (int64, error) {
	if headerVersion == nil {
		return 0, models.NewPreconditionRequired(objectType)
	}
	if err := s.precond.EvaluateLibraryWrite(headerVersion, lib.Version); err != nil {
		return 0, err
	}

	var reported int64
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		newVersion, err := s.libraries.NextVersionTx(ctx, tx, lib.ID, time.Now().UTC())
		if err != nil {
			return err
		}

		for _, key := range keys {
			if err := s.objects.DeleteTx(ctx, tx, lib.ID, objectType, key, newVersion); err != nil {
				return err
			}
		}
		reported = newVersion
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reported, nil
}

// canonicalData rewrites the payload with the authoritative key and version,
// so the stored representation always reflects server state.
func canonicalData(raw json.RawMessage, key string, version int64) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, models.NewBadRequest(models.CodeInvalidRequest, "object payload must be a JSON object")
	}
	m["key"] = key
	m["version"] = version
	return json.Marshal(m)
}

// jsonEqual compares two payloads structurally, ignoring the server-managed
// key and version properties.
func jsonEqual(a, b json.RawMessage) bool {
	var ma, mb map[string]interface{}
	if err := json.Unmarshal(a, &ma); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &mb); err != nil {
		return false
	}
	for _, m := range []map[string]interface{}{ma, mb} {
		delete(m, "key")
		delete(m, "version")
	}
	return reflect.DeepEqual(ma, mb)
}

const objectKeyAlphabet = "23456789ABCDEFGHIJKLMNPQRSTUVWXYZ"

// generateObjectKey mints a random 8-character object key
func generateObjectKey() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = objectKeyAlphabet[int(b[i])%len(objectKeyAlphabet)]
	}
	return string(b), nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

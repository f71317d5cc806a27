package services

import (
	"fmt"
	"net/http"

	"github.com/libsync/server/internal/models"
)

// WriteCondition carries every channel a client can use to declare the
// version it believes is current. Header and body channels must agree when
// both are present.
type WriteCondition struct {
	// HeaderVersion is If-Unmodified-Since-Version
	HeaderVersion *int64
	// BodyVersion is the version property embedded in the object payload
	BodyVersion *int64
	// IfMatch is a content hash (legacy single-object mode)
	IfMatch string
	// IfNoneMatchAny is If-None-Match: * (creation only)
	IfNoneMatchAny bool
}

// WriteDecision is the evaluator's verdict when no error applies
type WriteDecision int

const (
	// DecisionUpdate authorizes overwriting the existing object
	DecisionUpdate WriteDecision = iota
	// DecisionCreate authorizes creating a missing object
	DecisionCreate
)

// PreconditionService interprets conditional request state against current
// version state. It decides proceed / create / 304 or produces the typed
// precondition failure the handlers translate to 400/412/428.
type PreconditionService struct{}

// NewPreconditionService creates a new PreconditionService
func NewPreconditionService() *PreconditionService {
	return &PreconditionService{}
}

// SuppliedVersion resolves the version channels in priority order, failing
// with 400 when header and body disagree. The boolean reports whether any
// channel was present.
func (s *PreconditionService) SuppliedVersion(cond WriteCondition) (int64, bool, error) {
	if cond.HeaderVersion != nil && cond.BodyVersion != nil {
		if *cond.HeaderVersion != *cond.BodyVersion {
			return 0, false, models.NewBadRequest(models.CodeInvalidRequest,
				fmt.Sprintf("If-Unmodified-Since-Version value %d does not match body version %d",
					*cond.HeaderVersion, *cond.BodyVersion))
		}
	}
	if cond.HeaderVersion != nil {
		return *cond.HeaderVersion, true, nil
	}
	if cond.BodyVersion != nil {
		return *cond.BodyVersion, true, nil
	}
	return 0, false, nil
}

// EvaluateWrite applies the conditional-write contract for a single object.
// current is nil when the object does not exist. objectType is used only for
// error messages.
func (s *PreconditionService) EvaluateWrite(cond WriteCondition, current *models.DataObject, objectType string) (WriteDecision, error) {
	supplied, present, err := s.SuppliedVersion(cond)
	if err != nil {
		return 0, err
	}

	if current == nil || current.Deleted {
		if !present || supplied == 0 {
			// A version of exactly 0, or no version at all, authorizes creation
			return DecisionCreate, nil
		}
		// Declared a version but nothing exists yet. The batch and
		// single-object paths share this rule deliberately.
		return 0, models.NewPreconditionFailed(
			fmt.Sprintf("%s does not exist (expected version %d)", objectType, supplied), 0)
	}

	if !present {
		return 0, models.NewPreconditionRequired(objectType)
	}

	if supplied != current.Version {
		return 0, models.NewPreconditionFailed(
			fmt.Sprintf("%s has been modified since the specified version (expected %d, found %d)",
				objectType, supplied, current.Version),
			current.Version)
	}

	return DecisionUpdate, nil
}

// EvaluateLibraryWrite checks a multi-object version precondition against
// the library counter. Multi-object requests cannot be conditioned per
// object through the header, so the header names the library version.
func (s *PreconditionService) EvaluateLibraryWrite(headerVersion *int64, libraryVersion int64) error {
	if headerVersion == nil {
		return nil
	}
	if *headerVersion != libraryVersion {
		return models.NewPreconditionFailed(
			fmt.Sprintf("library has been modified since the specified version (expected %d, found %d)",
				*headerVersion, libraryVersion),
			libraryVersion)
	}
	return nil
}

// EvaluateDelete applies the delete contract: a header version is required
// (the body channel does not exist for deletes).
func (s *PreconditionService) EvaluateDelete(headerVersion *int64, current *models.DataObject, objectType string) error {
	if current == nil || current.Deleted {
		return models.NewNotFound(objectType, "")
	}
	if headerVersion == nil {
		return models.NewPreconditionRequired(objectType)
	}
	if *headerVersion != current.Version {
		return models.NewPreconditionFailed(
			fmt.Sprintf("%s has been modified since the specified version (expected %d, found %d)",
				objectType, *headerVersion, current.Version),
			current.Version)
	}
	return nil
}

// NotModified reports whether a library-scoped read can answer 304. The
// check is skipped for filtered subsets, where staleness cannot be
// determined from the library counter alone.
func (s *PreconditionService) NotModified(ifModifiedSinceVersion *int64, libraryVersion int64, filtered bool) bool {
	if ifModifiedSinceVersion == nil || filtered {
		return false
	}
	return libraryVersion <= *ifModifiedSinceVersion
}

// EvaluateFileWrite applies the conditional contract to binary attachments,
// with the content hash standing in for the version. currentHash is empty
// when no file is stored for the item.
func (s *PreconditionService) EvaluateFileWrite(ifMatch string, ifNoneMatchAny bool, currentHash string, itemVersion int64) error {
	if ifNoneMatchAny && ifMatch != "" {
		return models.NewBadRequest(models.CodeInvalidRequest,
			"If-Match and If-None-Match cannot both be provided")
	}

	if ifNoneMatchAny {
		if currentHash != "" {
			return models.NewPreconditionFailed("a file already exists for this item", itemVersion)
		}
		return nil
	}

	if ifMatch == "" {
		return &models.SyncError{
			Status:  http.StatusPreconditionRequired,
			Code:    models.CodeVersionRequired,
			Message: "If-Match or If-None-Match must be provided for file uploads",
		}
	}

	if currentHash == "" {
		return models.NewPreconditionFailed("no existing file to match against", itemVersion)
	}
	if ifMatch != currentHash {
		return models.NewPreconditionFailed("the file has changed since the specified hash", itemVersion)
	}
	return nil
}

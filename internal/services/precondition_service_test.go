package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libsync/server/internal/models"
)

func TestPreconditionService_SuppliedVersion(t *testing.T) {
	svc := NewPreconditionService()

	t.Run("header and body must agree", func(t *testing.T) {
		_, _, err := svc.SuppliedVersion(WriteCondition{HeaderVersion: intPtr(3), BodyVersion: intPtr(4)})
		require.Error(t, err)
		assert.Equal(t, 400, models.AsSyncError(err).Status)
	})

	t.Run("agreeing channels resolve", func(t *testing.T) {
		v, present, err := svc.SuppliedVersion(WriteCondition{HeaderVersion: intPtr(3), BodyVersion: intPtr(3)})
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, int64(3), v)
	})

	t.Run("body alone resolves", func(t *testing.T) {
		v, present, err := svc.SuppliedVersion(WriteCondition{BodyVersion: intPtr(7)})
		require.NoError(t, err)
		assert.True(t, present)
		assert.Equal(t, int64(7), v)
	})

	t.Run("no channel reports absent", func(t *testing.T) {
		_, present, err := svc.SuppliedVersion(WriteCondition{})
		require.NoError(t, err)
		assert.False(t, present)
	})
}

func TestPreconditionService_EvaluateWrite(t *testing.T) {
	svc := NewPreconditionService()
	existing := &models.DataObject{Key: "AAAA2222", Version: 5}

	tests := []struct {
		name       string
		cond       WriteCondition
		current    *models.DataObject
		decision   WriteDecision
		wantStatus int
	}{
		{"no version, missing object, creates", WriteCondition{}, nil, DecisionCreate, 0},
		{"version zero, missing object, creates", WriteCondition{HeaderVersion: intPtr(0)}, nil, DecisionCreate, 0},
		{"nonzero version, missing object, 412", WriteCondition{HeaderVersion: intPtr(5)}, nil, 0, 412},
		{"no version, existing object, 428", WriteCondition{}, existing, 0, 428},
		{"matching version, existing object, updates", WriteCondition{HeaderVersion: intPtr(5)}, existing, DecisionUpdate, 0},
		{"stale version, existing object, 412", WriteCondition{HeaderVersion: intPtr(4)}, existing, 0, 412},
		{"future version, existing object, 412", WriteCondition{HeaderVersion: intPtr(6)}, existing, 0, 412},
		{"tombstone treated as missing", WriteCondition{}, &models.DataObject{Key: "X", Version: 3, Deleted: true}, DecisionCreate, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := svc.EvaluateWrite(tt.cond, tt.current, models.ObjectTypeItem)
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.decision, decision)
				return
			}
			require.Error(t, err)
			se := models.AsSyncError(err)
			require.NotNil(t, se)
			assert.Equal(t, tt.wantStatus, se.Status)
		})
	}

	t.Run("412 carries the current version", func(t *testing.T) {
		_, err := svc.EvaluateWrite(WriteCondition{HeaderVersion: intPtr(2)}, existing, models.ObjectTypeItem)
		require.Error(t, err)
		assert.Equal(t, int64(5), models.AsSyncError(err).CurrentVersion)
	})
}

func TestPreconditionService_NotModified(t *testing.T) {
	svc := NewPreconditionService()

	t.Run("equal version is not modified", func(t *testing.T) {
		assert.True(t, svc.NotModified(intPtr(10), 10, false))
	})

	t.Run("newer library version is modified", func(t *testing.T) {
		assert.False(t, svc.NotModified(intPtr(9), 10, false))
	})

	t.Run("filtered requests never answer 304", func(t *testing.T) {
		assert.False(t, svc.NotModified(intPtr(10), 10, true))
	})

	t.Run("absent header never answers 304", func(t *testing.T) {
		assert.False(t, svc.NotModified(nil, 10, false))
	})
}

func TestPreconditionService_EvaluateFileWrite(t *testing.T) {
	svc := NewPreconditionService()
	hash := "d41d8cd98f00b204e9800998ecf8427e"

	tests := []struct {
		name           string
		ifMatch        string
		ifNoneMatchAny bool
		currentHash    string
		wantStatus     int
	}{
		{"creation with no existing file", "", true, "", 0},
		{"creation blocked by existing file", "", true, hash, 412},
		{"matching hash", hash, false, hash, 0},
		{"mismatched hash", "0cc175b9c0f1b6a831c399e269772661", false, hash, 412},
		{"match against no file", hash, false, "", 412},
		{"no condition at all", "", false, "", 428},
		{"both conditions", hash, true, hash, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.EvaluateFileWrite(tt.ifMatch, tt.ifNoneMatchAny, tt.currentHash, 3)
			if tt.wantStatus == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, models.AsSyncError(err).Status)
		})
	}
}

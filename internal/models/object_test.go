package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidObjectKey(t *testing.T) {
	t.Run("accepts well-formed keys", func(t *testing.T) {
		assert.True(t, IsValidObjectKey("ABCD2345"))
		assert.True(t, IsValidObjectKey("23456789"))
	})

	t.Run("rejects malformed keys", func(t *testing.T) {
		assert.False(t, IsValidObjectKey(""))
		assert.False(t, IsValidObjectKey("abcd2345"), "lowercase")
		assert.False(t, IsValidObjectKey("ABCD234"), "too short")
		assert.False(t, IsValidObjectKey("ABCD23456"), "too long")
		assert.False(t, IsValidObjectKey("ABCD2340"), "0 is excluded")
		assert.False(t, IsValidObjectKey("ABCD2341"), "1 is excluded")
		assert.False(t, IsValidObjectKey("ABCDO345"), "O is excluded")
	})
}

func TestIsValidObjectType(t *testing.T) {
	for _, typ := range ValidObjectTypes {
		assert.True(t, IsValidObjectType(typ))
	}
	assert.False(t, IsValidObjectType("photo"))
	assert.False(t, IsValidObjectType(""))
}

func TestLibraryUpdateKey(t *testing.T) {
	lib := &Library{ID: 7, OwnerID: "user-1", Version: 10}

	t.Run("is stable for the same state", func(t *testing.T) {
		assert.Equal(t, lib.UpdateKey(), lib.UpdateKey())
	})

	t.Run("changes when the version moves", func(t *testing.T) {
		before := lib.UpdateKey()
		lib.Version++
		assert.NotEqual(t, before, lib.UpdateKey())
	})

	t.Run("differs between libraries", func(t *testing.T) {
		other := &Library{ID: 8, OwnerID: "user-1", Version: 10}
		assert.NotEqual(t, lib.UpdateKey(), other.UpdateKey())
	})
}

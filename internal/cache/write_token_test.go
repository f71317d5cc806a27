package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteTokenCache(t *testing.T) {
	c := NewWriteTokenCache(NewMemoryCache(), time.Hour)

	t.Run("unused token does not exist", func(t *testing.T) {
		assert.False(t, c.Exists("key-1", "token-abc"))
	})

	t.Run("marked token exists for same credential", func(t *testing.T) {
		c.Mark("key-1", "token-abc")
		assert.True(t, c.Exists("key-1", "token-abc"))
	})

	t.Run("token is scoped by credential", func(t *testing.T) {
		assert.False(t, c.Exists("key-2", "token-abc"))
	})

	t.Run("expired token can be reused", func(t *testing.T) {
		short := NewWriteTokenCache(NewMemoryCache(), 10*time.Millisecond)
		short.Mark("key-1", "token-xyz")
		assert.True(t, short.Exists("key-1", "token-xyz"))

		time.Sleep(20 * time.Millisecond)
		assert.False(t, short.Exists("key-1", "token-xyz"))
	})
}

func TestValidToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected bool
	}{
		{"too short", "abcd", false},
		{"minimum length", "abcde", true},
		{"typical uuid-ish token", "75a4f30b-0b74-4a0a-9ea8-5ecf9c17b1bd", false},
		{"maximum length", "abcdefghijklmnopqrstuvwxyz012345", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidToken(tt.token))
		})
	}
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	t.Run("creates user with hashed API key", func(t *testing.T) {
		user, err := NewUser("Alice", "Alice A", false)

		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username, "username is normalized")
		assert.NotEmpty(t, user.APIKey)
		assert.Equal(t, HashAPIKey(user.APIKey), user.APIKeyHash)
		assert.True(t, user.IsActive)
	})

	t.Run("rejects empty username", func(t *testing.T) {
		_, err := NewUser("  ", "someone", false)
		assert.ErrorIs(t, err, ErrEmptyUsername)
	})
}

func TestUserPassword(t *testing.T) {
	user, err := NewUser("bob", "", false)
	require.NoError(t, err)

	t.Run("verify fails before a password is set", func(t *testing.T) {
		assert.False(t, user.VerifyPassword("anything"))
	})

	t.Run("rejects short passwords", func(t *testing.T) {
		assert.ErrorIs(t, user.SetPassword("short"), ErrPasswordTooShort)
	})

	t.Run("round-trips a valid password", func(t *testing.T) {
		require.NoError(t, user.SetPassword("correct horse"))
		assert.True(t, user.VerifyPassword("correct horse"))
		assert.False(t, user.VerifyPassword("wrong horse"))
	})
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForIndex(t *testing.T) {
	tests := []struct {
		index    int
		expected int
	}{
		{0, 2000},
		{1, 5000},
		{4, 5000},
		{5, 25000},
		{8, 25000},
		{9, 45000},
		{12, 45000},
		{13, 70000},
		{22, 70000},
		{23, 130000},
		{100, 130000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, WaitForIndex(tt.index), "index %d", tt.index)
	}
}

func TestWaitIndex_EscalatesThenResets(t *testing.T) {
	w := NewWaitIndex(NewMemoryCache(), time.Hour)

	t.Run("repeated polls escalate through the step table", func(t *testing.T) {
		var waits []int
		for i := 0; i < 6; i++ {
			waits = append(waits, w.Next("session-1"))
		}
		assert.Equal(t, []int{2000, 5000, 5000, 5000, 5000, 25000}, waits)
	})

	t.Run("clear restarts at the shortest wait", func(t *testing.T) {
		w.Clear("session-1")
		assert.Equal(t, 2000, w.Next("session-1"))
	})

	t.Run("sessions do not share indices", func(t *testing.T) {
		assert.Equal(t, 2000, w.Next("session-2"))
	})
}

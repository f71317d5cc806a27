package cache

import "time"

// WaitIndex tracks how many times a session has polled a contended
// operation and maps that count to a wait hint in milliseconds. The index is
// cleared the moment the operation completes, so fresh contention always
// restarts at the shortest wait.
type WaitIndex struct {
	cache *MemoryCache
	ttl   time.Duration
}

// NewWaitIndex creates a wait-index tracker. Entries self-expire after ttl
// so an abandoned poll loop leaves no state behind.
func NewWaitIndex(cache *MemoryCache, ttl time.Duration) *WaitIndex {
	return &WaitIndex{cache: cache, ttl: ttl}
}

// Next returns the wait hint for the session's current index and increments
// the index for the following poll.
func (w *WaitIndex) Next(sessionID string) int {
	index := 0
	if v, ok := w.cache.Get(waitKey(sessionID)); ok {
		index = v.(int)
	}
	w.cache.Set(waitKey(sessionID), index+1, w.ttl)
	return WaitForIndex(index)
}

// Clear resets the session's index after the operation completes
func (w *WaitIndex) Clear(sessionID string) {
	w.cache.Delete(waitKey(sessionID))
}

// WaitForIndex maps a poll count to a wait hint in milliseconds. The step
// table bounds worst-case polling frequency while keeping typical latency
// low: a newly contended operation is told to come back in 2 seconds, a
// long-stuck one in just over 2 minutes.
func WaitForIndex(index int) int {
	switch {
	case index == 0:
		return 2000
	case index < 5:
		return 5000
	case index < 9:
		return 25000
	case index < 13:
		return 45000
	case index < 23:
		return 70000
	default:
		return 130000
	}
}

func waitKey(sessionID string) string {
	return "waitindex_" + sessionID
}

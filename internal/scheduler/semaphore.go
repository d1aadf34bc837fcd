package scheduler

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore caps concurrent job runs within one category.
type Semaphore struct {
	w    *semaphore.Weighted
	cap  int64
	held atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{w: semaphore.NewWeighted(int64(capacity)), cap: int64(capacity)}
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.held.Add(1)
	return true
}

// Release frees a slot. Must only follow a successful TryAcquire.
func (s *Semaphore) Release() {
	s.held.Add(-1)
	s.w.Release(1)
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return int(s.cap - s.held.Load())
}

// Cap returns the total capacity.
func (s *Semaphore) Cap() int {
	return int(s.cap)
}

package upload

import (
	"sync"
	"time"
)

// Stats tracks chunk round trip times of a session.
type Stats struct {
	sum            time.Duration
	finishedChunks int64
	bytes          int64
	mu             sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records an acknowledged chunk.
func (s *Stats) Update(d time.Duration, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedChunks++
	s.bytes += bytes
}

// Average returns the average round trip of acknowledged chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

// FinishedCount returns the number of acknowledged chunks.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedChunks
}

// TotalDuration returns the sum of all chunk round trips.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// Throughput returns the acknowledged bytes per second of request time.
func (s *Stats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sum <= 0 {
		return 0
	}
	return float64(s.bytes) / s.sum.Seconds()
}

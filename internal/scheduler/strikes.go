package scheduler

import "sync"

// StrikeCounter tracks consecutive authentication failures per key. Any
// success resets the key; only an unbroken run reaching the threshold
// trips it.
type StrikeCounter struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
}

// NewStrikeCounter creates a counter that trips at threshold strikes.
func NewStrikeCounter(threshold int) *StrikeCounter {
	if threshold < 1 {
		threshold = 1
	}
	return &StrikeCounter{threshold: threshold, counts: make(map[string]int)}
}

// Strike records a failure and reports the new count and whether the
// threshold was reached.
func (s *StrikeCounter) Strike(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	n := s.counts[key]
	return n, n >= s.threshold
}

// Reset clears the key.
func (s *StrikeCounter) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
}

// Count returns the current consecutive failures for key.
func (s *StrikeCounter) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

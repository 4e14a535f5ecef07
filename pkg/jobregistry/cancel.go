package jobregistry

import "sync"

// CancelSet holds pending cancellation requests keyed by job id.
//
// Membership is idempotent: at most one marker exists per id. Watchers may
// subscribe before a marker is set and are released when it is.
type CancelSet struct {
	mu      sync.Mutex
	entries map[string]*cancelEntry
}

type cancelEntry struct {
	marked bool
	done   chan struct{}
}

// NewCancelSet returns an empty set.
func NewCancelSet() *CancelSet {
	return &CancelSet{entries: make(map[string]*cancelEntry)}
}

func (s *CancelSet) entry(jobID string) *cancelEntry {
	e, ok := s.entries[jobID]
	if !ok {
		e = &cancelEntry{done: make(chan struct{})}
		s.entries[jobID] = e
	}
	return e
}

// Request sets the marker for jobID. It reports whether the marker was newly
// set.
func (s *CancelSet) Request(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(jobID)
	if e.marked {
		return false
	}
	e.marked = true
	close(e.done)
	return true
}

// Requested reports whether a marker is present for jobID.
func (s *CancelSet) Requested(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[jobID]
	return ok && e.marked
}

// Done returns a channel closed once a marker is set for jobID.
func (s *CancelSet) Done(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(jobID).done
}

// Clear removes any marker or watcher state for jobID.
func (s *CancelSet) Clear(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jobID)
}

// Len returns the number of pending markers.
func (s *CancelSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if e.marked {
			n++
		}
	}
	return n
}

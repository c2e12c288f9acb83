package transcript

import (
	"sort"
	"sync"
)

// Store is the session-scoped transcript. Ingestion appends, any number of
// readers take snapshots.
type Store struct {
	mu       sync.RWMutex
	segments []Segment
}

func NewStore() *Store {
	return &Store{}
}

// Append inserts seg after every segment that starts at or before it, so
// batches finishing out of order still land in start order.
func (s *Store) Append(seg Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].Start > seg.Start
	})
	s.segments = append(s.segments, Segment{})
	copy(s.segments[i+1:], s.segments[i:])
	s.segments[i] = seg
}

// Snapshot returns a point-in-time copy that later appends do not touch.
func (s *Store) Snapshot() Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segs := make([]Segment, len(s.segments))
	copy(segs, s.segments)
	return Transcript{Segments: segs}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

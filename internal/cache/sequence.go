package cache

import "sort"

// Sequencer numbers fetch requests per scope so that a response can be
// discarded when a newer request for the same scope has been issued.
type Sequencer struct {
	latest map[string]uint64
}

// Next issues the next request number for scope.
func (s *Sequencer) Next(scope string) uint64 {
	if s.latest == nil {
		s.latest = make(map[string]uint64)
	}
	s.latest[scope]++
	return s.latest[scope]
}

// Current returns the most recent number issued for scope without issuing a
// new one. Follow-up requests use it to check that no newer request replaced
// the state they extend.
func (s *Sequencer) Current(scope string) uint64 {
	return s.latest[scope]
}

// IsLatest reports whether n is the most recent number issued for scope.
func (s *Sequencer) IsLatest(scope string, n uint64) bool {
	return s.latest[scope] == n
}

// Reset forgets every scope. Responses to requests issued before the reset
// are no longer latest.
func (s *Sequencer) Reset() {
	for scope := range s.latest {
		// Keep counting up so an in-flight response can never match again.
		s.latest[scope]++
	}
}

// Selection is a set of selected row ids.
type Selection struct {
	ids map[string]struct{}
}

// Select adds id.
func (s *Selection) Select(id string) {
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	s.ids[id] = struct{}{}
}

// Deselect removes id; it reports whether id was selected.
func (s *Selection) Deselect(id string) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

// Toggle flips id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	if s.Deselect(id) {
		return false
	}
	s.Select(id)
	return true
}

// Has reports whether id is selected.
func (s *Selection) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of selected ids.
func (s *Selection) Len() int {
	return len(s.ids)
}

// IDs returns the selected ids, sorted.
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear deselects everything.
func (s *Selection) Clear() {
	s.ids = nil
}

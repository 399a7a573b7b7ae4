package cache

import (
	"sort"
	"sync"

	"hubcache/internal/utils"
)

// Op names a class of operation that drives a loading flag.
type Op string

const (
	OpFetch     Op = "fetch"
	OpLoadMore  Op = "loadMore"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpToggle    Op = "toggle"
	OpSubscribe Op = "subscribe"
)

// Status holds the loading flags and the single error slot of a store.
//
// A flag is in flight while at least one operation of its class has begun and
// not settled, so overlapping calls converge to idle when the last one settles.
type Status struct {
	mu       sync.Mutex
	inFlight map[Op]int
	err      string
}

// Begin marks op as in flight and returns the func that settles it. The
// returned func is meant to be deferred; calling it again has no effect.
func (s *Status) Begin(op Op) (settle func()) {
	s.mu.Lock()
	if s.inFlight == nil {
		s.inFlight = make(map[Op]int)
	}
	s.inFlight[op]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.inFlight[op] > 0 {
				s.inFlight[op]--
			}
		})
	}
}

// Loading reports whether op is in flight.
func (s *Status) Loading(op Op) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[op] > 0
}

// Flags returns the set of in-flight operation classes.
func (s *Status) Flags() map[Op]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags := make(map[Op]bool, len(s.inFlight))
	for op, n := range s.inFlight {
		if n > 0 {
			flags[op] = true
		}
	}
	return flags
}

// InFlight lists the in-flight operation classes, sorted.
func (s *Status) InFlight() []Op {
	flags := s.Flags()
	ops := make([]Op, 0, len(flags))
	for op := range flags {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// SetError records err in the error slot, replacing any previous message,
// and returns the stored message. A nil err leaves the slot untouched.
func (s *Status) SetError(err error) string {
	if err == nil {
		return s.Err()
	}
	msg := utils.Message(err)
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
	return msg
}

// Err returns the current error message, or "" if none.
func (s *Status) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ClearError empties the error slot.
func (s *Status) ClearError() {
	s.mu.Lock()
	s.err = ""
	s.mu.Unlock()
}

// Reset clears every flag and the error slot.
func (s *Status) Reset() {
	s.mu.Lock()
	s.inFlight = nil
	s.err = ""
	s.mu.Unlock()
}

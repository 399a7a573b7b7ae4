package sqlite

import (
	"encoding/json"
	"fmt"
	"sync"

	"hubcache/backend"
)

// pending is a committed row change waiting to be published
type pending struct {
	kind  backend.ChangeKind
	table string
	new   map[string]any
	old   map[string]any
}

// broker fans committed changes out to matching subscriptions
type broker struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	seq    int64
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[*subscription]struct{})}
}

func (b *broker) subscribe(channel string, filter backend.Filter, onChange func(backend.Change)) (*subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, backend.ErrClosed
	}

	s := &subscription{broker: b, channel: channel, filter: filter, onChange: onChange, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	b.subs[s] = struct{}{}
	go s.run()
	return s, nil
}

// publish assigns commit sequence numbers and queues each change on every
// subscription whose filter matches the new or old row.
func (b *broker) publish(changes []pending) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range changes {
		b.seq++
		c := backend.Change{Kind: p.kind, Table: p.table, CommitSeq: b.seq}
		if p.new != nil {
			c.New, _ = json.Marshal(p.new)
		}
		if p.old != nil {
			c.Old, _ = json.Marshal(p.old)
		}
		for s := range b.subs {
			if s.matches(p) {
				s.push(c)
			}
		}
	}
}

func (b *broker) remove(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *broker) close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

// subscription delivers its changes in commit order on its own goroutine
type subscription struct {
	broker   *broker
	channel  string
	filter   backend.Filter
	onChange func(backend.Change)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []backend.Change
	stopped bool
	once    sync.Once
	done    chan struct{}
}

func (s *subscription) matches(p pending) bool {
	if p.table != s.filter.Table {
		return false
	}
	if s.filter.Column == "" {
		return true
	}
	for _, row := range []map[string]any{p.new, p.old} {
		if row == nil {
			continue
		}
		if fmt.Sprint(row[s.filter.Column]) == s.filter.Value {
			return true
		}
	}
	return false
}

func (s *subscription) push(c backend.Change) {
	s.mu.Lock()
	if !s.stopped {
		s.queue = append(s.queue, c)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.onChange(c)
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
	})
}

// Unsubscribe stops delivery. Changes still queued are dropped.
func (s *subscription) Unsubscribe() error {
	s.broker.remove(s)
	s.stop()
	return nil
}

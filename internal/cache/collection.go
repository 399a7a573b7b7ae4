// Package cache provides the building blocks shared by every entity cache:
// a scoped collection of server rows keyed by id, loading flags, a single
// error slot, per-scope request sequencing and a selection set.
//
// Collection, Sequencer and Selection are not safe for concurrent use; the
// owning store guards them with its own lock. Status is safe for concurrent use.
package cache

import (
	"sort"
)

// Keyed is implemented by every cached row.
type Keyed interface {
	Key() string
}

// Collection holds rows grouped by scope (hub, list or user id). At most one
// row per key exists across all scopes.
type Collection[E Keyed] struct {
	scopes map[string][]E
	owner  map[string]string // key -> scope
	less   func(a, b E) bool
}

// NewCollection creates an empty collection. less orders rows within a scope;
// nil keeps insertion order.
func NewCollection[E Keyed](less func(a, b E) bool) *Collection[E] {
	return &Collection[E]{
		scopes: make(map[string][]E),
		owner:  make(map[string]string),
		less:   less,
	}
}

// Replace sets the rows of a scope, dropping whatever the scope held.
// Duplicate keys in items keep the last occurrence; a key cached under another
// scope moves to this one.
func (c *Collection[E]) Replace(scope string, items []E) {
	c.RemoveScope(scope)
	c.scopes[scope] = nil
	for _, e := range items {
		c.Upsert(scope, e)
	}
	c.sort(scope)
}

// Append adds rows to a scope, skipping keys already present.
// It returns how many rows were added.
func (c *Collection[E]) Append(scope string, items []E) int {
	added := 0
	for _, e := range items {
		if c.insert(scope, e) {
			added++
		}
	}
	if added > 0 {
		c.sort(scope)
	}
	return added
}

// Insert adds e to scope unless its key is already cached anywhere.
func (c *Collection[E]) Insert(scope string, e E) bool {
	if !c.insert(scope, e) {
		return false
	}
	c.sort(scope)
	return true
}

func (c *Collection[E]) insert(scope string, e E) bool {
	if _, ok := c.owner[e.Key()]; ok {
		return false
	}
	c.scopes[scope] = append(c.scopes[scope], e)
	c.owner[e.Key()] = scope
	return true
}

// Update replaces the cached row with e's key. It reports false when the key
// is not cached.
func (c *Collection[E]) Update(e E) bool {
	scope, ok := c.owner[e.Key()]
	if !ok {
		return false
	}
	items := c.scopes[scope]
	for i := range items {
		if items[i].Key() == e.Key() {
			items[i] = e
			break
		}
	}
	c.sort(scope)
	return true
}

// Upsert replaces the row with e's key or inserts it into scope.
func (c *Collection[E]) Upsert(scope string, e E) {
	if old, ok := c.owner[e.Key()]; ok && old != scope {
		c.Remove(e.Key())
	}
	if !c.Update(e) {
		c.Insert(scope, e)
	}
}

// Remove deletes the row with the given key from whichever scope holds it.
func (c *Collection[E]) Remove(key string) (E, bool) {
	var zero E
	scope, ok := c.owner[key]
	if !ok {
		return zero, false
	}
	items := c.scopes[scope]
	for i := range items {
		if items[i].Key() == key {
			removed := items[i]
			c.scopes[scope] = append(items[:i:i], items[i+1:]...)
			delete(c.owner, key)
			return removed, true
		}
	}
	delete(c.owner, key)
	return zero, false
}

// RemoveWhere deletes every row matching pred and returns them.
func (c *Collection[E]) RemoveWhere(pred func(E) bool) []E {
	var removed []E
	for scope, items := range c.scopes {
		kept := items[:0:0]
		for _, e := range items {
			if pred(e) {
				removed = append(removed, e)
				delete(c.owner, e.Key())
				continue
			}
			kept = append(kept, e)
		}
		c.scopes[scope] = kept
	}
	return removed
}

// RemoveScope drops a scope and all its rows.
func (c *Collection[E]) RemoveScope(scope string) {
	for _, e := range c.scopes[scope] {
		delete(c.owner, e.Key())
	}
	delete(c.scopes, scope)
}

// Get returns the row with the given key.
func (c *Collection[E]) Get(key string) (E, bool) {
	var zero E
	scope, ok := c.owner[key]
	if !ok {
		return zero, false
	}
	for _, e := range c.scopes[scope] {
		if e.Key() == key {
			return e, true
		}
	}
	return zero, false
}

// Has reports whether key is cached.
func (c *Collection[E]) Has(key string) bool {
	_, ok := c.owner[key]
	return ok
}

// Items returns a copy of the rows of a scope in order.
func (c *Collection[E]) Items(scope string) []E {
	items := c.scopes[scope]
	out := make([]E, len(items))
	copy(out, items)
	return out
}

// Loaded reports whether the scope has been filled at least once.
func (c *Collection[E]) Loaded(scope string) bool {
	_, ok := c.scopes[scope]
	return ok
}

// Len returns the number of rows in a scope.
func (c *Collection[E]) Len(scope string) int {
	return len(c.scopes[scope])
}

// Size returns the number of rows across all scopes.
func (c *Collection[E]) Size() int {
	return len(c.owner)
}

// Scopes returns the loaded scope ids, sorted.
func (c *Collection[E]) Scopes() []string {
	out := make([]string, 0, len(c.scopes))
	for s := range c.scopes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Reset empties the collection.
func (c *Collection[E]) Reset() {
	c.scopes = make(map[string][]E)
	c.owner = make(map[string]string)
}

func (c *Collection[E]) sort(scope string) {
	if c.less == nil {
		return
	}
	items := c.scopes[scope]
	sort.SliceStable(items, func(i, j int) bool { return c.less(items[i], items[j]) })
}

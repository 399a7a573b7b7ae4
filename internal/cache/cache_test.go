package cache_test

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"

	"hubcache/internal/cache"
	"hubcache/internal/utils"
)

type row struct {
	id    string
	order int
}

func (r row) Key() string { return r.id }

func byOrder(a, b row) bool { return a.order < b.order }

func keys(rows []row) string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return strings.Join(ids, ",")
}

// =============================================================================
// Collection Tests
// =============================================================================

func TestCollectionReplaceSortsAndDedups(t *testing.T) {
	c := cache.NewCollection(byOrder)
	c.Replace("hub", []row{{"b", 2}, {"a", 1}, {"b", 3}, {"c", 0}})

	if got := keys(c.Items("hub")); got != "c,a,b" {
		t.Errorf("Items() = %s, want c,a,b", got)
	}
	if r, _ := c.Get("b"); r.order != 3 {
		t.Errorf("duplicate key should keep last occurrence, got order %d", r.order)
	}
	if !c.Loaded("hub") || c.Loaded("other") {
		t.Error("Loaded() should report only replaced scopes")
	}
}

func TestCollectionReplaceEmptyMarksLoaded(t *testing.T) {
	c := cache.NewCollection[row](nil)
	c.Replace("hub", nil)
	if !c.Loaded("hub") {
		t.Error("an empty fetch result should still mark the scope loaded")
	}
}

func TestCollectionInsertIsExistenceChecked(t *testing.T) {
	c := cache.NewCollection(byOrder)
	if !c.Insert("hub", row{"e1", 1}) {
		t.Fatal("first insert should succeed")
	}
	if c.Insert("hub", row{"e1", 5}) {
		t.Error("second insert of the same key should be a no-op")
	}
	if c.Insert("other-hub", row{"e1", 5}) {
		t.Error("a key cached under another scope should not be inserted again")
	}
	if c.Len("hub") != 1 || c.Size() != 1 {
		t.Errorf("Len = %d, Size = %d; want 1, 1", c.Len("hub"), c.Size())
	}
}

func TestCollectionUpdateResorts(t *testing.T) {
	c := cache.NewCollection(byOrder)
	c.Replace("hub", []row{{"a", 1}, {"b", 2}, {"c", 3}})

	if !c.Update(row{"a", 9}) {
		t.Fatal("update of cached key should succeed")
	}
	if got := keys(c.Items("hub")); got != "b,c,a" {
		t.Errorf("Items() = %s, want b,c,a", got)
	}
	if c.Update(row{"zzz", 0}) {
		t.Error("update of unknown key should report false")
	}
}

func TestCollectionRemove(t *testing.T) {
	c := cache.NewCollection(byOrder)
	c.Replace("hub", []row{{"a", 1}, {"b", 2}})

	removed, ok := c.Remove("a")
	if !ok || removed.id != "a" {
		t.Fatalf("Remove(a) = %v, %v", removed, ok)
	}
	if _, ok := c.Remove("a"); ok {
		t.Error("second remove should report false")
	}
	if c.Has("a") || keys(c.Items("hub")) != "b" {
		t.Errorf("Items() = %s after remove", keys(c.Items("hub")))
	}
}

func TestCollectionAppendSkipsPresent(t *testing.T) {
	c := cache.NewCollection(byOrder)
	c.Replace("user", []row{{"n1", 1}, {"n2", 2}})

	added := c.Append("user", []row{{"n2", 2}, {"n3", 3}})
	if added != 1 {
		t.Errorf("Append added %d, want 1", added)
	}
	if got := keys(c.Items("user")); got != "n1,n2,n3" {
		t.Errorf("Items() = %s", got)
	}
}

func TestCollectionRemoveWhereAndScope(t *testing.T) {
	c := cache.NewCollection(byOrder)
	c.Replace("l1", []row{{"a", 1}, {"b", 2}})
	c.Replace("l2", []row{{"c", 3}})

	removed := c.RemoveWhere(func(r row) bool { return r.order%2 == 1 })
	if len(removed) != 2 {
		t.Errorf("RemoveWhere removed %d rows, want 2", len(removed))
	}
	if c.Has("a") || c.Has("c") || !c.Has("b") {
		t.Error("RemoveWhere removed the wrong rows")
	}

	c.RemoveScope("l1")
	if c.Loaded("l1") || c.Has("b") {
		t.Error("RemoveScope should drop the scope and its rows")
	}
	if got := strings.Join(c.Scopes(), ","); got != "l2" {
		t.Errorf("Scopes() = %s, want l2", got)
	}
}

func TestCollectionItemsIsACopy(t *testing.T) {
	c := cache.NewCollection(byOrder)
	c.Replace("hub", []row{{"a", 1}})
	items := c.Items("hub")
	items[0].id = "mutated"
	if !c.Has("a") || c.Items("hub")[0].id != "a" {
		t.Error("mutating Items() result should not affect the collection")
	}
}

// TestCollectionUniqueness applies random operations and checks that no key
// ever appears twice across scopes.
func TestCollectionUniqueness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := cache.NewCollection(byOrder)
	scopes := []string{"h1", "h2", "h3"}
	ids := []string{"a", "b", "c", "d", "e", "f"}

	for i := 0; i < 2000; i++ {
		scope := scopes[rng.Intn(len(scopes))]
		r := row{ids[rng.Intn(len(ids))], rng.Intn(100)}
		switch rng.Intn(6) {
		case 0:
			c.Insert(scope, r)
		case 1:
			c.Update(r)
		case 2:
			c.Remove(r.id)
		case 3:
			c.Upsert(scope, r)
		case 4:
			c.Append(scope, []row{r, {ids[rng.Intn(len(ids))], rng.Intn(100)}})
		case 5:
			c.Replace(scope, []row{r, r})
		}

		seen := map[string]bool{}
		total := 0
		for _, s := range c.Scopes() {
			items := c.Items(s)
			if !sort.SliceIsSorted(items, func(i, j int) bool { return byOrder(items[i], items[j]) }) {
				t.Fatalf("step %d: scope %s not sorted: %v", i, s, items)
			}
			for _, it := range items {
				if seen[it.id] {
					t.Fatalf("step %d: duplicate key %s", i, it.id)
				}
				seen[it.id] = true
				total++
			}
		}
		if total != c.Size() {
			t.Fatalf("step %d: Size() = %d, counted %d", i, c.Size(), total)
		}
	}
}

// =============================================================================
// Status Tests
// =============================================================================

func TestStatusBeginSettle(t *testing.T) {
	var s cache.Status
	if s.Loading(cache.OpFetch) {
		t.Fatal("flag should start idle")
	}

	settle := s.Begin(cache.OpFetch)
	if !s.Loading(cache.OpFetch) {
		t.Fatal("flag should be in flight after Begin")
	}
	settle()
	settle()
	if s.Loading(cache.OpFetch) {
		t.Error("flag should be idle after settle")
	}
}

func TestStatusOverlappingCallsConverge(t *testing.T) {
	var s cache.Status
	first := s.Begin(cache.OpUpdate)
	second := s.Begin(cache.OpUpdate)

	first()
	if !s.Loading(cache.OpUpdate) {
		t.Error("flag should stay in flight until the last call settles")
	}
	first()
	if !s.Loading(cache.OpUpdate) {
		t.Error("settling the same call twice must not settle another call")
	}
	second()
	if s.Loading(cache.OpUpdate) {
		t.Error("flag should be idle once every call settled")
	}
}

func TestStatusConcurrentBegin(t *testing.T) {
	var s cache.Status
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settle := s.Begin(cache.OpCreate)
			defer settle()
		}()
	}
	wg.Wait()
	if len(s.InFlight()) != 0 {
		t.Errorf("InFlight() = %v, want none", s.InFlight())
	}
}

func TestStatusErrorSlot(t *testing.T) {
	var s cache.Status
	msg := s.SetError(utils.ErrEntityNotFound("task", "t1"))
	if msg != "task not found: t1" {
		t.Errorf("SetError() = %q", msg)
	}
	if s.Err() != msg {
		t.Errorf("Err() = %q, want %q", s.Err(), msg)
	}

	s.SetError(utils.ErrRealtimeFailed())
	if s.Err() != "live updates failed, please refresh" {
		t.Errorf("next error should replace the slot, got %q", s.Err())
	}

	s.ClearError()
	if s.Err() != "" {
		t.Errorf("Err() after ClearError = %q", s.Err())
	}
}

func TestStatusReset(t *testing.T) {
	var s cache.Status
	_ = s.Begin(cache.OpSubscribe)
	s.SetError(utils.ErrScopeRequired("hub"))
	s.Reset()
	if len(s.Flags()) != 0 || s.Err() != "" {
		t.Errorf("Reset left flags %v and error %q", s.Flags(), s.Err())
	}
}

// =============================================================================
// Sequencer and Selection Tests
// =============================================================================

func TestSequencerDiscardsStale(t *testing.T) {
	var seq cache.Sequencer
	first := seq.Next("hub-1")
	second := seq.Next("hub-1")
	other := seq.Next("hub-2")

	if seq.IsLatest("hub-1", first) {
		t.Error("older request should not be latest")
	}
	if !seq.IsLatest("hub-1", second) || !seq.IsLatest("hub-2", other) {
		t.Error("newest request per scope should be latest")
	}

	seq.Reset()
	if seq.IsLatest("hub-1", second) {
		t.Error("requests issued before Reset should not be latest")
	}
	if n := seq.Next("hub-1"); !seq.IsLatest("hub-1", n) {
		t.Error("request issued after Reset should be latest")
	}
}

func TestSelection(t *testing.T) {
	var sel cache.Selection
	sel.Select("b")
	sel.Select("a")
	if !sel.Toggle("c") || sel.Toggle("a") {
		t.Error("Toggle should report the new membership")
	}
	if got := strings.Join(sel.IDs(), ","); got != "b,c" {
		t.Errorf("IDs() = %s, want b,c", got)
	}
	if sel.Deselect("zzz") {
		t.Error("Deselect of unselected id should report false")
	}
	sel.Clear()
	if sel.Len() != 0 || sel.Has("b") {
		t.Error("Clear should empty the selection")
	}
}

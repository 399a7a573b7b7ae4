package store

import (
	"context"

	"hubcache/backend"
	"hubcache/internal/cache"
	"hubcache/internal/realtime"
	"hubcache/internal/utils"
	"hubcache/internal/views"
)

// UncategorizedLabel groups items that have no category.
const UncategorizedLabel = "Other"

// ItemFilters narrows FilteredItems results. Nil fields are not applied.
type ItemFilters struct {
	Completed *bool
	Category  *string
	Search    *string
}

// Merge returns f with every field set in partial overriding it.
func (f ItemFilters) Merge(partial ItemFilters) ItemFilters {
	if partial.Completed != nil {
		f.Completed = partial.Completed
	}
	if partial.Category != nil {
		f.Category = partial.Category
	}
	if partial.Search != nil {
		f.Search = partial.Search
	}
	return f
}

// Match reports whether it satisfies every set field.
func (f ItemFilters) Match(it backend.ShoppingItem) bool {
	if f.Completed != nil && it.Completed != *f.Completed {
		return false
	}
	if f.Category != nil && it.Category != *f.Category {
		return false
	}
	if f.Search != nil && !views.MatchesSearch(*f.Search, it.Name, it.Notes, it.Category) {
		return false
	}
	return true
}

func listLess(a, b backend.ShoppingList) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func itemLess(a, b backend.ShoppingItem) bool {
	if a.Completed != b.Completed {
		return !a.Completed
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

var roleRank = map[backend.Role]int{backend.RoleOwner: 0, backend.RoleEditor: 1, backend.RoleViewer: 2}

func collaboratorLess(a, b backend.Collaborator) bool {
	if roleRank[a.Role] != roleRank[b.Role] {
		return roleRank[a.Role] < roleRank[b.Role]
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// ShoppingStore caches a hub's shopping lists and, per list, its items and
// collaborators.
type ShoppingStore struct {
	base
	lists         *cache.Collection[backend.ShoppingList]
	items         *cache.Collection[backend.ShoppingItem]
	collaborators *cache.Collection[backend.Collaborator]
	filters       ItemFilters
}

// NewShoppingStore creates an empty shopping cache backed by client.
func NewShoppingStore(client backend.Client, opts ...Option) *ShoppingStore {
	s := &ShoppingStore{
		lists:         cache.NewCollection(listLess),
		items:         cache.NewCollection(itemLess),
		collaborators: cache.NewCollection(collaboratorLess),
	}
	s.init("shopping", client, buildOptions(opts))
	return s
}

func hubKey(hubID string) string   { return "hub:" + hubID }
func listKey(listID string) string { return "list:" + listID }

// --- lists ---

// FetchLists replaces the hub's lists, with item counts.
func (s *ShoppingStore) FetchLists(ctx context.Context, hubID string) error {
	return fetch(ctx, &s.base, cache.OpFetch, "lists:"+hubID, backend.ProcHubShoppingLists,
		backend.Params{"p_hub_id": hubID},
		func(rows []backend.ShoppingList) {
			s.lists.Replace(hubID, rows)
		})
}

// keepCounts carries the computed counts of the cached list over to l,
// since table rows do not include them.
func (s *ShoppingStore) keepCounts(l backend.ShoppingList) backend.ShoppingList {
	if old, ok := s.lists.Get(l.ID); ok {
		l.ItemCount = old.ItemCount
		l.CompletedCount = old.CompletedCount
	}
	return l
}

// CreateList creates a list; the service makes the creator its owner.
func (s *ShoppingStore) CreateList(ctx context.Context, hubID string, in backend.ShoppingListInput) (*backend.ShoppingList, error) {
	defer s.status.Begin(cache.OpCreate)()

	in.HubID = hubID
	if err := in.Validate(); err != nil {
		return nil, s.fail("create list", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Insert(ctx, backend.TableLists, in)
	if err != nil {
		return nil, s.fail("create list", err)
	}
	l, err := decode[backend.ShoppingList](raw)
	if err != nil {
		return nil, s.fail("create list", err)
	}

	s.mu.Lock()
	l = s.keepCounts(l)
	s.lists.Upsert(l.HubID, l)
	s.mu.Unlock()
	return &l, nil
}

// UpdateList renames or redescribes a list.
func (s *ShoppingStore) UpdateList(ctx context.Context, id string, patch backend.ShoppingListPatch) (*backend.ShoppingList, error) {
	defer s.status.Begin(cache.OpUpdate)()

	if err := patch.Validate(); err != nil {
		return nil, s.fail("update list", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Update(ctx, backend.TableLists, id, patch)
	if err != nil {
		return nil, s.fail("update list", err)
	}
	l, err := decode[backend.ShoppingList](raw)
	if err != nil {
		return nil, s.fail("update list", err)
	}

	s.mu.Lock()
	l = s.keepCounts(l)
	s.lists.Update(l)
	s.mu.Unlock()
	return &l, nil
}

// DeleteList deletes a list, drops its cached items and collaborators and
// closes its channels.
func (s *ShoppingStore) DeleteList(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableLists, id); err != nil {
		return s.fail("delete list", err)
	}
	s.mu.Lock()
	s.dropList(id)
	s.mu.Unlock()
	return s.Unsubscribe(id)
}

func (s *ShoppingStore) dropList(id string) {
	s.lists.Remove(id)
	s.items.RemoveScope(id)
	s.collaborators.RemoveScope(id)
}

// --- items ---

// FetchItems replaces the list's items.
func (s *ShoppingStore) FetchItems(ctx context.Context, listID string) error {
	return fetch(ctx, &s.base, cache.OpFetch, "items:"+listID, backend.ProcListItems,
		backend.Params{"p_list_id": listID},
		func(rows []backend.ShoppingItem) {
			s.items.Replace(listID, rows)
			s.recount(listID)
		})
}

// recount recomputes the parent list's counts from the cached items.
func (s *ShoppingStore) recount(listID string) {
	l, ok := s.lists.Get(listID)
	if !ok {
		return
	}
	st := views.ItemStats(s.items.Items(listID))
	l.ItemCount, l.CompletedCount = st.Total, st.Completed
	s.lists.Update(l)
}

// adjust moves the parent list's counts by the given deltas.
func (s *ShoppingStore) adjust(listID string, items, completed int) {
	l, ok := s.lists.Get(listID)
	if !ok {
		return
	}
	l.ItemCount = max(0, l.ItemCount+items)
	l.CompletedCount = max(0, l.CompletedCount+completed)
	s.lists.Update(l)
}

func boolDelta(b bool) int {
	if b {
		return 1
	}
	return 0
}

// insertItem caches it unless present, keeping the list counts in step.
func (s *ShoppingStore) insertItem(it backend.ShoppingItem) {
	if s.items.Insert(it.ListID, it) {
		s.adjust(it.ListID, 1, boolDelta(it.Completed))
	}
}

// replaceItem swaps in it for the cached item with its id.
func (s *ShoppingStore) replaceItem(it backend.ShoppingItem) {
	old, ok := s.items.Get(it.ID)
	if !ok {
		return
	}
	s.items.Update(it)
	s.adjust(it.ListID, 0, boolDelta(it.Completed)-boolDelta(old.Completed))
}

func (s *ShoppingStore) removeItem(id string) {
	if old, ok := s.items.Remove(id); ok {
		s.adjust(old.ListID, -1, -boolDelta(old.Completed))
	}
}

// AddItem adds an item to a list.
func (s *ShoppingStore) AddItem(ctx context.Context, listID string, in backend.ShoppingItemInput) (*backend.ShoppingItem, error) {
	defer s.status.Begin(cache.OpCreate)()

	in.ListID = listID
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if err := in.Validate(); err != nil {
		return nil, s.fail("add item", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Insert(ctx, backend.TableItems, in)
	if err != nil {
		return nil, s.fail("add item", err)
	}
	it, err := decode[backend.ShoppingItem](raw)
	if err != nil {
		return nil, s.fail("add item", err)
	}

	s.mu.Lock()
	if s.items.Has(it.ID) {
		s.replaceItem(it)
	} else {
		s.insertItem(it)
	}
	s.mu.Unlock()
	return &it, nil
}

// UpdateItem applies patch to an item.
func (s *ShoppingStore) UpdateItem(ctx context.Context, id string, patch backend.ShoppingItemPatch) (*backend.ShoppingItem, error) {
	defer s.status.Begin(cache.OpUpdate)()

	if err := patch.Validate(); err != nil {
		return nil, s.fail("update item", utils.ErrInvalidPayload(err))
	}
	return s.updateItem(ctx, cache.OpUpdate, id, patch)
}

func (s *ShoppingStore) updateItem(ctx context.Context, op cache.Op, id string, values any) (*backend.ShoppingItem, error) {
	raw, err := s.client.Update(ctx, backend.TableItems, id, values)
	if err != nil {
		return nil, s.fail(string(op)+" item", err)
	}
	it, err := decode[backend.ShoppingItem](raw)
	if err != nil {
		return nil, s.fail(string(op)+" item", err)
	}

	s.mu.Lock()
	s.replaceItem(it)
	s.mu.Unlock()
	return &it, nil
}

// ToggleItemComplete checks or unchecks a cached item on behalf of userID.
// It fails with a not-found error, without touching any state, when the
// item is not cached.
func (s *ShoppingStore) ToggleItemComplete(ctx context.Context, id, userID string) (*backend.ShoppingItem, error) {
	s.mu.RLock()
	current, ok := s.items.Get(id)
	s.mu.RUnlock()
	if !ok {
		return nil, utils.ErrEntityNotFound("item", id)
	}

	defer s.status.Begin(cache.OpToggle)()
	done := backend.ItemCompletion{Completed: !current.Completed}
	if done.Completed {
		done.CompletedBy = userID
	}
	return s.updateItem(ctx, cache.OpToggle, id, done)
}

// DeleteItem removes an item from its list.
func (s *ShoppingStore) DeleteItem(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableItems, id); err != nil {
		return s.fail("delete item", err)
	}
	s.mu.Lock()
	s.removeItem(id)
	s.mu.Unlock()
	return nil
}

// ClearCompleted deletes every checked item of a list and returns how many
// were removed.
func (s *ShoppingStore) ClearCompleted(ctx context.Context, listID string) (int, error) {
	defer s.status.Begin(cache.OpDelete)()

	raw, err := s.client.Call(ctx, backend.ProcClearCompletedItem, backend.Params{"p_list_id": listID})
	if err != nil {
		return 0, s.fail("clear completed", err)
	}
	removed, err := decodeRows[backend.ShoppingItem](raw)
	if err != nil {
		return 0, s.fail("clear completed", err)
	}

	s.mu.Lock()
	for _, it := range removed {
		s.removeItem(it.ID)
	}
	s.mu.Unlock()
	return len(removed), nil
}

// --- collaborators ---

// FetchCollaborators replaces the list's collaborators.
func (s *ShoppingStore) FetchCollaborators(ctx context.Context, listID string) error {
	return fetch(ctx, &s.base, cache.OpFetch, "collaborators:"+listID, backend.ProcListCollaborators,
		backend.Params{"p_list_id": listID},
		func(rows []backend.Collaborator) {
			s.collaborators.Replace(listID, rows)
		})
}

// keepUser carries the joined user details over when the user is unchanged.
func (s *ShoppingStore) keepUser(c backend.Collaborator) backend.Collaborator {
	old, ok := s.collaborators.Get(c.ID)
	if ok && old.UserID == c.UserID && c.UserName == "" && c.UserEmail == "" {
		c.UserName = old.UserName
		c.UserEmail = old.UserEmail
	}
	return c
}

// AddCollaborator shares a list with a user.
func (s *ShoppingStore) AddCollaborator(ctx context.Context, listID string, in backend.CollaboratorInput) (*backend.Collaborator, error) {
	defer s.status.Begin(cache.OpCreate)()

	in.ListID = listID
	if err := in.Validate(); err != nil {
		return nil, s.fail("add collaborator", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Insert(ctx, backend.TableCollaborators, in)
	if err != nil {
		return nil, s.fail("add collaborator", err)
	}
	c, err := decode[backend.Collaborator](raw)
	if err != nil {
		return nil, s.fail("add collaborator", err)
	}

	s.mu.Lock()
	c = s.keepUser(c)
	s.collaborators.Upsert(c.ListID, c)
	s.mu.Unlock()
	return &c, nil
}

// UpdateCollaboratorRole changes a collaborator's role.
func (s *ShoppingStore) UpdateCollaboratorRole(ctx context.Context, id string, role backend.Role) (*backend.Collaborator, error) {
	defer s.status.Begin(cache.OpUpdate)()

	patch := backend.CollaboratorPatch{Role: role}
	if err := patch.Validate(); err != nil {
		return nil, s.fail("update collaborator", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Update(ctx, backend.TableCollaborators, id, patch)
	if err != nil {
		return nil, s.fail("update collaborator", err)
	}
	c, err := decode[backend.Collaborator](raw)
	if err != nil {
		return nil, s.fail("update collaborator", err)
	}

	s.mu.Lock()
	c = s.keepUser(c)
	s.collaborators.Update(c)
	s.mu.Unlock()
	return &c, nil
}

// RemoveCollaborator revokes a user's access to a list.
func (s *ShoppingStore) RemoveCollaborator(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableCollaborators, id); err != nil {
		return s.fail("remove collaborator", err)
	}
	s.mu.Lock()
	s.collaborators.Remove(id)
	s.mu.Unlock()
	return nil
}

// Role returns userID's role on a list, from the cached collaborators.
func (s *ShoppingStore) Role(listID, userID string) (backend.Role, bool) {
	return views.RoleOf(s.Collaborators(listID), userID)
}

// CanEdit reports whether userID may change the list's items.
func (s *ShoppingStore) CanEdit(listID, userID string) bool {
	role, _ := s.Role(listID, userID)
	return views.CanEdit(role)
}

// CanManage reports whether userID may rename, delete or share the list.
func (s *ShoppingStore) CanManage(listID, userID string) bool {
	role, _ := s.Role(listID, userID)
	return views.CanManage(role)
}

// --- filters and selectors ---

// SetFilters merges partial into the current item filters.
func (s *ShoppingStore) SetFilters(partial ItemFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.Merge(partial)
}

// ClearFilters resets every item filter.
func (s *ShoppingStore) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = ItemFilters{}
}

// Filters returns the current item filters.
func (s *ShoppingStore) Filters() ItemFilters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// Lists returns the hub's cached lists.
func (s *ShoppingStore) Lists(hubID string) []backend.ShoppingList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists.Items(hubID)
}

// List returns a cached list by id.
func (s *ShoppingStore) List(id string) (backend.ShoppingList, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists.Get(id)
}

// Items returns the list's cached items, open items first.
func (s *ShoppingStore) Items(listID string) []backend.ShoppingItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Items(listID)
}

// Item returns a cached item by id.
func (s *ShoppingStore) Item(id string) (backend.ShoppingItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Get(id)
}

// FilteredItems returns the list's items matching the current filters.
func (s *ShoppingStore) FilteredItems(listID string) []backend.ShoppingItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.ShoppingItem
	for _, it := range s.items.Items(listID) {
		if s.filters.Match(it) {
			out = append(out, it)
		}
	}
	return out
}

// ItemsByCategory groups the list's filtered items by category.
func (s *ShoppingStore) ItemsByCategory(listID string) []views.Group[backend.ShoppingItem] {
	return views.GroupBy(s.FilteredItems(listID), func(it backend.ShoppingItem) string {
		if it.Category == "" {
			return UncategorizedLabel
		}
		return it.Category
	})
}

// ListStats summarizes the list's cached items.
func (s *ShoppingStore) ListStats(listID string) views.Stats {
	return views.ItemStats(s.Items(listID))
}

// Collaborators returns the list's cached collaborators, owners first.
func (s *ShoppingStore) Collaborators(listID string) []backend.Collaborator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collaborators.Items(listID)
}

// --- realtime ---

// SubscribeHub opens the hub's list channel unless already open.
func (s *ShoppingStore) SubscribeHub(ctx context.Context, hubID string) error {
	return s.subscribe(ctx, hubKey(hubID), s.hubChannels(hubID))
}

// UnsubscribeHub closes the hub's list channel.
func (s *ShoppingStore) UnsubscribeHub(hubID string) error {
	return s.base.Unsubscribe(hubKey(hubID))
}

// ObserveHub keeps the hub's list channel open while fn runs.
func (s *ShoppingStore) ObserveHub(ctx context.Context, hubID string, fn func(ctx context.Context) error) error {
	return s.observe(ctx, hubKey(hubID), s.hubChannels(hubID), fn)
}

// Subscribe opens the list's item and collaborator channels unless already open.
func (s *ShoppingStore) Subscribe(ctx context.Context, listID string) error {
	return s.subscribe(ctx, listKey(listID), s.listChannels(listID))
}

// Unsubscribe closes the list's channels.
func (s *ShoppingStore) Unsubscribe(listID string) error {
	return s.base.Unsubscribe(listKey(listID))
}

// Observe keeps the list's channels open while fn runs.
func (s *ShoppingStore) Observe(ctx context.Context, listID string, fn func(ctx context.Context) error) error {
	return s.observe(ctx, listKey(listID), s.listChannels(listID), fn)
}

func (s *ShoppingStore) hubChannels(hubID string) realtime.Opener {
	return s.opener(channel{
		name:   "shopping_lists:" + hubID,
		filter: backend.Filter{Table: backend.TableLists, Column: "hub_id", Value: hubID},
		handle: s.handleList,
	})
}

func (s *ShoppingStore) listChannels(listID string) realtime.Opener {
	return s.opener(
		channel{
			name:   "shopping_items:" + listID,
			filter: backend.Filter{Table: backend.TableItems, Column: "list_id", Value: listID},
			handle: s.handleItem,
		},
		channel{
			name:   "list_collaborators:" + listID,
			filter: backend.Filter{Table: backend.TableCollaborators, Column: "list_id", Value: listID},
			handle: s.handleCollaborator,
		},
	)
}

func (s *ShoppingStore) handleList(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			l, err := decodeRow[backend.ShoppingList](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.lists.Insert(l.HubID, l)
			return nil
		},
		func(c backend.Change) error {
			l, err := decodeRow[backend.ShoppingList](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.lists.Has(l.ID) {
				s.lists.Update(s.keepCounts(l))
			}
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.dropList(id)
			s.mu.Unlock()
			return s.Unsubscribe(id)
		},
	)
}

func (s *ShoppingStore) handleItem(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			it, err := decodeRow[backend.ShoppingItem](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.insertItem(it)
			return nil
		},
		func(c backend.Change) error {
			it, err := decodeRow[backend.ShoppingItem](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.replaceItem(it)
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.removeItem(id)
			return nil
		},
	)
}

func (s *ShoppingStore) handleCollaborator(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			col, err := decodeRow[backend.Collaborator](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.collaborators.Insert(col.ListID, col)
			return nil
		},
		func(c backend.Change) error {
			col, err := decodeRow[backend.Collaborator](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.collaborators.Has(col.ID) {
				s.collaborators.Update(s.keepUser(col))
			}
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.collaborators.Remove(id)
			return nil
		},
	)
}

// Reset closes every channel and returns the store to its initial state.
func (s *ShoppingStore) Reset() {
	s.releaseAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists.Reset()
	s.items.Reset()
	s.collaborators.Reset()
	s.filters = ItemFilters{}
	s.seq.Reset()
	s.status.Reset()
}

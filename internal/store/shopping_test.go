package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hubcache/backend"
	"hubcache/internal/cache"
	"hubcache/internal/store"
	"hubcache/internal/testutil"
	"hubcache/internal/utils"
)

const listID = "list-1"

func item(id, name, category string, hour int, completed bool) backend.ShoppingItem {
	return backend.ShoppingItem{
		ID: id, ListID: listID, Name: name, Quantity: 1, Category: category,
		Completed: completed, AddedBy: userID, CreatedAt: at(2024, time.March, 1, hour),
	}
}

// newShoppingStore caches one list with three items, one of them checked,
// and two collaborators.
func newShoppingStore(t *testing.T) (*store.ShoppingStore, *testutil.FakeClient) {
	t.Helper()
	f := newFake(t)
	list := backend.ShoppingList{ID: listID, HubID: hubID, Name: "Groceries", CreatedBy: userID, ItemCount: 3, CompletedCount: 1}
	items := []backend.ShoppingItem{
		item("i1", "Milk", "Dairy", 1, false),
		item("i2", "Bread", "Bakery", 2, true),
		item("i3", "Eggs", "Dairy", 3, false),
	}
	collaborators := []backend.Collaborator{
		{ID: "c2", ListID: listID, UserID: "user-2", Role: backend.RoleViewer, UserName: "Ben", UserEmail: "ben@example.com"},
		{ID: "c1", ListID: listID, UserID: userID, Role: backend.RoleOwner, UserName: "Ana"},
	}
	f.OnCall(backend.ProcHubShoppingLists, []backend.ShoppingList{list})
	f.OnCall(backend.ProcListItems, items)
	f.OnCall(backend.ProcListCollaborators, collaborators)
	f.Seed(backend.TableItems, anySlice(items)...)
	for _, c := range collaborators {
		c.UserName, c.UserEmail = "", ""
		f.Seed(backend.TableCollaborators, c)
	}

	s := store.NewShoppingStore(f, quiet())
	ctx := context.Background()
	mustNoErr(t, s.FetchLists(ctx, hubID))
	mustNoErr(t, s.FetchItems(ctx, listID))
	mustNoErr(t, s.FetchCollaborators(ctx, listID))
	return s, f
}

func counts(t *testing.T, s *store.ShoppingStore) (int, int) {
	t.Helper()
	l, ok := s.List(listID)
	if !ok {
		t.Fatal("list is not cached")
	}
	return l.ItemCount, l.CompletedCount
}

func wantCounts(t *testing.T, s *store.ShoppingStore, items, completed int) {
	t.Helper()
	gotItems, gotCompleted := counts(t, s)
	if gotItems != items || gotCompleted != completed {
		t.Errorf("counts = %d/%d, want %d/%d", gotItems, gotCompleted, items, completed)
	}
}

// =============================================================================
// Items
// =============================================================================

func TestFetchItemsOrderAndCounts(t *testing.T) {
	s, _ := newShoppingStore(t)
	equalIDs(t, ids(s.Items(listID)), []string{"i1", "i3", "i2"})
	wantCounts(t, s, 3, 1)
}

func TestToggleItemCompleteUnknownItem(t *testing.T) {
	s, f := newShoppingStore(t)
	f.ResetCalls()
	before := s.Items(listID)

	_, err := s.ToggleItemComplete(context.Background(), "nonexistent", userID)
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
	if got := f.Calls(""); len(got) != 0 {
		t.Errorf("backend was called: %v", got)
	}
	if s.Err() != "" || s.Loading(cache.OpToggle) {
		t.Errorf("state changed: err=%q flags=%v", s.Err(), s.Flags())
	}
	after := s.Items(listID)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("item %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	wantCounts(t, s, 3, 1)
}

func TestToggleItemCompleteAdjustsCounts(t *testing.T) {
	s, f := newShoppingStore(t)
	ctx := context.Background()

	got, err := s.ToggleItemComplete(ctx, "i1", userID)
	mustNoErr(t, err)
	if !got.Completed || got.CompletedBy != userID {
		t.Errorf("checked item = %+v", got)
	}
	wantCounts(t, s, 3, 2)
	equalIDs(t, ids(s.Items(listID)), []string{"i3", "i1", "i2"})

	got, err = s.ToggleItemComplete(ctx, "i1", userID)
	mustNoErr(t, err)
	if got.Completed || got.CompletedBy != "" {
		t.Errorf("unchecked item = %+v", got)
	}
	wantCounts(t, s, 3, 1)

	sent := f.CallsTo("update", backend.TableItems)[1].Values
	if sent["completed"] != false || sent["completed_by"] != "" {
		t.Errorf("uncheck sent %v", sent)
	}
}

func TestItemEchoIsCountedOnce(t *testing.T) {
	s, f := newShoppingStore(t)
	ctx := context.Background()
	mustNoErr(t, s.Subscribe(ctx, listID))

	added, err := s.AddItem(ctx, listID, backend.ShoppingItemInput{Name: "Butter", Category: "Dairy", AddedBy: userID})
	mustNoErr(t, err)
	if added.Quantity != 1 {
		t.Errorf("quantity = %d, want default 1", added.Quantity)
	}
	f.PushInsert(backend.TableItems, added)
	wantCounts(t, s, 4, 1)

	// A checked item added on another device.
	other := item("i9", "Jam", "", 9, true)
	f.PushInsert(backend.TableItems, other)
	f.PushInsert(backend.TableItems, other)
	wantCounts(t, s, 5, 2)

	f.PushUpdate(backend.TableItems, other, item("i9", "Jam", "", 9, false))
	wantCounts(t, s, 5, 1)

	f.PushDelete(backend.TableItems, item("i2", "Bread", "Bakery", 2, true))
	wantCounts(t, s, 4, 0)

	mustNoErr(t, s.DeleteItem(ctx, "i1"))
	f.PushDelete(backend.TableItems, item("i1", "Milk", "Dairy", 1, false))
	wantCounts(t, s, 3, 0)
}

func TestClearCompleted(t *testing.T) {
	s, f := newShoppingStore(t)
	f.OnCall(backend.ProcClearCompletedItem, []backend.ShoppingItem{item("i2", "Bread", "Bakery", 2, true)})

	n, err := s.ClearCompleted(context.Background(), listID)
	mustNoErr(t, err)
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	equalIDs(t, ids(s.Items(listID)), []string{"i1", "i3"})
	wantCounts(t, s, 2, 0)
}

func TestItemFiltersAndSelectors(t *testing.T) {
	s, _ := newShoppingStore(t)

	groups := s.ItemsByCategory(listID)
	if len(groups) != 2 || groups[0].Key != "Dairy" || len(groups[0].Items) != 2 || groups[1].Key != "Bakery" {
		t.Errorf("ItemsByCategory = %+v", groups)
	}

	s.SetFilters(store.ItemFilters{Category: ptr("Dairy")})
	s.SetFilters(store.ItemFilters{Search: ptr("EGG")})
	equalIDs(t, ids(s.FilteredItems(listID)), []string{"i3"})

	s.ClearFilters()
	s.SetFilters(store.ItemFilters{Completed: ptr(true)})
	equalIDs(t, ids(s.FilteredItems(listID)), []string{"i2"})

	st := s.ListStats(listID)
	if st.Total != 3 || st.Completed != 1 || st.Percent != 33 {
		t.Errorf("ListStats = %+v", st)
	}
}

func TestUncategorizedItemsAreGrouped(t *testing.T) {
	s, f := newShoppingStore(t)
	mustNoErr(t, s.Subscribe(context.Background(), listID))
	f.PushInsert(backend.TableItems, item("i4", "Candles", "", 4, false))

	var keys []string
	for _, g := range s.ItemsByCategory(listID) {
		keys = append(keys, g.Key)
	}
	equalIDs(t, keys, []string{"Dairy", store.UncategorizedLabel, "Bakery"})
}

// =============================================================================
// Lists
// =============================================================================

func TestRealtimeListUpdateKeepsCounts(t *testing.T) {
	s, f := newShoppingStore(t)
	mustNoErr(t, s.SubscribeHub(context.Background(), hubID))

	f.PushUpdate(backend.TableLists, nil, backend.ShoppingList{ID: listID, HubID: hubID, Name: "Weekly groceries"})
	l, _ := s.List(listID)
	if l.Name != "Weekly groceries" {
		t.Errorf("name = %q", l.Name)
	}
	wantCounts(t, s, 3, 1)
}

func TestDeleteListDropsChildrenAndChannels(t *testing.T) {
	tests := []struct {
		name   string
		delete func(t *testing.T, s *store.ShoppingStore, f *testutil.FakeClient)
	}{
		{"local", func(t *testing.T, s *store.ShoppingStore, f *testutil.FakeClient) {
			mustNoErr(t, s.DeleteList(context.Background(), listID))
		}},
		{"realtime", func(t *testing.T, s *store.ShoppingStore, f *testutil.FakeClient) {
			f.PushDelete(backend.TableLists, map[string]any{"id": listID, "hub_id": hubID})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, f := newShoppingStore(t)
			ctx := context.Background()
			mustNoErr(t, s.SubscribeHub(ctx, hubID))
			mustNoErr(t, s.Subscribe(ctx, listID))

			tt.delete(t, s, f)

			if got := s.Lists(hubID); len(got) != 0 {
				t.Errorf("Lists = %v", ids(got))
			}
			if got := s.Items(listID); len(got) != 0 {
				t.Errorf("Items = %v", ids(got))
			}
			if got := s.Collaborators(listID); len(got) != 0 {
				t.Errorf("Collaborators = %v", ids(got))
			}
			equalIDs(t, f.Channels(), []string{"shopping_lists:" + hubID})
		})
	}
}

func TestObserveHubReleasesOnReturn(t *testing.T) {
	s, f := newShoppingStore(t)
	ctx := context.Background()

	err := s.ObserveHub(ctx, hubID, func(ctx context.Context) error {
		equalIDs(t, f.Channels(), []string{"shopping_lists:" + hubID})
		f.PushInsert(backend.TableLists, backend.ShoppingList{ID: "l9", HubID: hubID, Name: "Hardware"})
		return nil
	})
	mustNoErr(t, err)
	if got := f.Channels(); len(got) != 0 {
		t.Errorf("channels after ObserveHub = %v", got)
	}
	if _, ok := s.List("l9"); !ok {
		t.Error("list inserted while observing was not cached")
	}

	mustNoErr(t, s.SubscribeHub(ctx, hubID))
	mustNoErr(t, s.UnsubscribeHub(hubID))
	if got := f.Channels(); len(got) != 0 {
		t.Errorf("channels after UnsubscribeHub = %v", got)
	}
	f.PushInsert(backend.TableLists, backend.ShoppingList{ID: "l10", HubID: hubID, Name: "Garden"})
	if _, ok := s.List("l10"); ok {
		t.Error("list delivered after UnsubscribeHub was cached")
	}
}

func TestCreateListValidates(t *testing.T) {
	s, f := newShoppingStore(t)

	_, err := s.CreateList(context.Background(), hubID, backend.ShoppingListInput{Name: "  "})
	if !errors.Is(err, backend.ErrInvalidPayload) {
		t.Fatalf("error = %v", err)
	}
	if len(f.Calls("insert")) != 0 {
		t.Error("invalid list reached the backend")
	}

	l, err := s.CreateList(context.Background(), hubID, backend.ShoppingListInput{Name: "Hardware", CreatedBy: userID})
	mustNoErr(t, err)
	if len(s.Lists(hubID)) != 2 || l.HubID != hubID {
		t.Errorf("Lists = %v, created %+v", ids(s.Lists(hubID)), l)
	}
}

// =============================================================================
// Collaborators
// =============================================================================

func TestCollaboratorRoles(t *testing.T) {
	s, f := newShoppingStore(t)
	ctx := context.Background()
	mustNoErr(t, s.Subscribe(ctx, listID))

	equalIDs(t, ids(s.Collaborators(listID)), []string{"c1", "c2"})
	if !s.CanManage(listID, userID) || !s.CanEdit(listID, userID) {
		t.Error("owner cannot manage")
	}
	if s.CanEdit(listID, "user-2") {
		t.Error("viewer can edit")
	}
	if s.CanEdit(listID, "stranger") {
		t.Error("stranger can edit")
	}

	c, err := s.UpdateCollaboratorRole(ctx, "c2", backend.RoleEditor)
	mustNoErr(t, err)
	if c.UserName != "Ben" {
		t.Errorf("user details lost: %+v", c)
	}
	if !s.CanEdit(listID, "user-2") || s.CanManage(listID, "user-2") {
		t.Error("editor rights are wrong")
	}

	if _, err := s.UpdateCollaboratorRole(ctx, "c2", "admin"); !errors.Is(err, backend.ErrInvalidPayload) {
		t.Errorf("invalid role error = %v", err)
	}

	added, err := s.AddCollaborator(ctx, listID, backend.CollaboratorInput{UserID: "user-3", Role: backend.RoleViewer})
	mustNoErr(t, err)
	f.PushInsert(backend.TableCollaborators, added)
	if got := len(s.Collaborators(listID)); got != 3 {
		t.Errorf("collaborators = %d, want 3", got)
	}

	mustNoErr(t, s.RemoveCollaborator(ctx, added.ID))
	if role, ok := s.Role(listID, "user-3"); ok {
		t.Errorf("removed collaborator still has role %q", role)
	}
}

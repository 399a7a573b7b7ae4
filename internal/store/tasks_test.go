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

var taskNow = at(2024, time.March, 15, 12)

func newTaskStore(t *testing.T, tasks ...backend.Task) (*store.TaskStore, *testutil.FakeClient) {
	t.Helper()
	f := newFake(t)
	f.OnCall(backend.ProcHubTasks, tasks)
	f.Seed(backend.TableTasks, anySlice(tasks)...)
	s := store.NewTaskStore(f, quiet(), fixedClock(taskNow))
	mustNoErr(t, s.FetchTasks(context.Background(), hubID))
	return s, f
}

func task(id, title string, due *time.Time) backend.Task {
	return backend.Task{ID: id, HubID: hubID, Title: title, Priority: backend.PriorityMedium, DueDate: due, CreatedBy: userID}
}

func TestFetchTasksOrder(t *testing.T) {
	done := task("t1", "Done", ptr(at(2024, time.March, 1, 0)))
	done.Completed = true
	s, _ := newTaskStore(t,
		done,
		task("t2", "Undated", nil),
		task("t3", "Later", ptr(at(2024, time.March, 20, 0))),
		task("t4", "Sooner", ptr(at(2024, time.March, 10, 0))),
	)
	equalIDs(t, ids(s.Tasks(hubID)), []string{"t4", "t3", "t2", "t1"})
}

func TestCreateTaskDefaultsPriorityAndDeduplicatesEcho(t *testing.T) {
	s, f := newTaskStore(t)
	ctx := context.Background()
	mustNoErr(t, s.Subscribe(ctx, hubID))

	got, err := s.CreateTask(ctx, hubID, backend.TaskInput{Title: "Vacuum", CreatedBy: userID})
	mustNoErr(t, err)
	if got.Priority != backend.PriorityMedium {
		t.Errorf("priority = %q, want medium", got.Priority)
	}
	if v := f.CallsTo("insert", backend.TableTasks)[0].Values["priority"]; v != "medium" {
		t.Errorf("sent priority = %v", v)
	}

	f.PushInsert(backend.TableTasks, got)
	f.PushInsert(backend.TableTasks, got)
	equalIDs(t, ids(s.Tasks(hubID)), []string{got.ID})
}

func TestToggleComplete(t *testing.T) {
	s, f := newTaskStore(t, task("t1", "Dishes", nil))
	ctx := context.Background()

	got, err := s.ToggleComplete(ctx, "t1")
	mustNoErr(t, err)
	if !got.Completed || got.CompletedAt == nil || !got.CompletedAt.Equal(taskNow) {
		t.Errorf("after completing: %+v", got)
	}

	got, err = s.ToggleComplete(ctx, "t1")
	mustNoErr(t, err)
	if got.Completed || got.CompletedAt != nil {
		t.Errorf("after reopening: %+v", got)
	}
	calls := f.CallsTo("update", backend.TableTasks)
	if v, ok := calls[1].Values["completed_at"]; !ok || v != nil {
		t.Errorf("reopen did not clear completed_at: %v", calls[1].Values)
	}
}

func TestToggleCompleteUnknownTask(t *testing.T) {
	s, f := newTaskStore(t, task("t1", "Dishes", nil))
	f.ResetCalls()

	_, err := s.ToggleComplete(context.Background(), "nonexistent")
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
	if got := f.Calls(""); len(got) != 0 {
		t.Errorf("backend was called: %v", got)
	}
	if s.Err() != "" || s.Loading(cache.OpToggle) {
		t.Errorf("state changed: err=%q flags=%v", s.Err(), s.Flags())
	}
	equalIDs(t, ids(s.Tasks(hubID)), []string{"t1"})
}

func TestUpdateKeepsAssigneeDetails(t *testing.T) {
	assigned := task("t1", "Dishes", nil)
	assigned.AssignedTo = "user-2"
	assigned.AssigneeName = "Ben"
	assigned.AssigneeEmail = "ben@example.com"
	s, f := newTaskStore(t, assigned)
	ctx := context.Background()
	mustNoErr(t, s.Subscribe(ctx, hubID))

	// The table row carries no joined assignee details.
	tableRow := assigned
	tableRow.AssigneeName, tableRow.AssigneeEmail = "", ""
	f.Seed(backend.TableTasks, tableRow)

	// get_task is not programmed, so the update falls back to the table row.
	got, err := s.UpdateTask(ctx, "t1", backend.TaskPatch{Title: ptr("Dishes tonight")})
	mustNoErr(t, err)
	if got.AssigneeName != "Ben" {
		t.Errorf("assignee lost on update: %+v", got)
	}

	plain := *got
	plain.AssigneeName, plain.AssigneeEmail = "", ""
	plain.Title = "Dishes now"
	f.PushUpdate(backend.TableTasks, assigned, plain)
	if cached, _ := s.Task("t1"); cached.AssigneeName != "Ben" || cached.Title != "Dishes now" {
		t.Errorf("after realtime update: %+v", cached)
	}

	reassigned, err := s.AssignTask(ctx, "t1", "user-3")
	mustNoErr(t, err)
	if reassigned.AssignedTo != "user-3" || reassigned.AssigneeName != "" {
		t.Errorf("reassigned kept the old assignee: %+v", reassigned)
	}
}

func TestTaskFiltersCompose(t *testing.T) {
	high := task("t1", "Pay rent", ptr(at(2024, time.March, 10, 0)))
	high.Priority = backend.PriorityHigh
	high.AssignedTo = userID
	done := task("t2", "Pay water", ptr(at(2024, time.March, 11, 0)))
	done.Completed = true
	other := task("t3", "Pay phone", ptr(at(2024, time.March, 30, 0)))
	other.AssignedTo = userID
	s, _ := newTaskStore(t, high, done, other, task("t4", "Walk dog", nil))

	s.SetFilters(store.TaskFilters{Search: ptr("pay")})
	equalIDs(t, ids(s.Filtered(hubID)), []string{"t1", "t3", "t2"})

	s.SetFilters(store.TaskFilters{Completed: ptr(false)})
	equalIDs(t, ids(s.Filtered(hubID)), []string{"t1", "t3"})

	s.SetFilters(store.TaskFilters{AssignedTo: ptr(userID), DueBefore: ptr(at(2024, time.March, 20, 0))})
	equalIDs(t, ids(s.Filtered(hubID)), []string{"t1"})

	s.SetFilters(store.TaskFilters{Priority: ptr(backend.PriorityLow)})
	if got := s.Filtered(hubID); len(got) != 0 {
		t.Errorf("Filtered = %v, want none", ids(got))
	}

	s.ClearFilters()
	if got := s.Filtered(hubID); len(got) != 4 {
		t.Errorf("Filtered after clear = %v", ids(got))
	}
}

func TestTaskStatsAndSelectors(t *testing.T) {
	done := task("t1", "Done", ptr(at(2024, time.March, 1, 0)))
	done.Completed = true
	s, _ := newTaskStore(t,
		done,
		task("t2", "Late", ptr(at(2024, time.March, 14, 0))),
		task("t3", "Today", ptr(at(2024, time.March, 15, 18))),
		task("t4", "Undated", nil),
	)

	st := s.Stats(hubID, taskNow)
	if st.Total != 4 || st.Completed != 1 || st.Pending != 3 || st.Overdue != 1 || st.Percent != 25 {
		t.Errorf("Stats = %+v", st)
	}
	equalIDs(t, ids(s.Overdue(hubID, taskNow)), []string{"t2"})
	equalIDs(t, ids(s.DueOn(hubID, taskNow)), []string{"t3"})
	if items := s.CalendarItems(hubID); len(items) != 3 {
		t.Errorf("CalendarItems = %+v, want the 3 dated tasks", items)
	}
}

func TestDeleteTaskDeselects(t *testing.T) {
	s, f := newTaskStore(t, task("t1", "A", nil), task("t2", "B", nil), task("t3", "C", nil))
	ctx := context.Background()
	mustNoErr(t, s.Subscribe(ctx, hubID))
	s.Select("t1")
	s.Select("t2")
	if s.ToggleSelected("t3") != true {
		t.Fatal("ToggleSelected(t3) = false")
	}

	mustNoErr(t, s.DeleteTask(ctx, "t1"))
	f.PushDelete(backend.TableTasks, map[string]any{"id": "t2", "hub_id": hubID})

	equalIDs(t, s.Selected(), []string{"t3"})
	mustNoErr(t, s.DeleteSelected(ctx))
	if got := s.Tasks(hubID); len(got) != 0 {
		t.Errorf("Tasks = %v", ids(got))
	}
	if got := s.Selected(); len(got) != 0 {
		t.Errorf("Selected = %v", got)
	}
}

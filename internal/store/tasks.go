package store

import (
	"context"
	"time"

	"hubcache/backend"
	"hubcache/internal/cache"
	"hubcache/internal/realtime"
	"hubcache/internal/utils"
	"hubcache/internal/views"
)

// TaskFilters narrows Filtered results. Nil fields are not applied.
type TaskFilters struct {
	Completed  *bool
	Priority   *backend.Priority
	AssignedTo *string
	Search     *string
	DueBefore  *time.Time
}

// Merge returns f with every field set in partial overriding it.
func (f TaskFilters) Merge(partial TaskFilters) TaskFilters {
	if partial.Completed != nil {
		f.Completed = partial.Completed
	}
	if partial.Priority != nil {
		f.Priority = partial.Priority
	}
	if partial.AssignedTo != nil {
		f.AssignedTo = partial.AssignedTo
	}
	if partial.Search != nil {
		f.Search = partial.Search
	}
	if partial.DueBefore != nil {
		f.DueBefore = partial.DueBefore
	}
	return f
}

// Match reports whether t satisfies every set field.
func (f TaskFilters) Match(t backend.Task) bool {
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.AssignedTo != nil && t.AssignedTo != *f.AssignedTo {
		return false
	}
	if f.Search != nil && !views.MatchesSearch(*f.Search, t.Title, t.Description, t.AssigneeName) {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || !t.DueDate.Before(*f.DueBefore)) {
		return false
	}
	return true
}

// taskLess puts open tasks first, then orders by due date with undated
// tasks last, then by creation.
func taskLess(a, b backend.Task) bool {
	if a.Completed != b.Completed {
		return !a.Completed
	}
	switch {
	case a.DueDate != nil && b.DueDate == nil:
		return true
	case a.DueDate == nil && b.DueDate != nil:
		return false
	case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Before(*b.DueDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// TaskStore caches a hub's tasks.
type TaskStore struct {
	base
	tasks    *cache.Collection[backend.Task]
	selected cache.Selection
	filters  TaskFilters
}

// NewTaskStore creates an empty task cache backed by client.
func NewTaskStore(client backend.Client, opts ...Option) *TaskStore {
	s := &TaskStore{tasks: cache.NewCollection(taskLess)}
	s.init("tasks", client, buildOptions(opts))
	return s
}

// FetchTasks replaces the hub's tasks, with assignee details joined in.
func (s *TaskStore) FetchTasks(ctx context.Context, hubID string) error {
	return fetch(ctx, &s.base, cache.OpFetch, hubID, backend.ProcHubTasks, backend.Params{"p_hub_id": hubID},
		func(rows []backend.Task) {
			s.tasks.Replace(hubID, rows)
		})
}

// canonical looks the task up through get_task so assignee details are
// present, falling back to row when the lookup fails.
func (s *TaskStore) canonical(ctx context.Context, row backend.Task) backend.Task {
	raw, err := s.client.Call(ctx, backend.ProcTask, backend.Params{"p_task_id": row.ID})
	if err != nil {
		s.log.Debug("tasks: canonical lookup of %s failed: %v", row.ID, err)
		return row
	}
	t, err := decode[backend.Task](raw)
	if err != nil || t.ID != row.ID {
		return row
	}
	return t
}

// keepJoined copies the joined assignee fields of old into t when the
// assignment did not change and t lacks them.
func keepJoined(t, old backend.Task) backend.Task {
	if t.AssignedTo == old.AssignedTo && t.AssigneeName == "" && t.AssigneeEmail == "" {
		t.AssigneeName = old.AssigneeName
		t.AssigneeEmail = old.AssigneeEmail
	}
	return t
}

// CreateTask inserts a task into the hub and caches the stored row.
func (s *TaskStore) CreateTask(ctx context.Context, hubID string, in backend.TaskInput) (*backend.Task, error) {
	defer s.status.Begin(cache.OpCreate)()

	in.HubID = hubID
	if in.Priority == "" {
		in.Priority = backend.PriorityMedium
	}
	if err := in.Validate(); err != nil {
		return nil, s.fail("create task", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Insert(ctx, backend.TableTasks, in)
	if err != nil {
		return nil, s.fail("create task", err)
	}
	row, err := decode[backend.Task](raw)
	if err != nil {
		return nil, s.fail("create task", err)
	}
	t := s.canonical(ctx, row)

	s.mu.Lock()
	s.tasks.Upsert(t.HubID, t)
	s.mu.Unlock()
	return &t, nil
}

// UpdateTask applies patch and replaces the cached task with the stored row.
func (s *TaskStore) UpdateTask(ctx context.Context, id string, patch backend.TaskPatch) (*backend.Task, error) {
	defer s.status.Begin(cache.OpUpdate)()

	if err := patch.Validate(); err != nil {
		return nil, s.fail("update task", utils.ErrInvalidPayload(err))
	}
	return s.update(ctx, cache.OpUpdate, id, patch)
}

// update sends values and stores the canonical row. The caller holds the
// loading flag for op.
func (s *TaskStore) update(ctx context.Context, op cache.Op, id string, values any) (*backend.Task, error) {
	raw, err := s.client.Update(ctx, backend.TableTasks, id, values)
	if err != nil {
		return nil, s.fail(string(op)+" task", err)
	}
	row, err := decode[backend.Task](raw)
	if err != nil {
		return nil, s.fail(string(op)+" task", err)
	}
	t := s.canonical(ctx, row)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks.Get(t.ID); ok {
		t = keepJoined(t, old)
	}
	s.tasks.Update(t)
	return &t, nil
}

// ToggleComplete flips the completion of a cached task. It fails with a
// not-found error, without touching any state, when the task is not cached.
func (s *TaskStore) ToggleComplete(ctx context.Context, id string) (*backend.Task, error) {
	s.mu.RLock()
	current, ok := s.tasks.Get(id)
	s.mu.RUnlock()
	if !ok {
		return nil, utils.ErrEntityNotFound("task", id)
	}

	defer s.status.Begin(cache.OpToggle)()
	done := backend.TaskCompletion{Completed: !current.Completed}
	if done.Completed {
		now := s.now().UTC()
		done.CompletedAt = &now
	}
	return s.update(ctx, cache.OpToggle, id, done)
}

// AssignTask assigns a task to userID, or unassigns it when userID is empty.
func (s *TaskStore) AssignTask(ctx context.Context, id, userID string) (*backend.Task, error) {
	defer s.status.Begin(cache.OpUpdate)()
	return s.update(ctx, cache.OpUpdate, id, backend.TaskPatch{AssignedTo: &userID})
}

// DeleteTask deletes a task and drops it from the selection.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableTasks, id); err != nil {
		return s.fail("delete task", err)
	}
	s.mu.Lock()
	s.tasks.Remove(id)
	s.selected.Deselect(id)
	s.mu.Unlock()
	return nil
}

// DeleteSelected deletes every selected task, stopping at the first failure.
func (s *TaskStore) DeleteSelected(ctx context.Context) error {
	for _, id := range s.Selected() {
		if err := s.DeleteTask(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Select marks a task as selected.
func (s *TaskStore) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected.Select(id)
}

// Deselect clears the selection of a task.
func (s *TaskStore) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected.Deselect(id)
}

// ToggleSelected flips the selection of a task and reports the new state.
func (s *TaskStore) ToggleSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected.Toggle(id)
}

// ClearSelection deselects every task.
func (s *TaskStore) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected.Clear()
}

// Selected returns the selected task ids, sorted.
func (s *TaskStore) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected.IDs()
}

// SetFilters merges partial into the current filters.
func (s *TaskStore) SetFilters(partial TaskFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.Merge(partial)
}

// ClearFilters resets every filter.
func (s *TaskStore) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = TaskFilters{}
}

// Filters returns the current filters.
func (s *TaskStore) Filters() TaskFilters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// Tasks returns the hub's cached tasks in display order.
func (s *TaskStore) Tasks(hubID string) []backend.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks.Items(hubID)
}

// Task returns a cached task by id.
func (s *TaskStore) Task(id string) (backend.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks.Get(id)
}

// Filtered returns the hub's tasks matching the current filters.
func (s *TaskStore) Filtered(hubID string) []backend.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.Task
	for _, t := range s.tasks.Items(hubID) {
		if s.filters.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Stats summarizes the hub's tasks as of now.
func (s *TaskStore) Stats(hubID string, now time.Time) views.Stats {
	return views.TaskStats(s.Tasks(hubID), now)
}

// Overdue returns the hub's open tasks due before now.
func (s *TaskStore) Overdue(hubID string, now time.Time) []backend.Task {
	var out []backend.Task
	for _, t := range s.Tasks(hubID) {
		if views.IsOverdue(t, now) {
			out = append(out, t)
		}
	}
	return out
}

// DueOn returns the hub's tasks due on day.
func (s *TaskStore) DueOn(hubID string, day time.Time) []backend.Task {
	var out []backend.Task
	for _, t := range s.Tasks(hubID) {
		if t.DueDate != nil && views.OnDay(*t.DueDate, nil, day) {
			out = append(out, t)
		}
	}
	return out
}

// CalendarItems normalizes the hub's dated, filtered tasks for a calendar.
func (s *TaskStore) CalendarItems(hubID string) []views.CalendarItem {
	return views.MergeCalendarItems(nil, s.Filtered(hubID))
}

// Subscribe opens the hub's task channel unless already open.
func (s *TaskStore) Subscribe(ctx context.Context, hubID string) error {
	return s.subscribe(ctx, hubID, s.channels(hubID))
}

// Observe keeps the hub's task channel open while fn runs.
func (s *TaskStore) Observe(ctx context.Context, hubID string, fn func(ctx context.Context) error) error {
	return s.observe(ctx, hubID, s.channels(hubID), fn)
}

func (s *TaskStore) channels(hubID string) realtime.Opener {
	return s.opener(channel{
		name:   "tasks:" + hubID,
		filter: backend.Filter{Table: backend.TableTasks, Column: "hub_id", Value: hubID},
		handle: s.handleTask,
	})
}

func (s *TaskStore) handleTask(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			t, err := decodeRow[backend.Task](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.tasks.Insert(t.HubID, t)
			return nil
		},
		func(c backend.Change) error {
			t, err := decodeRow[backend.Task](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			old, ok := s.tasks.Get(t.ID)
			if !ok {
				return nil
			}
			s.tasks.Update(keepJoined(t, old))
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.tasks.Remove(id)
			s.selected.Deselect(id)
			return nil
		},
	)
}

// Reset closes every channel and returns the store to its initial state.
func (s *TaskStore) Reset() {
	s.releaseAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks.Reset()
	s.selected.Clear()
	s.filters = TaskFilters{}
	s.seq.Reset()
	s.status.Reset()
}

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

// EventFilters narrows Filtered results. Nil fields are not applied.
type EventFilters struct {
	Search    *string
	From      *time.Time
	To        *time.Time
	CreatedBy *string
}

// Merge returns f with every field set in partial overriding it.
func (f EventFilters) Merge(partial EventFilters) EventFilters {
	if partial.Search != nil {
		f.Search = partial.Search
	}
	if partial.From != nil {
		f.From = partial.From
	}
	if partial.To != nil {
		f.To = partial.To
	}
	if partial.CreatedBy != nil {
		f.CreatedBy = partial.CreatedBy
	}
	return f
}

// Match reports whether e satisfies every set field.
func (f EventFilters) Match(e backend.Event) bool {
	if f.Search != nil && !views.MatchesSearch(*f.Search, e.Title, e.Description, e.Location) {
		return false
	}
	if f.From != nil {
		end := e.StartDate
		if e.EndDate != nil {
			end = *e.EndDate
		}
		if end.Before(*f.From) {
			return false
		}
	}
	if f.To != nil && !e.StartDate.Before(*f.To) {
		return false
	}
	if f.CreatedBy != nil && e.CreatedBy != *f.CreatedBy {
		return false
	}
	return true
}

func eventLess(a, b backend.Event) bool {
	if !a.StartDate.Equal(b.StartDate) {
		return a.StartDate.Before(b.StartDate)
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.ID < b.ID
}

func reminderLess(a, b backend.EventReminder) bool {
	if !a.RemindAt.Equal(b.RemindAt) {
		return a.RemindAt.Before(b.RemindAt)
	}
	return a.ID < b.ID
}

// EventStore caches a hub's calendar events and their reminders.
type EventStore struct {
	base
	events    *cache.Collection[backend.Event]
	reminders *cache.Collection[backend.EventReminder]
	selected  cache.Selection
	filters   EventFilters
}

// NewEventStore creates an empty event cache backed by client.
func NewEventStore(client backend.Client, opts ...Option) *EventStore {
	s := &EventStore{
		events:    cache.NewCollection(eventLess),
		reminders: cache.NewCollection(reminderLess),
	}
	s.init("events", client, buildOptions(opts))
	return s
}

func timeParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// FetchEvents replaces the hub's events with those overlapping [from, to).
// Nil bounds are open.
func (s *EventStore) FetchEvents(ctx context.Context, hubID string, from, to *time.Time) error {
	params := backend.Params{"p_hub_id": hubID}
	if from != nil {
		params["p_start"] = timeParam(from)
	}
	if to != nil {
		params["p_end"] = timeParam(to)
	}
	return fetch(ctx, &s.base, cache.OpFetch, "events:"+hubID, backend.ProcHubEvents, params,
		func(rows []backend.Event) {
			s.events.Replace(hubID, rows)
		})
}

// FetchReminders replaces the hub's reminders.
func (s *EventStore) FetchReminders(ctx context.Context, hubID string) error {
	return fetch(ctx, &s.base, cache.OpFetch, "reminders:"+hubID, backend.ProcEventReminders,
		backend.Params{"p_hub_id": hubID},
		func(rows []backend.EventReminder) {
			s.reminders.Replace(hubID, rows)
		})
}

// canonical looks the event up through get_event so that joined fields are
// present, falling back to row when the lookup fails.
func (s *EventStore) canonical(ctx context.Context, row backend.Event) backend.Event {
	raw, err := s.client.Call(ctx, backend.ProcEvent, backend.Params{"p_event_id": row.ID})
	if err != nil {
		s.log.Debug("events: canonical lookup of %s failed: %v", row.ID, err)
		return row
	}
	ev, err := decode[backend.Event](raw)
	if err != nil || ev.ID != row.ID {
		s.log.Debug("events: canonical lookup of %s returned an unusable row", row.ID)
		return row
	}
	return ev
}

// CreateEvent inserts an event into the hub and caches the stored row.
func (s *EventStore) CreateEvent(ctx context.Context, hubID string, in backend.EventInput) (*backend.Event, error) {
	defer s.status.Begin(cache.OpCreate)()

	in.HubID = hubID
	if err := in.Validate(); err != nil {
		return nil, s.fail("create event", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Insert(ctx, backend.TableEvents, in)
	if err != nil {
		return nil, s.fail("create event", err)
	}
	row, err := decode[backend.Event](raw)
	if err != nil {
		return nil, s.fail("create event", err)
	}
	ev := s.canonical(ctx, row)

	s.mu.Lock()
	s.events.Upsert(ev.HubID, ev)
	s.mu.Unlock()
	return &ev, nil
}

// UpdateEvent applies patch and replaces the cached event with the stored row.
func (s *EventStore) UpdateEvent(ctx context.Context, id string, patch backend.EventPatch) (*backend.Event, error) {
	defer s.status.Begin(cache.OpUpdate)()

	if err := patch.Validate(); err != nil {
		return nil, s.fail("update event", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Update(ctx, backend.TableEvents, id, patch)
	if err != nil {
		return nil, s.fail("update event", err)
	}
	row, err := decode[backend.Event](raw)
	if err != nil {
		return nil, s.fail("update event", err)
	}
	ev := s.canonical(ctx, row)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.events.Get(ev.ID); ok && ev.CreatorName == "" {
		ev.CreatorName = old.CreatorName
	}
	s.events.Update(ev)
	return &ev, nil
}

// DeleteEvent deletes an event together with its reminders and selection.
func (s *EventStore) DeleteEvent(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableEvents, id); err != nil {
		return s.fail("delete event", err)
	}
	s.mu.Lock()
	s.removeEvent(id)
	s.mu.Unlock()
	return nil
}

func (s *EventStore) removeEvent(id string) {
	s.events.Remove(id)
	s.selected.Deselect(id)
	s.reminders.RemoveWhere(func(r backend.EventReminder) bool { return r.EventID == id })
}

// DeleteSelected deletes every selected event, stopping at the first failure.
func (s *EventStore) DeleteSelected(ctx context.Context) error {
	for _, id := range s.Selected() {
		if err := s.DeleteEvent(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateReminder schedules a reminder for a cached event.
func (s *EventStore) CreateReminder(ctx context.Context, in backend.ReminderInput) (*backend.EventReminder, error) {
	defer s.status.Begin(cache.OpCreate)()

	if err := in.Validate(); err != nil {
		return nil, s.fail("create reminder", utils.ErrInvalidPayload(err))
	}
	if in.HubID == "" {
		s.mu.RLock()
		ev, ok := s.events.Get(in.EventID)
		s.mu.RUnlock()
		if !ok {
			return nil, s.fail("create reminder", utils.ErrEntityNotFound("event", in.EventID))
		}
		in.HubID = ev.HubID
	}
	raw, err := s.client.Insert(ctx, backend.TableReminders, in)
	if err != nil {
		return nil, s.fail("create reminder", err)
	}
	r, err := decode[backend.EventReminder](raw)
	if err != nil {
		return nil, s.fail("create reminder", err)
	}

	s.mu.Lock()
	s.reminders.Upsert(r.HubID, r)
	s.mu.Unlock()
	return &r, nil
}

// DeleteReminder removes a reminder.
func (s *EventStore) DeleteReminder(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableReminders, id); err != nil {
		return s.fail("delete reminder", err)
	}
	s.mu.Lock()
	s.reminders.Remove(id)
	s.mu.Unlock()
	return nil
}

// Select marks an event as selected.
func (s *EventStore) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected.Select(id)
}

// Deselect clears the selection of an event.
func (s *EventStore) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected.Deselect(id)
}

// ToggleSelected flips the selection of an event and reports the new state.
func (s *EventStore) ToggleSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected.Toggle(id)
}

// ClearSelection deselects every event.
func (s *EventStore) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected.Clear()
}

// Selected returns the selected event ids, sorted.
func (s *EventStore) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected.IDs()
}

// SetFilters merges partial into the current filters.
func (s *EventStore) SetFilters(partial EventFilters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.Merge(partial)
}

// ClearFilters resets every filter.
func (s *EventStore) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = EventFilters{}
}

// Filters returns the current filters.
func (s *EventStore) Filters() EventFilters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// Events returns the hub's cached events in start order.
func (s *EventStore) Events(hubID string) []backend.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.Items(hubID)
}

// Event returns a cached event by id.
func (s *EventStore) Event(id string) (backend.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.Get(id)
}

// Filtered returns the hub's events matching the current filters.
func (s *EventStore) Filtered(hubID string) []backend.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.Event
	for _, e := range s.events.Items(hubID) {
		if s.filters.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// OnDay returns the hub's events that fall on day.
func (s *EventStore) OnDay(hubID string, day time.Time) []backend.Event {
	var out []backend.Event
	for _, e := range s.Events(hubID) {
		if views.OnDay(e.StartDate, e.EndDate, day) {
			out = append(out, e)
		}
	}
	return out
}

// Upcoming returns at most n of the hub's events starting at or after now.
// It returns nil when n is not positive.
func (s *EventStore) Upcoming(hubID string, now time.Time, n int) []backend.Event {
	if n <= 0 {
		return nil
	}
	var out []backend.Event
	for _, e := range s.Events(hubID) {
		if len(out) == n {
			break
		}
		if !e.StartDate.Before(now) {
			out = append(out, e)
		}
	}
	return out
}

// Reminders returns the hub's reminders in firing order.
func (s *EventStore) Reminders(hubID string) []backend.EventReminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reminders.Items(hubID)
}

// RemindersFor returns the cached reminders of one event.
func (s *EventStore) RemindersFor(eventID string) []backend.EventReminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.EventReminder
	for _, scope := range s.reminders.Scopes() {
		for _, r := range s.reminders.Items(scope) {
			if r.EventID == eventID {
				out = append(out, r)
			}
		}
	}
	return out
}

// MonthGrid lays out the hub's filtered events on a month (month0 is zero
// based). today comes from the store clock.
func (s *EventStore) MonthGrid(hubID string, year, month0 int, selected *time.Time) views.Month[backend.Event] {
	span := func(e backend.Event) (time.Time, *time.Time, bool) { return e.StartDate, e.EndDate, true }
	return views.BuildMonth(year, month0, s.Filtered(hubID), span, selected, s.now())
}

// CalendarItems normalizes the hub's filtered events for a calendar.
func (s *EventStore) CalendarItems(hubID string) []views.CalendarItem {
	return views.MergeCalendarItems(s.Filtered(hubID), nil)
}

// Subscribe opens the hub's event and reminder channels unless already open.
func (s *EventStore) Subscribe(ctx context.Context, hubID string) error {
	return s.subscribe(ctx, hubID, s.channels(hubID))
}

// Observe keeps the hub's channels open while fn runs.
func (s *EventStore) Observe(ctx context.Context, hubID string, fn func(ctx context.Context) error) error {
	return s.observe(ctx, hubID, s.channels(hubID), fn)
}

func (s *EventStore) channels(hubID string) realtime.Opener {
	return s.opener(
		channel{
			name:   "events:" + hubID,
			filter: backend.Filter{Table: backend.TableEvents, Column: "hub_id", Value: hubID},
			handle: s.handleEvent,
		},
		channel{
			name:   "event_reminders:" + hubID,
			filter: backend.Filter{Table: backend.TableReminders, Column: "hub_id", Value: hubID},
			handle: s.handleReminder,
		},
	)
}

func (s *EventStore) handleEvent(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			ev, err := decodeRow[backend.Event](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.events.Insert(ev.HubID, ev)
			return nil
		},
		func(c backend.Change) error {
			ev, err := decodeRow[backend.Event](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			old, ok := s.events.Get(ev.ID)
			if !ok {
				return nil
			}
			if ev.CreatorName == "" {
				ev.CreatorName = old.CreatorName
			}
			s.events.Update(ev)
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.removeEvent(id)
			return nil
		},
	)
}

func (s *EventStore) handleReminder(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			r, err := decodeRow[backend.EventReminder](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.reminders.Insert(r.HubID, r)
			return nil
		},
		func(c backend.Change) error {
			r, err := decodeRow[backend.EventReminder](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.reminders.Update(r)
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.reminders.Remove(id)
			return nil
		},
	)
}

// Reset closes every channel and returns the store to its initial state.
func (s *EventStore) Reset() {
	s.releaseAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.Reset()
	s.reminders.Reset()
	s.selected.Clear()
	s.filters = EventFilters{}
	s.seq.Reset()
	s.status.Reset()
}

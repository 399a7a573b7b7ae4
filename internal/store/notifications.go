package store

import (
	"context"
	"encoding/json"

	"hubcache/backend"
	"hubcache/internal/cache"
	"hubcache/internal/realtime"
	"hubcache/internal/utils"
)

// Pagination tracks the loaded window of the notification feed.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NotificationFilters are applied by the service when fetching pages and
// again by Notifications. Nil fields are not applied.
type NotificationFilters struct {
	Type *backend.NotificationType
	Read *bool
}

// Merge returns f with every field set in partial overriding it.
func (f NotificationFilters) Merge(partial NotificationFilters) NotificationFilters {
	if partial.Type != nil {
		f.Type = partial.Type
	}
	if partial.Read != nil {
		f.Read = partial.Read
	}
	return f
}

// Match reports whether n satisfies every set field.
func (f NotificationFilters) Match(n backend.Notification) bool {
	if f.Type != nil && n.Type != *f.Type {
		return false
	}
	if f.Read != nil && n.Read != *f.Read {
		return false
	}
	return true
}

func (f NotificationFilters) params(p backend.Params) backend.Params {
	if f.Type != nil {
		p["p_type"] = string(*f.Type)
	}
	if f.Read != nil {
		p["p_read"] = *f.Read
	}
	return p
}

// newest first
func notificationLess(a, b backend.Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// NotificationStore caches the signed-in user's notification feed, one page
// at a time, and keeps the unread count in step with every change.
type NotificationStore struct {
	base
	notifier Notifier

	items   *cache.Collection[backend.Notification]
	user    string
	page    Pagination
	filters NotificationFilters
	unread  int
}

// NewNotificationStore creates an empty notification cache backed by client.
func NewNotificationStore(client backend.Client, opts ...Option) *NotificationStore {
	o := buildOptions(opts)
	s := &NotificationStore{
		notifier: o.notifier,
		items:    cache.NewCollection(notificationLess),
		page:     Pagination{Limit: o.pageSize},
	}
	s.init("notifications", client, o)
	return s
}

func pageScope(userID string) string { return "page:" + userID }

// Fetch loads the first page of userID's feed under the current filters,
// replacing whatever was cached.
func (s *NotificationStore) Fetch(ctx context.Context, userID string) error {
	if userID == "" {
		return s.fail("fetch notifications", utils.ErrScopeRequired("user"))
	}
	s.mu.RLock()
	params := s.filters.params(backend.Params{
		"p_user_id": userID,
		"p_limit":   s.page.Limit,
		"p_offset":  0,
	})
	limit := s.page.Limit
	s.mu.RUnlock()

	return fetch(ctx, &s.base, cache.OpFetch, pageScope(userID), backend.ProcUserNotifications, params,
		func(rows []backend.Notification) {
			if s.user != "" && s.user != userID {
				s.items.RemoveScope(s.user)
				s.unread = 0
			}
			s.user = userID
			s.items.Replace(userID, rows)
			s.page.Offset = len(rows)
			s.page.HasMore = len(rows) == limit
			s.unread = max(s.unread, countUnread(rows))
		})
}

func countUnread(rows []backend.Notification) int {
	n := 0
	for _, r := range rows {
		if !r.Read {
			n++
		}
	}
	return n
}

// LoadMore appends the next page for the current user. It does nothing when
// the last page has been loaded.
func (s *NotificationStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.user == "" || !s.page.HasMore {
		s.mu.Unlock()
		return nil
	}
	userID, limit, offset := s.user, s.page.Limit, s.page.Offset
	gen := s.seq.Current(pageScope(userID))
	params := s.filters.params(backend.Params{
		"p_user_id": userID,
		"p_limit":   limit,
		"p_offset":  offset,
	})
	s.mu.Unlock()

	defer s.status.Begin(cache.OpLoadMore)()
	raw, err := s.client.Call(ctx, backend.ProcUserNotifications, params)
	var rows []backend.Notification
	if err == nil {
		rows, err = decodeRows[backend.Notification](raw)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seq.IsLatest(pageScope(userID), gen) || s.user != userID || s.page.Offset != offset {
		s.log.Debug("%s: discarding stale page at offset %d", s.kind, offset)
		return nil
	}
	if err != nil {
		return s.fail("load more notifications", err)
	}
	s.items.Append(userID, rows)
	s.page.Offset += len(rows)
	s.page.HasMore = len(rows) == limit
	return nil
}

// FetchUnreadCount asks the service for userID's unread count.
func (s *NotificationStore) FetchUnreadCount(ctx context.Context, userID string) (int, error) {
	defer s.status.Begin(cache.OpFetch)()

	raw, err := s.client.Call(ctx, backend.ProcUnreadCount, backend.Params{"p_user_id": userID})
	if err != nil {
		return 0, s.fail("fetch unread count", err)
	}
	n, err := decode[int](raw)
	if err != nil {
		return 0, s.fail("fetch unread count", err)
	}

	s.mu.Lock()
	s.unread = max(0, n)
	s.mu.Unlock()
	return n, nil
}

// apply replaces a cached notification and moves the unread count by the
// change in its read flag. Rows that are not cached are ignored.
func (s *NotificationStore) apply(n backend.Notification) {
	old, ok := s.items.Get(n.ID)
	if !ok {
		return
	}
	s.items.Update(n)
	s.adjustUnread(unreadDelta(old.Read, n.Read))
}

// insert caches n unless present, counting it when unread.
func (s *NotificationStore) insert(n backend.Notification) bool {
	if !s.items.Insert(n.UserID, n) {
		return false
	}
	if !n.Read {
		s.adjustUnread(1)
	}
	return true
}

func (s *NotificationStore) remove(id string) {
	if old, ok := s.items.Remove(id); ok && !old.Read {
		s.adjustUnread(-1)
	}
}

func (s *NotificationStore) adjustUnread(delta int) {
	s.unread = max(0, s.unread+delta)
}

func unreadDelta(wasRead, isRead bool) int {
	switch {
	case wasRead && !isRead:
		return 1
	case !wasRead && isRead:
		return -1
	}
	return 0
}

// MarkRead marks a notification read.
func (s *NotificationStore) MarkRead(ctx context.Context, id string) error {
	return s.setRead(ctx, "mark read", id, true)
}

// MarkUnread marks a notification unread again.
func (s *NotificationStore) MarkUnread(ctx context.Context, id string) error {
	return s.setRead(ctx, "mark unread", id, false)
}

func (s *NotificationStore) setRead(ctx context.Context, action, id string, read bool) error {
	defer s.status.Begin(cache.OpUpdate)()

	raw, err := s.client.Update(ctx, backend.TableNotifications, id, backend.NotificationPatch{Read: read})
	if err != nil {
		return s.fail(action, err)
	}
	n, err := decode[backend.Notification](raw)
	if err != nil {
		return s.fail(action, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(n)
	return nil
}

// MarkAllRead marks every notification of the current user read.
func (s *NotificationStore) MarkAllRead(ctx context.Context) error {
	defer s.status.Begin(cache.OpUpdate)()

	s.mu.RLock()
	userID := s.user
	s.mu.RUnlock()
	if userID == "" {
		return s.fail("mark all read", utils.ErrScopeRequired("user"))
	}
	if _, err := s.client.Call(ctx, backend.ProcMarkAllRead, backend.Params{"p_user_id": userID}); err != nil {
		return s.fail("mark all read", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.items.Items(userID) {
		if !n.Read {
			n.Read = true
			s.items.Update(n)
		}
	}
	s.unread = 0
	return nil
}

// Delete removes a notification.
func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	defer s.status.Begin(cache.OpDelete)()

	if _, err := s.client.Delete(ctx, backend.TableNotifications, id); err != nil {
		return s.fail("delete notification", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
	return nil
}

// Send creates a notification for another user, or for the current user, in
// which case it is cached like a realtime arrival.
func (s *NotificationStore) Send(ctx context.Context, in backend.NotificationInput) (*backend.Notification, error) {
	defer s.status.Begin(cache.OpCreate)()

	if err := in.Validate(); err != nil {
		return nil, s.fail("send notification", utils.ErrInvalidPayload(err))
	}
	raw, err := s.client.Insert(ctx, backend.TableNotifications, in)
	if err != nil {
		return nil, s.fail("send notification", err)
	}
	n, err := decode[backend.Notification](raw)
	if err != nil {
		return nil, s.fail("send notification", err)
	}

	s.mu.Lock()
	if n.UserID == s.user {
		s.insert(n)
	}
	s.mu.Unlock()
	return &n, nil
}

// SetFilters merges partial into the filters and reloads the first page for
// the current user, if any.
func (s *NotificationStore) SetFilters(ctx context.Context, partial NotificationFilters) error {
	s.mu.Lock()
	s.filters = s.filters.Merge(partial)
	return s.refetch(ctx)
}

// ClearFilters resets the filters and reloads the first page for the
// current user, if any.
func (s *NotificationStore) ClearFilters(ctx context.Context) error {
	s.mu.Lock()
	s.filters = NotificationFilters{}
	return s.refetch(ctx)
}

// refetch is called with the lock held and releases it.
func (s *NotificationStore) refetch(ctx context.Context) error {
	userID := s.user
	s.mu.Unlock()
	if userID == "" {
		return nil
	}
	return s.Fetch(ctx, userID)
}

// Filters returns the current filters.
func (s *NotificationStore) Filters() NotificationFilters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// Notifications returns the current user's cached notifications matching the
// filters, newest first.
func (s *NotificationStore) Notifications() []backend.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.Notification
	for _, n := range s.items.Items(s.user) {
		if s.filters.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

// Notification returns a cached notification by id.
func (s *NotificationStore) Notification(id string) (backend.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items.Get(id)
}

// UnreadCount returns the current unread count. Until FetchUnreadCount has
// run it only counts the unread rows cached so far.
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Pagination returns the loaded window.
func (s *NotificationStore) Pagination() Pagination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// User returns the user whose feed is cached, or "".
func (s *NotificationStore) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Subscribe opens userID's notification channel unless already open.
func (s *NotificationStore) Subscribe(ctx context.Context, userID string) error {
	return s.subscribe(ctx, userID, s.channels(userID))
}

// Observe keeps userID's notification channel open while fn runs.
func (s *NotificationStore) Observe(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	return s.observe(ctx, userID, s.channels(userID), fn)
}

func (s *NotificationStore) channels(userID string) realtime.Opener {
	return s.opener(channel{
		name:   "notifications:" + userID,
		filter: backend.Filter{Table: backend.TableNotifications, Column: "user_id", Value: userID},
		handle: s.handleNotification,
	})
}

func (s *NotificationStore) handleNotification(c backend.Change) error {
	return dispatch(c,
		func(c backend.Change) error {
			n, err := decodeRow[backend.Notification](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			added := s.insert(n)
			s.mu.Unlock()
			if added && !n.Read {
				s.forward(n)
			}
			return nil
		},
		func(c backend.Change) error {
			n, err := decodeRow[backend.Notification](c.New)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.apply(n)
			return nil
		},
		func(c backend.Change) error {
			id, err := keyOf(c)
			if err != nil {
				return err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.remove(id)
			return nil
		},
	)
}

// forward hands a new unread notification to the notifier.
func (s *NotificationStore) forward(n backend.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.Background(), n); err != nil {
		s.log.Warn("%s: forwarding %s: %v", s.kind, n.ID, err)
	}
}

// Reset closes every channel and returns the store to its initial state.
func (s *NotificationStore) Reset() {
	s.releaseAll()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Reset()
	s.user = ""
	s.page = Pagination{Limit: s.page.Limit}
	s.filters = NotificationFilters{}
	s.unread = 0
	s.seq.Reset()
	s.status.Reset()
}

// MarshalJSON renders the cached feed with its counters, for the CLI.
func (s *NotificationStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		User          string                 `json:"user_id"`
		Unread        int                    `json:"unread_count"`
		Pagination    Pagination             `json:"pagination"`
		Notifications []backend.Notification `json:"notifications"`
	}{s.User(), s.UnreadCount(), s.Pagination(), s.Notifications()})
}

// Package reminder turns the signed-in user's event reminders into local
// alerts once they come due.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"hubcache/backend"
	"hubcache/internal/utils"
)

// DefaultWindow is how late a reminder may still fire.
const DefaultWindow = time.Hour

var intervalPattern = regexp.MustCompile(`^(\d+)\s*(d|day|days|h|hour|hours|m|min|minute|minutes|w|week|weeks)$`)

// Notifier delivers an alert
type Notifier interface {
	Notify(ctx context.Context, n backend.Notification) error
}

// EventLookup resolves the event a reminder points at
type EventLookup func(id string) (backend.Event, bool)

// Service fires due reminders once each
type Service struct {
	userID   string
	window   time.Duration
	notifier Notifier
	log      *utils.Logger

	mu    sync.Mutex
	fired map[string]time.Time
}

// Option configures a Service
type Option func(*Service)

// WithWindow sets how long after its time a reminder is still delivered.
func WithWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

// WithLogger sets the logger
func WithLogger(l *utils.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service firing userID's reminders through notifier
func NewService(userID string, notifier Notifier, opts ...Option) (*Service, error) {
	if userID == "" {
		return nil, utils.ErrScopeRequired("user")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	s := &Service{
		userID:   userID,
		window:   DefaultWindow,
		notifier: notifier,
		log:      utils.GetLogger(),
		fired:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// due reports whether r should fire at now
func (s *Service) due(r backend.EventReminder, now time.Time) bool {
	if r.UserID != s.userID || r.RemindAt.After(now) {
		return false
	}
	return now.Sub(r.RemindAt) <= s.window
}

// CheckReminders alerts for every reminder of the user that came due within
// the window and has not fired yet. Reminders whose event is gone are
// skipped. The fired reminders are returned in remind time order.
func (s *Service) CheckReminders(ctx context.Context, reminders []backend.EventReminder, events EventLookup, now time.Time) ([]backend.EventReminder, error) {
	candidates := make([]backend.EventReminder, 0, len(reminders))
	for _, r := range reminders {
		if s.due(r, now) && !s.Fired(r.ID) {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RemindAt.Before(candidates[j].RemindAt)
	})

	var triggered []backend.EventReminder
	var errs []error
	for _, r := range candidates {
		e, ok := events(r.EventID)
		if !ok {
			s.log.Debug("reminder %s points at unknown event %s", r.ID, r.EventID)
			continue
		}
		if err := s.notifier.Notify(ctx, Alert(r, e, now)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.Dismiss(r.ID, now)
		triggered = append(triggered, r)
	}
	return triggered, errors.Join(errs...)
}

// Alert builds the alert delivered for r
func Alert(r backend.EventReminder, e backend.Event, now time.Time) backend.Notification {
	when := e.StartDate.Format("Mon Jan 2 15:04")
	if e.AllDay {
		when = e.StartDate.Format("Mon Jan 2") + " (all day)"
	}
	msg := e.Title + " - " + when
	if e.Location != "" {
		msg += " @ " + e.Location
	}
	return backend.Notification{
		ID:        "reminder-" + r.ID,
		UserID:    r.UserID,
		HubID:     r.HubID,
		Type:      backend.NotificationEvent,
		Title:     "Event reminder",
		Message:   msg,
		EntityID:  e.ID,
		CreatedAt: now,
	}
}

// Dismiss marks a reminder as delivered so it never fires again
func (s *Service) Dismiss(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[id] = at
}

// Fired reports whether the reminder was already delivered
func (s *Service) Fired(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fired[id]
	return ok
}

// Upcoming returns userID's reminders due after now and within d, soonest first
func Upcoming(userID string, reminders []backend.EventReminder, now time.Time, d time.Duration) []backend.EventReminder {
	var out []backend.EventReminder
	for _, r := range reminders {
		if r.UserID != userID || !r.RemindAt.After(now) {
			continue
		}
		if r.RemindAt.Sub(now) <= d {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out
}

// ParseInterval parses an interval such as "15m", "1h", "2d", "1w" or the
// long forms "15 minutes", "1 hour", "2 days", "1 week".
func ParseInterval(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(strings.ToLower(interval))

	matches := intervalPattern.FindStringSubmatch(interval)
	if matches == nil {
		return 0, fmt.Errorf("invalid interval format: %q", interval)
	}

	num, _ := strconv.Atoi(matches[1])
	switch matches[2] {
	case "d", "day", "days":
		return time.Duration(num) * 24 * time.Hour, nil
	case "h", "hour", "hours":
		return time.Duration(num) * time.Hour, nil
	case "m", "min", "minute", "minutes":
		return time.Duration(num) * time.Minute, nil
	default:
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	}
}

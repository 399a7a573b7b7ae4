// Package session wires the entity stores for one signed-in user and one
// active hub. Every store is constructed here and handed to callers; nothing
// is shared through package state.
package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"hubcache/backend"
	"hubcache/internal/config"
	"hubcache/internal/notification"
	"hubcache/internal/reminder"
	"hubcache/internal/store"
	"hubcache/internal/utils"
)

// Session owns the stores of one user in one hub.
type Session struct {
	UserID string
	HubID  string

	Events        *store.EventStore
	Tasks         *store.TaskStore
	Shopping      *store.ShoppingStore
	Notifications *store.NotificationStore

	// Reminders is nil when reminder alerts are off.
	Reminders *reminder.Service

	alerts *notification.Manager
	log    *utils.Logger
	loads  singleflight.Group
}

// Option configures a Session
type Option func(*options)

type options struct {
	log        *utils.Logger
	storeOpts  []store.Option
	alertOpts  []notification.Option
	skipAlerts bool
}

// WithLogger sets the logger shared by every store.
func WithLogger(l *utils.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithStoreOptions passes extra options to every store.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// WithAlertOptions passes options to the alert manager.
func WithAlertOptions(opts ...notification.Option) Option {
	return func(o *options) { o.alertOpts = append(o.alertOpts, opts...) }
}

// WithoutAlerts disables alert delivery regardless of configuration.
func WithoutAlerts() Option {
	return func(o *options) { o.skipAlerts = true }
}

// AlertConfig converts the alert section of the configuration.
func AlertConfig(cfg config.AlertsConfig) notification.Config {
	types := make([]backend.NotificationType, 0, len(cfg.Desktop.Types))
	for _, t := range cfg.Desktop.Types {
		types = append(types, backend.NotificationType(t))
	}
	return notification.Config{
		Enabled: cfg.Enabled,
		Desktop: notification.DesktopConfig{Enabled: cfg.Desktop.Enabled, Types: types},
		Log: notification.LogConfig{
			Enabled:   cfg.Log.Enabled,
			Path:      cfg.Log.Path,
			MaxSizeMB: cfg.Log.MaxSizeMB,
		},
	}
}

// New builds every store for the configured user and hub.
func New(cfg *config.Config, client backend.Client, opts ...Option) (*Session, error) {
	o := options{log: utils.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Session.UserID == "" {
		return nil, utils.ErrScopeRequired("user")
	}

	alertCfg := AlertConfig(cfg.Notifications.Alerts)
	if o.skipAlerts {
		alertCfg.Enabled = false
	}
	alerts, err := notification.NewManager(&alertCfg, o.alertOpts...)
	if err != nil {
		return nil, err
	}

	var reminders *reminder.Service
	if alertCfg.Enabled && cfg.Notifications.Reminders.Enabled {
		window, err := reminder.ParseInterval(cfg.Notifications.Reminders.Window)
		if err != nil {
			return nil, err
		}
		reminders, err = reminder.NewService(cfg.Session.UserID, alerts,
			reminder.WithWindow(window), reminder.WithLogger(o.log))
		if err != nil {
			return nil, err
		}
	}

	common := append([]store.Option{store.WithLogger(o.log)}, o.storeOpts...)
	notifyOpts := append(append([]store.Option{}, common...),
		store.WithPageSize(cfg.Notifications.PageSize),
		store.WithNotifier(alerts),
	)

	return &Session{
		UserID:        cfg.Session.UserID,
		HubID:         cfg.Session.HubID,
		Events:        store.NewEventStore(client, common...),
		Tasks:         store.NewTaskStore(client, common...),
		Shopping:      store.NewShoppingStore(client, common...),
		Notifications: store.NewNotificationStore(client, notifyOpts...),
		Reminders:     reminders,
		alerts:        alerts,
		log:           o.log,
	}, nil
}

func (s *Session) requireHub() error {
	if s.HubID == "" {
		return utils.ErrScopeRequired("hub")
	}
	return nil
}

// Load fetches the first state of every store concurrently. Concurrent
// callers share one load.
func (s *Session) Load(ctx context.Context) error {
	_, err, shared := s.loads.Do("load", func() (any, error) {
		return nil, s.load(ctx)
	})
	if shared {
		s.log.Debug("session load shared with a concurrent caller")
	}
	return err
}

func (s *Session) load(ctx context.Context) error {
	if err := s.requireHub(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Events.FetchEvents(ctx, s.HubID, nil, nil) })
	g.Go(func() error { return s.Events.FetchReminders(ctx, s.HubID) })
	g.Go(func() error { return s.Tasks.FetchTasks(ctx, s.HubID) })
	g.Go(func() error { return s.Notifications.Fetch(ctx, s.UserID) })
	g.Go(func() error {
		_, err := s.Notifications.FetchUnreadCount(ctx, s.UserID)
		return err
	})
	g.Go(func() error {
		if err := s.Shopping.FetchLists(ctx, s.HubID); err != nil {
			return err
		}
		return s.loadLists(ctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Debug("session loaded for user %s in hub %s", s.UserID, s.HubID)
	return nil
}

// loadLists fetches items and collaborators of every cached shopping list.
func (s *Session) loadLists(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, l := range s.Shopping.Lists(s.HubID) {
		g.Go(func() error { return s.Shopping.FetchItems(ctx, l.ID) })
		g.Go(func() error { return s.Shopping.FetchCollaborators(ctx, l.ID) })
	}
	return g.Wait()
}

// SubscribeAll opens every realtime channel of the session: the hub channels,
// one pair per cached shopping list and the user's notification channel.
func (s *Session) SubscribeAll(ctx context.Context) error {
	if err := s.requireHub(); err != nil {
		return err
	}

	steps := []func() error{
		func() error { return s.Events.Subscribe(ctx, s.HubID) },
		func() error { return s.Tasks.Subscribe(ctx, s.HubID) },
		func() error { return s.Shopping.SubscribeHub(ctx, s.HubID) },
		func() error { return s.Notifications.Subscribe(ctx, s.UserID) },
	}
	for _, l := range s.Shopping.Lists(s.HubID) {
		steps = append(steps, func() error { return s.Shopping.Subscribe(ctx, l.ID) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			s.Reset()
			return err
		}
	}
	return nil
}

// CheckReminders alerts for the user's reminders in the active hub that came
// due by now. It does nothing when reminder alerts are off.
func (s *Session) CheckReminders(ctx context.Context, now time.Time) ([]backend.EventReminder, error) {
	if err := s.requireHub(); err != nil {
		return nil, err
	}
	if s.Reminders == nil {
		return nil, nil
	}
	fired, err := s.Reminders.CheckReminders(ctx, s.Events.Reminders(s.HubID), s.Events.Event, now)
	if len(fired) > 0 {
		s.log.Debug("fired %d reminder(s) in hub %s", len(fired), s.HubID)
	}
	return fired, err
}

// Reset releases every subscription and empties every store.
func (s *Session) Reset() {
	s.Events.Reset()
	s.Tasks.Reset()
	s.Shopping.Reset()
	s.Notifications.Reset()
}

// SignOut resets the stores and closes alert delivery. The session must not
// be used afterwards.
func (s *Session) SignOut() error {
	s.Reset()
	s.log.Debug("signed out user %s", s.UserID)
	return s.alerts.Close()
}

// Errors returns the error message recorded by each store, keyed by store
// name, omitting stores without an error.
func (s *Session) Errors() map[string]string {
	out := make(map[string]string)
	for name, msg := range map[string]string{
		"events":        s.Events.Err(),
		"tasks":         s.Tasks.Err(),
		"shopping":      s.Shopping.Err(),
		"notifications": s.Notifications.Err(),
	} {
		if msg != "" {
			out[name] = msg
		}
	}
	return out
}

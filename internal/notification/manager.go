package notification

import (
	"context"
	"errors"
	"fmt"

	"hubcache/backend"
)

// Manager fans a notification out to every enabled channel. It satisfies the
// notifier the notification store forwards live arrivals to.
type Manager struct {
	channels        []Channel
	enabled         bool
	commandExecutor CommandExecutor
	platform        string
	extra           []Channel
}

// NewManager creates a Manager based on configuration
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	m := &Manager{enabled: cfg.Enabled}

	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Enabled {
		return m, nil
	}

	if cfg.Desktop.Enabled {
		var desktopOpts []Option
		if m.commandExecutor != nil {
			desktopOpts = append(desktopOpts, WithCommandExecutor(m.commandExecutor))
		}
		if m.platform != "" {
			desktopOpts = append(desktopOpts, WithPlatform(m.platform))
		}
		m.channels = append(m.channels, NewDesktopChannel(&cfg.Desktop, desktopOpts...))
	}

	if cfg.Log.Enabled {
		if cfg.Log.Path == "" {
			return nil, errors.New("alert log path is required")
		}
		m.channels = append(m.channels, NewLogChannel(&cfg.Log))
	}

	m.channels = append(m.channels, m.extra...)
	return m, nil
}

// Notify delivers n to every channel. A failing channel does not stop the
// others; their errors are joined.
func (m *Manager) Notify(ctx context.Context, n backend.Notification) error {
	if !m.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close cleans up resources
func (m *Manager) Close() error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChannelCount returns the number of active channels
func (m *Manager) ChannelCount() int {
	return len(m.channels)
}

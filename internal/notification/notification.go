// Package notification delivers notifications that arrive for the signed-in
// user, and their due event reminders, to local alert channels: desktop
// popups and an append-only log file.
package notification

import (
	"slices"

	"hubcache/backend"
)

// Channel is one alert destination
type Channel interface {
	Send(n backend.Notification) error
	Close() error
}

// Config holds the alert configuration
type Config struct {
	Enabled bool
	Desktop DesktopConfig
	Log     LogConfig
}

// DesktopConfig holds desktop popup configuration
type DesktopConfig struct {
	Enabled bool
	Types   []backend.NotificationType // empty means every type
}

// allows reports whether popups are enabled for t.
func (c *DesktopConfig) allows(t backend.NotificationType) bool {
	return len(c.Types) == 0 || slices.Contains(c.Types, t)
}

// LogConfig holds alert log configuration
type LogConfig struct {
	Enabled   bool
	Path      string
	MaxSizeMB int
}

// CommandExecutor is the interface for executing system commands
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
}

// MockCommandExecutor is a mock implementation of CommandExecutor for testing
type MockCommandExecutor struct {
	ExecuteFunc func(cmd string, args ...string) error
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// Option is a functional option for configuring alert channels
type Option func(interface{})

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*desktopChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*Manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform sets the platform for desktop popups
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*desktopChannel); ok {
			ch.platform = platform
		}
		if mgr, ok := c.(*Manager); ok {
			mgr.platform = platform
		}
	}
}

// WithChannel adds a caller-provided channel, such as a terminal printer.
func WithChannel(ch Channel) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*Manager); ok {
			mgr.extra = append(mgr.extra, ch)
		}
	}
}

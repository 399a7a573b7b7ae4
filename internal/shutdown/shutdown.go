// Package shutdown coordinates stopping a long-running command: it turns
// interrupt signals into a cancelled context and runs registered cleanups,
// such as releasing realtime channels and closing the data service.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"hubcache/internal/utils"
)

// CleanupFunc releases one resource. The context is cancelled when the
// cleanup deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager runs cleanups once shutdown starts.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	shutdown bool
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	log      *utils.Logger
}

// NewManager creates a manager whose context is derived from parent.
func NewManager(parent context.Context, log *utils.Logger) *Manager {
	if log == nil {
		log = utils.GetLogger()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// RegisterCleanup adds a cleanup. Cleanups run last registered first.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// Shutdown cancels the manager's context. Only the first call has effect.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
		m.cancel()
	})
}

// ListenForSignals starts shutdown on SIGINT or SIGTERM. The returned stop
// func detaches the handler.
func (m *Manager) ListenForSignals() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			m.log.Debug("received %s, shutting down", sig)
			m.Shutdown()
		case <-quit:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(quit)
		})
	}
}

// runCleanups runs every cleanup even when earlier ones fail.
func (m *Manager) runCleanups(ctx context.Context) error {
	m.mu.Lock()
	cleanups := make([]cleanupEntry, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			m.log.Warn("cleanup %s: %v", c.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		m.log.Debug("cleanup %s done", c.name)
	}
	return errors.Join(errs...)
}

// Wait runs the cleanups and returns their joined errors, or ctx's error if
// they do not finish in time.
func (m *Manager) Wait(ctx context.Context) error {
	result := make(chan error, 1)
	go func() {
		result <- m.runCleanups(ctx)
	}()

	select {
	case err := <-result:
		close(m.done)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every cleanup has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// IsShutdown reports whether shutdown has started.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Context is cancelled when shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}

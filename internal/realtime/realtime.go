// Package realtime tracks the live channels a cache holds open per scope and
// turns backend change deliveries into guarded, per-event handler calls.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"hubcache/backend"
)

// Opener opens every channel that belongs to one scope.
type Opener func(ctx context.Context) ([]backend.Subscription, error)

// Registry maps a scope key (hub, list or user id) to its open channels.
// At most one set of channels is active per key.
type Registry struct {
	mu     sync.Mutex
	active map[string][]backend.Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string][]backend.Subscription)}
}

// Acquire opens the channels for key unless the key is already active, in
// which case it returns false and does nothing. If open fails, every channel
// it did open is closed before the error is returned.
func (r *Registry) Acquire(ctx context.Context, key string, open Opener) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[key]; ok {
		return false, nil
	}
	subs, err := open(ctx)
	if err != nil {
		closeAll(subs)
		return false, err
	}
	r.active[key] = subs
	return true, nil
}

// Release closes every channel registered under key. Unknown keys are a no-op.
func (r *Registry) Release(key string) error {
	r.mu.Lock()
	subs, ok := r.active[key]
	delete(r.active, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return closeAll(subs)
}

// ReleaseAll closes every registered channel.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string][]backend.Subscription)
	r.mu.Unlock()

	var errs []error
	for key, subs := range active {
		if err := closeAll(subs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Active reports whether key has open channels.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[key]
	return ok
}

// Keys returns the active keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for k := range r.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func closeAll(subs []backend.Subscription) error {
	var errs []error
	for _, s := range subs {
		if s == nil {
			continue
		}
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scope acquires the channels for key, runs fn and releases them again on
// every way out of fn, panics included. Channels that were already active
// before the call are left open.
func Scope(ctx context.Context, reg *Registry, key string, open Opener, fn func(ctx context.Context) error) (err error) {
	acquired, err := reg.Acquire(ctx, key, open)
	if err != nil {
		return err
	}
	if acquired {
		defer func() {
			if rerr := reg.Release(key); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}
	return fn(ctx)
}

// Guard adapts a fallible change handler to a backend delivery callback.
// Errors and panics are reported to onErr per change; later changes are
// still delivered.
func Guard(handle func(backend.Change) error, onErr func(backend.Change, error)) func(backend.Change) {
	return func(c backend.Change) {
		defer func() {
			if r := recover(); r != nil {
				onErr(c, fmt.Errorf("panic handling %s on %s: %v", c.Kind, c.Table, r))
			}
		}()
		if err := handle(c); err != nil {
			onErr(c, err)
		}
	}
}

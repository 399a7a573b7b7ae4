// Package store holds one entity cache per kind of hub data: events, tasks,
// shopping lists and notifications.
//
// Every store keeps server rows grouped by scope, mutates them only through
// its own operations and realtime handlers, and exposes copies for reading.
// Operations record failures in the store's single error slot and also
// return them. State is guarded by a per-store lock that is never held
// across a backend call, so stores are safe for concurrent use.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"hubcache/backend"
	"hubcache/internal/cache"
	"hubcache/internal/realtime"
	"hubcache/internal/utils"
)

// DefaultPageSize is the number of notifications fetched per page.
const DefaultPageSize = 20

// Option configures a store
type Option func(*options)

type options struct {
	logger   *utils.Logger
	now      func() time.Time
	pageSize int
	notifier Notifier
}

func buildOptions(opts []Option) options {
	o := options{logger: utils.GetLogger(), now: time.Now, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for debug and warning output.
func WithLogger(l *utils.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for completion stamps and "today".
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPageSize sets the notification page size.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithNotifier forwards unread notifications that arrive over realtime.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// Notifier receives notifications pushed to the signed-in user.
type Notifier interface {
	Notify(ctx context.Context, n backend.Notification) error
}

// base carries what every store shares: the backend, the lock, the status
// slot, the subscription registry and fetch sequencing.
type base struct {
	kind   string
	client backend.Client
	log    *utils.Logger
	now    func() time.Time

	mu     sync.RWMutex
	seq    cache.Sequencer
	status cache.Status
	subs   *realtime.Registry
}

func (b *base) init(kind string, client backend.Client, o options) {
	b.kind = kind
	b.client = client
	b.log = o.logger
	b.now = o.now
	b.subs = realtime.NewRegistry()
}

// Loading reports whether an operation of class op is in flight.
func (b *base) Loading(op cache.Op) bool {
	return b.status.Loading(op)
}

// Flags returns the in-flight operation classes.
func (b *base) Flags() map[cache.Op]bool {
	return b.status.Flags()
}

// Err returns the current error message, or "".
func (b *base) Err() string {
	return b.status.Err()
}

// ClearError dismisses the current error.
func (b *base) ClearError() {
	b.status.ClearError()
}

// Unsubscribe closes the live channels of scope. It is a no-op when the
// scope has none.
func (b *base) Unsubscribe(scope string) error {
	if err := b.subs.Release(scope); err != nil {
		b.log.Warn("%s: closing channels for %s: %v", b.kind, scope, err)
		return err
	}
	return nil
}

// Subscriptions returns the scopes with open live channels.
func (b *base) Subscriptions() []string {
	return b.subs.Keys()
}

// fail records err in the error slot and returns it wrapped with action.
func (b *base) fail(action string, err error) error {
	msg := b.status.SetError(err)
	b.log.Debug("%s: %s failed: %s", b.kind, action, msg)
	return fmt.Errorf("%s: %w", action, err)
}

// subscribe acquires the channels of scope, recording any failure.
func (b *base) subscribe(ctx context.Context, scope string, open realtime.Opener) error {
	defer b.status.Begin(cache.OpSubscribe)()
	acquired, err := b.subs.Acquire(ctx, scope, open)
	if err != nil {
		return b.fail("subscribe", err)
	}
	if acquired {
		b.log.Debug("%s: subscribed to %s", b.kind, scope)
	}
	return nil
}

// observe keeps the channels of scope open while fn runs.
func (b *base) observe(ctx context.Context, scope string, open realtime.Opener, fn func(ctx context.Context) error) error {
	return realtime.Scope(ctx, b.subs, scope, func(ctx context.Context) ([]backend.Subscription, error) {
		settle := b.status.Begin(cache.OpSubscribe)
		defer settle()
		subs, err := open(ctx)
		if err != nil {
			b.status.SetError(err)
		}
		return subs, err
	}, fn)
}

// releaseAll closes every channel; failures are logged, not recorded.
func (b *base) releaseAll() {
	if err := b.subs.ReleaseAll(); err != nil {
		b.log.Warn("%s: closing channels: %v", b.kind, err)
	}
}

// guard wraps a realtime handler so a bad change records the refresh error
// and the channel keeps delivering.
func (b *base) guard(handle func(backend.Change) error) func(backend.Change) {
	return realtime.Guard(handle, func(c backend.Change, err error) {
		b.log.Warn("%s: dropped %s on %s: %v", b.kind, c.Kind, c.Table, err)
		b.status.SetError(utils.ErrRealtimeFailed())
	})
}

// channel describes one realtime channel of a scope.
type channel struct {
	name   string
	filter backend.Filter
	handle func(backend.Change) error
}

// opener opens every channel in order. On failure it returns the channels it
// did open so the registry can close them.
func (b *base) opener(channels ...channel) realtime.Opener {
	return func(ctx context.Context) ([]backend.Subscription, error) {
		subs := make([]backend.Subscription, 0, len(channels))
		for _, ch := range channels {
			s, err := b.client.Subscribe(ctx, ch.name, ch.filter, b.guard(ch.handle))
			if err != nil {
				return subs, fmt.Errorf("open %s: %w", ch.name, err)
			}
			subs = append(subs, s)
		}
		return subs, nil
	}
}

// fetch issues a sequenced fetch for scope and hands the decoded rows to
// apply under the store lock, unless a newer fetch for the same scope was
// issued in the meantime.
func fetch[E any](ctx context.Context, b *base, op cache.Op, scope, proc string, params backend.Params, apply func([]E)) error {
	defer b.status.Begin(op)()

	b.mu.Lock()
	n := b.seq.Next(scope)
	b.mu.Unlock()

	raw, err := b.client.Call(ctx, proc, params)
	var rows []E
	if err == nil {
		rows, err = decodeRows[E](raw)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.seq.IsLatest(scope, n) {
		b.log.Debug("%s: discarding stale %s response for %s", b.kind, proc, scope)
		if err != nil {
			return fmt.Errorf("%s: %w", proc, err)
		}
		return nil
	}
	if err != nil {
		return b.fail(proc, err)
	}
	apply(rows)
	return nil
}

// errMalformed marks rows that cannot be decoded.
var errMalformed = errors.New("malformed row")

func decode[E any](raw json.RawMessage) (E, error) {
	var v E
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: empty", errMalformed)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return v, nil
}

// decodeRow decodes a realtime row, which must carry an id.
func decodeRow[E cache.Keyed](raw json.RawMessage) (E, error) {
	v, err := decode[E](raw)
	if err != nil {
		return v, err
	}
	if v.Key() == "" {
		return v, fmt.Errorf("%w: missing id", errMalformed)
	}
	return v, nil
}

func decodeRows[E any](raw json.RawMessage) ([]E, error) {
	var rows []E
	if len(raw) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return rows, nil
}

// keyOf extracts the id of the row a DELETE change refers to.
func keyOf(c backend.Change) (string, error) {
	row, err := decode[struct {
		ID string `json:"id"`
	}](c.Old)
	if err != nil {
		return "", err
	}
	if row.ID == "" {
		return "", fmt.Errorf("%w: %s without id", errMalformed, c.Kind)
	}
	return row.ID, nil
}

// dispatch routes a change to the handler for its kind.
func dispatch(c backend.Change, insert, update, remove func(backend.Change) error) error {
	switch c.Kind {
	case backend.ChangeInsert:
		return insert(c)
	case backend.ChangeUpdate:
		return update(c)
	case backend.ChangeDelete:
		return remove(c)
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
}

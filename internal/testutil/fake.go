// Package testutil provides shared test helpers: a scriptable in-memory
// backend client for store tests and a CLI harness for command tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"hubcache/backend"
)

// Call records one request made to a FakeClient.
type Call struct {
	Method string // call, insert, update, delete, subscribe
	Name   string // procedure, table or channel
	ID     string
	Params backend.Params
	Values map[string]any
}

// Handler answers a request. The returned value is encoded as JSON.
type Handler func(ctx context.Context, c Call) (any, error)

// FakeClient is a backend.Client whose responses are programmed per
// procedure or table. Realtime changes are delivered synchronously by Push.
type FakeClient struct {
	mu       sync.Mutex
	calls    []Call
	handlers map[string]Handler
	subs     map[*fakeSubscription]struct{}
	subErrs  map[string]error
	rows     map[string]map[string]map[string]any
	closed   bool
}

// NewFakeClient creates a client with no programmed responses.
//
// Unprogrammed table calls behave like a minimal table store: inserts keep
// the values under a generated id, updates merge into the kept row and
// deletes return and forget it. Unprogrammed procedure calls fail with
// backend.ErrUnknownProcedure.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		handlers: make(map[string]Handler),
		subs:     make(map[*fakeSubscription]struct{}),
		subErrs:  make(map[string]error),
		rows:     make(map[string]map[string]map[string]any),
	}
}

// Seed stores rows in table for the default update and delete responses.
// Each row must encode to an object with an "id".
func (f *FakeClient) Seed(table string, rows ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		m, err := toMap(r)
		if err != nil {
			panic(err)
		}
		f.keep(table, m)
	}
}

func (f *FakeClient) keep(table string, row map[string]any) {
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]map[string]any)
	}
	id, _ := row["id"].(string)
	f.rows[table][id] = row
}

func handlerKey(method, name string) string {
	return method + ":" + name
}

// Handle programs the response to method ("call", "insert", "update" or
// "delete") on name (procedure or table).
func (f *FakeClient) Handle(method, name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[handlerKey(method, name)] = h
}

// OnCall programs a procedure to return result.
func (f *FakeClient) OnCall(procedure string, result any) {
	f.Handle("call", procedure, func(context.Context, Call) (any, error) { return result, nil })
}

// Fail makes every method call on name return err.
func (f *FakeClient) Fail(method, name string, err error) {
	f.Handle(method, name, func(context.Context, Call) (any, error) { return nil, err })
}

// FailSubscribe makes Subscribe on channel return err.
func (f *FakeClient) FailSubscribe(channel string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subErrs[channel] = err
}

// Calls returns every recorded request for method, in order. An empty
// method returns all requests.
func (f *FakeClient) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// CallsTo returns the recorded requests for method on name.
func (f *FakeClient) CallsTo(method, name string) []Call {
	var out []Call
	for _, c := range f.Calls(method) {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded requests.
func (f *FakeClient) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeClient) do(ctx context.Context, c Call) (json.RawMessage, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, backend.ErrClosed
	}
	f.calls = append(f.calls, c)
	h := f.handlers[handlerKey(c.Method, c.Name)]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result any
	if h != nil {
		var err error
		if result, err = h(ctx, c); err != nil {
			return nil, err
		}
	} else {
		var err error
		if result, err = f.defaultResponse(c); err != nil {
			return nil, err
		}
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(result)
}

func (f *FakeClient) defaultResponse(c Call) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c.Method {
	case "insert":
		row := copyMap(c.Values)
		if _, ok := row["id"]; !ok {
			row["id"] = backend.GenerateID()
		}
		f.keep(c.Name, row)
		return row, nil
	case "update":
		row := copyMap(f.rows[c.Name][c.ID])
		for k, v := range c.Values {
			row[k] = v
		}
		row["id"] = c.ID
		f.keep(c.Name, row)
		return row, nil
	case "delete":
		row, ok := f.rows[c.Name][c.ID]
		if !ok {
			return map[string]any{"id": c.ID}, nil
		}
		delete(f.rows[c.Name], c.ID)
		return row, nil
	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownProcedure, c.Name)
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Call implements backend.Client
func (f *FakeClient) Call(ctx context.Context, procedure string, params backend.Params) (json.RawMessage, error) {
	return f.do(ctx, Call{Method: "call", Name: procedure, Params: params})
}

// Insert implements backend.Client
func (f *FakeClient) Insert(ctx context.Context, table string, values any) (json.RawMessage, error) {
	m, err := toMap(values)
	if err != nil {
		return nil, err
	}
	return f.do(ctx, Call{Method: "insert", Name: table, Values: m})
}

// Update implements backend.Client
func (f *FakeClient) Update(ctx context.Context, table, id string, values any) (json.RawMessage, error) {
	m, err := toMap(values)
	if err != nil {
		return nil, err
	}
	return f.do(ctx, Call{Method: "update", Name: table, ID: id, Values: m})
}

// Delete implements backend.Client
func (f *FakeClient) Delete(ctx context.Context, table, id string) (json.RawMessage, error) {
	return f.do(ctx, Call{Method: "delete", Name: table, ID: id})
}

// Subscribe implements backend.Client
func (f *FakeClient) Subscribe(ctx context.Context, channel string, filter backend.Filter, onChange func(backend.Change)) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "subscribe", Name: channel})
	if f.closed {
		return nil, backend.ErrClosed
	}
	if err := f.subErrs[channel]; err != nil {
		return nil, err
	}
	s := &fakeSubscription{client: f, channel: channel, filter: filter, onChange: onChange}
	f.subs[s] = struct{}{}
	return s, nil
}

// Close implements backend.Client
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[*fakeSubscription]struct{})
	return nil
}

// Channels returns the names of the open channels, sorted.
func (f *FakeClient) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for s := range f.subs {
		out = append(out, s.channel)
	}
	sort.Strings(out)
	return out
}

// Push delivers a change to every open channel whose filter matches it, on
// the caller's goroutine. It returns how many channels received it.
func (f *FakeClient) Push(c backend.Change) int {
	f.mu.Lock()
	var targets []*fakeSubscription
	for s := range f.subs {
		if s.matches(c) {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.onChange(c)
	}
	return len(targets)
}

// PushInsert delivers an INSERT of row on table.
func (f *FakeClient) PushInsert(table string, row any) int {
	return f.Push(backend.Change{Kind: backend.ChangeInsert, Table: table, New: MustRaw(row)})
}

// PushUpdate delivers an UPDATE from old to row on table.
func (f *FakeClient) PushUpdate(table string, old, row any) int {
	return f.Push(backend.Change{Kind: backend.ChangeUpdate, Table: table, New: MustRaw(row), Old: MustRaw(old)})
}

// PushDelete delivers a DELETE of old on table.
func (f *FakeClient) PushDelete(table string, old any) int {
	return f.Push(backend.Change{Kind: backend.ChangeDelete, Table: table, Old: MustRaw(old)})
}

// MustRaw encodes v as JSON, passing raw messages through. It panics on
// encoding failure, which only happens for unsupported test values.
func MustRaw(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

type fakeSubscription struct {
	client   *FakeClient
	channel  string
	filter   backend.Filter
	onChange func(backend.Change)
}

func (s *fakeSubscription) matches(c backend.Change) bool {
	if c.Table != s.filter.Table {
		return false
	}
	if s.filter.Column == "" {
		return true
	}
	for _, raw := range []json.RawMessage{c.New, c.Old} {
		if len(raw) == 0 {
			continue
		}
		row := map[string]any{}
		if err := json.Unmarshal(raw, &row); err != nil {
			// Malformed rows reach every channel on the table so handlers see them.
			return true
		}
		if fmt.Sprint(row[s.filter.Column]) == s.filter.Value {
			return true
		}
	}
	return false
}

// Unsubscribe implements backend.Subscription
func (s *fakeSubscription) Unsubscribe() error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	delete(s.client.subs, s)
	return nil
}

var _ backend.Client = (*FakeClient)(nil)

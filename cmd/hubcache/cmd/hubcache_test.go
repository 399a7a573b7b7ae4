package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"hubcache/backend"
	"hubcache/backend/sqlite"
	"hubcache/internal/config"
	"hubcache/internal/session"
	"hubcache/internal/utils"
	"hubcache/internal/views"
)

// syncBuffer is a bytes.Buffer safe for the realtime goroutines to write to.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got:\n%s", want, out.String())
}

// mustTappedSession opens an in-memory service and a session whose
// subscriptions go through a changePrinter writing to out.
func mustTappedSession(t *testing.T, out io.Writer, jsonOutput bool) (*session.Session, *sqlite.Backend) {
	t.Helper()
	client, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New error: %v", err)
	}
	conf := config.DefaultConfig()
	conf.Session.UserID, conf.Session.HubID = "user-1", "hub-1"

	tap := &changePrinter{}
	sess, err := session.New(conf, tap.wrap(client),
		session.WithoutAlerts(),
		session.WithLogger(utils.NewLogger(io.Discard, false)))
	if err != nil {
		t.Fatalf("session.New error: %v", err)
	}
	tap.out, tap.json, tap.sess = out, jsonOutput, sess
	t.Cleanup(func() {
		_ = sess.SignOut()
		_ = client.Close()
	})
	return sess, client
}

// =============================================================================
// Execute
// =============================================================================

func TestExecuteWithoutConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Execute([]string{"version"}, &stdout, &stderr, nil); code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "hubcache Version: "+Version) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute([]string{"teleport"}, &stdout, &stderr, &Config{NoPrompt: true})
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "teleport") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != ResultError {
		t.Errorf("stdout = %q, want %s", stdout.String(), ResultError)
	}
}

func TestOutputErrorJSON(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantError      string
		wantSuggestion string
	}{
		{"plain", io.ErrUnexpectedEOF, "unexpected EOF", ""},
		{"with suggestion", utils.ErrEntityNotFound("task", "t9"), "task not found: t9", "Refresh the task list; it may have been deleted on another device"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			outputErrorJSON(tt.err, &out)
			var got errorResponse
			if err := json.Unmarshal(out.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON %q: %v", out.String(), err)
			}
			if got.Error != tt.wantError || got.Suggestion != tt.wantSuggestion || got.Code != 1 || got.Result != ResultError {
				t.Errorf("response = %+v", got)
			}
		})
	}
}

// =============================================================================
// Watch output
// =============================================================================

func TestChangePrinterReportsReconciledChanges(t *testing.T) {
	var out syncBuffer
	sess, client := mustTappedSession(t, &out, false)
	ctx := context.Background()
	if err := sess.Tasks.Subscribe(ctx, "hub-1"); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	if _, err := client.Insert(ctx, backend.TableTasks, map[string]any{"id": "t1", "hub_id": "hub-1", "title": "Dishes"}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	// The counters are read after the store applied the change.
	waitForOutput(t, &out, "INSERT tasks t1 (0 events, 1 open tasks, 0 lists, 0 unread)")

	if _, err := client.Update(ctx, backend.TableTasks, "t1", map[string]any{"completed": true}); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	waitForOutput(t, &out, "UPDATE tasks t1 (0 events, 0 open tasks, 0 lists, 0 unread)")

	if _, err := client.Delete(ctx, backend.TableTasks, "t1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	waitForOutput(t, &out, "DELETE tasks t1")
	if _, ok := sess.Tasks.Task("t1"); ok {
		t.Error("deleted task still cached")
	}
}

func TestChangePrinterJSON(t *testing.T) {
	var out syncBuffer
	sess, client := mustTappedSession(t, &out, true)
	ctx := context.Background()
	if err := sess.Notifications.Subscribe(ctx, "user-1"); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	if _, err := client.Insert(ctx, backend.TableNotifications, map[string]any{
		"id": "n1", "user_id": "user-1", "type": "system", "title": "Hi",
	}); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	waitForOutput(t, &out, `"id":"n1"`)

	var line changeLine
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &line); err != nil {
		t.Fatalf("invalid JSON line %q: %v", out.String(), err)
	}
	if line.Kind != backend.ChangeInsert || line.Table != backend.TableNotifications || !strings.HasSuffix(line.Summary, "1 unread") {
		t.Errorf("line = %+v", line)
	}
}

func TestChangeID(t *testing.T) {
	tests := []struct {
		name string
		c    backend.Change
		want string
	}{
		{"new row", backend.Change{New: []byte(`{"id":"a"}`)}, "a"},
		{"old row", backend.Change{Old: []byte(`{"id":"b"}`)}, "b"},
		{"malformed", backend.Change{New: []byte(`{`)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := changeID(tt.c); got != tt.want {
				t.Errorf("changeID = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Calendar rendering
// =============================================================================

func TestRenderMonthPlainMarkers(t *testing.T) {
	today := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	selected := time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC)
	items := []views.CalendarItem{
		{ID: "e1", Kind: views.KindEvent, Title: "Dentist", Date: time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)},
	}
	grid := views.BuildMonth(2024, 2, items, views.ItemSpan, &selected, today)

	out := renderMonth(grid, false)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "March 2024" {
		t.Errorf("title = %q", lines[0])
	}
	if lines[1] != "  Su  Mo  Tu  We  Th  Fr  Sa" {
		t.Errorf("weekdays = %q", lines[1])
	}
	// March 2024 starts on a Friday.
	if lines[2] != "   .   .   .   .   .   1   2" {
		t.Errorf("first week = %q", lines[2])
	}
	for _, want := range []string{"  5*", "<15>", "[20]"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if len(lines) != 2+len(grid.Weeks) {
		t.Errorf("rendered %d lines for %d weeks", len(lines), len(grid.Weeks))
	}
}

func TestRenderMonthStyledKeepsEveryDay(t *testing.T) {
	today := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	grid := views.BuildMonth(2024, 1, nil, views.ItemSpan, nil, today)

	out := renderMonth(grid, true)
	for _, day := range []string{"1", "10", "29"} {
		if !strings.Contains(out, day) {
			t.Errorf("styled grid is missing day %s:\n%s", day, out)
		}
	}
	if !strings.Contains(out, "February 2024") {
		t.Errorf("styled grid is missing its title:\n%s", out)
	}
}

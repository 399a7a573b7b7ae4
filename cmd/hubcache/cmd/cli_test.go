package cmd_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"hubcache/backend"
	"hubcache/internal/notification"
	"hubcache/internal/testutil"
)

// =============================================================================
// Root command
// =============================================================================

func TestHelpAndVersion(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("--help")
	for _, sub := range []string{"member", "event", "calendar", "task", "shop", "notify", "reminder", "watch"} {
		testutil.AssertContains(t, stdout, sub)
	}

	stdout = cli.MustExecute("version")
	testutil.AssertContains(t, stdout, "hubcache Version: dev")
}

func TestMissingHub(t *testing.T) {
	cli := testutil.NewCLITest(t).InHub("")

	stdout, stderr := cli.ExecuteAndFail("task", "list")
	testutil.AssertContains(t, stderr, "no hub selected")
	testutil.AssertResultCode(t, stdout, testutil.ResultError)

	stdout, _ = cli.ExecuteAndFail("task", "list", "--json")
	testutil.AssertContains(t, stdout, `"result":"ERROR"`)
	testutil.AssertContains(t, stdout, `"suggestion":"Pass --hub or set session.hub_id in the config file"`)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.SetFullConfig("output_format: xml\n")

	_, stderr := cli.ExecuteAndFail("task", "list")
	testutil.AssertContains(t, stderr, "invalid output_format")
}

func TestMemberAdd(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("member", "add", "user-2", "--name", "Ben", "--email", "ben@example.com")
	testutil.AssertContains(t, stdout, "Added Ben to hub hub-1 as member")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	var resp struct {
		Member backend.Member `json:"member"`
		Result string         `json:"result"`
	}
	cli.MustExecuteJSON(&resp, "member", "add", "user-3", "--role", "admin")
	if resp.Member.UserID != "user-3" || resp.Member.Role != "admin" || resp.Result != testutil.ResultActionCompleted {
		t.Errorf("member add JSON = %+v", resp)
	}

	cli.ExecuteAndFail("member", "add", "user-2")
}

// =============================================================================
// Tasks
// =============================================================================

func TestTaskLifecycle(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("member", "add", "user-2", "--name", "Ben")

	stdout := cli.MustExecute("task", "add", "Dishes", "-p", "high", "--due", "tomorrow", "--assign", "user-2")
	testutil.AssertContains(t, stdout, "Added task: Dishes")
	cli.MustExecute("task", "add", "Pay rent", "--due", "2024-03-10")
	cli.MustExecute("task", "add", "Vacuum")

	stdout = cli.MustExecute("task", "list")
	testutil.AssertContains(t, stdout, "Dishes [high] due 2024-03-16 -> Ben")
	testutil.AssertContains(t, stdout, "[ ]  Vacuum [medium]")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)
	if strings.Index(stdout, "Pay rent") > strings.Index(stdout, "Dishes") {
		t.Errorf("earlier due date should list first:\n%s", stdout)
	}

	stdout = cli.MustExecute("task", "list", "--overdue")
	testutil.AssertContains(t, stdout, "Pay rent")
	testutil.AssertNotContains(t, stdout, "Dishes")

	stdout = cli.MustExecute("task", "done", "dish")
	testutil.AssertContains(t, stdout, "Completed task: Dishes")

	stdout = cli.MustExecute("task", "list", "--done")
	testutil.AssertContains(t, stdout, "[x]  Dishes")
	testutil.AssertNotContains(t, stdout, "Vacuum")

	stdout = cli.MustExecute("task", "stats")
	for _, want := range []string{"Total: 3", "Completed: 1", "Pending: 2", "Overdue: 1", "Done: 33%"} {
		testutil.AssertContains(t, stdout, want)
	}

	stdout = cli.MustExecute("task", "done", "Dishes")
	testutil.AssertContains(t, stdout, "Reopened task: Dishes")

	stdout = cli.MustExecute("task", "rm", "Vacuum", "rent")
	testutil.AssertContains(t, stdout, "Deleted task: Vacuum")
	testutil.AssertContains(t, stdout, "Deleted task: Pay rent")

	var resp struct {
		Tasks []backend.Task `json:"tasks"`
		Count int            `json:"count"`
	}
	cli.MustExecuteJSON(&resp, "task", "list")
	if resp.Count != 1 || resp.Tasks[0].Title != "Dishes" || resp.Tasks[0].AssigneeName != "Ben" {
		t.Errorf("task list JSON = %+v", resp)
	}
}

func TestTaskFilters(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("task", "add", "Pay water", "-p", "low", "--assign", testutil.DefaultUser)
	cli.MustExecute("task", "add", "Pay phone", "-p", "high", "--due", "2024-03-30")
	cli.MustExecute("task", "add", "Walk dog", "--due", "2024-03-20")

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"search", []string{"--search", "pay"}, []string{"Pay water", "Pay phone"}, []string{"Walk dog"}},
		{"priority", []string{"-p", "high"}, []string{"Pay phone"}, []string{"Pay water", "Walk dog"}},
		{"mine", []string{"--mine"}, []string{"Pay water"}, []string{"Pay phone", "Walk dog"}},
		{"due before", []string{"--due-before", "2024-03-25"}, []string{"Walk dog"}, []string{"Pay phone", "Pay water"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout := cli.MustExecute(append([]string{"task", "list"}, tt.args...)...)
			for _, w := range tt.want {
				testutil.AssertContains(t, stdout, w)
			}
			for _, w := range tt.notWant {
				testutil.AssertNotContains(t, stdout, w)
			}
		})
	}

	_, stderr := cli.ExecuteAndFail("task", "list", "-p", "urgent")
	testutil.AssertContains(t, stderr, "urgent")
	cli.ExecuteAndFail("task", "add", "Broken", "--due", "someday")
}

func TestAmbiguousTaskNeedsPrompt(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("task", "add", "Pay water")
	cli.MustExecute("task", "add", "Pay phone")

	_, stderr := cli.ExecuteAndFail("task", "done", "pay")
	testutil.AssertContains(t, stderr, "interactive prompts are disabled")

	_, stderr = cli.ExecuteAndFail("task", "done", "nonexistent")
	testutil.AssertContains(t, stderr, "nonexistent")

	cli.SetInput("water\n")
	stdout := cli.MustExecute("task", "done", "pay")
	testutil.AssertContains(t, stdout, "Auto-selected: [ ] Pay water")
	testutil.AssertContains(t, stdout, "Completed task: Pay water")

	cli.SetInput("\n2\n")
	stdout = cli.MustExecute("task", "done", "pay")
	testutil.AssertContains(t, stdout, "Select (0 to cancel)")
	testutil.AssertContains(t, stdout, "task: Pay")

	cli.SetInput("\n0\n")
	_, stderr = cli.ExecuteAndFail("task", "done", "pay")
	testutil.AssertContains(t, stderr, "selection cancelled")
}

// =============================================================================
// Events and calendar
// =============================================================================

func TestEventLifecycle(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("member", "add", testutil.DefaultUser, "--name", "Ana")

	stdout := cli.MustExecute("event", "add", "Dentist", "--start", "2024-03-18 09:30",
		"--location", "Clinic", "--remind", "2024-03-18 08:00")
	testutil.AssertContains(t, stdout, "Added event: Dentist")
	cli.MustExecute("event", "add", "Trip", "--start", "2024-03-20", "--end", "2024-03-22", "--all-day")
	cli.MustExecute("event", "add", "Breakfast", "--start", "2024-03-01 08:00")

	stdout = cli.MustExecute("event", "list")
	testutil.AssertContains(t, stdout, "Mon Mar 18 09:30  Dentist @ Clinic (by Ana) [1 reminder(s)]")
	testutil.AssertContains(t, stdout, "Wed Mar 20 (all day)  Trip")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)

	stdout = cli.MustExecute("event", "list", "--upcoming", "1")
	testutil.AssertContains(t, stdout, "Dentist")
	testutil.AssertNotContains(t, stdout, "Trip")
	testutil.AssertNotContains(t, stdout, "Breakfast")

	stdout = cli.MustExecute("event", "list", "--search", "clinic")
	testutil.AssertContains(t, stdout, "Dentist")
	testutil.AssertNotContains(t, stdout, "Trip")

	stdout = cli.MustExecute("event", "list", "--from", "2024-03-19", "--to", "2024-03-31")
	testutil.AssertContains(t, stdout, "Trip")
	testutil.AssertNotContains(t, stdout, "Dentist")

	stdout = cli.MustExecute("event", "rm", "Dentist", "Trip")
	testutil.AssertContains(t, stdout, "Deleted event: Dentist")
	testutil.AssertContains(t, stdout, "Deleted event: Trip")

	var resp struct {
		Events []backend.Event `json:"events"`
		Count  int             `json:"count"`
	}
	cli.MustExecuteJSON(&resp, "event", "list")
	if resp.Count != 1 || resp.Events[0].Title != "Breakfast" {
		t.Errorf("event list JSON = %+v", resp)
	}

	cli.ExecuteAndFail("event", "add", "No start")
}

func TestCalendarMonth(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("event", "add", "Dentist", "--start", "2024-03-18 09:30")
	cli.MustExecute("task", "add", "Pay rent", "--due", "2024-03-10")
	cli.MustExecute("event", "add", "April fool", "--start", "2024-04-01", "--all-day")

	stdout := cli.MustExecute("calendar")
	testutil.AssertContains(t, stdout, "March 2024")
	testutil.AssertContains(t, stdout, "<15>")
	testutil.AssertContains(t, stdout, " 18*")
	testutil.AssertContains(t, stdout, " 10*")
	testutil.AssertContains(t, stdout, "Mon Mar 18 09:30  * Dentist")
	testutil.AssertContains(t, stdout, "[ ] Pay rent")
	testutil.AssertNotContains(t, stdout, "April fool")

	stdout = cli.MustExecute("calendar", "--day", "2024-03-18")
	testutil.AssertContains(t, stdout, "[18]")
	testutil.AssertContains(t, stdout, "Dentist")
	testutil.AssertNotContains(t, stdout, "Pay rent")

	stdout = cli.MustExecute("calendar", "--month", "2024-04")
	testutil.AssertContains(t, stdout, "April 2024")
	testutil.AssertContains(t, stdout, "April fool")

	var resp struct {
		Year  int `json:"year"`
		Month int `json:"month"`
		Items []struct {
			Kind  string `json:"kind"`
			Title string `json:"title"`
		} `json:"items"`
	}
	cli.MustExecuteJSON(&resp, "calendar", "--month", "2024-03")
	if resp.Year != 2024 || resp.Month != 3 || len(resp.Items) != 2 {
		t.Errorf("calendar JSON = %+v", resp)
	}

	_, stderr := cli.ExecuteAndFail("calendar", "--month", "March")
	testutil.AssertContains(t, stderr, "March")
}

// =============================================================================
// Shopping
// =============================================================================

func TestShoppingLifecycle(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("shop", "add-list", "Groceries")
	testutil.AssertContains(t, stdout, "Created list: Groceries")

	stdout = cli.MustExecute("shop", "add", "groc", "Milk", "--qty", "2", "--unit", "l", "--category", "Dairy")
	testutil.AssertContains(t, stdout, "Added Milk to Groceries")
	cli.MustExecute("shop", "add", "Groceries", "Bread", "--category", "Bakery")

	stdout = cli.MustExecute("shop", "items", "Groceries")
	testutil.AssertContains(t, stdout, "Groceries  0/2 done (0%)")
	testutil.AssertContains(t, stdout, "Dairy\n  [ ] Milk x2 l")
	testutil.AssertContains(t, stdout, "Bakery\n  [ ] Bread")

	stdout = cli.MustExecute("shop", "check", "Groceries", "milk")
	testutil.AssertContains(t, stdout, "[x] Milk")

	stdout = cli.MustExecute("shop", "items", "Groceries", "--open")
	testutil.AssertContains(t, stdout, "Groceries  1/2 done (50%)")
	testutil.AssertNotContains(t, stdout, "Milk")

	stdout = cli.MustExecute("shop", "clear", "Groceries")
	testutil.AssertContains(t, stdout, "Removed 1 item(s) from Groceries")

	stdout = cli.MustExecute("shop", "lists")
	testutil.AssertContains(t, stdout, "Groceries (0/1)")

	var resp struct {
		Items         []backend.ShoppingItem `json:"items"`
		Collaborators []backend.Collaborator `json:"collaborators"`
	}
	cli.MustExecuteJSON(&resp, "shop", "items", "Groceries")
	if len(resp.Items) != 1 || resp.Items[0].Name != "Bread" {
		t.Errorf("items JSON = %+v", resp.Items)
	}
	if len(resp.Collaborators) != 1 || resp.Collaborators[0].Role != backend.RoleOwner {
		t.Errorf("collaborators JSON = %+v", resp.Collaborators)
	}

	stdout = cli.MustExecute("shop", "rm-list", "Groceries")
	testutil.AssertContains(t, stdout, "Deleted list: Groceries")
	stdout = cli.MustExecute("shop", "lists")
	testutil.AssertContains(t, stdout, "No shopping lists")

	_, stderr := cli.ExecuteAndFail("shop", "items", "Hardware")
	testutil.AssertContains(t, stderr, "Hardware")
}

func TestShoppingSharing(t *testing.T) {
	owner := testutil.NewCLITest(t)
	ben := owner.AsUser("user-2")
	cara := owner.AsUser("user-3")
	owner.MustExecute("shop", "add-list", "Groceries")

	_, stderr := ben.ExecuteAndFail("shop", "add", "Groceries", "Eggs")
	testutil.AssertContains(t, stderr, "you cannot add items on Groceries")

	stdout := owner.MustExecute("shop", "share", "Groceries", "user-2")
	testutil.AssertContains(t, stdout, "Shared Groceries with user-2 as editor")

	ben.MustExecute("shop", "add", "Groceries", "Eggs")
	_, stderr = ben.ExecuteAndFail("shop", "share", "Groceries", "user-3")
	testutil.AssertContains(t, stderr, "you cannot share on Groceries")

	owner.MustExecute("shop", "share", "Groceries", "user-3", "--role", "viewer")
	_, stderr = cara.ExecuteAndFail("shop", "add", "Groceries", "Milk")
	testutil.AssertContains(t, stderr, "you cannot add items")

	_, stderr = owner.ExecuteAndFail("shop", "share", "Groceries", testutil.DefaultUser, "--role", "viewer")
	testutil.AssertContains(t, stderr, "at least one owner")

	stdout = owner.MustExecute("shop", "share", "Groceries", "user-2", "--role", "owner")
	testutil.AssertContains(t, stdout, "user-2 is now owner on Groceries")
	stdout = ben.MustExecute("shop", "share", "Groceries", "user-3", "--remove")
	testutil.AssertContains(t, stdout, "Stopped sharing Groceries with user-3")

	_, stderr = owner.ExecuteAndFail("shop", "share", "Groceries", "user-9", "--remove")
	testutil.AssertContains(t, stderr, "user-9")
	owner.ExecuteAndFail("shop", "share", "Groceries", "user-4", "--role", "boss")
}

// =============================================================================
// Notifications
// =============================================================================

type feedResponse struct {
	Feed struct {
		Unread     int `json:"unread_count"`
		Pagination struct {
			HasMore bool `json:"has_more"`
		} `json:"pagination"`
		Notifications []backend.Notification `json:"notifications"`
	} `json:"feed"`
}

func TestNotificationFeed(t *testing.T) {
	cli := testutil.NewCLITest(t)
	ben := cli.AsUser("user-2")

	stdout := cli.MustExecute("notify", "send", testutil.DefaultUser, "Welcome", "--message", "Hello")
	testutil.AssertContains(t, stdout, "Sent to user-1: Welcome")
	cli.MustExecute("notify", "send", "user-2", "Chores", "--type", "task")

	stdout = cli.MustExecute("notify", "list")
	testutil.AssertContains(t, stdout, "1 unread")
	testutil.AssertContains(t, stdout, "Welcome: Hello")
	testutil.AssertNotContains(t, stdout, "Chores")

	stdout = ben.MustExecute("notify", "list", "--type", "task")
	testutil.AssertContains(t, stdout, "Chores")
	stdout = ben.MustExecute("notify", "list", "--type", "event")
	testutil.AssertContains(t, stdout, "No notifications")

	var feed feedResponse
	cli.MustExecuteJSON(&feed, "notify", "list")
	if len(feed.Feed.Notifications) != 1 || feed.Feed.Unread != 1 {
		t.Fatalf("feed = %+v", feed.Feed)
	}
	id := feed.Feed.Notifications[0].ID

	stdout = cli.MustExecute("notify", "read", id)
	testutil.AssertContains(t, stdout, "Updated "+id+", 0 unread")
	stdout = cli.MustExecute("notify", "list", "--unread")
	testutil.AssertContains(t, stdout, "No notifications")

	stdout = cli.MustExecute("notify", "read", id, "--unread")
	testutil.AssertContains(t, stdout, ", 1 unread")

	stdout = cli.MustExecute("notify", "read-all")
	testutil.AssertContains(t, stdout, "All notifications marked read")
	stdout = cli.MustExecute("notify", "list")
	testutil.AssertContains(t, stdout, "0 unread")

	stdout = cli.MustExecute("notify", "rm", id)
	testutil.AssertContains(t, stdout, "Deleted "+id)
	stdout = cli.MustExecute("notify", "list")
	testutil.AssertContains(t, stdout, "No notifications")

	cli.ExecuteAndFail("notify", "list", "--type", "bogus")
	cli.ExecuteAndFail("notify", "send", "user-2", "Bad", "--type", "bogus")
}

func TestNotificationPaging(t *testing.T) {
	cli := testutil.NewCLITestWithPageSize(t, 2)
	for _, title := range []string{"One", "Two", "Three"} {
		cli.MustExecute("notify", "send", testutil.DefaultUser, title)
		time.Sleep(2 * time.Millisecond)
	}

	stdout := cli.MustExecute("notify", "list")
	testutil.AssertContains(t, stdout, "3 unread")
	testutil.AssertContains(t, stdout, "Three")
	testutil.AssertNotContains(t, stdout, "One")
	testutil.AssertContains(t, stdout, "more available")

	var feed feedResponse
	cli.MustExecuteJSON(&feed, "notify", "list", "--pages", "2")
	if len(feed.Feed.Notifications) != 3 || feed.Feed.Pagination.HasMore {
		t.Errorf("two pages = %d notifications, has_more=%v", len(feed.Feed.Notifications), feed.Feed.Pagination.HasMore)
	}
}

func TestNotificationLog(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("notify", "log")
	testutil.AssertContains(t, stdout, "No alerts logged")

	ch := notification.NewLogChannel(&notification.LogConfig{Enabled: true, Path: cli.LogPath(), MaxSizeMB: 1})
	err := ch.Send(backend.Notification{
		Type:      backend.NotificationShopping,
		Title:     "Milk added",
		Message:   "Ben added Milk",
		CreatedAt: testutil.FixedNow,
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	_ = ch.Close()

	stdout = cli.MustExecute("notify", "log")
	testutil.AssertContains(t, stdout, "Milk added: Ben added Milk")

	stdout = cli.MustExecute("notify", "log", "clear")
	testutil.AssertContains(t, stdout, "Alert log cleared")
	stdout = cli.MustExecute("notify", "log")
	testutil.AssertContains(t, stdout, "No alerts logged")
}

// =============================================================================
// Reminders
// =============================================================================

func readAlertLog(t *testing.T, cli *testutil.CLITest) string {
	t.Helper()
	data, err := os.ReadFile(cli.LogPath())
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read alert log: %v", err)
	}
	return string(data)
}

func TestReminderCheckAndUpcoming(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("event", "add", "Dentist", "--start", "2024-03-15 13:00", "--location", "Clinic", "--remind", "2024-03-15 11:30")
	cli.MustExecute("event", "add", "Dinner", "--start", "2024-03-15 21:00", "--remind", "2024-03-15 20:00")
	cli.MustExecute("event", "add", "Gym", "--start", "2024-03-15 09:00", "--remind", "2024-03-15 08:00")

	stdout := cli.MustExecute("reminder", "upcoming")
	testutil.AssertContains(t, stdout, "Fri Mar 15 20:00  Dinner")
	testutil.AssertNotContains(t, stdout, "Dentist")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)

	stdout = cli.MustExecute("reminder", "upcoming", "--within", "30m")
	testutil.AssertContains(t, stdout, "No reminders in the next 30m")
	cli.ExecuteAndFail("reminder", "upcoming", "--within", "later")

	stdout = cli.MustExecute("reminder", "check")
	testutil.AssertContains(t, stdout, "Triggered 1 reminder(s):")
	testutil.AssertContains(t, stdout, "Fri Mar 15 11:30  Dentist")
	testutil.AssertNotContains(t, stdout, "Gym")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)
	testutil.AssertContains(t, readAlertLog(t, cli), "[EVENT] Event reminder: Dentist - Fri Mar 15 13:00 @ Clinic")

	var resp struct {
		Triggered []backend.EventReminder `json:"triggered"`
	}
	cli.AsUser("user-2").MustExecuteJSON(&resp, "reminder", "check")
	if len(resp.Triggered) != 0 {
		t.Errorf("another user's check fired %+v", resp.Triggered)
	}
}

func TestReminderCheckDisabled(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.SetFullConfig("notifications:\n  alerts:\n    enabled: false\n")
	cli.MustExecute("event", "add", "Dentist", "--start", "2024-03-15 13:00", "--remind", "2024-03-15 11:30")

	stdout := cli.MustExecute("reminder", "check")
	testutil.AssertContains(t, stdout, "Reminder alerts are disabled")
	if log := readAlertLog(t, cli); log != "" {
		t.Errorf("alert log written while disabled: %q", log)
	}
}

// =============================================================================
// Watch
// =============================================================================

func TestWatchStopsAfterLimit(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("task", "add", "Dishes")
	cli.MustExecute("shop", "add-list", "Groceries")

	start := time.Now()
	stdout := cli.MustExecute("watch", "--for", "500ms")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("watch took %v", elapsed)
	}
	testutil.AssertContains(t, stdout, "Watching hub hub-1 as user-1 (0 events, 1 open tasks, 1 lists, 0 unread)")

	_, stderr := cli.InHub("").ExecuteAndFail("watch", "--for", "100ms")
	testutil.AssertContains(t, stderr, "no hub selected")
}

func TestWatchFiresDueReminders(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("event", "add", "Dentist", "--start", "2024-03-15 13:00", "--remind", "2024-03-15 11:45")

	cli.MustExecute("watch", "--for", "500ms")
	testutil.AssertContains(t, readAlertLog(t, cli), "Event reminder: Dentist - Fri Mar 15 13:00")
}

package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Table names used by the hub schema.
const (
	TableMembers       = "hub_members"
	TableEvents        = "events"
	TableReminders     = "event_reminders"
	TableTasks         = "tasks"
	TableLists         = "shopping_lists"
	TableItems         = "shopping_items"
	TableCollaborators = "list_collaborators"
	TableNotifications = "notifications"
)

// Procedure names understood by the data service.
const (
	ProcHubEvents          = "get_hub_events"
	ProcEvent              = "get_event"
	ProcEventReminders     = "get_event_reminders"
	ProcHubTasks           = "get_hub_tasks"
	ProcTask               = "get_task"
	ProcHubShoppingLists   = "get_hub_shopping_lists"
	ProcListItems          = "get_list_items"
	ProcListCollaborators  = "get_list_collaborators"
	ProcUserNotifications  = "get_user_notifications"
	ProcUnreadCount        = "get_unread_notification_count"
	ProcMarkAllRead        = "mark_all_notifications_read"
	ProcAddHubMember       = "add_hub_member"
	ProcClearCompletedItem = "clear_completed_items"
)

// Sentinel errors returned by Client implementations.
var (
	ErrNotFound         = errors.New("row not found")
	ErrUnknownTable     = errors.New("unknown table")
	ErrUnknownColumn    = errors.New("unknown column")
	ErrUnknownProcedure = errors.New("unknown procedure")
	ErrClosed           = errors.New("backend closed")
)

// ChangeKind tags a realtime change record.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Change is a single row change delivered over a realtime channel.
// New is empty for deletes, Old is empty for inserts.
type Change struct {
	Kind      ChangeKind      `json:"change_kind"`
	Table     string          `json:"table"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	CommitSeq int64           `json:"commit_seq"`
}

// Filter selects which rows of a table a realtime channel receives.
// An empty Column matches every row of the table.
type Filter struct {
	Table  string
	Column string
	Value  string
}

// Params are the named arguments of a procedure call.
type Params map[string]any

// Subscription is an open realtime channel.
type Subscription interface {
	// Unsubscribe closes the channel. Calling it more than once is a no-op.
	Unsubscribe() error
}

// Client is the backend data service consumed by the caches.
//
// Rows are exchanged as JSON objects. Insert, Update and Delete return the
// affected row as stored by the service.
type Client interface {
	Call(ctx context.Context, procedure string, params Params) (json.RawMessage, error)
	Insert(ctx context.Context, table string, values any) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, values any) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) (json.RawMessage, error)
	Subscribe(ctx context.Context, channel string, filter Filter, onChange func(Change)) (Subscription, error)
	Close() error
}

// GenerateID generates a unique identifier using UUID v4.
func GenerateID() string {
	return uuid.New().String()
}

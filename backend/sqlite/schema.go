package sqlite

import (
	"fmt"
	"time"

	"hubcache/backend"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type kind int

const (
	kindText kind = iota
	kindInt
	kindBool
	kindTime
)

type column struct {
	name string
	kind kind
}

type table struct {
	name     string
	columns  []column
	kinds    map[string]kind
	children []child
}

// child is a table whose rows are removed with their parent row.
type child struct {
	table  string
	column string
}

func (t *table) has(col string) bool {
	_, ok := t.kinds[col]
	return ok
}

func (t *table) columnNames(prefix string) string {
	s := ""
	for i, c := range t.columns {
		if i > 0 {
			s += ", "
		}
		s += prefix + c.name
	}
	return s
}

func newTable(name string, children []child, cols ...column) *table {
	t := &table{name: name, columns: cols, kinds: make(map[string]kind, len(cols)), children: children}
	for _, c := range cols {
		t.kinds[c.name] = c.kind
	}
	return t
}

func text(name string) column  { return column{name, kindText} }
func num(name string) column   { return column{name, kindInt} }
func flag(name string) column  { return column{name, kindBool} }
func stamp(name string) column { return column{name, kindTime} }

var tables = map[string]*table{
	backend.TableMembers: newTable(backend.TableMembers, nil,
		text("id"), text("hub_id"), text("user_id"), text("name"), text("email"), text("role"), stamp("created_at")),
	backend.TableEvents: newTable(backend.TableEvents, []child{{backend.TableReminders, "event_id"}},
		text("id"), text("hub_id"), text("title"), text("description"), text("location"),
		stamp("start_date"), stamp("end_date"), flag("all_day"), text("color"), text("created_by"),
		stamp("created_at"), stamp("updated_at")),
	backend.TableReminders: newTable(backend.TableReminders, nil,
		text("id"), text("event_id"), text("hub_id"), text("user_id"), stamp("remind_at"), stamp("created_at")),
	backend.TableTasks: newTable(backend.TableTasks, nil,
		text("id"), text("hub_id"), text("title"), text("description"), text("priority"),
		stamp("due_date"), flag("completed"), stamp("completed_at"), text("assigned_to"), text("created_by"),
		stamp("created_at"), stamp("updated_at")),
	backend.TableLists: newTable(backend.TableLists,
		[]child{{backend.TableItems, "list_id"}, {backend.TableCollaborators, "list_id"}},
		text("id"), text("hub_id"), text("name"), text("description"), text("created_by"),
		stamp("created_at"), stamp("updated_at")),
	backend.TableItems: newTable(backend.TableItems, nil,
		text("id"), text("list_id"), text("name"), num("quantity"), text("unit"), text("category"), text("notes"),
		flag("completed"), text("completed_by"), text("added_by"), stamp("created_at"), stamp("updated_at")),
	backend.TableCollaborators: newTable(backend.TableCollaborators, nil,
		text("id"), text("list_id"), text("user_id"), text("role"), stamp("created_at")),
	backend.TableNotifications: newTable(backend.TableNotifications, nil,
		text("id"), text("user_id"), text("hub_id"), text("type"), text("title"), text("message"),
		flag("read"), text("entity_id"), stamp("created_at")),
}

const schema = `
	CREATE TABLE IF NOT EXISTS hub_members (
		id TEXT PRIMARY KEY,
		hub_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT DEFAULT '',
		email TEXT DEFAULT '',
		role TEXT DEFAULT 'member',
		created_at TEXT NOT NULL,
		UNIQUE (hub_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		hub_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		location TEXT DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT,
		all_day INTEGER DEFAULT 0,
		color TEXT DEFAULT '',
		created_by TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS event_reminders (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		hub_id TEXT DEFAULT '',
		user_id TEXT DEFAULT '',
		remind_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		hub_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		priority TEXT DEFAULT 'medium',
		due_date TEXT,
		completed INTEGER DEFAULT 0,
		completed_at TEXT,
		assigned_to TEXT DEFAULT '',
		created_by TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shopping_lists (
		id TEXT PRIMARY KEY,
		hub_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		created_by TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shopping_items (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER DEFAULT 1,
		unit TEXT DEFAULT '',
		category TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		completed INTEGER DEFAULT 0,
		completed_by TEXT DEFAULT '',
		added_by TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (list_id) REFERENCES shopping_lists(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS list_collaborators (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'viewer',
		created_at TEXT NOT NULL,
		UNIQUE (list_id, user_id),
		FOREIGN KEY (list_id) REFERENCES shopping_lists(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		hub_id TEXT DEFAULT '',
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT DEFAULT '',
		read INTEGER DEFAULT 0,
		entity_id TEXT DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_hub ON events(hub_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_reminders_hub ON event_reminders(hub_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_hub ON tasks(hub_id);
	CREATE INDEX IF NOT EXISTS idx_lists_hub ON shopping_lists(hub_id);
	CREATE INDEX IF NOT EXISTS idx_items_list ON shopping_items(list_id);
	CREATE INDEX IF NOT EXISTS idx_collaborators_list ON list_collaborators(list_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
`

func lookupTable(name string) (*table, error) {
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, name)
	}
	return t, nil
}

// formatTime converts a time to its stored representation.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// toSQL converts a decoded JSON value to the value stored for a column kind.
func toSQL(k kind, col string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case kindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case kindInt:
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case kindTime:
		if s, ok := v.(string); ok {
			if s == "" {
				return nil, nil
			}
			parsed, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			return formatTime(parsed), nil
		}
	}
	return nil, fmt.Errorf("column %s: unsupported value %v", col, v)
}

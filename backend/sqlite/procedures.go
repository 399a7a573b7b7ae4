package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hubcache/backend"
)

// procedure runs a named query. It returns the JSON result and any changes
// to publish after the enclosing transaction commits.
type procedure func(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error)

var procedures map[string]procedure

func init() {
	procedures = map[string]procedure{
		backend.ProcHubEvents:          hubEvents,
		backend.ProcEvent:              oneEvent,
		backend.ProcEventReminders:     eventReminders,
		backend.ProcHubTasks:           hubTasks,
		backend.ProcTask:               oneTask,
		backend.ProcHubShoppingLists:   hubShoppingLists,
		backend.ProcListItems:          listItems,
		backend.ProcListCollaborators:  listCollaborators,
		backend.ProcUserNotifications:  userNotifications,
		backend.ProcUnreadCount:        unreadCount,
		backend.ProcMarkAllRead:        markAllRead,
		backend.ProcClearCompletedItem: clearCompletedItems,
		backend.ProcAddHubMember:       addHubMember,
	}
}

// Call runs a stored procedure
func (b *Backend) Call(ctx context.Context, name string, in backend.Params) (json.RawMessage, error) {
	proc, ok := procedures[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownProcedure, name)
	}
	p, err := normalizeParams(in)
	if err != nil {
		return nil, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var result any
	var changes []pending
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		result, changes, err = proc(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	b.broker.publish(changes)
	return json.Marshal(result)
}

// params holds procedure arguments after a JSON round trip
type params map[string]any

func normalizeParams(in backend.Params) (params, error) {
	p := params{}
	if len(in) == 0 {
		return p, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

func (p params) str(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok && s != ""
}

func (p params) required(key string) (string, error) {
	s, ok := p.str(key)
	if !ok {
		return "", fmt.Errorf("missing parameter %s", key)
	}
	return s, nil
}

func (p params) integer(key string, def int64) int64 {
	if n, ok := p[key].(float64); ok {
		return int64(n)
	}
	return def
}

func (p params) boolean(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

func (p params) timestamp(key string) (string, bool, error) {
	s, ok := p.str(key)
	if !ok {
		return "", false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return "", false, fmt.Errorf("parameter %s: %w", key, err)
	}
	return formatTime(t), true, nil
}

func withExtra(t *table, extra ...column) []column {
	cols := make([]column, 0, len(t.columns)+len(extra))
	cols = append(cols, t.columns...)
	return append(cols, extra...)
}

const eventSelect = `SELECT %s, COALESCE(m.name, '') FROM events e
	LEFT JOIN hub_members m ON m.hub_id = e.hub_id AND m.user_id = e.created_by`

func eventColumns() []column {
	return withExtra(tables[backend.TableEvents], text("creator_name"))
}

func hubEvents(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	hubID, err := p.required("p_hub_id")
	if err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf(eventSelect, tables[backend.TableEvents].columnNames("e.")) + " WHERE e.hub_id = ?"
	args := []any{hubID}

	start, ok, err := p.timestamp("p_start")
	if err != nil {
		return nil, nil, err
	}
	if ok {
		query += " AND COALESCE(e.end_date, e.start_date) >= ?"
		args = append(args, start)
	}
	end, ok, err := p.timestamp("p_end")
	if err != nil {
		return nil, nil, err
	}
	if ok {
		query += " AND e.start_date < ?"
		args = append(args, end)
	}
	query += " ORDER BY e.start_date, e.id"

	rows, err := queryRows(ctx, tx, eventColumns(), query, args...)
	return rows, nil, err
}

func oneEvent(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	id, err := p.required("p_event_id")
	if err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf(eventSelect, tables[backend.TableEvents].columnNames("e.")) + " WHERE e.id = ?"
	return single(queryRows(ctx, tx, eventColumns(), query, id))
}

func eventReminders(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	hubID, err := p.required("p_hub_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableReminders]
	query := fmt.Sprintf("SELECT %s FROM event_reminders WHERE hub_id = ? ORDER BY remind_at, id", t.columnNames(""))
	rows, err := queryRows(ctx, tx, t.columns, query, hubID)
	return rows, nil, err
}

const taskSelect = `SELECT %s, COALESCE(m.name, ''), COALESCE(m.email, '') FROM tasks t
	LEFT JOIN hub_members m ON m.hub_id = t.hub_id AND m.user_id = t.assigned_to`

func taskColumns() []column {
	return withExtra(tables[backend.TableTasks], text("assignee_name"), text("assignee_email"))
}

func hubTasks(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	hubID, err := p.required("p_hub_id")
	if err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf(taskSelect, tables[backend.TableTasks].columnNames("t.")) +
		" WHERE t.hub_id = ? ORDER BY t.created_at, t.id"
	rows, err := queryRows(ctx, tx, taskColumns(), query, hubID)
	return rows, nil, err
}

func oneTask(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	id, err := p.required("p_task_id")
	if err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf(taskSelect, tables[backend.TableTasks].columnNames("t.")) + " WHERE t.id = ?"
	return single(queryRows(ctx, tx, taskColumns(), query, id))
}

func hubShoppingLists(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	hubID, err := p.required("p_hub_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableLists]
	query := fmt.Sprintf(`SELECT %s,
		(SELECT COUNT(*) FROM shopping_items i WHERE i.list_id = l.id),
		(SELECT COUNT(*) FROM shopping_items i WHERE i.list_id = l.id AND i.completed = 1)
		FROM shopping_lists l WHERE l.hub_id = ? ORDER BY l.created_at, l.id`, t.columnNames("l."))
	rows, err := queryRows(ctx, tx, withExtra(t, num("item_count"), num("completed_count")), query, hubID)
	return rows, nil, err
}

func listItems(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	listID, err := p.required("p_list_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableItems]
	query := fmt.Sprintf("SELECT %s FROM shopping_items WHERE list_id = ? ORDER BY created_at, id", t.columnNames(""))
	rows, err := queryRows(ctx, tx, t.columns, query, listID)
	return rows, nil, err
}

func listCollaborators(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	listID, err := p.required("p_list_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableCollaborators]
	query := fmt.Sprintf(`SELECT %s, COALESCE(m.name, ''), COALESCE(m.email, '') FROM list_collaborators c
		LEFT JOIN shopping_lists l ON l.id = c.list_id
		LEFT JOIN hub_members m ON m.hub_id = l.hub_id AND m.user_id = c.user_id
		WHERE c.list_id = ? ORDER BY c.created_at, c.id`, t.columnNames("c."))
	rows, err := queryRows(ctx, tx, withExtra(t, text("user_name"), text("user_email")), query, listID)
	return rows, nil, err
}

func userNotifications(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	userID, err := p.required("p_user_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableNotifications]
	query := fmt.Sprintf("SELECT %s FROM notifications WHERE user_id = ?", t.columnNames(""))
	args := []any{userID}
	if typ, ok := p.str("p_type"); ok {
		query += " AND type = ?"
		args = append(args, typ)
	}
	if read, ok := p.boolean("p_read"); ok {
		query += " AND read = ?"
		args = append(args, boolToInt(read))
	}
	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, p.integer("p_limit", 20), p.integer("p_offset", 0))

	rows, err := queryRows(ctx, tx, t.columns, query, args...)
	return rows, nil, err
}

func unreadCount(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	userID, err := p.required("p_user_id")
	if err != nil {
		return nil, nil, err
	}
	var n int64
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0", userID).Scan(&n)
	return n, nil, err
}

func markAllRead(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	userID, err := p.required("p_user_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableNotifications]
	unread, err := queryRows(ctx, tx, t.columns,
		fmt.Sprintf("SELECT %s FROM notifications WHERE user_id = ? AND read = 0", t.columnNames("")), userID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0", userID); err != nil {
		return nil, nil, err
	}

	changes := make([]pending, 0, len(unread))
	for _, old := range unread {
		updated := make(map[string]any, len(old))
		for k, v := range old {
			updated[k] = v
		}
		updated["read"] = true
		changes = append(changes, pending{kind: backend.ChangeUpdate, table: t.name, new: updated, old: old})
	}
	return len(unread), changes, nil
}

func clearCompletedItems(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	listID, err := p.required("p_list_id")
	if err != nil {
		return nil, nil, err
	}
	t := tables[backend.TableItems]
	done, err := queryRows(ctx, tx, t.columns,
		fmt.Sprintf("SELECT %s FROM shopping_items WHERE list_id = ? AND completed = 1", t.columnNames("")), listID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM shopping_items WHERE list_id = ? AND completed = 1", listID); err != nil {
		return nil, nil, err
	}

	changes := make([]pending, 0, len(done))
	for _, old := range done {
		changes = append(changes, pending{kind: backend.ChangeDelete, table: t.name, old: old})
	}
	return done, changes, nil
}

func addHubMember(ctx context.Context, tx *sql.Tx, p params) (any, []pending, error) {
	hubID, err := p.required("p_hub_id")
	if err != nil {
		return nil, nil, err
	}
	userID, err := p.required("p_user_id")
	if err != nil {
		return nil, nil, err
	}
	role, ok := p.str("p_role")
	if !ok {
		role = "member"
	}
	name, _ := p.str("p_name")
	email, _ := p.str("p_email")

	t := tables[backend.TableMembers]
	fields := map[string]any{"hub_id": hubID, "user_id": userID, "name": name, "email": email, "role": role}
	row, err := insertRow(ctx, tx, t, fields, time.Now())
	if err != nil {
		return nil, nil, err
	}
	return row, []pending{{kind: backend.ChangeInsert, table: t.name, new: row}}, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func single(rows []map[string]any, err error) (any, []pending, error) {
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, backend.ErrNotFound
	}
	return rows[0], nil, nil
}

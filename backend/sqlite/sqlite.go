// Package sqlite implements the hub data service on an embedded SQLite
// database, including realtime change delivery to in-process subscribers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"hubcache/backend"
	_ "modernc.org/sqlite"
)

// Backend implements backend.Client using SQLite
type Backend struct {
	db     *sql.DB
	broker *broker

	// writeMu keeps commit order and publish order identical.
	writeMu sync.Mutex
	now     func() time.Time
}

// Option configures a Backend
type Option func(*Backend)

// WithClock overrides the clock used to stamp created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New opens the database at path and initializes the schema
func New(path string, opts ...Option) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A second connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db, broker: newBroker(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) initSchema() error {
	if _, err := b.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	_, err := b.db.Exec(schema)
	return err
}

// Close stops realtime delivery and closes the database
func (b *Backend) Close() error {
	b.broker.close()
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Subscribe opens a realtime channel for rows matching filter
func (b *Backend) Subscribe(ctx context.Context, channel string, filter backend.Filter, onChange func(backend.Change)) (backend.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := lookupTable(filter.Table)
	if err != nil {
		return nil, err
	}
	if filter.Column != "" && !t.has(filter.Column) {
		return nil, fmt.Errorf("%w: %s.%s", backend.ErrUnknownColumn, t.name, filter.Column)
	}
	s, err := b.broker.subscribe(channel, filter, onChange)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Insert adds a row and returns it as stored
func (b *Backend) Insert(ctx context.Context, tableName string, values any) (json.RawMessage, error) {
	t, err := lookupTable(tableName)
	if err != nil {
		return nil, err
	}
	fields, err := toFields(values)
	if err != nil {
		return nil, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var changes []pending
	var row map[string]any
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		row, err = insertRow(ctx, tx, t, fields, b.now())
		if err != nil {
			return err
		}
		changes = append(changes, pending{kind: backend.ChangeInsert, table: t.name, new: row})

		// The creator of a list always owns it.
		if t.name == backend.TableLists {
			owner := map[string]any{"list_id": row["id"], "user_id": row["created_by"], "role": string(backend.RoleOwner)}
			collab, err := insertRow(ctx, tx, tables[backend.TableCollaborators], owner, b.now())
			if err != nil {
				return err
			}
			changes = append(changes, pending{kind: backend.ChangeInsert, table: backend.TableCollaborators, new: collab})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.broker.publish(changes)
	return json.Marshal(row)
}

// Update modifies the given columns of a row and returns the stored row
func (b *Backend) Update(ctx context.Context, tableName, id string, values any) (json.RawMessage, error) {
	t, err := lookupTable(tableName)
	if err != nil {
		return nil, err
	}
	fields, err := toFields(values)
	if err != nil {
		return nil, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var oldRow, newRow map[string]any
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		oldRow, newRow, err = updateRow(ctx, tx, t, id, fields, b.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	b.broker.publish([]pending{{kind: backend.ChangeUpdate, table: t.name, new: newRow, old: oldRow}})
	return json.Marshal(newRow)
}

// Delete removes a row, together with its dependent rows, and returns it
func (b *Backend) Delete(ctx context.Context, tableName, id string) (json.RawMessage, error) {
	t, err := lookupTable(tableName)
	if err != nil {
		return nil, err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	var changes []pending
	var row map[string]any
	err = b.inTx(ctx, func(tx *sql.Tx) error {
		row, err = selectByID(ctx, tx, t, id)
		if err != nil {
			return err
		}
		for _, c := range t.children {
			ct := tables[c.table]
			rows, err := queryRows(ctx, tx, ct.columns,
				fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", ct.columnNames(""), ct.name, c.column), id)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", ct.name, c.column), id); err != nil {
				return err
			}
			for _, r := range rows {
				changes = append(changes, pending{kind: backend.ChangeDelete, table: ct.name, old: r})
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name), id); err != nil {
			return err
		}
		changes = append(changes, pending{kind: backend.ChangeDelete, table: t.name, old: row})
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.broker.publish(changes)
	return json.Marshal(row)
}

// inTx runs fn in a transaction, committing only if fn succeeds
func (b *Backend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// toFields converts a payload struct or map to column values.
func toFields(values any) (map[string]any, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode values: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("values must be an object: %w", err)
	}
	return fields, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRow(ctx context.Context, q querier, t *table, fields map[string]any, now time.Time) (map[string]any, error) {
	id, _ := fields["id"].(string)
	if id == "" {
		id = backend.GenerateID()
	}
	stampNow := formatTime(now)

	cols := []string{"id"}
	args := []any{id}
	for _, c := range t.columns {
		switch c.name {
		case "id":
			continue
		case "created_at", "updated_at":
			cols = append(cols, c.name)
			args = append(args, stampNow)
			continue
		}
		v, ok := fields[c.name]
		if !ok {
			continue
		}
		sv, err := toSQL(c.kind, c.name, v)
		if err != nil {
			return nil, err
		}
		if sv == nil {
			continue
		}
		cols = append(cols, c.name)
		args = append(args, sv)
	}
	if err := checkColumns(t, fields); err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(cols, ", "), placeholders)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return selectByID(ctx, q, t, id)
}

func updateRow(ctx context.Context, q querier, t *table, id string, fields map[string]any, now time.Time) (oldRow, newRow map[string]any, err error) {
	if err := checkColumns(t, fields); err != nil {
		return nil, nil, err
	}
	oldRow, err = selectByID(ctx, q, t, id)
	if err != nil {
		return nil, nil, err
	}

	var sets []string
	var args []any
	for _, c := range t.columns {
		if c.name == "id" || c.name == "created_at" {
			continue
		}
		if c.name == "updated_at" {
			sets = append(sets, "updated_at = ?")
			args = append(args, formatTime(now))
			continue
		}
		v, ok := fields[c.name]
		if !ok {
			continue
		}
		sv, err := toSQL(c.kind, c.name, v)
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, c.name+" = ?")
		args = append(args, sv)
	}
	if len(sets) > 0 {
		args = append(args, id)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.name, strings.Join(sets, ", "))
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return nil, nil, err
		}
	}
	newRow, err = selectByID(ctx, q, t, id)
	return oldRow, newRow, err
}

func checkColumns(t *table, fields map[string]any) error {
	for name := range fields {
		if !t.has(name) {
			return fmt.Errorf("%w: %s.%s", backend.ErrUnknownColumn, t.name, name)
		}
	}
	return nil
}

func selectByID(ctx context.Context, q querier, t *table, id string) (map[string]any, error) {
	rows, err := queryRows(ctx, q, t.columns,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", t.columnNames(""), t.name), id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s", backend.ErrNotFound, t.name, id)
	}
	return rows[0], nil
}

// queryRows runs a query whose select list matches cols and returns each row
// as a JSON-ready map.
func queryRows(ctx context.Context, q querier, cols []column, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []map[string]any{}
	for rows.Next() {
		dest := make([]any, len(cols))
		for i, c := range cols {
			switch c.kind {
			case kindInt, kindBool:
				dest[i] = new(sql.NullInt64)
			default:
				dest[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c.name] = fromSQL(c.kind, dest[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func fromSQL(k kind, v any) any {
	switch k {
	case kindInt:
		return v.(*sql.NullInt64).Int64
	case kindBool:
		return v.(*sql.NullInt64).Int64 != 0
	case kindTime:
		s := v.(*sql.NullString)
		if !s.Valid || s.String == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s.String)
		if err != nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v.(*sql.NullString).String
	}
}

// Verify interface compliance at compile time
var _ backend.Client = (*Backend)(nil)

// Package memory provides an in-process implementation of engine.Engine.
//
// It keeps every table in memory, supports plain and multi secondary indexes,
// pushes change feeds synchronously with each write, and records a log of
// write calls so tests can assert on write ordering and batching.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mbroadst/thinkagain/engine"
)

// Op names an engine operation in the call log and in failure injection.
type Op string

const (
	OpCreateTable Op = "createTable"
	OpCreateIndex Op = "createIndex"
	OpInsert      Op = "insert"
	OpGet         Op = "get"
	OpReplace     Op = "replace"
	OpDelete      Op = "delete"
	OpGetAll      Op = "getAll"
	OpDeleteAll   Op = "deleteAll"
	OpUnset       Op = "unset"
)

// Call is one entry of the write log.
type Call struct {
	Op    Op
	Table string

	// Keys holds the primary keys the call addressed, in request order.
	Keys []any
}

type table struct {
	pk      string
	rows    map[string]engine.Row
	order   []string
	indexes map[string]engine.IndexOptions
}

type watcher struct {
	table string
	key   *string
	sub   *engine.Subscription
}

type failure struct {
	op    Op
	table string
	err   error
}

// Engine is an in-memory engine.Engine. The zero value is not usable; use New.
type Engine struct {
	mu       sync.Mutex
	tables   map[string]*table
	watchers map[*watcher]struct{}
	calls    []Call
	failures []failure
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		tables:   make(map[string]*table),
		watchers: make(map[*watcher]struct{}),
	}
}

// Calls returns a copy of the write log.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallsTo returns the logged calls for table, optionally filtered by op.
func (e *Engine) CallsTo(table string, ops ...Op) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Table != table {
			continue
		}
		if len(ops) > 0 && !containsOp(ops, c.Op) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ResetCalls clears the write log.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	e.calls = nil
	e.mu.Unlock()
}

// FailNext makes the next op against table return err. An empty table matches
// any table.
func (e *Engine) FailNext(op Op, table string, err error) {
	e.mu.Lock()
	e.failures = append(e.failures, failure{op: op, table: table, err: err})
	e.mu.Unlock()
}

// Rows returns a copy of every row in table in insertion order.
func (e *Engine) Rows(name string) []engine.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tables[name]
	if t == nil {
		return nil
	}
	out := make([]engine.Row, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, engine.CloneRow(t.rows[k]))
	}
	return out
}

// HasIndex reports whether table has an index named name.
func (e *Engine) HasIndex(tableName, name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tables[tableName]
	if t == nil {
		return false
	}
	_, ok := t.indexes[name]
	return ok
}

// HasTable reports whether table exists.
func (e *Engine) HasTable(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[name]
	return ok
}

// CreateTable implements engine.Engine.
func (e *Engine) CreateTable(ctx context.Context, name string, opts engine.TableOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpCreateTable, name); err != nil {
		return err
	}
	if _, ok := e.tables[name]; ok {
		return engine.ErrTableExists
	}
	pk := opts.PrimaryKey
	if pk == "" {
		pk = "id"
	}
	e.tables[name] = &table{
		pk:      pk,
		rows:    make(map[string]engine.Row),
		indexes: make(map[string]engine.IndexOptions),
	}
	return nil
}

// CreateIndex implements engine.Engine.
func (e *Engine) CreateIndex(ctx context.Context, tableName string, opts engine.IndexOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpCreateIndex, tableName); err != nil {
		return err
	}
	t, err := e.table(tableName)
	if err != nil {
		return err
	}
	if opts.Field == "" {
		opts.Field = opts.Name
	}
	if _, ok := t.indexes[opts.Name]; ok {
		return engine.ErrIndexExists
	}
	t.indexes[opts.Name] = opts
	return nil
}

// Insert implements engine.Engine.
func (e *Engine) Insert(ctx context.Context, tableName string, rows []engine.Row, opts engine.WriteOptions) (*engine.WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpInsert, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}

	call := Call{Op: OpInsert, Table: tableName}
	result := &engine.WriteResult{}
	for _, in := range rows {
		row := engine.CloneRow(in)
		if row == nil {
			row = engine.Row{}
		}
		if _, ok := row[t.pk]; !ok {
			row[t.pk] = uuid.NewString()
		}
		call.Keys = append(call.Keys, row[t.pk])
		key := engine.KeyString(row[t.pk])

		old, exists := t.rows[key]
		if exists && opts.Conflict != engine.ConflictReplace {
			result.Errors++
			if result.FirstError == "" {
				result.FirstError = fmt.Sprintf("Duplicate primary key `%s`: %v", t.pk, row[t.pk])
			}
			continue
		}

		e.put(t, key, row)
		if exists {
			result.Replaced++
		} else {
			result.Inserted++
		}
		change := engine.Change{Old: engine.CloneRow(old), New: engine.CloneRow(row)}
		if opts.ReturnChanges {
			result.Changes = append(result.Changes, change)
		}
		e.publish(tableName, t.pk, change)
	}
	e.calls = append(e.calls, call)
	return result, nil
}

// Get implements engine.Engine.
func (e *Engine) Get(ctx context.Context, tableName string, key any) (engine.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpGet, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[engine.KeyString(key)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return engine.CloneRow(row), nil
}

// Replace implements engine.Engine. Replacing a missing row inserts it.
func (e *Engine) Replace(ctx context.Context, tableName string, key any, in engine.Row, opts engine.WriteOptions) (*engine.WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpReplace, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	e.calls = append(e.calls, Call{Op: OpReplace, Table: tableName, Keys: []any{key}})

	result := &engine.WriteResult{}
	row := engine.CloneRow(in)
	if row == nil {
		row = engine.Row{}
	}
	if pk, ok := row[t.pk]; ok && !engine.SameKey(pk, key) {
		result.Errors++
		result.FirstError = fmt.Sprintf("Primary key `%s` cannot be changed", t.pk)
		return result, nil
	}
	row[t.pk] = key

	k := engine.KeyString(key)
	old, exists := t.rows[k]
	e.put(t, k, row)
	if exists {
		result.Replaced++
	} else {
		result.Inserted++
	}
	change := engine.Change{Old: engine.CloneRow(old), New: engine.CloneRow(row)}
	if opts.ReturnChanges {
		result.Changes = append(result.Changes, change)
	}
	e.publish(tableName, t.pk, change)
	return result, nil
}

// Delete implements engine.Engine.
func (e *Engine) Delete(ctx context.Context, tableName string, key any) (*engine.WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpDelete, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	e.calls = append(e.calls, Call{Op: OpDelete, Table: tableName, Keys: []any{key}})

	result := &engine.WriteResult{}
	e.remove(tableName, t, engine.KeyString(key), result)
	return result, nil
}

// GetAll implements engine.Engine.
func (e *Engine) GetAll(ctx context.Context, tableName, index string, values ...any) ([]engine.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpGetAll, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	keys, err := e.match(t, index, values)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Row, 0, len(keys))
	for _, k := range keys {
		out = append(out, engine.CloneRow(t.rows[k]))
	}
	return out, nil
}

// DeleteAll implements engine.Engine.
func (e *Engine) DeleteAll(ctx context.Context, tableName, index string, values ...any) (*engine.WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpDeleteAll, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	keys, err := e.match(t, index, values)
	if err != nil {
		return nil, err
	}
	e.calls = append(e.calls, Call{Op: OpDeleteAll, Table: tableName, Keys: append([]any(nil), values...)})

	result := &engine.WriteResult{}
	for _, k := range keys {
		e.remove(tableName, t, k, result)
	}
	return result, nil
}

// Unset implements engine.Engine.
func (e *Engine) Unset(ctx context.Context, tableName, index string, value any, fields ...string) (*engine.WriteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.injected(OpUnset, tableName); err != nil {
		return nil, err
	}
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}
	keys, err := e.match(t, index, []any{value})
	if err != nil {
		return nil, err
	}
	e.calls = append(e.calls, Call{Op: OpUnset, Table: tableName, Keys: []any{value}})

	result := &engine.WriteResult{}
	for _, k := range keys {
		old := t.rows[k]
		row := engine.CloneRow(old)
		changed := false
		for _, f := range fields {
			if f == t.pk {
				continue
			}
			if _, ok := row[f]; ok {
				delete(row, f)
				changed = true
			}
		}
		if !changed {
			result.Unchanged++
			continue
		}
		t.rows[k] = row
		result.Replaced++
		e.publish(tableName, t.pk, engine.Change{Old: engine.CloneRow(old), New: engine.CloneRow(row)})
	}
	return result, nil
}

// Changes implements engine.Engine.
func (e *Engine) Changes(ctx context.Context, tableName string, opts engine.ChangesOptions) (engine.Feed, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.table(tableName)
	if err != nil {
		return nil, err
	}

	w := &watcher{table: tableName}
	if opts.Key != nil {
		k := engine.KeyString(opts.Key)
		w.key = &k
	}
	w.sub = engine.NewSubscription(func() {
		e.mu.Lock()
		delete(e.watchers, w)
		e.mu.Unlock()
	})

	if opts.IncludeInitial {
		if w.key != nil {
			w.sub.Push(engine.Change{New: engine.CloneRow(t.rows[*w.key]), Initial: true})
		} else {
			for _, k := range t.order {
				w.sub.Push(engine.Change{New: engine.CloneRow(t.rows[k]), Initial: true})
			}
		}
	}
	e.watchers[w] = struct{}{}
	return w.sub, nil
}

func (e *Engine) table(name string) (*table, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrTableNotFound, name)
	}
	return t, nil
}

func (e *Engine) injected(op Op, tableName string) error {
	for i, f := range e.failures {
		if f.op == op && (f.table == "" || f.table == tableName) {
			e.failures = append(e.failures[:i], e.failures[i+1:]...)
			return f.err
		}
	}
	return nil
}

func (e *Engine) put(t *table, key string, row engine.Row) {
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = row
}

func (e *Engine) remove(tableName string, t *table, key string, result *engine.WriteResult) {
	old, ok := t.rows[key]
	if !ok {
		result.Skipped++
		return
	}
	delete(t.rows, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	result.Deleted++
	result.Changes = append(result.Changes, engine.Change{Old: engine.CloneRow(old)})
	e.publish(tableName, t.pk, engine.Change{Old: engine.CloneRow(old)})
}

// match returns the keys of rows whose index value matches one of values, in
// insertion order.
func (e *Engine) match(t *table, index string, values []any) ([]string, error) {
	wanted := make(map[string]bool, len(values))
	for _, v := range values {
		wanted[engine.KeyString(v)] = true
	}

	if index == "" || index == t.pk {
		var keys []string
		for _, v := range values {
			k := engine.KeyString(v)
			if _, ok := t.rows[k]; ok && wanted[k] {
				keys = append(keys, k)
				wanted[k] = false
			}
		}
		return keys, nil
	}

	idx, ok := t.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, index)
	}
	var keys []string
	for _, k := range t.order {
		if indexMatches(t.rows[k], idx, wanted) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func indexMatches(row engine.Row, idx engine.IndexOptions, wanted map[string]bool) bool {
	v, ok := row[idx.Field]
	if !ok {
		return false
	}
	if idx.Multi {
		if list, ok := v.([]any); ok {
			for _, e := range list {
				if wanted[engine.KeyString(e)] {
					return true
				}
			}
			return false
		}
	}
	return wanted[engine.KeyString(v)]
}

func (e *Engine) publish(tableName, pk string, c engine.Change) {
	var key string
	if c.New != nil {
		key = engine.KeyString(c.New[pk])
	} else if c.Old != nil {
		key = engine.KeyString(c.Old[pk])
	}

	for w := range e.watchers {
		if w.table != tableName {
			continue
		}
		if w.key != nil && *w.key != key {
			continue
		}
		w.sub.Push(engine.Change{Old: engine.CloneRow(c.Old), New: engine.CloneRow(c.New)})
	}
}

func containsOp(ops []Op, op Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

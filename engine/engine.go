// Package engine defines the storage-engine contract the document mapper is
// written against.
//
// An Engine is a table-oriented document store: tables keyed by a primary key
// field, secondary indexes on single fields, writes that report the before and
// after state of every row they touched, and change feeds that push those
// before/after pairs to subscribers.
//
// Two implementations ship with the module: [github.com/mbroadst/thinkagain/engine/memory]
// and [github.com/mbroadst/thinkagain/engine/dynamo].
package engine

import (
	"context"
	"errors"
)

var (
	// ErrTableExists is returned by CreateTable when the table already exists.
	ErrTableExists = errors.New("engine: table already exists")

	// ErrIndexExists is returned by CreateIndex when the index already exists.
	ErrIndexExists = errors.New("engine: index already exists")

	// ErrTableNotFound is returned when an operation names an unknown table.
	ErrTableNotFound = errors.New("engine: table not found")

	// ErrIndexNotFound is returned when a range operation names an unknown index.
	ErrIndexNotFound = errors.New("engine: index not found")

	// ErrNotFound is returned by Get when no row has the requested primary key.
	ErrNotFound = errors.New("engine: row not found")

	// ErrFeedClosed is returned by Feed.Next once the feed has been closed.
	ErrFeedClosed = errors.New("engine: cursor closed")

	// ErrUnsupported is returned when an engine cannot provide a capability.
	ErrUnsupported = errors.New("engine: unsupported operation")
)

// Row is a single stored record.
type Row = map[string]any

// Change is a before/after pair for one row. Old is nil for inserts, New is
// nil for deletes.
type Change struct {
	Old Row
	New Row

	// Initial marks changes synthesized from existing state when a feed was
	// opened with IncludeInitial.
	Initial bool
}

// WriteResult summarizes a write request.
type WriteResult struct {
	Inserted  int
	Replaced  int
	Unchanged int
	Deleted   int
	Skipped   int

	// Errors is the number of rows the engine refused to write.
	Errors int

	// FirstError describes the first refused row.
	FirstError string

	// Changes holds one entry per written row, in request order, when
	// ReturnChanges was requested.
	Changes []Change
}

// Conflict selects what Insert does when a row's primary key already exists.
type Conflict int

const (
	// ConflictError refuses the row and counts it in WriteResult.Errors.
	ConflictError Conflict = iota

	// ConflictReplace overwrites the stored row.
	ConflictReplace
)

// WriteOptions configures Insert and Replace.
type WriteOptions struct {
	ReturnChanges bool
	Conflict      Conflict
}

// TableOptions configures CreateTable.
type TableOptions struct {
	// PrimaryKey is the primary key field name. Default: "id".
	PrimaryKey string
}

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	// Name is the index name.
	Name string

	// Field is the indexed field. Defaults to Name.
	Field string

	// Multi indexes every element of an array value separately.
	Multi bool
}

// ChangesOptions configures a change feed.
type ChangesOptions struct {
	// Key restricts the feed to the row with this primary key. Nil means the
	// whole table.
	Key any

	// IncludeInitial emits the current state before live changes. For a keyed
	// feed a single change is emitted even when the row does not exist.
	IncludeInitial bool
}

// Feed is a pull-based, non-restartable sequence of changes.
type Feed interface {
	// Next blocks until a change is available, the feed fails, the feed is
	// closed (ErrFeedClosed) or ctx is done.
	Next(ctx context.Context) (Change, error)

	// Close stops the feed. It is idempotent.
	Close() error
}

// Engine is the storage contract.
//
// An empty index name in GetAll, DeleteAll and Unset addresses the primary key.
type Engine interface {
	CreateTable(ctx context.Context, name string, opts TableOptions) error
	CreateIndex(ctx context.Context, table string, opts IndexOptions) error

	Insert(ctx context.Context, table string, rows []Row, opts WriteOptions) (*WriteResult, error)
	Get(ctx context.Context, table string, key any) (Row, error)
	Replace(ctx context.Context, table string, key any, row Row, opts WriteOptions) (*WriteResult, error)
	Delete(ctx context.Context, table string, key any) (*WriteResult, error)

	GetAll(ctx context.Context, table, index string, values ...any) ([]Row, error)
	DeleteAll(ctx context.Context, table, index string, values ...any) (*WriteResult, error)

	// Unset removes fields from every row whose index matches value.
	Unset(ctx context.Context, table, index string, value any, fields ...string) (*WriteResult, error)

	Changes(ctx context.Context, table string, opts ChangesOptions) (Feed, error)
}

// Merge folds the counters of other into r. Changes are appended.
func (r *WriteResult) Merge(other *WriteResult) {
	if other == nil {
		return
	}
	r.Inserted += other.Inserted
	r.Replaced += other.Replaced
	r.Unchanged += other.Unchanged
	r.Deleted += other.Deleted
	r.Skipped += other.Skipped
	if r.FirstError == "" {
		r.FirstError = other.FirstError
	}
	r.Errors += other.Errors
	r.Changes = append(r.Changes, other.Changes...)
}

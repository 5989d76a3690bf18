package odm

import (
	"context"
	"sync"

	"github.com/mbroadst/thinkagain/engine"
)

// Validator is the schema predicate a model checks documents against. It
// returns nil when data is valid.
type Validator interface {
	Validate(data map[string]any) []string
}

// joinFieldAdder is implemented by validators whose schema must be
// recompiled to accept join fields.
type joinFieldAdder interface {
	AddJoinField(field string) error
}

// ModelOption configures a model at creation.
type ModelOption func(*Model)

// WithPrimaryKey sets the primary key field.
func WithPrimaryKey(field string) ModelOption {
	return func(m *Model) {
		if field != "" {
			m.pk = field
		}
	}
}

// WithValidator sets the schema validator.
func WithValidator(v Validator) ModelOption {
	return func(m *Model) {
		m.validator = v
	}
}

// Model describes one document type: its table, primary key, joins, hooks and
// validator. Joins and indexes are only ever added.
type Model struct {
	db        *DB
	name      string
	pk        string
	validator Validator
	link      bool

	mu      sync.RWMutex
	joins   map[string]*Join
	fields  []string
	reverse []*Join
	indexes map[string]*setupTask
	hooks   map[hookKey][]HookFunc

	tasks     []*setupTask
	tableTask *setupTask
	err       error
}

func newModel(db *DB, name, pk string, link bool) *Model {
	return &Model{
		db:      db,
		name:    name,
		pk:      pk,
		link:    link,
		joins:   make(map[string]*Join),
		indexes: make(map[string]*setupTask),
		hooks:   make(map[hookKey][]HookFunc),
	}
}

// Name returns the model name, which is also its table name.
func (m *Model) Name() string {
	return m.name
}

// PrimaryKey returns the primary key field.
func (m *Model) PrimaryKey() string {
	return m.pk
}

// DB returns the DB the model belongs to.
func (m *Model) DB() *DB {
	return m.db
}

// New creates an unsaved document from data. Values under join fields may be
// documents, maps, or lists of either; maps become documents of the joined
// model.
func (m *Model) New(data map[string]any) (*Document, error) {
	ctx := context.Background()
	d := m.newDocument()
	for k, v := range data {
		d.fields[k] = cloneField(v)
	}

	if err := m.runHooks(ctx, false, HookInit, d); err != nil {
		return nil, err
	}
	for _, j := range m.Joins() {
		v, ok := d.fields[j.Field]
		if !ok {
			continue
		}
		joined, err := j.convert(v)
		if err != nil {
			return nil, err
		}
		if joined == nil {
			delete(d.fields, j.Field)
			continue
		}
		d.fields[j.Field] = joined
	}
	if err := m.runHooks(ctx, true, HookInit, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Model) newDocument() *Document {
	return &Document{
		model:     m,
		fields:    make(map[string]any),
		owned:     make(map[string]*Document),
		ownedMany: make(map[string][]*Document),
		links:     make(map[string]map[string]struct{}),
		parents:   make(map[JoinType][]ParentRef),
	}
}

// fromRow wraps a stored row in a saved document and runs retrieve hooks.
func (m *Model) fromRow(ctx context.Context, row engine.Row) (*Document, error) {
	d := m.newDocument()
	for k, v := range row {
		d.fields[k] = v
	}
	if _, ok := row[m.pk]; ok {
		d.saved = true
	}
	if err := m.runHooks(ctx, true, HookRetrieve, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Model) validate(data map[string]any) error {
	if m.validator == nil {
		return nil
	}
	if v := m.validator.Validate(data); len(v) > 0 {
		return &ValidationError{Model: m.name, Violations: v}
	}
	return nil
}

// indexFor returns the engine index addressing field; the primary key is
// addressed by the empty name.
func (m *Model) indexFor(field string) string {
	if field == m.pk {
		return ""
	}
	return field
}

func cloneField(v any) any {
	switch x := v.(type) {
	case *Document:
		return x
	case []*Document:
		return append([]*Document(nil), x...)
	}
	return engine.CloneValue(v)
}

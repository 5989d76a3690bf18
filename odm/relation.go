package odm

import (
	"context"
	"fmt"

	"github.com/mbroadst/thinkagain/engine"
	"github.com/mbroadst/thinkagain/internal/linkkey"
)

// JoinType is the kind of a relation.
type JoinType int

const (
	// HasOne: the joined document stores this document's LeftKey in its
	// RightKey field.
	HasOne JoinType = iota

	// BelongsTo: this document stores the joined document's RightKey in its
	// LeftKey field.
	BelongsTo

	// HasMany is HasOne with any number of joined documents.
	HasMany

	// HasAndBelongsToMany links documents through rows of a link table.
	HasAndBelongsToMany
)

var joinTypes = []JoinType{HasOne, BelongsTo, HasMany, HasAndBelongsToMany}

func (t JoinType) String() string {
	switch t {
	case HasOne:
		return "hasOne"
	case BelongsTo:
		return "belongsTo"
	case HasMany:
		return "hasMany"
	case HasAndBelongsToMany:
		return "hasAndBelongsToMany"
	}
	return fmt.Sprintf("JoinType(%d)", int(t))
}

// Join describes one relation declared on Owner.
type Join struct {
	Type     JoinType
	Field    string
	Owner    *Model
	Model    *Model
	LeftKey  string
	RightKey string

	// Link and LinkModel are set for HasAndBelongsToMany.
	Link      string
	LinkModel *Model

	linkLeft  string
	linkRight string
	paired    bool
}

// many reports whether the join field holds a list.
func (j *Join) many() bool {
	return j.Type == HasMany || j.Type == HasAndBelongsToMany
}

func (j *Join) linkID(left, right any) string {
	return linkkey.ID(j.Owner.name, j.LeftKey, j.Model.name, j.RightKey, left, right)
}

func (j *Join) linkRow(left, right any) engine.Row {
	id := j.linkID(left, right)
	if j.paired {
		pair := []any{left, right}
		if linkkey.Value(right) < linkkey.Value(left) {
			pair = []any{right, left}
		}
		return engine.Row{"id": id, j.linkLeft: pair}
	}
	return engine.Row{"id": id, j.linkLeft: left, j.linkRight: right}
}

// otherKey returns the joined side's key value stored in a link row read from
// the owner's side.
func (j *Join) otherKey(row engine.Row, left any) (any, bool) {
	if !j.paired {
		v, ok := row[j.linkRight]
		return v, ok
	}
	pair, ok := row[j.linkLeft].([]any)
	if !ok || len(pair) != 2 {
		return nil, false
	}
	if engine.SameKey(pair[0], left) {
		return pair[1], true
	}
	return pair[0], true
}

// convert turns a raw join field value into a *Document or []*Document of the
// joined model. A nil result means the field should be absent.
func (j *Join) convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if !j.many() {
		return j.convertOne(v)
	}

	var items []any
	switch x := v.(type) {
	case []*Document:
		for _, d := range x {
			if d.model != j.Model {
				return nil, invariant("%s.%s holds a %s document, want %s", j.Owner.name, j.Field, d.model.name, j.Model.name)
			}
		}
		return x, nil
	case []any:
		items = x
	case []map[string]any:
		for _, m := range x {
			items = append(items, m)
		}
	default:
		return nil, invariant("%s.%s must be a list, got %T", j.Owner.name, j.Field, v)
	}

	docs := make([]*Document, 0, len(items))
	for _, item := range items {
		d, err := j.convertOne(item)
		if err != nil {
			return nil, err
		}
		if d != nil {
			docs = append(docs, d.(*Document))
		}
	}
	return docs, nil
}

func (j *Join) convertOne(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *Document:
		if x.model != j.Model {
			return nil, invariant("%s.%s holds a %s document, want %s", j.Owner.name, j.Field, x.model.name, j.Model.name)
		}
		return x, nil
	case map[string]any:
		return j.Model.New(x)
	}
	return nil, invariant("%s.%s must be a %s document, got %T", j.Owner.name, j.Field, j.Model.name, v)
}

// JoinOption configures a HasAndBelongsToMany relation.
type JoinOption func(*joinOptions)

type joinOptions struct {
	tag string
}

// LinkType tags the link table so several many-to-many relations between the
// same pair of models use distinct tables.
func LinkType(tag string) JoinOption {
	return func(o *joinOptions) {
		o.tag = tag
	}
}

// HasOne declares that one document of joined stores this document's leftKey
// in its rightKey field, exposed under field.
func (m *Model) HasOne(joined *Model, field, leftKey, rightKey string) error {
	return m.join(HasOne, joined, field, leftKey, rightKey, joinOptions{})
}

// BelongsTo declares that this document stores joined's rightKey in its
// leftKey field.
func (m *Model) BelongsTo(joined *Model, field, leftKey, rightKey string) error {
	return m.join(BelongsTo, joined, field, leftKey, rightKey, joinOptions{})
}

// HasMany declares that any number of documents of joined store this
// document's leftKey in their rightKey field.
func (m *Model) HasMany(joined *Model, field, leftKey, rightKey string) error {
	return m.join(HasMany, joined, field, leftKey, rightKey, joinOptions{})
}

// HasAndBelongsToMany declares a many-to-many relation through a link table.
func (m *Model) HasAndBelongsToMany(joined *Model, field, leftKey, rightKey string, opts ...JoinOption) error {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}
	return m.join(HasAndBelongsToMany, joined, field, leftKey, rightKey, o)
}

// Joins returns the model's joins in declaration order.
func (m *Model) Joins() []*Join {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Join, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, m.joins[f])
	}
	return out
}

// Join returns the join declared under field.
func (m *Model) Join(field string) (*Join, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.joins[field]
	return j, ok
}

// reverseJoins returns joins declared on other models (or this one) that
// target m.
func (m *Model) reverseJoins() []*Join {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Join(nil), m.reverse...)
}

func (m *Model) join(typ JoinType, joined *Model, field, leftKey, rightKey string, o joinOptions) error {
	if joined == nil {
		return invariant("%s %s.%s: joined model is nil", typ, m.name, field)
	}
	if joined.db != m.db {
		return invariant("%s %s.%s: %s belongs to another DB", typ, m.name, field, joined.name)
	}
	if leftKey == "" || rightKey == "" {
		return invariant("%s %s.%s: left and right keys are required", typ, m.name, field)
	}
	if field == "" || field == m.pk || field == leftKey {
		return fmt.Errorf("%w: %s.%q", ErrReservedField, m.name, field)
	}

	j := &Join{
		Type:     typ,
		Field:    field,
		Owner:    m,
		Model:    joined,
		LeftKey:  leftKey,
		RightKey: rightKey,
	}
	if typ == HasAndBelongsToMany {
		j.Link = linkkey.TableName(m.name, joined.name, o.tag)
		j.linkLeft = linkkey.Column(m.name, leftKey)
		j.linkRight = linkkey.Column(joined.name, rightKey)
		j.paired = linkkey.Paired(m.name, leftKey, joined.name, rightKey)
	}

	m.mu.Lock()
	if _, ok := m.joins[field]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s.%s", ErrFieldInUse, m.name, field)
	}
	m.joins[field] = j
	m.fields = append(m.fields, field)
	m.mu.Unlock()

	joined.mu.Lock()
	joined.reverse = append(joined.reverse, j)
	joined.mu.Unlock()

	if adder, ok := m.validator.(joinFieldAdder); ok {
		if err := adder.AddJoinField(field); err != nil {
			return fmt.Errorf("accept join field %s.%s: %w", m.name, field, err)
		}
	}

	switch typ {
	case HasOne, HasMany:
		if rightKey != joined.pk {
			m.track(joined.ensureIndex(rightKey, false))
		}
	case BelongsTo:
		if leftKey != m.pk {
			m.ensureIndex(leftKey, false)
		}
		if rightKey != joined.pk {
			m.track(joined.ensureIndex(rightKey, false))
		}
	case HasAndBelongsToMany:
		m.provisionLink(j)
	}

	m.db.logger.Debug("registered relation",
		"model", m.name,
		"type", typ.String(),
		"field", field,
		"joined", joined.name,
		"link", j.Link,
	)
	return nil
}

// provisionLink creates the link table of j and its column indexes, and
// registers the work on both owning models.
func (m *Model) provisionLink(j *Join) {
	lm := m.db.linkModel(j.Link)
	j.LinkModel = lm

	var owners []*Model
	if j.Model != m {
		owners = append(owners, j.Model)
	}
	all := append([]*Model{m}, owners...)

	lm.mu.RLock()
	table := lm.tableTask
	lm.mu.RUnlock()

	m.schedule("link table "+j.Link, []*setupTask{table}, func(ctx context.Context) error {
		columns := []string{j.linkLeft}
		if !j.paired {
			columns = append(columns, j.linkRight)
		}
		for _, col := range columns {
			t := lm.ensureIndex(col, j.paired)
			for _, o := range all {
				o.track(t)
			}
		}
		return nil
	}, owners...)

	if j.LeftKey != m.pk {
		m.ensureIndex(j.LeftKey, false)
	}
	if j.RightKey != j.Model.pk {
		m.track(j.Model.ensureIndex(j.RightKey, false))
	}
}

package odm

import (
	"context"
	"fmt"
	"sort"

	"github.com/mbroadst/thinkagain/engine"
)

// Tree selects the relations a cascading operation follows, by join field.
// Nested trees select relations of the joined documents.
type Tree map[string]Tree

func (t Tree) has(field string) bool {
	_, ok := t[field]
	return ok
}

// cascade carries the selection state of one save or validate call.
type cascade struct {
	tree Tree
	all  bool

	// saved holds the models already visited by a cascade-all call.
	saved map[string]bool
}

func (c cascade) selects(j *Join) bool {
	if c.tree.has(j.Field) {
		return true
	}
	return c.all && !c.saved[j.Model.name]
}

func (c cascade) enter(j *Join) cascade {
	if c.all {
		c.saved[j.Model.name] = true
	}
	return cascade{tree: c.tree[j.Field], all: c.all, saved: c.saved}
}

// Save writes the document without cascading into joined documents. Foreign
// keys of present belongsTo documents are still copied in.
func (d *Document) Save(ctx context.Context) error {
	return d.save(ctx, cascade{saved: map[string]bool{}})
}

// SaveAll writes the document and every joined document reachable from it.
// Each model is entered at most once, so cyclic relations terminate.
func (d *Document) SaveAll(ctx context.Context) error {
	return d.save(ctx, cascade{all: true, saved: map[string]bool{d.model.name: true}})
}

// SaveRelated writes the document and the joined documents selected by tree.
func (d *Document) SaveRelated(ctx context.Context, tree Tree) error {
	return d.save(ctx, cascade{tree: tree, saved: map[string]bool{}})
}

func (d *Document) save(ctx context.Context, c cascade) error {
	m := d.model
	if err := m.Ready(ctx); err != nil {
		return err
	}

	d.emit(EventSaving, d, nil)
	if err := m.runHooks(ctx, false, HookSave, d); err != nil {
		return err
	}
	if err := d.saveParents(ctx, c); err != nil {
		return err
	}
	if err := d.saveSelf(ctx); err != nil {
		d.emit(EventError, d, err)
		return err
	}
	if err := d.saveChildren(ctx, c); err != nil {
		return err
	}
	return m.runHooks(ctx, true, HookSave, d)
}

// saveParents writes selected belongsTo documents first so their keys exist
// before this document stores them.
func (d *Document) saveParents(ctx context.Context, c cascade) error {
	for _, j := range d.model.Joins() {
		if j.Type != BelongsTo {
			continue
		}
		parent := d.Related(j.Field)
		prev := d.ownedOne(j.Field)

		if parent == nil {
			if prev != nil {
				d.Unset(j.LeftKey)
				prev.removeParent(BelongsTo, d, j.Field)
				d.setOwnedOne(j.Field, nil)
			}
			continue
		}
		if c.selects(j) {
			if err := parent.save(ctx, c.enter(j)); err != nil {
				return fmt.Errorf("save %s.%s: %w", d.model.name, j.Field, err)
			}
		}
		if prev != nil && prev != parent {
			prev.removeParent(BelongsTo, d, j.Field)
		}
		d.setOwnedOne(j.Field, parent)
		parent.addParent(BelongsTo, ParentRef{Doc: d, Field: j.Field, ForeignKey: j.LeftKey})
	}
	return nil
}

// copyForeignKeys copies the keys of present belongsTo documents into d.
func (d *Document) copyForeignKeys() {
	for _, j := range d.model.Joins() {
		if j.Type != BelongsTo {
			continue
		}
		parent := d.Related(j.Field)
		if parent == nil {
			continue
		}
		if v, ok := parent.Get(j.RightKey); ok {
			d.Set(j.LeftKey, v)
		}
	}
}

// validated returns the savable copy of d after running validate hooks and
// the model's validator.
func (d *Document) validated(ctx context.Context) (map[string]any, error) {
	m := d.model
	if err := m.runHooks(ctx, false, HookValidate, d); err != nil {
		return nil, err
	}
	row := d.SavableCopy()
	if err := m.validate(row); err != nil {
		return nil, err
	}
	if err := m.runHooks(ctx, true, HookValidate, d); err != nil {
		return nil, err
	}
	return row, nil
}

func (d *Document) saveSelf(ctx context.Context) error {
	m := d.model
	d.copyForeignKeys()
	row, err := d.validated(ctx)
	if err != nil {
		return err
	}

	var result *engine.WriteResult
	opts := engine.WriteOptions{ReturnChanges: true}
	if !d.IsSaved() {
		result, err = m.db.engine.Insert(ctx, m.name, []engine.Row{row}, opts)
	} else {
		pk, ok := row[m.pk]
		if !ok || pk == nil {
			return invariant("saved %s document lost its primary key %q", m.name, m.pk)
		}
		result, err = m.db.engine.Replace(ctx, m.name, pk, row, opts)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", m.name, err)
	}
	if result.Errors > 0 {
		return &InvalidWriteError{Model: m.name, Errors: result.Errors, First: result.FirstError}
	}
	if len(result.Changes) > 0 {
		ch := result.Changes[0]
		if ch.New != nil {
			d.apply(ch.New)
		}
		d.setOld(ch.Old)
	}
	d.setSaved(true)
	d.emit(EventSaved, d, nil)
	return nil
}

func (d *Document) saveChildren(ctx context.Context, c cascade) error {
	for _, j := range d.model.Joins() {
		var err error
		switch j.Type {
		case HasOne:
			err = d.saveHasOne(ctx, j, c)
		case HasMany:
			err = d.saveHasMany(ctx, j, c)
		case HasAndBelongsToMany:
			err = d.saveLinked(ctx, j, c)
		}
		if err != nil {
			return fmt.Errorf("save %s.%s: %w", d.model.name, j.Field, err)
		}
	}
	return nil
}

func (d *Document) leftKey(j *Join) (any, error) {
	v, ok := d.Get(j.LeftKey)
	if !ok || v == nil {
		return nil, invariant("%s.%s: left key %q is not set", d.model.name, j.Field, j.LeftKey)
	}
	return v, nil
}

// detach clears the foreign key a former child holds to d and persists it.
// The child's belongsTo documents stored under that key go too, since any of
// them would restore the key on save.
func (d *Document) detach(ctx context.Context, j *Join, child *Document) error {
	child.dropBelongsTo(j.RightKey)
	child.Unset(j.RightKey)
	child.removeParent(j.Type, d, j.Field)
	if !child.IsSaved() {
		return nil
	}
	d.model.db.logger.Debug("detaching document",
		"model", child.model.name,
		"parent", d.model.name,
		"field", j.Field,
	)
	return child.Save(ctx)
}

func (d *Document) saveHasOne(ctx context.Context, j *Join, c cascade) error {
	if !c.selects(j) {
		return nil
	}
	sub := c.enter(j)
	child := d.Related(j.Field)
	if prev := d.ownedOne(j.Field); prev != nil && prev != child {
		if err := d.detach(ctx, j, prev); err != nil {
			return err
		}
		d.setOwnedOne(j.Field, nil)
	}
	if child == nil {
		return nil
	}

	key, err := d.leftKey(j)
	if err != nil {
		return err
	}
	child.Set(j.RightKey, key)
	if err := child.save(ctx, sub); err != nil {
		return err
	}
	d.setOwnedOne(j.Field, child)
	child.addParent(HasOne, ParentRef{Doc: d, Field: j.Field, ForeignKey: j.RightKey})
	return nil
}

func (d *Document) saveHasMany(ctx context.Context, j *Join, c cascade) error {
	if !c.selects(j) {
		return nil
	}
	sub := c.enter(j)
	children := d.RelatedList(j.Field)
	for _, prev := range d.ownedList(j.Field) {
		if !containsDoc(children, prev) {
			if err := d.detach(ctx, j, prev); err != nil {
				return err
			}
		}
	}

	if len(children) > 0 {
		key, err := d.leftKey(j)
		if err != nil {
			return err
		}
		for _, child := range children {
			child.Set(j.RightKey, key)
			if err := child.save(ctx, sub); err != nil {
				return err
			}
			child.addParent(HasMany, ParentRef{Doc: d, Field: j.Field, ForeignKey: j.RightKey})
		}
	}
	d.setOwnedList(j.Field, children)
	return nil
}

func (d *Document) saveLinked(ctx context.Context, j *Join, c cascade) error {
	if !c.selects(j) {
		return nil
	}
	sub := c.enter(j)
	children := d.RelatedList(j.Field)
	for _, child := range children {
		if err := child.save(ctx, sub); err != nil {
			return err
		}
		child.addParent(HasAndBelongsToMany, ParentRef{Doc: d, Field: j.Field})
	}
	for _, prev := range d.ownedList(j.Field) {
		if !containsDoc(children, prev) {
			prev.removeParent(HasAndBelongsToMany, d, j.Field)
		}
	}
	d.setOwnedList(j.Field, children)
	return d.reconcileLinks(ctx, j, children)
}

// reconcileLinks makes the link rows of field match children: missing links
// are inserted in one write, stale ones removed in one range delete. Nothing
// is written when the links are already current.
func (d *Document) reconcileLinks(ctx context.Context, j *Join, children []*Document) error {
	if err := j.LinkModel.Ready(ctx); err != nil {
		return err
	}

	want := make(map[string]struct{}, len(children))
	var rows []engine.Row
	known := d.knownLinks(j.Field)
	if len(children) > 0 {
		left, err := d.leftKey(j)
		if err != nil {
			return err
		}
		for _, child := range children {
			right, ok := child.Get(j.RightKey)
			if !ok || right == nil {
				return invariant("%s.%s: joined %s document has no %q", d.model.name, j.Field, j.Model.name, j.RightKey)
			}
			id := j.linkID(left, right)
			if _, dup := want[id]; dup {
				continue
			}
			want[id] = struct{}{}
			if _, ok := known[id]; !ok {
				rows = append(rows, j.linkRow(left, right))
			}
		}
	}

	var stale []string
	for id := range known {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)

	e := d.model.db.engine
	if len(rows) > 0 {
		result, err := e.Insert(ctx, j.Link, rows, engine.WriteOptions{Conflict: engine.ConflictReplace})
		if err != nil {
			return fmt.Errorf("write links %s: %w", j.Link, err)
		}
		if result.Errors > 0 {
			return &InvalidWriteError{Model: j.Link, Errors: result.Errors, First: result.FirstError}
		}
	}
	if len(stale) > 0 {
		keys := make([]any, len(stale))
		for i, id := range stale {
			keys[i] = id
		}
		if _, err := e.DeleteAll(ctx, j.Link, "", keys...); err != nil {
			return fmt.Errorf("remove links %s: %w", j.Link, err)
		}
	}
	d.setKnownLinks(j.Field, want)
	return nil
}

func containsDoc(list []*Document, doc *Document) bool {
	for _, e := range list {
		if e == doc {
			return true
		}
	}
	return false
}

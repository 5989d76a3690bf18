package odm

import (
	"context"
	"fmt"

	"github.com/mbroadst/thinkagain/engine"
)

// Delete removes the document. Joined documents are not deleted: hasOne and
// hasMany children have their foreign key cleared, and documents that belong
// to this one are detached and re-saved.
func (d *Document) Delete(ctx context.Context) error {
	return d.delete(ctx, deletion{visited: map[*Document]bool{}})
}

// DeleteAll removes the document and every joined document reachable from it.
func (d *Document) DeleteAll(ctx context.Context) error {
	return d.delete(ctx, deletion{all: true, visited: map[*Document]bool{}})
}

// DeleteRelated removes the document and the joined documents selected by
// tree.
func (d *Document) DeleteRelated(ctx context.Context, tree Tree) error {
	return d.delete(ctx, deletion{tree: tree, visited: map[*Document]bool{}})
}

type deletion struct {
	tree    Tree
	all     bool
	visited map[*Document]bool
}

func (del deletion) selects(j *Join) bool {
	return del.all || del.tree.has(j.Field)
}

func (del deletion) enter(j *Join) deletion {
	return deletion{tree: del.tree[j.Field], all: del.all, visited: del.visited}
}

func (d *Document) delete(ctx context.Context, del deletion) error {
	m := d.model
	if err := m.Ready(ctx); err != nil {
		return err
	}
	del.visited[d] = true
	if err := m.runHooks(ctx, false, HookDelete, d); err != nil {
		return err
	}

	for _, j := range m.Joins() {
		if err := d.deleteJoined(ctx, j, del); err != nil {
			return fmt.Errorf("delete %s.%s: %w", m.name, j.Field, err)
		}
	}
	if err := d.updateParents(ctx, del.visited); err != nil {
		return err
	}

	if d.IsSaved() {
		pk, ok := d.PrimaryKey()
		if !ok {
			return invariant("saved %s document lost its primary key %q", m.name, m.pk)
		}
		result, err := m.db.engine.Delete(ctx, m.name, pk)
		if err != nil {
			return fmt.Errorf("delete %s: %w", m.name, err)
		}
		if result.Errors > 0 {
			return &InvalidWriteError{Model: m.name, Errors: result.Errors, First: result.FirstError}
		}
		d.setSaved(false)
		d.resetRelations()
		d.emit(EventDeleted, d, nil)
	}
	return m.runHooks(ctx, true, HookDelete, d)
}

func (d *Document) deleteJoined(ctx context.Context, j *Join, del deletion) error {
	selected := del.selects(j)
	sub := del.enter(j)

	var docs []*Document
	if j.many() {
		docs = d.RelatedList(j.Field)
	} else if doc := d.Related(j.Field); doc != nil {
		docs = []*Document{doc}
	}

	if j.Type == HasAndBelongsToMany {
		return d.deleteLinked(ctx, j, docs, selected, sub)
	}

	for _, child := range docs {
		if selected {
			if !del.visited[child] {
				if err := child.delete(ctx, sub); err != nil {
					return err
				}
			}
			continue
		}
		if j.Type == BelongsTo {
			child.removeParent(BelongsTo, d, j.Field)
			continue
		}
		if err := d.detach(ctx, j, child); err != nil {
			return err
		}
	}
	return nil
}

// deleteLinked removes every link row of the field with one range delete and
// deletes the linked documents when selected.
func (d *Document) deleteLinked(ctx context.Context, j *Join, docs []*Document, selected bool, sub deletion) error {
	for _, child := range docs {
		child.removeParent(HasAndBelongsToMany, d, j.Field)
		if selected && !sub.visited[child] {
			if err := child.delete(ctx, sub); err != nil {
				return err
			}
		}
	}

	ids := d.knownLinks(j.Field)
	if left, ok := d.Get(j.LeftKey); ok && left != nil {
		for _, child := range docs {
			if right, ok := child.Get(j.RightKey); ok && right != nil {
				ids[j.linkID(left, right)] = struct{}{}
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]any, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	if _, err := d.model.db.engine.DeleteAll(ctx, j.Link, "", keys...); err != nil {
		return fmt.Errorf("remove links %s: %w", j.Link, err)
	}
	d.setKnownLinks(j.Field, nil)
	return nil
}

// updateParents removes d from every document that references it. Documents
// that belong to d lose their foreign key and are re-saved; many-to-many
// parents lose their link row. Parents being deleted in the same call are
// skipped.
func (d *Document) updateParents(ctx context.Context, visited map[*Document]bool) error {
	refs := d.takeParents()
	e := d.model.db.engine
	for _, t := range joinTypes {
		for _, ref := range refs[t] {
			p := ref.Doc
			if visited[p] {
				continue
			}
			p.removeRelated(ref.Field, d)

			switch t {
			case HasAndBelongsToMany:
				j, ok := p.model.Join(ref.Field)
				if !ok {
					continue
				}
				left, lok := p.Get(j.LeftKey)
				right, rok := d.Get(j.RightKey)
				if !lok || !rok {
					continue
				}
				id := j.linkID(left, right)
				p.forgetLink(ref.Field, id)
				if _, err := e.DeleteAll(ctx, j.Link, "", id); err != nil {
					return fmt.Errorf("remove link %s: %w", j.Link, err)
				}
			case BelongsTo:
				p.dropBelongsTo(ref.ForeignKey)
				p.Unset(ref.ForeignKey)
				if p.IsSaved() {
					if err := p.Save(ctx); err != nil {
						return fmt.Errorf("detach %s.%s: %w", p.model.name, ref.Field, err)
					}
				}
			}
		}
	}
	return nil
}

// Purge deletes the document and removes every stored reference to it,
// including references held by documents that were never loaded: foreign keys
// pointing at it are unset and its link rows are deleted, using index range
// operations.
func (d *Document) Purge(ctx context.Context) error {
	m := d.model
	if err := m.Ready(ctx); err != nil {
		return err
	}

	e := m.db.engine
	done := make(map[string]bool)
	once := func(key string) bool {
		if done[key] {
			return false
		}
		done[key] = true
		return true
	}

	for _, j := range m.Joins() {
		left, ok := d.Get(j.LeftKey)
		if !ok || left == nil {
			continue
		}
		switch j.Type {
		case HasOne, HasMany:
			if j.RightKey == j.Model.pk {
				continue
			}
			if !once("unset|" + j.Model.name + "|" + j.RightKey + "|" + engine.KeyString(left)) {
				continue
			}
			if _, err := e.Unset(ctx, j.Model.name, j.RightKey, left, j.RightKey); err != nil {
				return fmt.Errorf("purge %s.%s: %w", m.name, j.Field, err)
			}
		case HasAndBelongsToMany:
			if !once("links|" + j.Link + "|" + j.linkLeft + "|" + engine.KeyString(left)) {
				continue
			}
			if _, err := e.DeleteAll(ctx, j.Link, j.linkLeft, left); err != nil {
				return fmt.Errorf("purge %s.%s: %w", m.name, j.Field, err)
			}
		}
	}

	for _, j := range m.reverseJoins() {
		right, ok := d.Get(j.RightKey)
		if !ok || right == nil {
			continue
		}
		switch j.Type {
		case BelongsTo:
			if j.LeftKey == j.Owner.pk {
				continue
			}
			if !once("unset|" + j.Owner.name + "|" + j.LeftKey + "|" + engine.KeyString(right)) {
				continue
			}
			if _, err := e.Unset(ctx, j.Owner.name, j.LeftKey, right, j.LeftKey); err != nil {
				return fmt.Errorf("purge %s.%s: %w", j.Owner.name, j.Field, err)
			}
		case HasAndBelongsToMany:
			col := j.linkRight
			if j.paired {
				col = j.linkLeft
			}
			if !once("links|" + j.Link + "|" + col + "|" + engine.KeyString(right)) {
				continue
			}
			if _, err := e.DeleteAll(ctx, j.Link, col, right); err != nil {
				return fmt.Errorf("purge %s.%s: %w", j.Owner.name, j.Field, err)
			}
		}
	}

	m.db.logger.Debug("purged references", "model", m.name, "operations", len(done))
	return d.delete(ctx, deletion{visited: map[*Document]bool{}})
}

package odm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbroadst/thinkagain/engine"
)

// Get loads the document with primary key key.
func (m *Model) Get(ctx context.Context, key any) (*Document, error) {
	if err := m.Ready(ctx); err != nil {
		return nil, err
	}
	row, err := m.db.engine.Get(ctx, m.name, key)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, &DocumentNotFoundError{Model: m.name, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %v: %w", m.name, key, err)
	}
	return m.fromRow(ctx, row)
}

// GetAll loads every document whose index matches one of values. An empty
// index name means the primary key.
func (m *Model) GetAll(ctx context.Context, index string, values ...any) ([]*Document, error) {
	if err := m.Ready(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.engine.GetAll(ctx, m.name, index, values...)
	if err != nil {
		return nil, fmt.Errorf("get all %s by %q: %w", m.name, index, err)
	}
	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		d, err := m.fromRow(ctx, row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// GetJoin loads the document with primary key key and the joined documents
// selected by tree. A nil tree loads every relation recursively, entering each
// model at most once along a path.
func (m *Model) GetJoin(ctx context.Context, key any, tree Tree) (*Document, error) {
	d, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := d.loadJoins(ctx, tree, tree == nil, map[string]bool{m.name: true}); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) loadJoins(ctx context.Context, tree Tree, all bool, path map[string]bool) error {
	m := d.model
	for _, j := range m.Joins() {
		if !tree.has(j.Field) && !(all && !path[j.Model.name]) {
			continue
		}
		next := make(map[string]bool, len(path)+1)
		for k := range path {
			next[k] = true
		}
		next[j.Model.name] = true

		docs, err := d.fetchJoined(ctx, j)
		if err != nil {
			return fmt.Errorf("load %s.%s: %w", m.name, j.Field, err)
		}
		for _, child := range docs {
			if err := child.loadJoins(ctx, tree[j.Field], all, next); err != nil {
				return err
			}
		}
		d.attach(j, docs)
	}
	return nil
}

// fetchJoined reads the documents joined to d through j.
func (d *Document) fetchJoined(ctx context.Context, j *Join) ([]*Document, error) {
	left, ok := d.Get(j.LeftKey)
	if !ok || left == nil {
		return nil, nil
	}
	if j.Type != HasAndBelongsToMany {
		docs, err := j.Model.GetAll(ctx, j.Model.indexFor(j.RightKey), left)
		if err != nil {
			return nil, err
		}
		if !j.many() && len(docs) > 1 {
			return nil, invariant("%s %s.%s matched %d %s documents", j.Type, d.model.name, j.Field, len(docs), j.Model.name)
		}
		return docs, nil
	}

	if err := j.LinkModel.Ready(ctx); err != nil {
		return nil, err
	}
	links, err := d.model.db.engine.GetAll(ctx, j.Link, j.linkLeft, left)
	if err != nil {
		return nil, fmt.Errorf("read links %s: %w", j.Link, err)
	}
	ids := make(map[string]struct{}, len(links))
	var rights []any
	for _, row := range links {
		right, ok := j.otherKey(row, left)
		if !ok {
			continue
		}
		ids[j.linkID(left, right)] = struct{}{}
		rights = append(rights, right)
	}
	d.setKnownLinks(j.Field, ids)
	if len(rights) == 0 {
		return nil, nil
	}
	return j.Model.GetAll(ctx, j.Model.indexFor(j.RightKey), rights...)
}

// attach installs loaded documents under j's field with the bookkeeping a
// save would have recorded.
func (d *Document) attach(j *Join, docs []*Document) {
	switch j.Type {
	case HasOne, BelongsTo:
		if len(docs) == 0 {
			d.Unset(j.Field)
			d.setOwnedOne(j.Field, nil)
			return
		}
		child := docs[0]
		d.Set(j.Field, child)
		d.setOwnedOne(j.Field, child)
		if j.Type == HasOne {
			child.addParent(HasOne, ParentRef{Doc: d, Field: j.Field, ForeignKey: j.RightKey})
		} else {
			child.addParent(BelongsTo, ParentRef{Doc: d, Field: j.Field, ForeignKey: j.LeftKey})
		}
	case HasMany, HasAndBelongsToMany:
		d.Set(j.Field, docs)
		d.setOwnedList(j.Field, docs)
		for _, child := range docs {
			ref := ParentRef{Doc: d, Field: j.Field}
			if j.Type == HasMany {
				ref.ForeignKey = j.RightKey
			}
			child.addParent(j.Type, ref)
		}
	}
}

// Update merges patch into the stored document with primary key key. Unless
// post-validation is disabled, the stored result is validated after the write
// and reverted to the previous row when invalid.
func (m *Model) Update(ctx context.Context, key any, patch map[string]any) (*Document, error) {
	if err := m.Ready(ctx); err != nil {
		return nil, err
	}
	e := m.db.engine
	row, err := e.Get(ctx, m.name, key)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, &DocumentNotFoundError{Model: m.name, Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("update %s %v: %w", m.name, key, err)
	}

	merged := MergeFields(row, patch)
	merged[m.pk] = key
	if m.db.config.SkipPostValidation {
		if err := m.validate(merged); err != nil {
			return nil, err
		}
	}

	result, err := e.Replace(ctx, m.name, key, merged, engine.WriteOptions{ReturnChanges: true})
	if err != nil {
		return nil, fmt.Errorf("update %s %v: %w", m.name, key, err)
	}
	if result.Errors > 0 {
		return nil, &InvalidWriteError{Model: m.name, Errors: result.Errors, First: result.FirstError}
	}
	if len(result.Changes) == 0 {
		return nil, invariant("update %s %v returned no change", m.name, key)
	}
	ch := result.Changes[0]

	if !m.db.config.SkipPostValidation {
		if verr := m.validate(ch.New); verr != nil {
			werr := &InvalidWriteError{Model: m.name, Cause: verr}
			reverted, rerr := e.Replace(ctx, m.name, key, ch.Old, engine.WriteOptions{})
			switch {
			case rerr != nil:
				werr.RevertErr = rerr
			case reverted.Errors > 0:
				werr.RevertErr = errors.New(reverted.FirstError)
			}
			m.db.logger.Warn("reverted invalid update",
				"model", m.name,
				"key", key,
				"revert_error", werr.RevertErr,
			)
			return nil, werr
		}
	}

	d, err := m.fromRow(ctx, ch.New)
	if err != nil {
		return nil, err
	}
	d.setOld(ch.Old)
	return d, nil
}

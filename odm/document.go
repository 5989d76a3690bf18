package odm

import (
	"sync"

	"github.com/mbroadst/thinkagain/engine"
)

// ParentRef records a document that references another through a relation.
// ForeignKey is the field holding the key on the referencing side, empty for
// many-to-many links.
type ParentRef struct {
	Doc        *Document
	Field      string
	ForeignKey string
}

// Document is one instance of a model: a field map plus the relation state
// needed to cascade saves and deletes. A Document is safe for concurrent use,
// but cascades over a shared graph must not run concurrently.
type Document struct {
	emitter

	model *Model

	mu     sync.RWMutex
	fields map[string]any
	saved  bool
	old    map[string]any

	// owned holds the hasOne and belongsTo documents last saved or loaded,
	// ownedMany the hasMany and many-to-many lists.
	owned     map[string]*Document
	ownedMany map[string][]*Document

	// links holds the link ids known to exist per many-to-many field.
	links map[string]map[string]struct{}

	// parents holds documents that reference this one, by relation type.
	parents map[JoinType][]ParentRef

	feed      engine.Feed
	feedState FeedState
}

// Model returns the document's model.
func (d *Document) Model() *Model {
	return d.model
}

// Get returns the value of field.
func (d *Document) Get(field string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.fields[field]
	return v, ok
}

// Set sets field to value. Join fields take a *Document or []*Document of the
// joined model.
func (d *Document) Set(field string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields[field] = value
}

// Unset removes field.
func (d *Document) Unset(field string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fields, field)
}

// Fields returns a shallow copy of the field map.
func (d *Document) Fields() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

// Related returns the document held under a to-one join field.
func (d *Document) Related(field string) *Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, _ := d.fields[field].(*Document)
	return doc
}

// RelatedList returns the documents held under a to-many join field.
func (d *Document) RelatedList(field string) []*Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return relatedList(d.fields[field])
}

func relatedList(v any) []*Document {
	switch x := v.(type) {
	case []*Document:
		return append([]*Document(nil), x...)
	case []any:
		var out []*Document
		for _, e := range x {
			if doc, ok := e.(*Document); ok {
				out = append(out, doc)
			}
		}
		return out
	}
	return nil
}

// Append adds docs to a to-many join field.
func (d *Document) Append(field string, docs ...*Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields[field] = append(relatedList(d.fields[field]), docs...)
}

// PrimaryKey returns the primary key value, if set.
func (d *Document) PrimaryKey() (any, bool) {
	v, ok := d.Get(d.model.pk)
	if v == nil {
		return nil, false
	}
	return v, ok
}

// IsSaved reports whether the document matches a stored row.
func (d *Document) IsSaved() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.saved
}

// OldValue returns a copy of the row the last write or change replaced.
func (d *Document) OldValue() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return engine.CloneRow(d.old)
}

// Merge deep-merges data into the document. Nested maps are merged key by
// key; maps under join fields are merged into the joined document.
func (d *Document) Merge(data map[string]any) error {
	for k, v := range data {
		j, isJoin := d.model.Join(k)
		if isJoin {
			if m, ok := v.(map[string]any); ok && !j.many() {
				if child := d.Related(k); child != nil {
					if err := child.Merge(m); err != nil {
						return err
					}
					continue
				}
			}
			joined, err := j.convert(v)
			if err != nil {
				return err
			}
			d.mu.Lock()
			if joined == nil {
				delete(d.fields, k)
			} else {
				d.fields[k] = joined
			}
			d.mu.Unlock()
			continue
		}

		d.mu.Lock()
		d.fields[k] = mergeValue(d.fields[k], v)
		d.mu.Unlock()
	}
	return nil
}

// Replace sets the document's fields to data. Fields absent from data are
// removed unless they hold joined documents.
func (d *Document) Replace(data map[string]any) error {
	converted := make(map[string]any, len(data))
	for k, v := range data {
		if j, ok := d.model.Join(k); ok {
			joined, err := j.convert(v)
			if err != nil {
				return err
			}
			if joined != nil {
				converted[k] = joined
			}
			continue
		}
		converted[k] = engine.CloneValue(v)
	}
	d.apply(converted)
	return nil
}

// apply installs row as the document's stored state, keeping joined
// documents.
func (d *Document) apply(row map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.fields {
		if _, ok := row[k]; ok {
			continue
		}
		if d.joinedValue(k, v) {
			continue
		}
		delete(d.fields, k)
	}
	for k, v := range row {
		d.fields[k] = v
	}
}

// joinedValue reports whether v, stored under field, is relation state rather
// than data.
func (d *Document) joinedValue(field string, v any) bool {
	if _, ok := d.model.Join(field); !ok {
		return false
	}
	switch x := v.(type) {
	case nil, *Document, []*Document:
		return true
	case []any:
		for _, e := range x {
			if _, ok := e.(*Document); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func (d *Document) setSaved(saved bool) {
	d.mu.Lock()
	d.saved = saved
	d.mu.Unlock()
}

func (d *Document) setOld(row engine.Row) {
	d.mu.Lock()
	d.old = row
	d.mu.Unlock()
}

// clear removes every field, used when a feed reports the row deleted.
func (d *Document) clear() {
	d.mu.Lock()
	d.fields = make(map[string]any)
	d.mu.Unlock()
}

// On registers a listener for ev.
func (d *Document) On(ev Event, fn Listener) {
	d.on(ev, fn)
}

// ParentRefs returns the documents referencing this one through relations of
// type t.
func (d *Document) ParentRefs(t JoinType) []ParentRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]ParentRef(nil), d.parents[t]...)
}

func (d *Document) addParent(t JoinType, ref ParentRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.parents[t] {
		if p.Doc == ref.Doc && p.Field == ref.Field {
			return
		}
	}
	d.parents[t] = append(d.parents[t], ref)
}

func (d *Document) removeParent(t JoinType, parent *Document, field string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	refs := d.parents[t][:0]
	for _, p := range d.parents[t] {
		if p.Doc == parent && p.Field == field {
			continue
		}
		refs = append(refs, p)
	}
	d.parents[t] = refs
}

// takeParents returns and forgets every parent reference.
func (d *Document) takeParents() map[JoinType][]ParentRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.parents
	d.parents = make(map[JoinType][]ParentRef)
	return out
}

func (d *Document) ownedOne(field string) *Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.owned[field]
}

func (d *Document) setOwnedOne(field string, doc *Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc == nil {
		delete(d.owned, field)
		return
	}
	d.owned[field] = doc
}

func (d *Document) ownedList(field string) []*Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Document(nil), d.ownedMany[field]...)
}

func (d *Document) setOwnedList(field string, docs []*Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(docs) == 0 {
		delete(d.ownedMany, field)
		return
	}
	d.ownedMany[field] = append([]*Document(nil), docs...)
}

func (d *Document) knownLinks(field string) map[string]struct{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]struct{}, len(d.links[field]))
	for id := range d.links[field] {
		out[id] = struct{}{}
	}
	return out
}

func (d *Document) setKnownLinks(field string, ids map[string]struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(ids) == 0 {
		delete(d.links, field)
		return
	}
	d.links[field] = ids
}

func (d *Document) forgetLink(field, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.links[field], id)
}

// removeRelated drops doc from a join field, whether it holds one document or
// a list.
func (d *Document) removeRelated(field string, doc *Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch x := d.fields[field].(type) {
	case *Document:
		if x == doc {
			delete(d.fields, field)
		}
	case []*Document, []any:
		list := relatedList(x)
		kept := list[:0]
		for _, e := range list {
			if e != doc {
				kept = append(kept, e)
			}
		}
		d.fields[field] = kept
	}
	if d.owned[field] == doc {
		delete(d.owned, field)
	}
	if list, ok := d.ownedMany[field]; ok {
		kept := make([]*Document, 0, len(list))
		for _, e := range list {
			if e != doc {
				kept = append(kept, e)
			}
		}
		d.ownedMany[field] = kept
	}
}

// dropBelongsTo removes every belongsTo document whose foreign key is stored
// in key, so a later save cannot copy the key back from it. Each dropped
// parent forgets its reference to d.
func (d *Document) dropBelongsTo(key string) {
	var fields []string
	for _, j := range d.model.Joins() {
		if j.Type == BelongsTo && j.LeftKey == key {
			fields = append(fields, j.Field)
		}
	}
	if len(fields) == 0 {
		return
	}

	dropped := make(map[string]*Document, len(fields))
	d.mu.Lock()
	for _, f := range fields {
		if doc, ok := d.fields[f].(*Document); ok {
			dropped[f] = doc
		} else if doc := d.owned[f]; doc != nil {
			dropped[f] = doc
		}
		delete(d.fields, f)
		delete(d.owned, f)
	}
	d.mu.Unlock()

	for f, parent := range dropped {
		parent.removeParent(BelongsTo, d, f)
	}
}

// resetRelations forgets ownership and link state after the document was
// deleted.
func (d *Document) resetRelations() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owned = make(map[string]*Document)
	d.ownedMany = make(map[string][]*Document)
	d.links = make(map[string]map[string]struct{})
}

// mergeValue deep-merges src into dst for maps; any other src replaces dst.
func mergeValue(dst, src any) any {
	s, ok := src.(map[string]any)
	if !ok {
		return engine.CloneValue(src)
	}
	d, ok := dst.(map[string]any)
	if !ok {
		return engine.CloneRow(s)
	}
	out := engine.CloneRow(d)
	if out == nil {
		out = make(map[string]any, len(s))
	}
	for k, v := range s {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

// MergeFields returns a deep merge of src into dst. Neither input is
// modified.
func MergeFields(dst, src map[string]any) map[string]any {
	merged, _ := mergeValue(dst, src).(map[string]any)
	if merged == nil {
		merged = make(map[string]any)
	}
	return merged
}

package odm

import (
	"context"
	"fmt"

	"github.com/mbroadst/thinkagain/engine"
)

// Save writes docs, which must all belong to m, without cascading. Every
// document is validated before anything is written. Unsaved documents are
// inserted with a single engine write; if the engine refuses any row the whole
// batch fails with one *InvalidWriteError and no document is marked saved.
// Documents that are already saved are then replaced one by one. Batching
// covers only the documents of one call; concurrent calls are written
// independently and never merged.
func (m *Model) Save(ctx context.Context, docs ...*Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if d.model != m {
			return invariant("batch save on %s got a %s document", m.name, d.model.name)
		}
	}
	if err := m.Ready(ctx); err != nil {
		return err
	}

	var (
		fresh    []*Document
		rows     []engine.Row
		existing []*Document
	)
	for _, d := range docs {
		if d.IsSaved() {
			d.copyForeignKeys()
			if _, err := d.validated(ctx); err != nil {
				return err
			}
			existing = append(existing, d)
			continue
		}
		d.emit(EventSaving, d, nil)
		if err := m.runHooks(ctx, false, HookSave, d); err != nil {
			return err
		}
		d.copyForeignKeys()
		row, err := d.validated(ctx)
		if err != nil {
			return err
		}
		fresh = append(fresh, d)
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		result, err := m.db.engine.Insert(ctx, m.name, rows, engine.WriteOptions{ReturnChanges: true})
		if err != nil {
			return fmt.Errorf("batch save %s: %w", m.name, err)
		}
		if result.Errors > 0 {
			werr := &InvalidWriteError{Model: m.name, Errors: result.Errors, First: result.FirstError}
			for _, d := range fresh {
				d.emit(EventError, d, werr)
			}
			return werr
		}
		if len(result.Changes) != len(fresh) {
			return invariant("batch save %s: %d changes for %d documents", m.name, len(result.Changes), len(fresh))
		}
		for i, d := range fresh {
			ch := result.Changes[i]
			if ch.New != nil {
				d.apply(ch.New)
			}
			d.setOld(ch.Old)
			d.setSaved(true)
			d.emit(EventSaved, d, nil)
		}
		m.db.logger.Debug("batch inserted documents", "model", m.name, "count", len(fresh))
	}

	for _, d := range existing {
		if err := d.Save(ctx); err != nil {
			return err
		}
	}
	for _, d := range fresh {
		if err := m.runHooks(ctx, true, HookSave, d); err != nil {
			return err
		}
	}
	return nil
}

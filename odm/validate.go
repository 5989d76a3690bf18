package odm

import (
	"context"
	"fmt"
)

// Validate checks the document against its model without writing.
func (d *Document) Validate(ctx context.Context) error {
	d.copyForeignKeys()
	_, err := d.validated(ctx)
	return err
}

// ValidateAll validates the document and the joined documents selected by
// tree. A nil tree selects every relation, entering each model once.
func (d *Document) ValidateAll(ctx context.Context, tree Tree) error {
	c := cascade{tree: tree, saved: map[string]bool{d.model.name: true}}
	if tree == nil {
		c.all = true
	}
	return d.validateTree(ctx, c)
}

func (d *Document) validateTree(ctx context.Context, c cascade) error {
	if err := d.Validate(ctx); err != nil {
		return err
	}
	for _, j := range d.model.Joins() {
		if !c.selects(j) {
			continue
		}
		sub := c.enter(j)
		var docs []*Document
		if j.many() {
			docs = d.RelatedList(j.Field)
		} else if doc := d.Related(j.Field); doc != nil {
			docs = []*Document{doc}
		}
		for _, doc := range docs {
			if err := doc.validateTree(ctx, sub); err != nil {
				return fmt.Errorf("validate %s.%s: %w", d.model.name, j.Field, err)
			}
		}
	}
	return nil
}

package odm

import (
	"fmt"

	"github.com/mbroadst/thinkagain/schema"
)

// Apply creates the models and relations declared in defs. Models are created
// first so relations may reference models declared later in the file.
func (db *DB) Apply(defs *schema.Definitions) (map[string]*Model, error) {
	validators, err := defs.Validators()
	if err != nil {
		return nil, err
	}

	models := make(map[string]*Model, len(defs.Models))
	for _, md := range defs.Models {
		opts := []ModelOption{WithPrimaryKey(md.PrimaryKey)}
		if v, ok := validators[md.Name]; ok {
			opts = append(opts, WithValidator(v))
		}
		m, err := db.CreateModel(md.Name, opts...)
		if err != nil {
			return nil, err
		}
		models[md.Name] = m
	}

	for _, md := range defs.Models {
		m := models[md.Name]
		for _, r := range md.Relations {
			joined, ok := models[r.Model]
			if !ok {
				return nil, invariant("%s.%s references unknown model %q", md.Name, r.Field, r.Model)
			}
			var err error
			switch r.Type {
			case schema.RelationHasOne:
				err = m.HasOne(joined, r.Field, r.LeftKey, r.RightKey)
			case schema.RelationBelongsTo:
				err = m.BelongsTo(joined, r.Field, r.LeftKey, r.RightKey)
			case schema.RelationHasMany:
				err = m.HasMany(joined, r.Field, r.LeftKey, r.RightKey)
			case schema.RelationHasAndBelongsToMany:
				err = m.HasAndBelongsToMany(joined, r.Field, r.LeftKey, r.RightKey, LinkType(r.LinkType))
			default:
				err = invariant("%s.%s has unknown relation type %q", md.Name, r.Field, r.Type)
			}
			if err != nil {
				return nil, fmt.Errorf("apply %s.%s: %w", md.Name, r.Field, err)
			}
		}
	}
	return models, nil
}

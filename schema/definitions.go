package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

var (
	errDefinitionsRead    = errors.New("schema: cannot read definitions")
	errDefinitionsInvalid = errors.New("schema: invalid definitions")
)

// Relation types accepted in definition files.
const (
	RelationHasOne              = "hasOne"
	RelationBelongsTo           = "belongsTo"
	RelationHasMany             = "hasMany"
	RelationHasAndBelongsToMany = "hasAndBelongsToMany"
)

// Definitions is the content of a model definition file.
//
//	{
//	  // comments and trailing commas are allowed
//	  "models": [
//	    {
//	      "name": "posts",
//	      "schema": {"type": "object", "properties": {"title": {"type": "string"}}},
//	      "relations": [
//	        {"type": "belongsTo", "field": "author", "model": "users", "leftKey": "authorId", "rightKey": "id"},
//	      ],
//	    },
//	  ],
//	}
type Definitions struct {
	Models []ModelDefinition `json:"models"`
}

// ModelDefinition declares one model.
type ModelDefinition struct {
	Name       string               `json:"name"`
	PrimaryKey string               `json:"primaryKey,omitempty"`
	Schema     map[string]any       `json:"schema,omitempty"`
	Relations  []RelationDefinition `json:"relations,omitempty"`
}

// RelationDefinition declares one join of a model.
type RelationDefinition struct {
	Type     string `json:"type"`
	Field    string `json:"field"`
	Model    string `json:"model"`
	LeftKey  string `json:"leftKey"`
	RightKey string `json:"rightKey"`

	// LinkType tags the link table of a many-to-many relation.
	LinkType string `json:"linkType,omitempty"`
}

// LoadDefinitions reads and parses a definition file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errDefinitionsRead, path, err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions parses HuJSON definition content and checks it for
// structural errors.
func ParseDefinitions(data []byte) (*Definitions, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSONC: %w", errDefinitionsInvalid, err)
	}
	var defs Definitions
	if err := json.Unmarshal(std, &defs); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %w", errDefinitionsInvalid, err)
	}
	if err := defs.check(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Validators compiles the schema of every model that declares one.
func (d *Definitions) Validators() (map[string]*Validator, error) {
	out := make(map[string]*Validator)
	for _, m := range d.Models {
		if m.Schema == nil {
			continue
		}
		v, err := FromMap(m.Name, m.Schema)
		if err != nil {
			return nil, err
		}
		out[m.Name] = v
	}
	return out, nil
}

func (d *Definitions) check() error {
	names := make(map[string]bool, len(d.Models))
	for i, m := range d.Models {
		if m.Name == "" {
			return fmt.Errorf("%w: model %d has no name", errDefinitionsInvalid, i)
		}
		if names[m.Name] {
			return fmt.Errorf("%w: model %q declared twice", errDefinitionsInvalid, m.Name)
		}
		names[m.Name] = true
	}
	for _, m := range d.Models {
		for _, r := range m.Relations {
			switch r.Type {
			case RelationHasOne, RelationBelongsTo, RelationHasMany, RelationHasAndBelongsToMany:
			default:
				return fmt.Errorf("%w: model %q: unknown relation type %q", errDefinitionsInvalid, m.Name, r.Type)
			}
			if r.Field == "" || r.LeftKey == "" || r.RightKey == "" {
				return fmt.Errorf("%w: model %q: relation needs field, leftKey and rightKey", errDefinitionsInvalid, m.Name)
			}
			if !names[r.Model] {
				return fmt.Errorf("%w: model %q: relation %q targets unknown model %q", errDefinitionsInvalid, m.Name, r.Field, r.Model)
			}
		}
	}
	return nil
}

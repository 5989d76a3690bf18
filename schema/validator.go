// Package schema adapts JSON Schema documents into the validation predicate
// models are checked against, and loads model definition files.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tailscale/hujson"
)

// ErrInvalidSchema is returned when a schema document cannot be compiled.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// Validator validates documents against a compiled JSON Schema. It is safe for
// concurrent use.
type Validator struct {
	name string

	mu       sync.RWMutex
	doc      map[string]any
	compiled *jsonschema.Schema
}

// Compile parses doc (JSON or HuJSON) and compiles it.
func Compile(name string, doc []byte) (*Validator, error) {
	std, err := hujson.Standardize(doc)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidSchema, name, err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(std, &parsed); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidSchema, name, err)
	}
	return FromMap(name, parsed)
}

// FromMap compiles an already decoded schema document.
func FromMap(name string, doc map[string]any) (*Validator, error) {
	v := &Validator{name: name, doc: cloneMap(doc)}
	if err := v.compile(); err != nil {
		return nil, err
	}
	return v, nil
}

// Name returns the name the validator was compiled under.
func (v *Validator) Name() string {
	return v.name
}

// Validate returns the list of violations, or nil if data is valid. Data is
// normalized through JSON first so any JSON-encodable Go value is accepted.
func (v *Validator) Validate(data map[string]any) []string {
	instance, err := normalize(data)
	if err != nil {
		return []string{err.Error()}
	}

	v.mu.RLock()
	compiled := v.compiled
	v.mu.RUnlock()

	err = compiled.Validate(instance)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	return flatten(verr)
}

// AddJoinField makes field acceptable to the schema whatever its shape and
// recompiles. Joined documents are validated against their own model, so the
// owning schema only needs to tolerate the field.
func (v *Validator) AddJoinField(field string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	props, _ := v.doc["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
		v.doc["properties"] = props
	}
	if _, ok := props[field]; ok {
		return nil
	}
	props[field] = map[string]any{}
	return v.compileLocked()
}

func (v *Validator) compile() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.compileLocked()
}

func (v *Validator) compileLocked() error {
	raw, err := json.Marshal(v.doc)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidSchema, v.name, err)
	}

	url := "mem://" + v.name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidSchema, v.name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidSchema, v.name, err)
	}
	v.compiled = compiled
	return nil
}

func normalize(data map[string]any) (any, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("document is not JSON encodable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// flatten collects the leaf causes of a validation error as
// "<instance location>: <message>" strings.
func flatten(err *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+strings.TrimSpace(e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(err)
	sort.Strings(out)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case map[string]any:
			out[k] = cloneMap(x)
		case []any:
			cp := make([]any, len(x))
			for i, e := range x {
				if em, ok := e.(map[string]any); ok {
					cp[i] = cloneMap(em)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

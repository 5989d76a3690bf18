package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(`{
		// trailing commas and comments are fine
		"models": [
			{"name": "users", "primaryKey": "email"},
			{
				"name": "posts",
				"schema": {"type": "object"},
				"relations": [
					{"type": "belongsTo", "field": "author", "model": "users", "leftKey": "authorEmail", "rightKey": "email"},
				],
			},
		],
	}`))
	if err != nil {
		t.Fatalf("ParseDefinitions() error = %v", err)
	}
	if len(defs.Models) != 2 {
		t.Fatalf("len(Models) = %d, want 2", len(defs.Models))
	}
	if defs.Models[0].PrimaryKey != "email" {
		t.Errorf("PrimaryKey = %q, want email", defs.Models[0].PrimaryKey)
	}

	validators, err := defs.Validators()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := validators["posts"]; !ok {
		t.Error("posts validator missing")
	}
	if _, ok := validators["users"]; ok {
		t.Error("users has no schema but got a validator")
	}
}

func TestParseDefinitions_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"syntax", `{"models": [`, "invalid JSONC"},
		{"unnamed", `{"models": [{}]}`, "has no name"},
		{"duplicate", `{"models": [{"name": "a"}, {"name": "a"}]}`, "declared twice"},
		{"unknown type", `{"models": [{"name": "a", "relations": [{"type": "owns", "field": "b", "model": "a", "leftKey": "id", "rightKey": "id"}]}]}`, "unknown relation type"},
		{"missing key", `{"models": [{"name": "a", "relations": [{"type": "hasOne", "field": "b", "model": "a", "leftKey": "id"}]}]}`, "needs field"},
		{"unknown target", `{"models": [{"name": "a", "relations": [{"type": "hasOne", "field": "b", "model": "z", "leftKey": "id", "rightKey": "aId"}]}]}`, "unknown model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.doc))
			if !errors.Is(err, errDefinitionsInvalid) {
				t.Fatalf("ParseDefinitions() error = %v, want errDefinitionsInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.hujson")
	if err := os.WriteFile(path, []byte(`{"models": [{"name": "users"},]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions() error = %v", err)
	}
	if defs.Models[0].Name != "users" {
		t.Errorf("Name = %q, want users", defs.Models[0].Name)
	}

	if _, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, errDefinitionsRead) {
		t.Errorf("LoadDefinitions(missing) error = %v, want errDefinitionsRead", err)
	}
}

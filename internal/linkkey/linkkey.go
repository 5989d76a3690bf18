// Package linkkey synthesizes the deterministic names and ids used by
// many-to-many link tables.
package linkkey

import (
	"fmt"
	"strconv"
)

// TableName returns the link table name for a relation between two models.
// The model names are ordered so both sides derive the same table. A non-empty
// tag disambiguates several many-to-many relations between the same pair.
func TableName(a, b, tag string) string {
	if b < a {
		a, b = b, a
	}
	name := a + "_" + b
	if tag != "" {
		name += "_" + tag
	}
	return name
}

// Column returns the link table column holding model's key.
func Column(model, key string) string {
	return model + "_" + key
}

// Paired reports whether a relation stores both keys in a single array column,
// which happens when a model links to itself through the same key.
func Paired(owner, ownerKey, joined, joinedKey string) bool {
	return owner == joined && ownerKey == joinedKey
}

// ID returns the primary key of the link row joining left (owner's key value)
// and right (joined model's key value).
//
// For distinct models the value belonging to the lexicographically smaller
// model comes first, so the id is the same whichever side creates the link.
// For a paired self-relation the two values are ordered lexicographically.
func ID(owner, ownerKey, joined, joinedKey string, left, right any) string {
	l, r := Value(left), Value(right)
	if Paired(owner, ownerKey, joined, joinedKey) {
		if r < l {
			l, r = r, l
		}
		return l + "_" + r
	}
	if owner < joined || (owner == joined && ownerKey <= joinedKey) {
		return l + "_" + r
	}
	return r + "_" + l
}

// Value renders a key value as it appears inside a link id.
func Value(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

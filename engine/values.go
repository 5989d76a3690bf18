package engine

import (
	"fmt"
	"strconv"
	"time"
)

// KeyString returns a canonical string for a key value so that values of
// different Go numeric types compare equal when they denote the same number.
func KeyString(v any) string {
	switch x := v.(type) {
	case nil:
		return "null:"
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	case []byte:
		return "x:" + string(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	}
	if f, ok := Number(v); ok {
		return "n:" + strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// Number reports whether v is a Go numeric value and returns it as float64.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// SameKey reports whether a and b denote the same key value.
func SameKey(a, b any) bool {
	return KeyString(a) == KeyString(b)
}

// CloneRow returns a deep copy of row.
func CloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps, slices and byte slices. Other values are
// returned as is.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneRow(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneRow(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}

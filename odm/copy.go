package odm

// SavableCopy returns the document as it would be stored: a deep copy with
// joined documents removed. Scalar values under join fields, such as foreign
// keys that share a name with a join, are kept. Byte slices are copied by
// content. The document is not modified.
func (d *Document) SavableCopy() map[string]any {
	d.mu.RLock()
	snapshot := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		snapshot[k] = v
	}
	d.mu.RUnlock()

	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if d.joinedValue(k, v) {
			continue
		}
		out[k] = project(v)
	}
	return out
}

func project(v any) any {
	switch x := v.(type) {
	case *Document:
		return x.SavableCopy()
	case []*Document:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e.SavableCopy()
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = project(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = project(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = project(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}

package reactive

// mergeValues deep-merges changes into current and returns the result.
// Nested maps merge recursively, a nil leaf deletes that field and any other
// value replaces what was there. A current value that is not a map is
// replaced outright. current is never mutated.
func mergeValues(current any, changes map[string]any) map[string]any {
	base, _ := current.(map[string]any)

	out := make(map[string]any, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range changes {
		if v == nil {
			delete(out, k)
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = mergeValues(out[k], nested)
			continue
		}
		out[k] = v
	}
	return out
}

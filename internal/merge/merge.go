// Package merge overlays generic JSON trees.
package merge

import "reflect"

// Merge copies every key of src into dst, descending into nested objects.
// Keys present only in dst are kept. Slices and scalars are leaves and are
// replaced whole. Merge returns the resulting tree (dst, or a new map when
// dst is nil) and whether any value in it changed.
func Merge(dst, src map[string]any) (map[string]any, bool) {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	changed := false
	for k, sv := range src {
		dv, ok := dst[k]
		if sm, isMap := sv.(map[string]any); isMap {
			dm, dIsMap := dv.(map[string]any)
			if !ok || !dIsMap {
				dm = nil
				changed = true
			}
			merged, sub := Merge(dm, sm)
			dst[k] = merged
			changed = changed || sub
			continue
		}
		if !ok || !reflect.DeepEqual(dv, sv) {
			dst[k] = Clone(sv)
			changed = true
		}
	}
	return dst, changed
}

// Clone deep-copies maps and slices of a generic JSON value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

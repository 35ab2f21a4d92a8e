// Package diff computes field-level differences between two records using a
// tagged value model.
package diff

import "sort"

// Changes maps a field name to the value it takes in the newer record.
type Changes map[string]any

// Diff returns, for every key present in b and not excluded, the value b holds
// when a lacks the key or holds a different value. Keys only present in a are
// not reported. Diff never mutates its inputs.
func Diff(a, b map[string]any, excluded ...string) Changes {
	skip := make(map[string]struct{}, len(excluded))
	for _, key := range excluded {
		skip[key] = struct{}{}
	}

	changes := Changes{}
	for key, bv := range b {
		if _, ok := skip[key]; ok {
			continue
		}
		av, ok := a[key]
		if ok && Equal(FromAny(av), FromAny(bv)) {
			continue
		}
		changes[key] = bv
	}
	return changes
}

// Empty reports whether no field changed.
func (c Changes) Empty() bool {
	return len(c) == 0
}

// Keys returns the changed field names in lexical order.
func (c Changes) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy so callers can extend a change set without
// touching the original.
func (c Changes) Clone() Changes {
	out := make(Changes, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

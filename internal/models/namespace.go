// Package models defines the data structures shared by the settings engine,
// its persistence adapters and the HTTP surface.
package models

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
)

// Namespace is the full set of persisted key/value pairs for one installation.
// Values are canonical JSON values (see Normalize).
type Namespace map[string]any

// Change describes one key's transition inside a change notification.
// A nil NewValue means the key was removed; a nil OldValue means it did not exist.
type Change struct {
	OldValue any `json:"oldValue,omitempty"`
	NewValue any `json:"newValue,omitempty"`
}

// Removed reports whether the change deletes the key.
func (c Change) Removed() bool { return c.NewValue == nil }

// Changes is one notification batch, keyed by setting name.
type Changes map[string]Change

// Keys returns the changed keys in the order a batch is applied (sorted).
func (c Changes) Keys() []string {
	keys := lo.Keys(c)
	slices.Sort(keys)
	return keys
}

// Normalize converts v into its canonical JSON form: bool, float64, string,
// []any, map[string]any or nil. The result never aliases v.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// NormalizeAll normalizes every value in ns. Keys whose value normalizes to nil are dropped.
func NormalizeAll(ns map[string]any) (Namespace, error) {
	out := make(Namespace, len(ns))
	for k, v := range ns {
		nv, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		if nv != nil {
			out[k] = nv
		}
	}
	return out, nil
}

// Equal compares two canonical values.
func Equal(a, b any) bool {
	return cmp.Equal(a, b)
}

// Clone returns a deep copy of ns. Values must already be canonical.
func (ns Namespace) Clone() Namespace {
	out := make(Namespace, len(ns))
	for k, v := range ns {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a canonical value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Merge computes the changes produced by upserting updates into ns, applies
// them to ns and returns them. Keys whose value is unchanged are skipped.
func (ns Namespace) Merge(updates Namespace) Changes {
	changes := make(Changes)
	for k, v := range updates {
		old, ok := ns[k]
		if ok && Equal(old, v) {
			continue
		}
		if v == nil {
			if !ok {
				continue
			}
			delete(ns, k)
		} else {
			ns[k] = CloneValue(v)
		}
		changes[k] = Change{OldValue: old, NewValue: CloneValue(v)}
	}
	return changes
}

// Remove deletes keys from ns and returns the resulting changes.
func (ns Namespace) Remove(keys ...string) Changes {
	changes := make(Changes)
	for _, k := range keys {
		old, ok := ns[k]
		if !ok {
			continue
		}
		delete(ns, k)
		changes[k] = Change{OldValue: old}
	}
	return changes
}

// Diff returns the changes that turn from into to, including removals.
func Diff(from, to Namespace) Changes {
	changes := make(Changes)
	for k, v := range to {
		old, ok := from[k]
		if ok && Equal(old, v) {
			continue
		}
		changes[k] = Change{OldValue: old, NewValue: v}
	}
	for k, old := range from {
		if _, ok := to[k]; !ok {
			changes[k] = Change{OldValue: old}
		}
	}
	return changes
}

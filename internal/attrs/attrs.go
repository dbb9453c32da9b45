// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package attrs models the free-form attribute maps attached to principals,
// resources, and request context. Values are heterogeneous (string, number,
// bool, list, nested map); access is by explicit dotted path, never
// reflection.
package attrs

import "strings"

// Map is a free-form attribute mapping.
type Map map[string]any

// Resolve walks a dotted path through nested maps. The second return is
// false when any segment is absent or a non-map is traversed into.
func (m Map) Resolve(path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	var current any = map[string]any(m)
	for _, seg := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			// JSON decoding and callers may hand us a Map directly.
			if am, isAttr := current.(Map); isAttr {
				node = map[string]any(am)
			} else {
				return nil, false
			}
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String resolves path to a string value.
func (m Map) String(path string) (string, bool) {
	v, ok := m.Resolve(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number resolves path to a numeric value. JSON decoding produces float64;
// integer literals from Go callers are accepted too.
func (m Map) Number(path string) (float64, bool) {
	v, ok := m.Resolve(path)
	if !ok {
		return 0, false
	}
	return Number(v)
}

// Number coerces a value to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// List coerces a value to a slice of elements.
func List(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// Equal compares two attribute values. Numbers compare numerically across
// integer and float representations; everything else compares by strict
// type-and-value equality.
func Equal(a, b any) bool {
	if an, ok := Number(a); ok {
		bn, bok := Number(b)
		return bok && an == bn
	}
	return a == b
}

// Compare orders two values: -1, 0, or 1. The second return is false when
// the values are not mutually comparable (mixed kinds, or non-ordered
// types).
func Compare(a, b any) (int, bool) {
	if an, aok := Number(a); aok {
		bn, bok := Number(b)
		if !bok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// Merge returns a copy of m with overlay's top-level keys applied on top.
func Merge(m, overlay Map) Map {
	if len(overlay) == 0 {
		return m
	}
	out := make(Map, len(m)+len(overlay))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

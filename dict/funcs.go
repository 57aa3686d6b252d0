// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// String formats d like StringFunc, using fmt.Sprint for keys and
// values.
func (d *Dict[K, V]) String() string {
	return StringFunc(d,
		func(key K) string { return fmt.Sprint(key) },
		func(val V) string { return fmt.Sprint(val) },
	)
}

// StringFunc formats d as "dict.Dict[k1:v1 k2:v2 ...]" using strK and
// strV, with pairs ordered by their formatted key.
func StringFunc[K, V any](d *Dict[K, V],
	strK func(key K) string,
	strV func(val V) string) string {
	const header, footer = "dict.Dict[", "]"
	if d == nil || d.Len() == 0 {
		return header + footer
	}
	pairs := make([][2]string, 0, d.Len())
	n := len(header) + len(footer) + d.Len()*2 - 1
	it := d.Iter()
	for it.Next() {
		p := [2]string{strK(it.Key()), strV(it.Value())}
		n += len(p[0]) + len(p[1])
		pairs = append(pairs, p)
	}
	it.Release()
	slices.SortFunc(pairs, func(a, b [2]string) int { return strings.Compare(a[0], b[0]) })

	var b strings.Builder
	b.Grow(n)
	b.WriteString(header)
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p[0])
		b.WriteByte(':')
		b.WriteString(p[1])
	}
	b.WriteString(footer)
	return b.String()
}

// Equal returns true if the same set of keys and values are in d1 and
// d2. Values are compared using ==.
func Equal[K any, V comparable](d1, d2 *Dict[K, V]) bool {
	return EqualFunc(d1, d2, func(a, b V) bool { return a == b })
}

// EqualFunc returns true if the same set of keys and values are in d1
// and d2. Values are compared using eq.
func EqualFunc[K, V any](d1, d2 *Dict[K, V], eq func(V, V) bool) bool {
	if d1.Len() != d2.Len() {
		return false
	}
	if d1.Len() == 0 {
		return true
	}
	// Lookups in d2 may step its migration, and d2 may be d1.
	it := d1.SafeIter()
	defer it.Release()
	for it.Next() {
		v2, ok := d2.Get(it.Key())
		if !ok || !eq(it.Value(), v2) {
			return false
		}
	}
	return true
}

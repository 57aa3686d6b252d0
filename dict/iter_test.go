// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import (
	"maps"
	"testing"
)

func TestRangeFuncs(t *testing.T) {
	d := New[string, string](Strings[string]())
	for _, kv := range [][2]string{{"Avenue", "AVE"}, {"Street", "ST"}, {"Court", "CT"}} {
		if err := d.Add(kv[0], kv[1]); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("All", func(t *testing.T) {
		exp := map[string]string{
			"Avenue": "AVE",
			"Street": "ST",
			"Court":  "CT",
		}
		got := make(map[string]string)
		for k, v := range d.All() {
			got[k] = v
		}
		if !maps.Equal(exp, got) {
			t.Errorf("expected: %v got: %v", exp, got)
		}
	})

	t.Run("Keys", func(t *testing.T) {
		exp := map[string]struct{}{
			"Avenue": struct{}{},
			"Street": struct{}{},
			"Court":  struct{}{},
		}
		got := make(map[string]struct{})
		for k := range d.Keys() {
			got[k] = struct{}{}
		}
		if !maps.Equal(exp, got) {
			t.Errorf("expected: %v got: %v", exp, got)
		}
	})

	t.Run("Values", func(t *testing.T) {
		exp := map[string]struct{}{
			"AVE": struct{}{},
			"ST":  struct{}{},
			"CT":  struct{}{},
		}
		got := make(map[string]struct{})
		for k := range d.Values() {
			got[k] = struct{}{}
		}
		if !maps.Equal(exp, got) {
			t.Errorf("expected: %v got: %v", exp, got)
		}
	})

	t.Run("Break", func(t *testing.T) {
		for range d.All() {
			break
		}
		if d.iterators != 0 {
			t.Errorf("iterator not released after break: %d", d.iterators)
		}
	})

	t.Run("DeleteWhileRanging", func(t *testing.T) {
		c := New[string, string](Strings[string]())
		for k, v := range d.All() {
			_ = c.Add(k, v)
		}
		for k := range c.Keys() {
			if err := c.Delete(k); err != nil {
				t.Error(err)
			}
		}
		if c.Len() != 0 {
			t.Errorf("expected empty dict: %s", c)
		}
	})
}

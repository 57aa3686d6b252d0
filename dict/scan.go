// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import "math/bits"

// Scan visits the entries of one slot (two or more while migrating)
// and returns the cursor for the next call. Start with cursor 0; a
// returned cursor of 0 means the traversal is complete.
//
// Every entry present for the whole traversal is visited at least
// once, even if d grows or shrinks between calls. Entries may be
// visited more than once. No state is kept besides the cursor.
//
// The cursor is advanced by incrementing its bit-reversed form, so the
// high bits of the slot index change first. A slot index in a table of
// 2^n slots then covers exactly the slots sharing its low n bits in a
// larger table, and a prefix already visited in a smaller table is
// never revisited in full.
//
// While migrating, the smaller table's slot is visited first, then
// every slot of the larger table that expands from it.
//
// fn must not insert into d. It may delete the entry it is passed;
// migration is paused for the duration of the call.
func (d *Dict[K, V]) Scan(cursor uint64, fn func(e *Entry[K, V])) uint64 {
	if d.Len() == 0 {
		return 0
	}
	d.iterators++
	defer func() { d.iterators-- }()

	v := cursor
	if !d.IsRehashing() {
		t0 := &d.ht[0]
		m0 := t0.mask()
		scanChain(t0.slots[v&m0], fn)

		// Set the unmasked bits so incrementing the reversed cursor
		// carries straight into the masked bits.
		v |= ^m0
		v = bits.Reverse64(v)
		v++
		v = bits.Reverse64(v)
		return v
	}

	t0, t1 := &d.ht[0], &d.ht[1]
	if t0.size() > t1.size() {
		t0, t1 = t1, t0
	}
	m0, m1 := t0.mask(), t1.mask()

	scanChain(t0.slots[v&m0], fn)
	// Visit every slot of the larger table that expands from the
	// smaller table's slot.
	for {
		scanChain(t1.slots[v&m1], fn)

		v |= ^m1
		v = bits.Reverse64(v)
		v++
		v = bits.Reverse64(v)

		// Continue while the bits covered by the mask difference are
		// non-zero.
		if v&(m0^m1) == 0 {
			break
		}
	}
	return v
}

func scanChain[K, V any](he *Entry[K, V], fn func(e *Entry[K, V])) {
	for he != nil {
		next := he.next
		fn(he)
		he = next
	}
}

// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import "golang.org/x/exp/rand"

// fairSamples is how many entries FairRandomKey samples from.
const fairSamples = 15

// RandomKey returns a random entry, or nil if d is empty.
//
// A random non-empty slot is picked first and then a random entry of
// its chain, so entries in long chains are less likely to be returned
// than entries alone in their slot.
func (d *Dict[K, V]) RandomKey() *Entry[K, V] {
	if d.Len() == 0 {
		return nil
	}
	d.checkRead()
	if d.IsRehashing() {
		d.rehashStep()
	}
	var he *Entry[K, V]
	if d.IsRehashing() {
		// Slots below rehashIdx in ht[0] are known to be empty.
		s0 := d.ht[0].size()
		for he == nil {
			h := d.rehashIdx + rand.Intn(d.Slots()-d.rehashIdx)
			if h >= s0 {
				he = d.ht[1].slots[h-s0]
			} else {
				he = d.ht[0].slots[h]
			}
		}
	} else {
		m := d.ht[0].mask()
		for he == nil {
			he = d.ht[0].slots[rand.Uint64()&m]
		}
	}

	// Pick a random element of the chain. Counting it is the only
	// sane way to do that.
	listlen := 0
	for e := he; e != nil; e = e.next {
		listlen++
	}
	for n := rand.Intn(listlen); n > 0; n-- {
		he = he.next
	}
	return he
}

// SomeKeys samples up to count entries starting from a random slot and
// walking forward, so the result is not guaranteed to be distinct
// from one call to the next nor uniformly distributed. It returns
// fewer than count entries if d holds fewer, or if count*10 slots were
// visited without collecting enough. It is much faster than calling
// RandomKey count times.
func (d *Dict[K, V]) SomeKeys(count int) []*Entry[K, V] {
	if d.Len() < count {
		count = d.Len()
	}
	if count <= 0 {
		return nil
	}
	d.checkRead()
	maxsteps := count * 10

	// Do migration work proportional to count.
	for j := 0; j < count && d.IsRehashing(); j++ {
		d.rehashStep()
	}

	tables := 1
	if d.IsRehashing() {
		tables = 2
	}
	maxsizemask := d.ht[0].mask()
	if tables > 1 && maxsizemask < d.ht[1].mask() {
		maxsizemask = d.ht[1].mask()
	}

	out := make([]*Entry[K, V], 0, count)
	i := rand.Uint64() & maxsizemask
	emptylen := 0 // continuous empty slots so far
	for ; len(out) < count && maxsteps > 0; maxsteps-- {
		for j := 0; j < tables; j++ {
			// ht[0] is empty below rehashIdx. If the index is also
			// out of range for ht[1], jump straight to rehashIdx.
			if tables == 2 && j == 0 && i < uint64(d.rehashIdx) {
				if i >= uint64(d.ht[1].size()) {
					i = uint64(d.rehashIdx)
				} else {
					continue
				}
			}
			if i >= uint64(d.ht[j].size()) {
				continue
			}
			he := d.ht[j].slots[i]
			if he == nil {
				// Count contiguous empty slots and jump elsewhere
				// once they reach count (minimum 5).
				emptylen++
				if emptylen >= 5 && emptylen > count {
					i = rand.Uint64() & maxsizemask
					emptylen = 0
				}
				continue
			}
			emptylen = 0
			for ; he != nil; he = he.next {
				out = append(out, he)
				if len(out) == count {
					return out
				}
			}
		}
		i = (i + 1) & maxsizemask
	}
	return out
}

// FairRandomKey is like RandomKey but samples from a batch gathered by
// SomeKeys, which reduces the bias against entries in long chains.
// This is a best-effort improvement, not a uniform distribution.
func (d *Dict[K, V]) FairRandomKey() *Entry[K, V] {
	entries := d.SomeKeys(fairSamples)
	// SomeKeys may come back empty on a very sparse table even though
	// d holds entries.
	if len(entries) == 0 {
		return d.RandomKey()
	}
	return entries[rand.Intn(len(entries))]
}

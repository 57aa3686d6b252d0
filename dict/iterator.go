// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

// Iterator walks the entries of a Dict. It is instantiated by Iter or
// SafeIter and must be released with Release once the caller is done.
//
// A safe iterator pauses migration for its lifetime, so the caller may
// Add, Find and Delete (including the current entry) while iterating.
// An unsafe iterator only permits calling Next; any write is detected
// on Release and panics.
type Iterator[K, V any] struct {
	d           *Dict[K, V]
	table       int
	index       int
	safe        bool
	released    bool
	entry       *Entry[K, V]
	nextEntry   *Entry[K, V]
	fingerprint uint64
}

// Iter instantiates an unsafe Iterator over d.
func (d *Dict[K, V]) Iter() *Iterator[K, V] {
	return &Iterator[K, V]{d: d, index: -1}
}

// SafeIter instantiates a safe Iterator over d.
func (d *Dict[K, V]) SafeIter() *Iterator[K, V] {
	return &Iterator[K, V]{d: d, index: -1, safe: true}
}

func (it *Iterator[K, V]) started() bool {
	return !(it.index == -1 && it.table == 0)
}

// Next moves the iterator to the next entry. Next returns false when
// the iteration is complete.
func (it *Iterator[K, V]) Next() bool {
	d := it.d
	if d == nil || it.released {
		return false
	}
	for {
		if it.entry == nil {
			if !it.started() {
				if it.safe {
					d.iterators++
				} else {
					it.fingerprint = d.fingerprint()
				}
			}
			it.index++
			if it.index >= d.ht[it.table].size() {
				if d.IsRehashing() && it.table == 0 {
					it.table++
					it.index = 0
				} else {
					// Park past the end so later calls stay done.
					it.index = d.ht[it.table].size()
					return false
				}
			}
			it.entry = d.ht[it.table].slots[it.index]
		} else {
			it.entry = it.nextEntry
		}
		if it.entry != nil {
			// Remember the successor now: the caller may delete the
			// entry we return.
			it.nextEntry = it.entry.next
			return true
		}
	}
}

// Entry returns the entry at the iterator's current position. This is
// only valid after a call to Next that returns true.
func (it *Iterator[K, V]) Entry() *Entry[K, V] {
	return it.entry
}

// Key returns the key at the iterator's current position.
func (it *Iterator[K, V]) Key() K {
	return it.entry.key
}

// Value returns the value at the iterator's current position.
func (it *Iterator[K, V]) Value() V {
	return it.entry.val
}

// Release ends the iteration. For a safe iterator it resumes migration;
// for an unsafe one it panics if the Dict was modified since the first
// call to Next. Release is idempotent.
func (it *Iterator[K, V]) Release() {
	if it.d == nil || it.released {
		return
	}
	it.released = true
	if !it.started() {
		return
	}
	if it.safe {
		it.d.iterators--
	} else if it.fingerprint != it.d.fingerprint() {
		panic("dict: unsafe iterator used while the dict was modified")
	}
}

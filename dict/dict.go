// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dict provides the Dict type, a chained hash table that
// resizes incrementally. Users supply the hash, equality and
// destructor callbacks through a Type.
//
// A Dict holds two tables. Normally only the first is in use. When
// the load factor calls for a different size, a second table is
// allocated and entries are migrated slot by slot ("rehashed") as a
// side effect of ordinary lookups and writes, or explicitly through
// Rehash and RehashFor. No single call ever pays for moving the whole
// table.
//
// A Dict is not safe for concurrent use. It is meant to be owned by
// the goroutine driving an event loop; callers that share one must
// serialize access themselves.
package dict

// A table is an array of slots, each the head of a singly linked
// chain of entries whose hash masks to that slot. Slot counts are
// always a power of two, or zero for an unallocated table.
//
// While migrating, ht[0] is the source and ht[1] the destination.
// Every ht[0] slot below rehashIdx is empty, new entries go to ht[1]
// only, and lookups consult both. Once ht[0] is drained the tables
// swap and rehashIdx returns to -1.
//
// Iteration and Scan stop migration steps from running by raising
// iterators, so that no entry moves between tables mid-traversal.

import (
	"fmt"
	"hash/maphash"
	"math/bits"
	"time"

	"go.uber.org/zap"
)

const (
	// initialSize is the slot count of a freshly allocated table.
	initialSize = 4

	// defaultForceResizeRatio is the load factor at which a Dict grows
	// even if resizing is disabled.
	defaultForceResizeRatio = 5

	// emptyVisitsPerStep bounds how many empty slots one migration
	// step may skip, so sparse tables cannot stall a caller.
	emptyVisitsPerStep = 10

	// rehashBatch is the number of slots RehashFor migrates between
	// clock checks.
	rehashBatch = 100

	// maxSlots is the largest power of two a table may grow to.
	maxSlots = 1 << (bits.UintSize - 2)

	// flags
	hashWriting = 1 // a write is in progress
)

// Entry is a key/value pair stored in a Dict. Entries stay valid until
// they are deleted; migration relinks them without copying.
type Entry[K, V any] struct {
	key  K
	val  V
	next *Entry[K, V]
}

// Key returns the entry's key.
func (e *Entry[K, V]) Key() K {
	return e.key
}

// Value returns the entry's value.
func (e *Entry[K, V]) Value() V {
	return e.val
}

// SetValue replaces the entry's value without calling the value
// destructor.
func (e *Entry[K, V]) SetValue(val V) {
	e.val = val
}

type table[K, V any] struct {
	slots []*Entry[K, V]
	used  int
	// id identifies the slot array for fingerprinting.
	id uint64
}

func (t *table[K, V]) size() int {
	return len(t.slots)
}

func (t *table[K, V]) mask() uint64 {
	if len(t.slots) == 0 {
		return 0
	}
	return uint64(len(t.slots) - 1)
}

// Dict implements an incrementally rehashed hash table.
type Dict[K, V any] struct {
	ht        [2]table[K, V]
	rehashIdx int // -1 when not migrating
	iterators int // safe iterators and scans in flight
	flags     uint8
	tableSeq  uint64
	seed      maphash.Seed
	typ       Type[K, V]

	resize     bool
	forceRatio int
	logger     *zap.Logger
}

// New instantiates an empty Dict using typ for hashing, comparing and
// releasing keys and values.
func New[K, V any](typ Type[K, V], opts ...Option) *Dict[K, V] {
	o := options{resize: true, forceRatio: defaultForceResizeRatio}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	d := &Dict[K, V]{
		rehashIdx:  -1,
		seed:       maphash.MakeSeed(),
		typ:        typ,
		resize:     o.resize,
		forceRatio: o.forceRatio,
		logger:     o.logger,
	}
	if o.hint > 0 {
		if err := d.Expand(o.hint); err != nil {
			d.logger.Warn("dict: ignoring size hint", zap.Int("hint", o.hint), zap.Error(err))
		}
	}
	return d
}

// Len returns the number of entries in d.
func (d *Dict[K, V]) Len() int {
	if d == nil {
		return 0
	}
	return d.ht[0].used + d.ht[1].used
}

// Slots returns the number of slots across both tables.
func (d *Dict[K, V]) Slots() int {
	if d == nil {
		return 0
	}
	return d.ht[0].size() + d.ht[1].size()
}

// IsRehashing reports whether a migration is in progress.
func (d *Dict[K, V]) IsRehashing() bool {
	return d.rehashIdx != -1
}

// SetResizeEnabled turns eager growth on or off. See WithResize.
func (d *Dict[K, V]) SetResizeEnabled(enabled bool) {
	d.resize = enabled
}

// ResizeEnabled reports whether eager growth is on.
func (d *Dict[K, V]) ResizeEnabled() bool {
	return d.resize
}

// Hash returns the hash d uses for key.
func (d *Dict[K, V]) Hash(key K) uint64 {
	return d.typ.Hash(d.seed, key)
}

func (d *Dict[K, V]) beginWrite() {
	if d.flags&hashWriting != 0 {
		panic("concurrent dict writes")
	}
	d.flags ^= hashWriting
}

// checkRead panics if d is read from inside one of its own writes,
// for instance by a Hash or Equal callback. Reads may step the
// migration, which would move entries under the writer.
func (d *Dict[K, V]) checkRead() {
	if d.flags&hashWriting != 0 {
		panic("concurrent dict read and dict write")
	}
}

func (d *Dict[K, V]) endWrite() {
	if d.flags&hashWriting == 0 {
		panic("concurrent dict writes")
	}
	d.flags &^= hashWriting
}

// Add inserts key with val. It returns ErrKeyExists, leaving d
// unchanged, if key is already present.
func (d *Dict[K, V]) Add(key K, val V) error {
	e, existing, err := d.addRaw(key)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrKeyExists
	}
	e.val = val
	return nil
}

// AddRaw inserts key with a zero value and returns the new entry. If
// key is already present nothing is inserted and the existing entry
// is returned as the second result.
func (d *Dict[K, V]) AddRaw(key K) (entry, existing *Entry[K, V], err error) {
	return d.addRaw(key)
}

// AddOrFind returns the entry for key, inserting one with a zero
// value if key is absent.
func (d *Dict[K, V]) AddOrFind(key K) (*Entry[K, V], error) {
	e, existing, err := d.addRaw(key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return e, nil
}

// Replace associates key with val. It returns true if key was newly
// inserted. If key was already present its value is overwritten in
// place and the previous value is released with DestroyValue.
func (d *Dict[K, V]) Replace(key K, val V) (bool, error) {
	e, existing, err := d.addRaw(key)
	if err != nil {
		return false, err
	}
	if e != nil {
		e.val = val
		return true, nil
	}
	// Set the new value before releasing the old one, in case they
	// share resources.
	old := existing.val
	existing.val = val
	d.typ.DestroyValue(old)
	return false, nil
}

// Update sets the value for key to fn(cur), where cur is the current
// value or the zero value if key is absent.
func (d *Dict[K, V]) Update(key K, fn func(cur V) V) error {
	e, err := d.AddOrFind(key)
	if err != nil {
		return err
	}
	e.val = fn(e.val)
	return nil
}

func (d *Dict[K, V]) addRaw(key K) (*Entry[K, V], *Entry[K, V], error) {
	if d == nil {
		// We have to panic here rather than initialize an empty dict
		// because we need the user to pass in a Type.
		panic("Add called on nil dict")
	}
	hash := d.Hash(key)
	// Set hashWriting after hashing, since Hash may panic, in which
	// case we have not actually done a write.
	d.beginWrite()

	if d.IsRehashing() {
		d.rehashStep()
	}
	idx, existing, err := d.keyIndex(key, hash)
	if err != nil || existing != nil {
		d.endWrite()
		return nil, existing, err
	}
	t := &d.ht[0]
	if d.IsRehashing() {
		t = &d.ht[1]
	}
	e := &Entry[K, V]{key: key, next: t.slots[idx]}
	t.slots[idx] = e
	t.used++

	d.endWrite()
	return e, nil, nil
}

// keyIndex returns the slot a new entry for key belongs in, or the
// existing entry for key. While migrating the slot is in ht[1].
func (d *Dict[K, V]) keyIndex(key K, hash uint64) (int, *Entry[K, V], error) {
	if err := d.expandIfNeeded(); err != nil {
		if d.ht[0].size() == 0 {
			return -1, nil, err
		}
		// Chains are unbounded; keep using the current table.
		d.logger.Warn("dict: expand failed", zap.Int("used", d.Len()), zap.Error(err))
	}
	var idx int
	for t := 0; t <= 1; t++ {
		idx = int(hash & d.ht[t].mask())
		for he := d.ht[t].slots[idx]; he != nil; he = he.next {
			if d.typ.Equal(key, he.key) {
				return -1, he, nil
			}
		}
		if !d.IsRehashing() {
			break
		}
	}
	return idx, nil, nil
}

// Find returns the entry for key, or nil if key is absent.
func (d *Dict[K, V]) Find(key K) *Entry[K, V] {
	if d.Len() == 0 {
		return nil
	}
	d.checkRead()
	if d.IsRehashing() {
		d.rehashStep()
	}
	hash := d.Hash(key)
	for t := 0; t <= 1; t++ {
		idx := hash & d.ht[t].mask()
		for he := d.ht[t].slots[idx]; he != nil; he = he.next {
			if d.typ.Equal(key, he.key) {
				return he
			}
		}
		if !d.IsRehashing() {
			return nil
		}
	}
	return nil
}

// Get returns the value associated with key and true if that key is
// in d, otherwise it returns the zero value of V and false.
func (d *Dict[K, V]) Get(key K) (V, bool) {
	if e := d.Find(key); e != nil {
		return e.val, true
	}
	var zero V
	return zero, false
}

// Delete removes key and releases its key and value. It returns
// ErrKeyNotFound if key is absent.
func (d *Dict[K, V]) Delete(key K) error {
	e := d.Unlink(key)
	if e == nil {
		return ErrKeyNotFound
	}
	d.FreeUnlinkedEntry(e)
	return nil
}

// Unlink removes the entry for key from d without releasing its key
// or value and returns it, or nil if key is absent. The caller may
// use the entry and then pass it to FreeUnlinkedEntry.
func (d *Dict[K, V]) Unlink(key K) *Entry[K, V] {
	if d.Len() == 0 {
		return nil
	}
	hash := d.Hash(key)
	d.beginWrite()

	if d.IsRehashing() {
		d.rehashStep()
	}
	for t := 0; t <= 1; t++ {
		idx := hash & d.ht[t].mask()
		var prev *Entry[K, V]
		for he := d.ht[t].slots[idx]; he != nil; prev, he = he, he.next {
			if !d.typ.Equal(key, he.key) {
				continue
			}
			if prev != nil {
				prev.next = he.next
			} else {
				d.ht[t].slots[idx] = he.next
			}
			he.next = nil
			d.ht[t].used--
			d.endWrite()
			return he
		}
		if !d.IsRehashing() {
			break
		}
	}
	d.endWrite()
	return nil
}

// FreeUnlinkedEntry releases the key and value of an entry returned
// by Unlink. It is safe to call with nil.
func (d *Dict[K, V]) FreeUnlinkedEntry(e *Entry[K, V]) {
	if e == nil {
		return
	}
	d.typ.DestroyKey(e.key)
	d.typ.DestroyValue(e.val)
}

// Clear deletes all entries from d, releasing their keys and values.
func (d *Dict[K, V]) Clear() {
	d.Empty(nil)
}

// Empty deletes all entries from d like Clear. If callback is not nil
// it is called once every 65536 slots released, which lets a server
// keep serving events while a very large Dict is torn down.
func (d *Dict[K, V]) Empty(callback func()) {
	if d == nil {
		return
	}
	d.beginWrite()
	old := d.ht
	d.ht = [2]table[K, V]{}
	d.rehashIdx = -1
	d.seed = maphash.MakeSeed()
	d.endWrite()

	for t := range old {
		for i, he := range old[t].slots {
			if callback != nil && i&65535 == 0 {
				callback()
			}
			for he != nil {
				next := he.next
				d.typ.DestroyKey(he.key)
				d.typ.DestroyValue(he.val)
				he = next
			}
		}
	}
}

// expandIfNeeded allocates the first table, or starts a migration to a
// table twice the entry count once the load factor reaches 1 (or
// exceeds the force ratio when resizing is disabled).
func (d *Dict[K, V]) expandIfNeeded() error {
	if d.IsRehashing() {
		return nil
	}
	if d.ht[0].size() == 0 {
		return d.Expand(initialSize)
	}
	used, size := d.ht[0].used, d.ht[0].size()
	if used >= size && (d.resize || used/size > d.forceRatio) {
		return d.Expand(used * 2)
	}
	return nil
}

// Expand sizes d to the smallest power of two that is at least size.
// If d has no table yet the new table is installed directly; otherwise
// a migration to it begins. Expanding to the current size is a no-op.
func (d *Dict[K, V]) Expand(size int) error {
	if d.IsRehashing() {
		return ErrRehashing
	}
	if size < d.ht[0].used {
		return fmt.Errorf("%w: %d is smaller than %d entries", ErrInvalidSize, size, d.ht[0].used)
	}
	realsize, ok := nextPower(size)
	if !ok {
		return fmt.Errorf("%w: %d exceeds %d slots", ErrInvalidSize, size, maxSlots)
	}
	if realsize == d.ht[0].size() {
		return nil
	}
	slots, err := makeSlots[K, V](realsize)
	if err != nil {
		return err
	}
	d.tableSeq++
	n := table[K, V]{slots: slots, id: d.tableSeq}

	if d.ht[0].slots == nil {
		d.ht[0] = n
		return nil
	}
	d.ht[1] = n
	d.rehashIdx = 0
	if ce := d.logger.Check(zap.DebugLevel, "dict: rehash started"); ce != nil {
		ce.Write(zap.Int("from", d.ht[0].size()), zap.Int("to", realsize), zap.Int("used", d.ht[0].used))
	}
	return nil
}

// Resize shrinks (or grows) d to the smallest table that holds all
// entries with a load factor of at most 1.
func (d *Dict[K, V]) Resize() error {
	if !d.resize {
		return ErrResizeDisabled
	}
	if d.IsRehashing() {
		return ErrRehashing
	}
	minimal := d.ht[0].used
	if minimal < initialSize {
		minimal = initialSize
	}
	return d.Expand(minimal)
}

func nextPower(size int) (int, bool) {
	if size > maxSlots {
		return 0, false
	}
	i := initialSize
	for i < size {
		i *= 2
	}
	return i, true
}

func makeSlots[K, V any](n int) (slots []*Entry[K, V], err error) {
	defer func() {
		if r := recover(); r != nil {
			slots = nil
			err = fmt.Errorf("%w: %d slots: %v", ErrAllocationFailure, n, r)
		}
	}()
	return make([]*Entry[K, V], n), nil
}

// Rehash performs up to n migration steps. Each step moves one
// non-empty slot of the old table, with at most n*10 empty slots
// visited in total. It returns true while entries remain to be moved.
// Nothing is moved while an iterator or scan is in flight.
func (d *Dict[K, V]) Rehash(n int) bool {
	if !d.IsRehashing() {
		return false
	}
	if d.iterators > 0 {
		return true
	}
	emptyVisits := n * emptyVisitsPerStep
	for ; n > 0 && d.ht[0].used != 0; n-- {
		if d.rehashIdx >= d.ht[0].size() {
			panic("dict: rehash index out of range")
		}
		for d.ht[0].slots[d.rehashIdx] == nil {
			d.rehashIdx++
			emptyVisits--
			if emptyVisits == 0 {
				return true
			}
		}
		mask := d.ht[1].mask()
		he := d.ht[0].slots[d.rehashIdx]
		for he != nil {
			next := he.next
			idx := d.Hash(he.key) & mask
			he.next = d.ht[1].slots[idx]
			d.ht[1].slots[idx] = he
			d.ht[0].used--
			d.ht[1].used++
			he = next
		}
		d.ht[0].slots[d.rehashIdx] = nil
		d.rehashIdx++
	}

	if d.ht[0].used == 0 {
		d.ht[0] = d.ht[1]
		d.ht[1] = table[K, V]{}
		d.rehashIdx = -1
		if ce := d.logger.Check(zap.DebugLevel, "dict: rehash complete"); ce != nil {
			ce.Write(zap.Int("slots", d.ht[0].size()), zap.Int("used", d.ht[0].used))
		}
		return false
	}
	return true
}

// RehashFor migrates in batches of 100 slots until either the
// migration completes or dur has elapsed. It returns the number of
// steps attempted, or 0 if an iterator is in flight.
func (d *Dict[K, V]) RehashFor(dur time.Duration) int {
	if d.iterators > 0 {
		return 0
	}
	start := time.Now()
	rehashes := 0
	for d.Rehash(rehashBatch) {
		rehashes += rehashBatch
		if time.Since(start) > dur {
			break
		}
	}
	return rehashes
}

// rehashStep performs a single migration step unless an iterator is
// in flight. Lookups and writes call it so the migration makes
// progress while d is in use.
func (d *Dict[K, V]) rehashStep() {
	if d.iterators == 0 {
		d.Rehash(1)
	}
}

// fingerprint summarizes the shape of both tables. An unsafe iterator
// compares it on release to detect forbidden writes.
func (d *Dict[K, V]) fingerprint() uint64 {
	integers := [6]uint64{
		d.ht[0].id, uint64(d.ht[0].size()), uint64(d.ht[0].used),
		d.ht[1].id, uint64(d.ht[1].size()), uint64(d.ht[1].used),
	}
	// Result = hash(hash(hash(int1)+int2)+int3) ... using Thomas
	// Wang's 64 bit integer hash, so the order of the integers matters.
	var hash uint64
	for _, v := range integers {
		hash += v
		hash = (^hash) + (hash << 21)
		hash = hash ^ (hash >> 24)
		hash = (hash + (hash << 3)) + (hash << 8)
		hash = hash ^ (hash >> 14)
		hash = (hash + (hash << 2)) + (hash << 4)
		hash = hash ^ (hash >> 28)
		hash = hash + (hash << 31)
	}
	return hash
}

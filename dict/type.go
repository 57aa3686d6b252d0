// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import (
	"bytes"
	"hash/maphash"
)

// Type is the set of key and value callbacks a Dict is built with.
//
// The following requirements are the user's responsibility to follow:
//   - Equal(a, b) => Hash(seed, a) == Hash(seed, b)
//   - Equal(a, a) must be true for all values of a.
//   - The hash of a stored key must not change while it is in the Dict.
//
// DestroyKey and DestroyValue are called when the Dict drops its
// reference to a key or value: on Delete, on Replace of an existing
// key (value only), and on Clear/Empty. They are never called
// otherwise, and never while the Dict is mid-write, so they may call
// back into the Dict.
type Type[K, V any] interface {
	Hash(seed maphash.Seed, key K) uint64
	Equal(a, b K) bool
	DestroyKey(key K)
	DestroyValue(val V)
}

// Funcs implements Type with plain functions. HashFunc and EqualFunc
// are required; a nil destructor is a no-op.
type Funcs[K, V any] struct {
	HashFunc        func(maphash.Seed, K) uint64
	EqualFunc       func(a, b K) bool
	KeyDestructor   func(K)
	ValueDestructor func(V)
}

// Hash implements Type.
func (f Funcs[K, V]) Hash(seed maphash.Seed, key K) uint64 {
	return f.HashFunc(seed, key)
}

// Equal implements Type.
func (f Funcs[K, V]) Equal(a, b K) bool {
	return f.EqualFunc(a, b)
}

// DestroyKey implements Type.
func (f Funcs[K, V]) DestroyKey(key K) {
	if f.KeyDestructor != nil {
		f.KeyDestructor(key)
	}
}

// DestroyValue implements Type.
func (f Funcs[K, V]) DestroyValue(val V) {
	if f.ValueDestructor != nil {
		f.ValueDestructor(val)
	}
}

// Strings returns Funcs for string keys hashed with [hash/maphash].
func Strings[V any]() Funcs[string, V] {
	return Funcs[string, V]{
		HashFunc:  maphash.String,
		EqualFunc: func(a, b string) bool { return a == b },
	}
}

// Bytes returns Funcs for []byte keys hashed with [hash/maphash].
func Bytes[V any]() Funcs[[]byte, V] {
	return Funcs[[]byte, V]{
		HashFunc:  maphash.Bytes,
		EqualFunc: bytes.Equal,
	}
}

// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import "errors"

var (
	// ErrKeyExists is returned by Add when the key is already present.
	ErrKeyExists = errors.New("dict: key already exists")

	// ErrKeyNotFound is returned by Delete when the key is absent.
	ErrKeyNotFound = errors.New("dict: key not found")

	// ErrInvalidSize is returned by Expand when the requested size
	// cannot hold the entries already stored, or cannot be represented.
	ErrInvalidSize = errors.New("dict: invalid table size")

	// ErrAllocationFailure is returned when a new slot array could not
	// be allocated. The dict is left untouched.
	ErrAllocationFailure = errors.New("dict: allocation failure")

	// ErrRehashing is returned by Expand and Resize while a migration
	// is already in progress.
	ErrRehashing = errors.New("dict: rehashing in progress")

	// ErrResizeDisabled is returned by Resize when resizing has been
	// disabled with SetResizeEnabled(false).
	ErrResizeDisabled = errors.New("dict: resize disabled")
)

// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import "errors"

var (
	// ErrCapacityExceeded is returned when a descriptor does not fit in
	// the loop's set size.
	ErrCapacityExceeded = errors.New("ae: descriptor out of range")

	// ErrInUse is returned by ResizeSetSize when a registered
	// descriptor would not fit in the new size.
	ErrInUse = errors.New("ae: descriptor in use beyond requested size")

	// ErrNoSuchEvent is returned by DeleteTimeEvent for an unknown id.
	ErrNoSuchEvent = errors.New("ae: no such event")

	// ErrUnknownBackend is returned by New when the requested
	// readiness backend is not available on this platform.
	ErrUnknownBackend = errors.New("ae: unknown backend")

	// ErrClosed is returned when registering events on a closed loop.
	ErrClosed = errors.New("ae: loop closed")
)

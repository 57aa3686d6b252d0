// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// FiredEvent is a descriptor reported ready by a Backend.
type FiredEvent struct {
	FD   int
	Mask Mask
}

// Backend is a readiness notification mechanism. The Loop calls it
// from a single goroutine.
type Backend interface {
	// Name identifies the mechanism, for example "epoll".
	Name() string
	// Resize adapts internal buffers to a new set size.
	Resize(setsize int) error
	// Add starts watching fd for mask in addition to old, the mask
	// already registered.
	Add(fd int, old, mask Mask) error
	// Del stops watching fd for mask. old is the mask registered
	// before the call.
	Del(fd int, old, mask Mask) error
	// Poll waits up to timeout for readiness and fills fired,
	// returning the number of entries written. A negative timeout
	// blocks until an event arrives.
	Poll(timeout time.Duration, fired []FiredEvent) (int, error)
	// Close releases the mechanism.
	Close() error
}

type backendFactory func(setsize int) (Backend, error)

var (
	factories = map[string]backendFactory{}
	// preferred lists backends best first.
	preferred = []string{"epoll", "kqueue", "poll"}
)

func registerBackend(name string, f backendFactory) {
	factories[name] = f
}

// Backends returns the names of the backends available on this
// platform, sorted.
func Backends() []string {
	names := maps.Keys(factories)
	slices.Sort(names)
	return names
}

func newBackend(name string, setsize int) (Backend, error) {
	if name == "" {
		for _, n := range preferred {
			if _, ok := factories[n]; ok {
				name = n
				break
			}
		}
	}
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return f(setsize)
}

// timeoutMillis converts a Poll timeout to the millisecond argument
// of epoll_wait and poll, rounding up so a timer is never polled for
// too early.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import "time"

// Clock is a monotonic source of microseconds. Only differences
// between readings are meaningful.
type Clock interface {
	NowMicros() int64
}

// monotonicClock reads the runtime's monotonic clock relative to an
// anchor taken at construction. Wall clock steps do not affect it.
type monotonicClock struct {
	anchor time.Time
}

func newMonotonicClock() monotonicClock {
	return monotonicClock{anchor: time.Now()}
}

func (c monotonicClock) NowMicros() int64 {
	return time.Since(c.anchor).Microseconds()
}

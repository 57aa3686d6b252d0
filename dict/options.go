// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dict

import "go.uber.org/zap"

type options struct {
	hint       int
	resize     bool
	forceRatio int
	logger     *zap.Logger
}

// Option configures a Dict at construction time.
type Option func(*options)

// WithHint sizes the primary table for n entries up front.
func WithHint(n int) Option {
	return func(o *options) { o.hint = n }
}

// WithResize sets whether the Dict grows as soon as its load factor
// reaches 1. When disabled, growth only happens once the load factor
// exceeds the force ratio. This is typically turned off while a
// copy-on-write snapshot of the process is alive.
func WithResize(enabled bool) Option {
	return func(o *options) { o.resize = enabled }
}

// WithForceResizeRatio sets the load factor above which the Dict grows
// even when resizing is disabled. The default is 5.
func WithForceResizeRatio(ratio int) Option {
	return func(o *options) {
		if ratio > 0 {
			o.forceRatio = ratio
		}
	}
}

// WithLogger sets the logger used for resize diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

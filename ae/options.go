// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import "go.uber.org/zap"

type options struct {
	backend     Backend
	backendName string
	clock       Clock
	logger      *zap.Logger
}

// Option configures a Loop.
type Option func(*options)

// WithBackend makes the loop use b instead of a platform backend. The
// loop takes ownership of b and closes it in Close.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithBackendName selects a platform backend by name ("epoll",
// "kqueue" or "poll"). An empty name picks the best one available.
func WithBackendName(name string) Option {
	return func(o *options) { o.backendName = name }
}

// WithClock sets the clock timers are measured against.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

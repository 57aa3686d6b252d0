// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ae implements a single-threaded reactor: file descriptor
// readiness events and timers dispatched from one goroutine.
//
// A Loop keeps one registration slot per descriptor in [0, setsize)
// and an unordered list of timers. Each call to ProcessEvents waits
// for readiness no longer than the earliest timer allows, dispatches
// the ready descriptors and then the due timers.
//
// Except for Stop, Loop methods must be called from the goroutine that
// runs the loop, usually from within callbacks.
package ae

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Mask is a set of readiness conditions.
type Mask uint8

const (
	// None means no registration.
	None Mask = 0
	// Readable fires when the descriptor has data to read.
	Readable Mask = 1
	// Writable fires when the descriptor can be written to.
	Writable Mask = 2
	// Barrier with Writable inverts dispatch order for the descriptor:
	// the writable callback never runs after the readable one in the
	// same iteration.
	Barrier Mask = 4
)

func (m Mask) String() string {
	if m == None {
		return "none"
	}
	s := ""
	for _, b := range []struct {
		bit  Mask
		name string
	}{{Readable, "r"}, {Writable, "w"}, {Barrier, "b"}} {
		if m&b.bit != 0 {
			s += b.name
		}
	}
	return s
}

// Flags select what ProcessEvents does.
type Flags int

const (
	// FileEvents dispatches descriptor readiness.
	FileEvents Flags = 1 << iota
	// TimeEvents dispatches due timers.
	TimeEvents
	// DontWait polls without blocking.
	DontWait
	// CallBeforeSleep runs the before-sleep hook ahead of polling.
	CallBeforeSleep
	// CallAfterSleep runs the after-sleep hook once polling returns.
	CallAfterSleep

	// AllEvents is FileEvents|TimeEvents.
	AllEvents = FileEvents | TimeEvents
)

// NoMore, returned by a TimeProc, deletes the timer.
const NoMore = -1

// DeletedEventID marks a timer scheduled for removal.
const DeletedEventID int64 = -1

type (
	// FileProc handles readiness of fd. mask is what the backend
	// reported.
	FileProc func(l *Loop, fd int, clientData any, mask Mask)
	// TimeProc handles a due timer. It returns the delay in
	// milliseconds until it should run again, or NoMore.
	TimeProc func(l *Loop, id int64, clientData any) int
	// FinalizerProc runs once when a timer is removed from the loop.
	FinalizerProc func(l *Loop, clientData any)
	// SleepProc is a before or after sleep hook.
	SleepProc func(l *Loop)
)

type fileEvent struct {
	mask       Mask
	rproc      FileProc
	wproc      FileProc
	clientData any
	// sameProc is set when readable and writable were registered by
	// one call, so a descriptor ready for both fires the proc once.
	sameProc bool
}

// Loop is an event loop.
type Loop struct {
	events   []fileEvent  // registered events, indexed by fd
	fired    []FiredEvent // filled by the backend
	maxfd    int          // highest registered fd, -1 if none
	setsize  int
	nextID   int64
	timeHead *timeEvent
	stop     atomic.Bool
	dontWait bool
	closed   bool

	beforeSleep SleepProc
	afterSleep  SleepProc

	backend Backend
	clock   Clock
	logger  *zap.Logger
}

// New creates a Loop able to track descriptors in [0, setsize).
func New(setsize int, opts ...Option) (*Loop, error) {
	if setsize <= 0 {
		return nil, fmt.Errorf("%w: set size %d", ErrCapacityExceeded, setsize)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = newMonotonicClock()
	}
	if o.backend == nil {
		b, err := newBackend(o.backendName, setsize)
		if err != nil {
			return nil, err
		}
		o.backend = b
	} else if err := o.backend.Resize(setsize); err != nil {
		return nil, err
	}
	return &Loop{
		events:  make([]fileEvent, setsize),
		fired:   make([]FiredEvent, setsize),
		maxfd:   -1,
		setsize: setsize,
		backend: o.backend,
		clock:   o.clock,
		logger:  o.logger,
	}, nil
}

// SetSize returns the number of descriptors the loop can track.
func (l *Loop) SetSize() int {
	return l.setsize
}

// ResizeSetSize changes the number of descriptors the loop can track.
// It returns ErrInUse, changing nothing, if a registered descriptor
// is not below setsize.
func (l *Loop) ResizeSetSize(setsize int) error {
	if setsize == l.setsize {
		return nil
	}
	if setsize <= 0 {
		return fmt.Errorf("%w: set size %d", ErrCapacityExceeded, setsize)
	}
	if l.maxfd >= setsize {
		return fmt.Errorf("%w: fd %d, set size %d", ErrInUse, l.maxfd, setsize)
	}
	if err := l.backend.Resize(setsize); err != nil {
		return err
	}
	events := make([]fileEvent, setsize)
	copy(events, l.events)
	l.events = events
	l.fired = make([]FiredEvent, setsize)
	l.setsize = setsize
	return nil
}

// SetDontWait makes every ProcessEvents call poll without blocking
// until it is turned off again.
func (l *Loop) SetDontWait(noWait bool) {
	l.dontWait = noWait
}

// SetBeforeSleepProc sets the hook run before polling when
// CallBeforeSleep is given.
func (l *Loop) SetBeforeSleepProc(fn SleepProc) {
	l.beforeSleep = fn
}

// SetAfterSleepProc sets the hook run after polling when
// CallAfterSleep is given.
func (l *Loop) SetAfterSleepProc(fn SleepProc) {
	l.afterSleep = fn
}

// APIName returns the name of the readiness backend.
func (l *Loop) APIName() string {
	return l.backend.Name()
}

// Stop makes Main return before its next iteration. It may be called
// from any goroutine, but does not interrupt a poll in progress.
func (l *Loop) Stop() {
	l.stop.Store(true)
}

// Main processes events until Stop is called or the loop is closed.
func (l *Loop) Main() {
	l.stop.Store(false)
	for !l.stop.Load() && !l.closed {
		l.ProcessEvents(AllEvents | CallBeforeSleep | CallAfterSleep)
	}
}

// Close releases the backend. Pending timers are dropped without
// running their finalizers.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.timeHead = nil
	for fd := range l.events {
		l.events[fd] = fileEvent{}
	}
	l.maxfd = -1
	return l.backend.Close()
}

// CreateFileEvent registers proc to be called when fd becomes ready
// for mask. Registering one condition keeps any other already
// registered for fd. clientData replaces the previous value.
func (l *Loop) CreateFileEvent(fd int, mask Mask, proc FileProc, clientData any) error {
	if l.closed {
		return ErrClosed
	}
	if fd < 0 || fd >= l.setsize {
		return fmt.Errorf("%w: fd %d, set size %d", ErrCapacityExceeded, fd, l.setsize)
	}
	fe := &l.events[fd]
	if err := l.backend.Add(fd, fe.mask, mask); err != nil {
		return fmt.Errorf("ae: watching fd %d for %s: %w", fd, mask, err)
	}
	fe.mask |= mask
	if mask&Readable != 0 {
		fe.rproc = proc
	}
	if mask&Writable != 0 {
		fe.wproc = proc
	}
	if mask&(Readable|Writable) != 0 {
		fe.sameProc = mask&(Readable|Writable) == Readable|Writable
	}
	fe.clientData = clientData
	if fd > l.maxfd {
		l.maxfd = fd
	}
	return nil
}

// DeleteFileEvent unregisters mask for fd. Removing Writable also
// removes Barrier. Unknown descriptors are ignored.
func (l *Loop) DeleteFileEvent(fd int, mask Mask) {
	if fd < 0 || fd >= l.setsize {
		return
	}
	fe := &l.events[fd]
	if fe.mask == None {
		return
	}
	if mask&Writable != 0 {
		mask |= Barrier
	}
	if err := l.backend.Del(fd, fe.mask, mask); err != nil {
		l.logger.Warn("ae: unwatching fd failed", zap.Int("fd", fd),
			zap.Stringer("mask", mask), zap.Error(err))
	}
	fe.mask &^= mask
	if mask&Readable != 0 {
		fe.rproc = nil
		fe.sameProc = false
	}
	if mask&Writable != 0 {
		fe.wproc = nil
		fe.sameProc = false
	}
	if fe.mask == None {
		fe.clientData = nil
		if fd == l.maxfd {
			j := l.maxfd - 1
			for ; j >= 0; j-- {
				if l.events[j].mask != None {
					break
				}
			}
			l.maxfd = j
		}
	}
}

// FileEvents returns the conditions registered for fd.
func (l *Loop) FileEvents(fd int) Mask {
	if fd < 0 || fd >= l.setsize {
		return None
	}
	return l.events[fd].mask
}

// ProcessEvents waits for and dispatches events as selected by flags
// and returns how many were dispatched.
//
// Without DontWait it blocks until a descriptor is ready or the
// earliest timer is due, indefinitely if there are no timers. With no
// timers and no descriptors registered it returns at once.
func (l *Loop) ProcessEvents(flags Flags) int {
	if flags&(FileEvents|TimeEvents) == 0 || l.closed {
		return 0
	}
	if l.maxfd == -1 && (flags&TimeEvents == 0 || l.timeHead == nil) {
		return 0
	}

	processed := 0
	// Poll even without descriptors so we sleep until the next timer.
	if l.maxfd != -1 || (flags&TimeEvents != 0 && flags&DontWait == 0) {
		timeout := time.Duration(-1)
		if flags&TimeEvents != 0 && flags&DontWait == 0 {
			if us, ok := l.usUntilEarliestTimer(); ok {
				timeout = time.Duration(us) * time.Microsecond
			}
		}
		if flags&DontWait != 0 || l.dontWait {
			timeout = 0
		}

		if l.beforeSleep != nil && flags&CallBeforeSleep != 0 {
			l.beforeSleep(l)
		}
		n, err := l.backend.Poll(timeout, l.fired)
		if err != nil {
			l.logger.Warn("ae: poll failed", zap.String("backend", l.backend.Name()), zap.Error(err))
			n = 0
		}
		if l.afterSleep != nil && flags&CallAfterSleep != 0 {
			l.afterSleep(l)
		}

		if flags&FileEvents != 0 {
			// Callbacks may resize the loop; keep our own view of what
			// fired.
			for _, fe := range l.fired[:n] {
				l.dispatch(fe.FD, fe.Mask)
				processed++
			}
		}
	}
	if flags&TimeEvents != 0 {
		processed += l.processTimeEvents()
	}
	return processed
}

// dispatch runs the callbacks of fd for the conditions in mask that
// are still registered. Readable normally fires first, so a reply can
// go out in the same iteration its request was read.
func (l *Loop) dispatch(fd int, mask Mask) {
	fe := l.fileEvent(fd)
	if fe == nil {
		return
	}
	invert := fe.mask&Barrier != 0
	fired := 0

	// An earlier callback may have unregistered what fired, so check
	// the current mask before each call.
	if !invert && fe.mask&mask&Readable != 0 {
		fe.rproc(l, fd, fe.clientData, mask)
		fired++
		if fe = l.fileEvent(fd); fe == nil {
			return
		}
	}
	if fe.mask&mask&Writable != 0 && (fired == 0 || !fe.sameProc) {
		fe.wproc(l, fd, fe.clientData, mask)
		fired++
	}
	if invert {
		if fe = l.fileEvent(fd); fe == nil {
			return
		}
		if fe.mask&mask&Readable != 0 && (fired == 0 || !fe.sameProc) {
			fe.rproc(l, fd, fe.clientData, mask)
		}
	}
}

func (l *Loop) fileEvent(fd int) *fileEvent {
	if fd < 0 || fd >= len(l.events) {
		return nil
	}
	return &l.events[fd]
}

// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package ae

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	registerBackend("kqueue", newKqueueBackend)
}

type kqueueBackend struct {
	kqfd   int
	events []unix.Kevent_t
}

func newKqueueBackend(setsize int) (Backend, error) {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kqfd)
	return &kqueueBackend{kqfd: kqfd, events: make([]unix.Kevent_t, setsize)}, nil
}

func (b *kqueueBackend) Name() string { return "kqueue" }

func (b *kqueueBackend) Resize(setsize int) error {
	b.events = make([]unix.Kevent_t, setsize)
	return nil
}

func (b *kqueueBackend) change(fd int, mask Mask, flags int) error {
	var changes []unix.Kevent_t
	if mask&Readable != 0 {
		var k unix.Kevent_t
		unix.SetKevent(&k, fd, unix.EVFILT_READ, flags)
		changes = append(changes, k)
	}
	if mask&Writable != 0 {
		var k unix.Kevent_t
		unix.SetKevent(&k, fd, unix.EVFILT_WRITE, flags)
		changes = append(changes, k)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.kqfd, changes, nil, nil)
	return os.NewSyscallError("kevent", err)
}

func (b *kqueueBackend) Add(fd int, old, mask Mask) error {
	return b.change(fd, mask&^old, unix.EV_ADD)
}

func (b *kqueueBackend) Del(fd int, old, mask Mask) error {
	return b.change(fd, mask&old, unix.EV_DELETE)
}

func (b *kqueueBackend) Poll(timeout time.Duration, fired []FiredEvent) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	events := b.events
	if len(events) > len(fired) {
		events = events[:len(fired)]
	}
	n, err := unix.Kevent(b.kqfd, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent", err)
	}
	// Read and write readiness arrive as separate events; merge them
	// so each descriptor is dispatched once.
	out := 0
	for i := 0; i < n; i++ {
		e := events[i]
		var mask Mask
		switch e.Filter {
		case unix.EVFILT_READ:
			mask = Readable
		case unix.EVFILT_WRITE:
			mask = Writable
		}
		fd := int(e.Ident)
		merged := false
		for j := 0; j < out; j++ {
			if fired[j].FD == fd {
				fired[j].Mask |= mask
				merged = true
				break
			}
		}
		if !merged {
			fired[out] = FiredEvent{FD: fd, Mask: mask}
			out++
		}
	}
	return out, nil
}

func (b *kqueueBackend) Close() error {
	return unix.Close(b.kqfd)
}

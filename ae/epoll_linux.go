// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	registerBackend("epoll", newEpollBackend)
}

type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
}

func newEpollBackend(setsize int) (Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollBackend{epfd: epfd, events: make([]unix.EpollEvent, setsize)}, nil
}

func (b *epollBackend) Name() string { return "epoll" }

func (b *epollBackend) Resize(setsize int) error {
	b.events = make([]unix.EpollEvent, setsize)
	return nil
}

func epollMask(m Mask) uint32 {
	var ev uint32
	if m&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if m&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// The fd is in the epoll set exactly when its mask has Readable or
// Writable; a Barrier-only registration does not touch epoll.
func (b *epollBackend) Add(fd int, old, mask Mask) error {
	events := epollMask(old | mask)
	if events == 0 {
		return nil
	}
	op := unix.EPOLL_CTL_ADD
	if old&(Readable|Writable) != 0 {
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(b.epfd, op, fd, &ev))
}

func (b *epollBackend) Del(fd int, old, mask Mask) error {
	if old&(Readable|Writable) == 0 {
		return nil
	}
	remaining := old &^ mask
	ev := unix.EpollEvent{Events: epollMask(remaining), Fd: int32(fd)}
	op := unix.EPOLL_CTL_DEL
	if remaining&(Readable|Writable) != 0 {
		op = unix.EPOLL_CTL_MOD
	}
	return os.NewSyscallError("epoll_ctl", unix.EpollCtl(b.epfd, op, fd, &ev))
}

func (b *epollBackend) Poll(timeout time.Duration, fired []FiredEvent) (int, error) {
	events := b.events
	if len(events) > len(fired) {
		events = events[:len(fired)]
	}
	n, err := unix.EpollWait(b.epfd, events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		e := events[i]
		var mask Mask
		if e.Events&unix.EPOLLIN != 0 {
			mask |= Readable
		}
		if e.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= Writable
		}
		fired[i] = FiredEvent{FD: int(e.Fd), Mask: mask}
	}
	return n, nil
}

func (b *epollBackend) Close() error {
	return unix.Close(b.epfd)
}

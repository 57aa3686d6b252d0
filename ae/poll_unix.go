// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package ae

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	registerBackend("poll", newPollBackend)
}

// sysPoll is poll(2), replaced in tests.
var sysPoll = unix.Poll

// pollBackend uses poll(2). It rebuilds the descriptor list on every
// call, which is linear in the set size; it exists for platforms
// without epoll or kqueue and for tests.
type pollBackend struct {
	masks []Mask
	pfds  []unix.PollFd
}

func newPollBackend(setsize int) (Backend, error) {
	return &pollBackend{masks: make([]Mask, setsize)}, nil
}

func (b *pollBackend) Name() string { return "poll" }

func (b *pollBackend) Resize(setsize int) error {
	masks := make([]Mask, setsize)
	copy(masks, b.masks)
	b.masks = masks
	return nil
}

func (b *pollBackend) Add(fd int, old, mask Mask) error {
	b.masks[fd] = (old | mask) & (Readable | Writable)
	return nil
}

func (b *pollBackend) Del(fd int, old, mask Mask) error {
	b.masks[fd] = (old &^ mask) & (Readable | Writable)
	return nil
}

func pollEvents(m Mask) int16 {
	var ev int16
	if m&Readable != 0 {
		ev |= unix.POLLIN
	}
	if m&Writable != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func pollMask(revents int16) Mask {
	var mask Mask
	if revents&unix.POLLIN != 0 {
		mask |= Readable
	}
	if revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0 {
		mask |= Writable
	}
	return mask
}

func (b *pollBackend) Poll(timeout time.Duration, fired []FiredEvent) (int, error) {
	b.pfds = b.pfds[:0]
	for fd, m := range b.masks {
		if m != None {
			b.pfds = append(b.pfds, unix.PollFd{Fd: int32(fd), Events: pollEvents(m)})
		}
	}
	_, err := sysPoll(b.pfds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("poll", err)
	}
	n := 0
	for _, p := range b.pfds {
		if p.Revents == 0 || n == len(fired) {
			continue
		}
		fired[n] = FiredEvent{FD: int(p.Fd), Mask: pollMask(p.Revents)}
		n++
	}
	return n, nil
}

func (b *pollBackend) Close() error {
	b.masks = nil
	return nil
}

// Wait blocks up to timeout until fd is ready for mask and returns the
// readiness found, or None on timeout or interruption. Errors and hangups are
// reported as Writable. A negative timeout blocks indefinitely.
func Wait(fd int, mask Mask, timeout time.Duration) (Mask, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: pollEvents(mask)}}
	n, err := sysPoll(pfd, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return None, nil
		}
		return None, os.NewSyscallError("poll", err)
	}
	if n != 1 {
		return None, nil
	}
	return pollMask(pfd[0].Revents), nil
}

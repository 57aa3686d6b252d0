// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import (
	"errors"
	"testing"
	"time"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	us int64
}

func (c *fakeClock) NowMicros() int64 { return c.us }

func (c *fakeClock) advance(d time.Duration) { c.us += d.Microseconds() }

// fakeBackend replays scripted readiness batches. When none is queued
// a Poll sleeps on the fake clock for the whole timeout.
type fakeBackend struct {
	clock    *fakeClock
	masks    map[int]Mask
	batches  [][]FiredEvent
	timeouts []time.Duration
	setsize  int
	closed   bool
	addErr   error
}

func newFakeBackend(clock *fakeClock) *fakeBackend {
	return &fakeBackend{clock: clock, masks: map[int]Mask{}}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Resize(setsize int) error {
	b.setsize = setsize
	return nil
}

func (b *fakeBackend) Add(fd int, old, mask Mask) error {
	if b.addErr != nil {
		return b.addErr
	}
	b.masks[fd] = old | mask
	return nil
}

func (b *fakeBackend) Del(fd int, old, mask Mask) error {
	if m := old &^ mask; m != None {
		b.masks[fd] = m
	} else {
		delete(b.masks, fd)
	}
	return nil
}

func (b *fakeBackend) Poll(timeout time.Duration, fired []FiredEvent) (int, error) {
	b.timeouts = append(b.timeouts, timeout)
	if len(b.batches) > 0 {
		batch := b.batches[0]
		b.batches = b.batches[1:]
		return copy(fired, batch), nil
	}
	if timeout > 0 {
		b.clock.advance(timeout)
	}
	return 0, nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func newTestLoop(t *testing.T, setsize int) (*Loop, *fakeBackend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	b := newFakeBackend(clock)
	l, err := New(setsize, WithBackend(b), WithClock(clock))
	require.NoError(t, err)
	require.Equal(t, setsize, b.setsize)
	return l, b, clock
}

func TestNew(t *testing.T) {
	_, err := New(0)
	require.True(t, errors.Is(err, ErrCapacityExceeded))

	_, err = New(8, WithBackendName("select"))
	require.True(t, errors.Is(err, ErrUnknownBackend))

	l, b, _ := newTestLoop(t, 8)
	require.Equal(t, "fake", l.APIName())
	require.Equal(t, 8, l.SetSize())
	require.NoError(t, l.Close())
	require.True(t, b.closed)
	require.NoError(t, l.Close())
}

func TestCreateFileEventCapacity(t *testing.T) {
	l, b, _ := newTestLoop(t, 4)
	noop := func(*Loop, int, any, Mask) {}
	for _, fd := range []int{-1, 4, 100} {
		err := l.CreateFileEvent(fd, Readable, noop, nil)
		require.True(t, errors.Is(err, ErrCapacityExceeded), "fd %d: %v", fd, err)
		require.Equal(t, None, l.FileEvents(fd))
	}
	require.Empty(t, b.masks)
	require.Equal(t, -1, l.maxfd)

	b.addErr = errors.New("boom")
	require.Error(t, l.CreateFileEvent(2, Readable, noop, nil))
	require.Equal(t, None, l.FileEvents(2))
	require.Equal(t, -1, l.maxfd)
}

func TestReadThenWrite(t *testing.T) {
	l, b, _ := newTestLoop(t, 8)
	var order []string
	require.NoError(t, l.CreateFileEvent(3, Readable, func(_ *Loop, fd int, cd any, mask Mask) {
		require.Equal(t, 3, fd)
		require.Equal(t, "client", cd)
		require.Equal(t, Readable|Writable, mask)
		order = append(order, "r")
	}, "client"))
	require.NoError(t, l.CreateFileEvent(3, Writable, func(*Loop, int, any, Mask) {
		order = append(order, "w")
	}, "client"))
	require.Equal(t, Readable|Writable, l.FileEvents(3))
	require.Equal(t, Readable|Writable, b.masks[3])

	b.batches = [][]FiredEvent{{{FD: 3, Mask: Readable | Writable}}}
	require.Equal(t, 1, l.ProcessEvents(FileEvents))
	require.Equal(t, []string{"r", "w"}, order)
}

func TestBarrier(t *testing.T) {
	l, b, _ := newTestLoop(t, 8)
	var order []string
	require.NoError(t, l.CreateFileEvent(5, Readable, func(*Loop, int, any, Mask) {
		order = append(order, "r")
	}, nil))
	require.NoError(t, l.CreateFileEvent(5, Writable|Barrier, func(*Loop, int, any, Mask) {
		order = append(order, "w")
	}, nil))

	b.batches = [][]FiredEvent{{{FD: 5, Mask: Readable | Writable}}}
	l.ProcessEvents(FileEvents)
	require.Equal(t, []string{"w", "r"}, order)

	// Removing Writable drops the barrier with it.
	l.DeleteFileEvent(5, Writable)
	require.Equal(t, Readable, l.FileEvents(5))
}

func TestBarrierWriteDeletesRead(t *testing.T) {
	l, b, _ := newTestLoop(t, 8)
	var order []string
	require.NoError(t, l.CreateFileEvent(5, Readable, func(*Loop, int, any, Mask) {
		order = append(order, "r")
	}, nil))
	require.NoError(t, l.CreateFileEvent(5, Writable|Barrier, func(l *Loop, fd int, _ any, _ Mask) {
		order = append(order, "w")
		l.DeleteFileEvent(fd, Readable)
	}, nil))

	b.batches = [][]FiredEvent{{{FD: 5, Mask: Readable | Writable}}}
	require.Equal(t, 1, l.ProcessEvents(FileEvents))
	require.Equal(t, []string{"w"}, order)
	require.Equal(t, Writable|Barrier, l.FileEvents(5))
}

func TestSameProcFiresOnce(t *testing.T) {
	l, b, _ := newTestLoop(t, 8)
	calls := 0
	require.NoError(t, l.CreateFileEvent(1, Readable|Writable, func(*Loop, int, any, Mask) {
		calls++
	}, nil))
	b.batches = [][]FiredEvent{{{FD: 1, Mask: Readable | Writable}}}
	l.ProcessEvents(FileEvents)
	require.Equal(t, 1, calls)
}

func TestDeleteDuringDispatch(t *testing.T) {
	l, b, _ := newTestLoop(t, 8)
	var order []string
	require.NoError(t, l.CreateFileEvent(2, Writable, func(*Loop, int, any, Mask) {
		order = append(order, "w")
	}, nil))
	// fd 4 is unregistered by the callback of fd 2 before its turn.
	require.NoError(t, l.CreateFileEvent(4, Readable, func(*Loop, int, any, Mask) {
		order = append(order, "r4")
	}, nil))
	require.NoError(t, l.CreateFileEvent(2, Readable, func(l *Loop, fd int, _ any, _ Mask) {
		order = append(order, "r")
		l.DeleteFileEvent(fd, Writable)
		l.DeleteFileEvent(4, Readable)
	}, nil))

	b.batches = [][]FiredEvent{{{FD: 2, Mask: Readable | Writable}, {FD: 4, Mask: Readable}}}
	require.Equal(t, 2, l.ProcessEvents(FileEvents))
	require.Equal(t, []string{"r"}, order)
	require.Equal(t, Readable, l.FileEvents(2))
	require.Equal(t, None, l.FileEvents(4))
}

func TestDeleteFileEventMaxFD(t *testing.T) {
	l, b, _ := newTestLoop(t, 16)
	noop := func(*Loop, int, any, Mask) {}
	require.NoError(t, l.CreateFileEvent(1, Readable, noop, nil))
	require.NoError(t, l.CreateFileEvent(9, Readable|Writable, noop, nil))
	require.Equal(t, 9, l.maxfd)

	err := l.ResizeSetSize(8)
	require.True(t, errors.Is(err, ErrInUse))
	require.Equal(t, 16, l.SetSize())
	require.Equal(t, Readable|Writable, l.FileEvents(9))

	l.DeleteFileEvent(9, Readable)
	require.Equal(t, 9, l.maxfd)
	l.DeleteFileEvent(9, Writable)
	require.Equal(t, 1, l.maxfd)
	require.NotContains(t, b.masks, 9)

	// Deleting what is not registered is a no-op.
	l.DeleteFileEvent(9, Readable)
	l.DeleteFileEvent(100, Readable)
	l.DeleteFileEvent(-1, Readable)

	require.NoError(t, l.ResizeSetSize(2))
	require.Equal(t, 2, l.SetSize())
	require.Equal(t, 2, b.setsize)
	require.Equal(t, Readable, l.FileEvents(1))
	require.True(t, errors.Is(l.CreateFileEvent(2, Readable, noop, nil), ErrCapacityExceeded))

	require.NoError(t, l.ResizeSetSize(32))
	require.Equal(t, Readable, l.FileEvents(1))
	require.NoError(t, l.CreateFileEvent(31, Readable, noop, nil))

	l.DeleteFileEvent(1, Readable)
	l.DeleteFileEvent(31, Readable)
	require.Equal(t, -1, l.maxfd)
}

func TestProcessEventsNothingToDo(t *testing.T) {
	l, b, _ := newTestLoop(t, 8)
	require.Equal(t, 0, l.ProcessEvents(AllEvents))
	require.Equal(t, 0, l.ProcessEvents(0))
	require.Empty(t, b.timeouts)

	// A timer alone is enough to sleep on.
	l.CreateTimeEvent(10, func(*Loop, int64, any) int { return NoMore }, nil, nil)
	require.Equal(t, 0, l.ProcessEvents(FileEvents))
	require.Empty(t, b.timeouts)
	require.Equal(t, 1, l.ProcessEvents(AllEvents))
	require.Equal(t, []time.Duration{10 * time.Millisecond}, b.timeouts)
}

func TestPollTimeout(t *testing.T) {
	l, b, clock := newTestLoop(t, 8)
	noop := func(*Loop, int, any, Mask) {}
	require.NoError(t, l.CreateFileEvent(0, Readable, noop, nil))

	// No timers: block.
	l.ProcessEvents(AllEvents)
	require.Equal(t, time.Duration(-1), b.timeouts[0])

	id := l.CreateTimeEvent(25, func(*Loop, int64, any) int { return 25 }, nil, nil)
	clock.advance(5 * time.Millisecond)
	b.batches = [][]FiredEvent{{}}
	l.ProcessEvents(AllEvents)
	require.Equal(t, 20*time.Millisecond, b.timeouts[1])

	l.ProcessEvents(AllEvents | DontWait)
	require.Equal(t, time.Duration(0), b.timeouts[2])

	l.SetDontWait(true)
	l.ProcessEvents(AllEvents)
	require.Equal(t, time.Duration(0), b.timeouts[3])
	l.SetDontWait(false)

	// Overdue timers poll without blocking.
	clock.advance(time.Second)
	b.batches = [][]FiredEvent{{}}
	require.Equal(t, 1, l.ProcessEvents(AllEvents))
	require.Equal(t, time.Duration(0), b.timeouts[4])
	require.NoError(t, l.DeleteTimeEvent(id))
}

func TestSleepHooks(t *testing.T) {
	l, _, _ := newTestLoop(t, 8)
	var calls []string
	l.SetBeforeSleepProc(func(*Loop) { calls = append(calls, "before") })
	l.SetAfterSleepProc(func(*Loop) { calls = append(calls, "after") })
	require.NoError(t, l.CreateFileEvent(0, Readable, func(*Loop, int, any, Mask) {}, nil))

	l.ProcessEvents(AllEvents | DontWait)
	require.Empty(t, calls)
	l.ProcessEvents(AllEvents | DontWait | CallBeforeSleep | CallAfterSleep)
	require.Equal(t, []string{"before", "after"}, calls)
}

func TestTimerOrdering(t *testing.T) {
	l, _, clock := newTestLoop(t, 8)
	var order []int64
	fire := func(_ *Loop, _ int64, cd any) int {
		order = append(order, cd.(int64))
		return NoMore
	}
	l.CreateTimeEvent(30, fire, int64(30), nil)
	l.CreateTimeEvent(10, fire, int64(10), nil)
	l.CreateTimeEvent(20, fire, int64(20), nil)
	l.CreateTimeEvent(1000, fire, int64(1000), nil)

	clock.advance(50 * time.Millisecond)
	require.Equal(t, 3, l.ProcessEvents(TimeEvents|DontWait))
	require.Equal(t, []int64{10, 20, 30}, order)

	// A timer is never dispatched before its deadline.
	clock.advance(900 * time.Millisecond)
	require.Equal(t, 0, l.ProcessEvents(TimeEvents|DontWait))
	clock.advance(50 * time.Millisecond)
	require.Equal(t, 1, l.ProcessEvents(TimeEvents|DontWait))
	require.Equal(t, []int64{10, 20, 30, 1000}, order)
}

func TestTimerReschedule(t *testing.T) {
	l, _, clock := newTestLoop(t, 8)
	fired := 0
	finalized := 0
	l.CreateTimeEvent(10, func(*Loop, int64, any) int {
		fired++
		if fired == 3 {
			return NoMore
		}
		return 10
	}, nil, func(*Loop, any) { finalized++ })

	for i := 0; i < 5; i++ {
		clock.advance(10 * time.Millisecond)
		l.ProcessEvents(TimeEvents | DontWait)
	}
	require.Equal(t, 3, fired)
	require.Equal(t, 1, finalized)
	require.Nil(t, l.timeHead)
}

func TestTimerCreatedByTimerWaits(t *testing.T) {
	l, _, clock := newTestLoop(t, 8)
	var order []string
	l.CreateTimeEvent(0, func(l *Loop, _ int64, _ any) int {
		order = append(order, "outer")
		l.CreateTimeEvent(0, func(*Loop, int64, any) int {
			order = append(order, "inner")
			return NoMore
		}, nil, nil)
		return NoMore
	}, nil, nil)

	require.Equal(t, 1, l.ProcessEvents(TimeEvents|DontWait))
	require.Equal(t, []string{"outer"}, order)
	clock.advance(time.Millisecond)
	require.Equal(t, 1, l.ProcessEvents(TimeEvents|DontWait))
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestTimerReentrantDelete(t *testing.T) {
	l, _, clock := newTestLoop(t, 8)
	finalized := map[string]int{}
	finalizer := func(_ *Loop, cd any) { finalized[cd.(string)]++ }

	var other int64
	self := l.CreateTimeEvent(0, func(l *Loop, id int64, _ any) int {
		require.NoError(t, l.DeleteTimeEvent(id))
		require.NoError(t, l.DeleteTimeEvent(other))
		// Nested passes must neither free this timer nor run the one
		// deleted above.
		l.ProcessEvents(TimeEvents | DontWait)
		l.ProcessEvents(TimeEvents | DontWait)
		require.Equal(t, 0, finalized["self"])
		return 5
	}, "self", finalizer)
	other = l.CreateTimeEvent(1, func(*Loop, int64, any) int {
		t.Error("deleted timer fired")
		return NoMore
	}, "other", finalizer)
	require.NotEqual(t, self, other)

	clock.advance(time.Millisecond)
	require.Equal(t, 1, l.ProcessEvents(TimeEvents|DontWait))
	require.Equal(t, 1, finalized["other"])
	for i := 0; i < 3; i++ {
		clock.advance(10 * time.Millisecond)
		require.Equal(t, 0, l.ProcessEvents(TimeEvents|DontWait))
	}
	require.Equal(t, map[string]int{"self": 1, "other": 1}, finalized)
	require.Nil(t, l.timeHead)

	err := l.DeleteTimeEvent(self)
	require.True(t, errors.Is(err, ErrNoSuchEvent))
	require.True(t, errors.Is(l.DeleteTimeEvent(DeletedEventID), ErrNoSuchEvent))
}

func TestDeletedTimerWakesPoll(t *testing.T) {
	l, b, clock := newTestLoop(t, 8)
	finalized := 0
	id := l.CreateTimeEvent(10, func(*Loop, int64, any) int { return NoMore },
		nil, func(*Loop, any) { finalized++ })
	clock.advance(20 * time.Millisecond)
	require.NoError(t, l.DeleteTimeEvent(id))
	require.Equal(t, 0, l.ProcessEvents(AllEvents))
	require.Equal(t, time.Duration(0), b.timeouts[0])
	require.Equal(t, 1, finalized)
}

func TestMainStop(t *testing.T) {
	defer leaktest.AfterTest(t)()
	l, _, _ := newTestLoop(t, 8)
	ticks := 0
	l.CreateTimeEvent(1, func(l *Loop, _ int64, _ any) int {
		ticks++
		if ticks%3 == 0 {
			l.Stop()
		}
		return 1
	}, nil, nil)
	l.Main()
	require.Equal(t, 3, ticks)

	// Main clears a previous Stop.
	l.Main()
	require.Equal(t, 6, ticks)
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	defer leaktest.AfterTest(t)()
	l, _, _ := newTestLoop(t, 8)
	started := make(chan struct{})
	ticks := 0
	l.CreateTimeEvent(1, func(*Loop, int64, any) int {
		if ticks == 0 {
			close(started)
		}
		ticks++
		return 1
	}, nil, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-started
		l.Stop()
	}()
	l.Main()
	<-done
	require.Positive(t, ticks)
}

func TestClosedLoop(t *testing.T) {
	l, _, _ := newTestLoop(t, 8)
	finalized := 0
	l.CreateTimeEvent(0, func(*Loop, int64, any) int { return NoMore },
		nil, func(*Loop, any) { finalized++ })
	require.NoError(t, l.CreateFileEvent(1, Readable, func(*Loop, int, any, Mask) {}, nil))
	require.NoError(t, l.Close())
	require.Equal(t, 0, finalized)
	require.Equal(t, 0, l.ProcessEvents(AllEvents))
	// Main returns at once instead of spinning until Stop.
	l.Main()
	err := l.CreateFileEvent(1, Readable, func(*Loop, int, any, Mask) {}, nil)
	require.True(t, errors.Is(err, ErrClosed))
}

func TestMaskString(t *testing.T) {
	for m, exp := range map[Mask]string{
		None:                          "none",
		Readable:                      "r",
		Writable | Barrier:            "wb",
		Readable | Writable | Barrier: "rwb",
	} {
		require.Equal(t, exp, m.String())
	}
}

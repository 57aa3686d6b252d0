// Copyright (c) Arista Networks, Inc. 2024
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ae

import (
	"cmp"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// timeEvent is a timer in the loop's doubly linked list. Deleted
// timers keep their node, with id DeletedEventID, until no callback
// of theirs is running; the next pass over the list unlinks them and
// runs the finalizer.
type timeEvent struct {
	id         int64
	when       int64 // microseconds on the loop's clock
	proc       TimeProc
	finalizer  FinalizerProc
	clientData any
	refcount   int // callbacks in progress
	prev, next *timeEvent
}

// CreateTimeEvent schedules proc to run after ms milliseconds and
// returns the timer's id. finalizer, if not nil, runs once when the
// timer is removed.
func (l *Loop) CreateTimeEvent(ms int64, proc TimeProc, clientData any,
	finalizer FinalizerProc) int64 {
	id := l.nextID
	l.nextID++
	te := &timeEvent{
		id:         id,
		when:       l.clock.NowMicros() + ms*1000,
		proc:       proc,
		finalizer:  finalizer,
		clientData: clientData,
		next:       l.timeHead,
	}
	if te.next != nil {
		te.next.prev = te
	}
	l.timeHead = te
	return id
}

// DeleteTimeEvent schedules the timer id for removal. It returns
// ErrNoSuchEvent if there is no such timer.
func (l *Loop) DeleteTimeEvent(id int64) error {
	if id >= 0 {
		for te := l.timeHead; te != nil; te = te.next {
			if te.id == id {
				te.id = DeletedEventID
				return nil
			}
		}
	}
	return fmt.Errorf("%w: timer %d", ErrNoSuchEvent, id)
}

// usUntilEarliestTimer returns how long until the first timer is due,
// 0 if it is overdue. ok is false when there are no timers. Timers
// are unsorted, so this is O(N).
func (l *Loop) usUntilEarliestTimer() (us int64, ok bool) {
	te := l.timeHead
	if te == nil {
		return 0, false
	}
	earliest := te
	for ; te != nil; te = te.next {
		if te.when < earliest.when {
			earliest = te
		}
	}
	now := l.clock.NowMicros()
	if now >= earliest.when {
		return 0, true
	}
	return earliest.when - now, true
}

func (l *Loop) unlinkTimer(te *timeEvent) {
	if te.prev != nil {
		te.prev.next = te.next
	} else {
		l.timeHead = te.next
	}
	if te.next != nil {
		te.next.prev = te.prev
	}
	te.prev, te.next = nil, nil
	if te.finalizer != nil {
		te.finalizer(l, te.clientData)
		if ce := l.logger.Check(zap.DebugLevel, "ae: timer finalized"); ce != nil {
			ce.Write()
		}
	}
}

// processTimeEvents removes deleted timers and runs the due ones,
// earliest deadline first. Timers created by callbacks during the
// pass wait for the next one.
func (l *Loop) processTimeEvents() int {
	processed := 0
	maxID := l.nextID - 1
	now := l.clock.NowMicros()

	var due []*timeEvent
	for te := l.timeHead; te != nil; {
		next := te.next
		if te.id == DeletedEventID {
			// A running callback still references the node; the next
			// pass will collect it.
			if te.refcount == 0 {
				l.unlinkTimer(te)
				now = l.clock.NowMicros()
			}
		} else if te.id <= maxID && te.when <= now {
			due = append(due, te)
		}
		te = next
	}
	slices.SortStableFunc(due, func(a, b *timeEvent) int {
		return cmp.Compare(a.when, b.when)
	})

	for _, te := range due {
		// An earlier callback may have deleted or rescheduled it.
		if te.id == DeletedEventID || te.when > now {
			continue
		}
		id := te.id
		te.refcount++
		retval := te.proc(l, id, te.clientData)
		te.refcount--
		processed++
		now = l.clock.NowMicros()
		if retval != NoMore {
			te.when = now + int64(retval)*1000
		} else {
			te.id = DeletedEventID
		}
	}
	return processed
}

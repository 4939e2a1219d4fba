// File: reactor/timers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop-owned timer heap. Not safe for concurrent use: timers are created,
// stopped and fired on the loop goroutine only.

package reactor

import (
	"container/heap"
	"time"
)

type timer struct {
	q     *timerQueue
	when  time.Time
	seq   uint64
	fn    func()
	index int
}

// Stop implements api.Timer.
func (t *timer) Stop() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.q.h, t.index)
	return true
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

type timerQueue struct {
	h   timerHeap
	seq uint64
}

func (q *timerQueue) add(when time.Time, fn func()) *timer {
	q.seq++
	t := &timer{q: q, when: when, seq: q.seq, fn: fn}
	heap.Push(&q.h, t)
	return t
}

// until returns how long until the earliest timer is due; ok is false
// when no timer is pending.
func (q *timerQueue) until(now time.Time) (d time.Duration, ok bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	d = q.h[0].when.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// runDue fires every timer due at now, in deadline order. Timers added by
// callbacks with a zero delay wait for the next call.
func (q *timerQueue) runDue(now time.Time, run func(fn func())) int {
	fired := 0
	limit := q.seq
	for len(q.h) > 0 {
		t := q.h[0]
		if t.when.After(now) || t.seq > limit {
			break
		}
		heap.Pop(&q.h)
		fired++
		run(t.fn)
	}
	return fired
}

func (q *timerQueue) len() int { return len(q.h) }

// pollTimeout converts a wait duration into epoll_wait milliseconds,
// rounding up so a timer is never polled for too early.
func pollTimeout(d time.Duration, ok bool) int {
	if !ok {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<30 {
		ms = 1 << 30
	}
	return int(ms)
}

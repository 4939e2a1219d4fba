// File: reactor/timers_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func direct(fn func()) { fn() }

func TestTimerQueueFiresInDeadlineOrder(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	var got []int
	q.add(base.Add(30*time.Millisecond), func() { got = append(got, 3) })
	q.add(base.Add(10*time.Millisecond), func() { got = append(got, 1) })
	q.add(base.Add(20*time.Millisecond), func() { got = append(got, 2) })
	q.add(base.Add(20*time.Millisecond), func() { got = append(got, 22) })

	assert.Equal(t, 0, q.runDue(base, direct))
	assert.Equal(t, 3, q.runDue(base.Add(25*time.Millisecond), direct))
	assert.Equal(t, []int{1, 2, 22}, got)
	assert.Equal(t, 1, q.len())
}

func TestTimerStop(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	fired := false
	tm := q.add(base, func() { fired = true })
	other := q.add(base.Add(time.Second), func() {})

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	assert.Equal(t, 0, q.runDue(base, direct))
	assert.False(t, fired)

	assert.Equal(t, 1, q.runDue(base.Add(time.Second), direct))
	assert.False(t, other.Stop(), "fired timer cannot be stopped")
}

func TestTimerAddedByCallbackWaits(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	n := 0
	var rearm func()
	rearm = func() {
		n++
		q.add(base, rearm)
	}
	q.add(base, rearm)

	assert.Equal(t, 1, q.runDue(base, direct))
	assert.Equal(t, 1, q.runDue(base, direct))
	assert.Equal(t, 2, n)
}

func TestTimerQueueUntil(t *testing.T) {
	var q timerQueue
	base := time.Unix(1000, 0)
	_, ok := q.until(base)
	require.False(t, ok)

	q.add(base.Add(1500*time.Microsecond), func() {})
	d, ok := q.until(base)
	require.True(t, ok)
	assert.Equal(t, 1500*time.Microsecond, d)

	d, _ = q.until(base.Add(time.Hour))
	assert.Zero(t, d)
}

func TestPollTimeout(t *testing.T) {
	assert.Equal(t, -1, pollTimeout(0, false))
	assert.Equal(t, 0, pollTimeout(0, true))
	assert.Equal(t, 2, pollTimeout(1500*time.Microsecond, true))
	assert.Equal(t, 1000, pollTimeout(time.Second, true))
	assert.Equal(t, 1<<30, pollTimeout(1000*time.Hour, true))
}

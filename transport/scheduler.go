// File: transport/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-upgrade/api"
)

// DefaultMaxBatch is the number of queued buffers handed to one Writev.
// Linux caps iovec arrays at 1024 entries.
const DefaultMaxBatch = 64

// WriteScheduler is a FIFO of pending outbound buffers. It is owned by a
// single event loop and is not safe for concurrent use.
type WriteScheduler struct {
	q        *queue.Queue
	head     int // bytes of the front buffer already written
	pending  int64
	written  uint64
	maxBatch int
	closing  bool
	iov      [][]byte
}

// NewWriteScheduler creates a scheduler coalescing up to maxBatch buffers
// per write; maxBatch <= 0 selects DefaultMaxBatch.
func NewWriteScheduler(maxBatch int) *WriteScheduler {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &WriteScheduler{
		q:        queue.New(),
		maxBatch: maxBatch,
		iov:      make([][]byte, 0, maxBatch),
	}
}

// Enqueue appends p. The scheduler takes ownership of p. Once close intent
// was signalled every call fails with an error wrapping api.ErrCloseIntent.
func (s *WriteScheduler) Enqueue(p []byte) error {
	if s.closing {
		return fmt.Errorf("enqueue %d bytes: %w", len(p), api.ErrCloseIntent)
	}
	if len(p) == 0 {
		return nil
	}
	s.q.Add(p)
	s.pending += int64(len(p))
	return nil
}

// Drain writes queued buffers until the queue is empty or the transport
// stops accepting data. ErrWouldBlock is not an error here: the caller
// learns about the remainder from Len. Any other write error is returned
// as is, with the bytes written before it.
func (s *WriteScheduler) Drain(w api.Transport) (int, error) {
	total := 0
	for s.q.Length() > 0 {
		iov := s.batch()
		n, err := w.Writev(iov)
		clear(iov)
		if n > 0 {
			total += n
			s.consume(n)
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

func (s *WriteScheduler) batch() [][]byte {
	n := min(s.q.Length(), s.maxBatch)
	iov := s.iov[:0]
	for i := 0; i < n; i++ {
		b := s.q.Get(i).([]byte)
		if i == 0 {
			b = b[s.head:]
		}
		iov = append(iov, b)
	}
	return iov
}

// consume drops n written bytes from the front of the queue.
func (s *WriteScheduler) consume(n int) {
	s.written += uint64(n)
	s.pending -= int64(n)
	for n > 0 {
		front := s.q.Peek().([]byte)
		rest := len(front) - s.head
		if n < rest {
			s.head += n
			return
		}
		n -= rest
		s.head = 0
		s.q.Remove()
	}
}

// Pending is the number of queued bytes not yet accepted by the transport.
func (s *WriteScheduler) Pending() int64 { return s.pending }

// Len is the number of queued buffers, including a partially written one.
func (s *WriteScheduler) Len() int { return s.q.Length() }

// Written is the total number of bytes handed to the transport.
func (s *WriteScheduler) Written() uint64 { return s.written }

// SignalClose marks the connection as closing. Already queued data is
// still drained; new data is refused.
func (s *WriteScheduler) SignalClose() { s.closing = true }

// CloseIntent reports whether SignalClose was called.
func (s *WriteScheduler) CloseIntent() bool { return s.closing }

// Drained reports whether nothing is left to write.
func (s *WriteScheduler) Drained() bool { return s.q.Length() == 0 }

// Reset discards all queued data and returns how many bytes were dropped.
// Close intent is kept.
func (s *WriteScheduler) Reset() int64 {
	dropped := s.pending
	for s.q.Length() > 0 {
		s.q.Remove()
	}
	s.head = 0
	s.pending = 0
	return dropped
}

// File: internal/concurrency/executor.go
// Package concurrency implements a bounded task executor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor runs tasks on a fixed set of worker goroutines fed by one
// bounded queue. Submit never blocks: a full queue is reported to the
// caller, which is usually an event loop that must not stall.

package concurrency

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-upgrade/affinity"
	"github.com/sirupsen/logrus"
)

var (
	ErrExecutorClosed = errors.New("executor is closed")
	ErrQueueFull      = errors.New("executor queue is full")
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Options configure an Executor.
type Options struct {
	// Workers defaults to runtime.NumCPU().
	Workers int
	// QueueSize defaults to Workers*64.
	QueueSize int
	// Pin spreads worker threads over CPUs.
	Pin    bool
	Logger *logrus.Entry
}

// Executor manages a pool of worker goroutines.
type Executor struct {
	queue chan TaskFunc
	log   *logrus.Entry
	wg    sync.WaitGroup

	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool

	workers   int
	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// NewExecutor starts the workers.
func NewExecutor(opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 64
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "executor")
	}
	e := &Executor{
		queue:   make(chan TaskFunc, opts.QueueSize),
		log:     opts.Logger,
		workers: opts.Workers,
	}
	e.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		cpu := -1
		if opts.Pin {
			cpu = affinity.CPUFor(i)
		}
		go e.run(i, cpu)
	}
	return e
}

// Submit enqueues a task. It returns ErrExecutorClosed after Close and
// ErrQueueFull when no slot is free.
func (e *Executor) Submit(task TaskFunc) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	select {
	case e.queue <- task:
		e.submitted.Add(1)
		return nil
	default:
		e.rejected.Add(1)
		return ErrQueueFull
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return e.workers
}

// Close stops accepting tasks, lets the workers finish what is queued and
// waits for them to exit. Later calls return immediately.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	submitted, completed := e.submitted.Load(), e.completed.Load()
	return map[string]int64{
		"total_tasks":     submitted,
		"completed_tasks": completed,
		"pending_tasks":   submitted - completed,
		"panicked_tasks":  e.panicked.Load(),
		"rejected_tasks":  e.rejected.Load(),
		"num_workers":     int64(e.workers),
	}
}

func (e *Executor) run(id, cpu int) {
	defer e.wg.Done()
	if cpu >= 0 {
		// The thread is discarded on exit because it stays locked.
		runtime.LockOSThread()
		if err := affinity.Pin(cpu); err != nil {
			e.log.WithError(err).WithField("worker", id).Warn("worker pinning failed")
		}
	}
	for task := range e.queue {
		e.execute(id, task)
	}
}

// execute runs the task, recovering from panics to keep the worker alive.
func (e *Executor) execute(id int, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.panicked.Add(1)
			e.log.WithFields(logrus.Fields{"worker": id, "panic": r}).Error("task panicked")
		}
		e.completed.Add(1)
	}()
	task()
}

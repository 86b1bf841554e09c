// Package executor drives a single root [future.Future] to completion, on the
// calling goroutine.
//
// Run polls the root; if it suspends, the executor waits according to its
// [Policy], then polls again. With the default [ParkPolicy] the goroutine is
// parked until the task's waker fires, so no polling happens while the task
// is waiting on I/O. Fatal errors from the task are returned immediately,
// they are never retried.
//
// Only one task may be run at a time, per Executor.
package executor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-taskio/future"
	"github.com/joeycumines/logiface"
)

var (
	// ErrBusyPoll indicates a run exceeded its poll limit, see WithPollLimit.
	ErrBusyPoll = errors.New("executor: poll limit exceeded")
	// ErrRunning indicates Run was called while another run was in progress.
	ErrRunning     = errors.New("executor: already running a task")
	ErrNilExecutor = errors.New("executor: nil executor")
	ErrNilReactor  = errors.New("executor: nil reactor")
)

type (
	// Executor runs one task at a time, see Run.
	Executor struct {
		policy  Policy
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter

		running atomic.Bool
		runs    atomic.Uint64
		polls   atomic.Uint64
		waits   atomic.Uint64
	}

	// Stats is a snapshot of executor counters, across all runs.
	Stats struct {
		Runs  uint64
		Polls uint64
		Waits uint64
	}
)

// New constructs an Executor.
func New(opts ...Option) (*Executor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Executor{
		policy:  cfg.policy,
		logger:  cfg.logger,
		limiter: cfg.limiter,
	}, nil
}

// Run polls root until it completes or fails, waiting between polls per the
// executor's policy. The same waker is supplied to every poll.
func Run[T any](e *Executor, root future.Future[T]) (T, error) {
	var zero T

	if e == nil {
		return zero, ErrNilExecutor
	}
	if !e.running.CompareAndSwap(false, true) {
		return zero, ErrRunning
	}
	defer e.running.Store(false)

	run := e.runs.Add(1)
	waiter := e.policy.NewWaiter()
	waker := waiter.Waker()
	start := time.Now()

	var polls uint64
	for {
		if e.limiter != nil {
			if _, ok := e.limiter.Allow(run); !ok {
				e.logger.Err().
					Uint64(`run`, run).
					Uint64(`polls`, polls).
					Dur(`elapsed`, time.Since(start)).
					Log(`executor: poll limit exceeded`)
				return zero, ErrBusyPoll
			}
		}

		polls++
		e.polls.Add(1)

		e.logger.Trace().
			Uint64(`run`, run).
			Uint64(`poll`, polls).
			Log(`executor: polling`)

		value, ready, err := root.Poll(waker)
		if err != nil {
			e.logger.Debug().
				Uint64(`run`, run).
				Uint64(`polls`, polls).
				Err(err).
				Log(`executor: task failed`)
			return zero, err
		}
		if ready {
			e.logger.Debug().
				Uint64(`run`, run).
				Uint64(`polls`, polls).
				Dur(`elapsed`, time.Since(start)).
				Log(`executor: task done`)
			return value, nil
		}

		e.waits.Add(1)
		if err := waiter.Wait(); err != nil {
			return zero, fmt.Errorf("executor: wait: %w", err)
		}
	}
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Runs:  e.runs.Load(),
		Polls: e.polls.Load(),
		Waits: e.waits.Load(),
	}
}

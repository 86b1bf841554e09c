package executor

import (
	"time"

	"github.com/joeycumines/go-taskio/park"
	"github.com/joeycumines/go-taskio/reactor"
)

// DefaultSleep is the retry interval used by SleepPolicy, if none is given.
const DefaultSleep = 20 * time.Millisecond

type (
	// Policy decides how the executor waits between polls of a suspended
	// task. NewWaiter is called once per Run.
	Policy interface {
		NewWaiter() Waiter
	}

	// Waiter is the per-run state of a Policy.
	Waiter interface {
		// Waker returns the waker handed to every poll of the run.
		Waker() park.Waker
		// Wait blocks until the task should be polled again.
		Wait() error
	}

	parkPolicy struct{}

	parkWaiter struct {
		parker *park.Parker
	}

	sleepPolicy struct {
		d time.Duration
	}

	pollPolicy struct {
		reactor *reactor.Reactor
	}
)

var (
	_ Policy = parkPolicy{}
	_ Policy = sleepPolicy{}
	_ Policy = pollPolicy{}
)

// ParkPolicy parks the calling goroutine on a [park.Parker] between polls,
// handing out that Parker's waker, so a suspended task is polled again only
// once it has been woken (e.g. by a running [reactor.Reactor]). This is the
// default.
func ParkPolicy() Policy { return parkPolicy{} }

// SleepPolicy re-polls after a fixed sleep, ignoring wakeups. It is a
// reference behavior, that spins at the given interval. Non-positive d uses
// DefaultSleep.
func SleepPolicy(d time.Duration) Policy {
	if d <= 0 {
		d = DefaultSleep
	}
	return sleepPolicy{d: d}
}

// PollPolicy waits by calling r.Poll directly on the executor's goroutine,
// re-polling after any readiness event, with a no-op waker. The reactor must
// not also be running [reactor.Reactor.Run].
func PollPolicy(r *reactor.Reactor) Policy { return pollPolicy{reactor: r} }

func (parkPolicy) NewWaiter() Waiter { return &parkWaiter{parker: park.NewParker()} }

func (x *parkWaiter) Waker() park.Waker { return x.parker.Waker() }

func (x *parkWaiter) Wait() error {
	x.parker.Park()
	return nil
}

func (x sleepPolicy) NewWaiter() Waiter { return x }

func (sleepPolicy) Waker() park.Waker { return park.Noop }

func (x sleepPolicy) Wait() error {
	time.Sleep(x.d)
	return nil
}

func (x pollPolicy) NewWaiter() Waiter { return x }

func (pollPolicy) Waker() park.Waker { return park.Noop }

func (x pollPolicy) Wait() error {
	if x.reactor == nil {
		return ErrNilReactor
	}
	_, err := x.reactor.Poll(-1)
	return err
}

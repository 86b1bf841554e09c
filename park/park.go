// Package park implements a cross-goroutine wake/sleep primitive, and the
// waker handles used by suspended work to request a future notification.
//
// A [Parker] is a boolean "woken" flag guarded by a mutex, plus a condition
// variable. The flag is set under the lock, before any waiting goroutine
// checks it, so a wake that happens strictly before the matching park is
// never lost. Multiple wakes before a park coalesce into one.
package park

import (
	"sync"
	"sync/atomic"
)

type (
	// Waker is used by suspended work to request that it be polled again.
	// Implementations must be safe for concurrent use, and Wake may be called
	// any number of times.
	Waker interface {
		Wake()
	}

	// WakerFunc implements [Waker].
	WakerFunc func()

	// Parker blocks a goroutine until it is unparked. The zero value is not
	// usable, see [NewParker].
	Parker struct {
		cond  *sync.Cond
		mu    sync.Mutex
		woken bool
		// number of times Park actually entered cond.Wait
		waits atomic.Uint64
	}

	parkerWaker struct {
		p *Parker
	}
)

// Noop is a [Waker] that does nothing, for policies that re-poll without
// being notified.
var Noop Waker = WakerFunc(func() {})

var _ Waker = parkerWaker{}

// Wake calls f.
func (f WakerFunc) Wake() { f() }

// NewParker returns a Parker with the flag cleared.
func NewParker() *Parker {
	p := new(Parker)
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Park blocks until the flag is set, then clears it. If [Parker.Unpark] was
// called since the last Park returned, Park returns immediately.
func (x *Parker) Park() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for !x.woken {
		x.waits.Add(1)
		x.cond.Wait()
	}
	x.woken = false
}

// Unpark sets the flag and signals one waiter. Safe to call from any
// goroutine, any number of times.
func (x *Parker) Unpark() {
	x.mu.Lock()
	x.woken = true
	x.cond.Signal()
	x.mu.Unlock()
}

// Waker returns a handle that unparks this Parker. All handles returned by
// the same Parker refer to it, and copies are interchangeable.
func (x *Parker) Waker() Waker {
	return parkerWaker{x}
}

func (x parkerWaker) Wake() { x.p.Unpark() }

// Package future defines the "attempt progress" capability shared by every
// suspendable operation, and the glue used to chain them.
//
// A [Future] is polled repeatedly until it reports ready, or fails. Between
// polls it keeps its own progress state, which lives behind the interface on
// the heap, so nothing needs to stay at a fixed address across suspensions.
package future

import (
	"github.com/joeycumines/go-taskio/park"
)

type (
	// Future is an operation that may complete over several polls.
	//
	// Poll returns ready=true with the final value once done. It returns
	// ready=false with a nil error to suspend, in which case the future has
	// arranged for w to be woken (or the caller re-polls on its own
	// schedule). A non-nil error is fatal, and aborts the enclosing task.
	//
	// Once a future has completed, further polls must return the same
	// outcome, without repeating any side effects.
	Future[T any] interface {
		Poll(w park.Waker) (value T, ready bool, err error)
	}

	// Func implements [Future].
	Func[T any] func(w park.Waker) (T, bool, error)

	stage uint8

	andThen[A, B any] struct {
		first  Future[A]
		next   func(A) Future[B]
		second Future[B]
		value  B
		err    error
		stage  stage
	}

	result[T any] struct {
		value T
		err   error
	}
)

const (
	stageFirst stage = iota
	stageSecond
	stageDone
)

// Poll calls f.
func (f Func[T]) Poll(w park.Waker) (T, bool, error) { return f(w) }

// Ready returns a future that is immediately done with v.
func Ready[T any](v T) Future[T] { return result[T]{value: v} }

// Fail returns a future that immediately fails with err.
func Fail[T any](err error) Future[T] { return result[T]{err: err} }

func (x result[T]) Poll(park.Waker) (T, bool, error) {
	if x.err != nil {
		var zero T
		return zero, false, x.err
	}
	return x.value, true, nil
}

// AndThen polls first until it is done, then passes its value to next, and
// polls the returned future until it is done. A failure of either side is
// returned, and remembered. The continuation is built at most once.
func AndThen[A, B any](first Future[A], next func(A) Future[B]) Future[B] {
	return &andThen[A, B]{first: first, next: next}
}

func (x *andThen[A, B]) Poll(w park.Waker) (B, bool, error) {
	if x.stage == stageFirst {
		v, ready, err := x.first.Poll(w)
		if err != nil {
			return x.fail(err)
		}
		if !ready {
			var zero B
			return zero, false, nil
		}
		x.second = x.next(v)
		x.first, x.next = nil, nil
		x.stage = stageSecond
	}

	if x.stage == stageSecond {
		v, ready, err := x.second.Poll(w)
		if err != nil {
			return x.fail(err)
		}
		if !ready {
			var zero B
			return zero, false, nil
		}
		x.value = v
		x.second = nil
		x.stage = stageDone
	}

	if x.err != nil {
		var zero B
		return zero, false, x.err
	}
	return x.value, true, nil
}

func (x *andThen[A, B]) fail(err error) (B, bool, error) {
	x.err = err
	x.first, x.next, x.second = nil, nil, nil
	x.stage = stageDone
	var zero B
	return zero, false, err
}

// Map returns a future that applies fn to the value of f, once.
func Map[A, B any](f Future[A], fn func(A) B) Future[B] {
	return AndThen(f, func(v A) Future[B] { return Ready(fn(v)) })
}

package executor

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-taskio/future"
	"github.com/joeycumines/go-taskio/park"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// delayed is pending until a goroutine, started on the first poll, wakes the
// waker after delay.
type delayed struct {
	wakers []park.Waker
	polls  atomic.Int64
	delay  time.Duration
	fired  atomic.Bool
	once   sync.Once
}

func (x *delayed) Poll(w park.Waker) (string, bool, error) {
	x.polls.Add(1)
	x.wakers = append(x.wakers, w)
	if x.fired.Load() {
		return "done", true, nil
	}
	x.once.Do(func() {
		go func() {
			time.Sleep(x.delay)
			x.fired.Store(true)
			w.Wake()
		}()
	})
	return "", false, nil
}

func TestRun_ready(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	v, err := Run(e, future.Ready(42))
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, Stats{Runs: 1, Polls: 1}, e.Stats())
}

func TestRun_errorIsNotRetried(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	boom := errors.New("boom")
	var polls int
	_, err = Run(e, future.Func[int](func(park.Waker) (int, bool, error) {
		polls++
		return 0, false, boom
	}))
	assert.Same(t, boom, err)
	assert.Equal(t, 1, polls)
}

func TestRun_parksUntilWoken(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	const delay = 100 * time.Millisecond
	task := &delayed{delay: delay}

	done := make(chan struct{})
	var (
		v      string
		runErr error
	)
	start := time.Now()
	go func() {
		defer close(done)
		v, runErr = Run(e, future.Future[string](task))
	}()

	// while the task is waiting, the executor must not poll it again
	time.Sleep(delay / 2)
	assert.Equal(t, int64(1), task.polls.Load())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete")
	}

	require.NoError(t, runErr)
	assert.Equal(t, "done", v)
	assert.GreaterOrEqual(t, time.Since(start), delay)
	assert.Equal(t, int64(2), task.polls.Load())
	assert.Equal(t, Stats{Runs: 1, Polls: 2, Waits: 1}, e.Stats())

	// the same waker is supplied to every poll
	require.Len(t, task.wakers, 2)
	assert.Equal(t, task.wakers[0], task.wakers[1])
}

func TestRun_wakeBeforeParkIsNotLost(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	var polls int
	v, err := Run(e, future.Func[int](func(w park.Waker) (int, bool, error) {
		polls++
		if polls < 3 {
			// readiness reported before the executor gets to park
			w.Wake()
			return 0, false, nil
		}
		return polls, true, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestRun_sleepPolicySpins(t *testing.T) {
	e, err := New(WithPolicy(SleepPolicy(time.Millisecond)))
	require.NoError(t, err)

	task := &delayed{delay: 50 * time.Millisecond}
	v, err := Run(e, future.Future[string](task))
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	// polled repeatedly while waiting, unlike the park policy
	assert.Greater(t, task.polls.Load(), int64(5))
}

func TestRun_pollLimit(t *testing.T) {
	e, err := New(
		WithPolicy(SleepPolicy(time.Millisecond)),
		WithPollLimit(map[time.Duration]int{time.Second: 5}),
	)
	require.NoError(t, err)

	task := &delayed{delay: time.Second}
	_, err = Run(e, future.Future[string](task))
	assert.ErrorIs(t, err, ErrBusyPoll)
	assert.Equal(t, int64(5), task.polls.Load())
}

func TestRun_pollLimitNotHitWhenParking(t *testing.T) {
	e, err := New(WithPollLimit(map[time.Duration]int{time.Second: 3}))
	require.NoError(t, err)

	v, err := Run(e, future.Future[string](&delayed{delay: 30 * time.Millisecond}))
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestRun_alreadyRunning(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Run(e, future.Func[int](func(w park.Waker) (int, bool, error) {
			select {
			case <-entered:
				return 1, true, nil
			default:
			}
			close(entered)
			go func() {
				<-release
				w.Wake()
			}()
			return 0, false, nil
		}))
		done <- err
	}()

	<-entered
	_, err = Run(e, future.Ready(1))
	assert.ErrorIs(t, err, ErrRunning)

	close(release)
	require.NoError(t, <-done)

	// usable again
	v, err := Run(e, future.Ready(2))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRun_nilExecutor(t *testing.T) {
	_, err := Run[int](nil, future.Ready(1))
	assert.ErrorIs(t, err, ErrNilExecutor)
}

func TestRun_pollPolicyNilReactor(t *testing.T) {
	e, err := New(WithPolicy(PollPolicy(nil)))
	require.NoError(t, err)

	_, err = Run(e, future.Func[int](func(park.Waker) (int, bool, error) {
		return 0, false, nil
	}))
	assert.ErrorIs(t, err, ErrNilReactor)
}

func TestNew_options(t *testing.T) {
	_, err := New(WithPolicy(nil))
	assert.Error(t, err)

	_, err = New(WithPollLimit(map[time.Duration]int{time.Second: 0}))
	assert.Error(t, err)

	e, err := New(nil, WithPollLimit(nil), WithLogger(nil))
	require.NoError(t, err)
	assert.Nil(t, e.limiter)
	assert.IsType(t, parkPolicy{}, e.policy)
}

func TestSleepPolicy_default(t *testing.T) {
	assert.Equal(t, sleepPolicy{d: DefaultSleep}, SleepPolicy(0))
	assert.Equal(t, sleepPolicy{d: time.Second}, SleepPolicy(time.Second))
}

func TestSleepPolicy_waiter(t *testing.T) {
	const d = 20 * time.Millisecond
	waiter := SleepPolicy(d).NewWaiter()

	w := waiter.Waker()
	require.NotNil(t, w)
	assert.Equal(t, reflect.ValueOf(park.Noop).Pointer(), reflect.ValueOf(w).Pointer())

	// a wake has no effect, the waiter still sleeps the full interval
	w.Wake()
	start := time.Now()
	require.NoError(t, waiter.Wait())
	assert.GreaterOrEqual(t, time.Since(start), d)
}

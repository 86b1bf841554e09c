//go:build linux

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-taskio/park"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

type (
	// Reactor owns an epoll instance and a single registration slot.
	// Register may be called from any goroutine, concurrently with Run.
	Reactor struct {
		logger *logiface.Logger[logiface.Event]
		events []unix.EpollEvent
		slot   registration

		// pollMu is held for the duration of Poll, and guards events.
		// Lock order: pollMu, then mu.
		pollMu sync.Mutex
		// mu guards slot, and the descriptors once closed is set.
		mu sync.Mutex

		epfd   int
		wakefd int
		closed atomic.Bool

		registrations atomic.Uint64
		rearms        atomic.Uint64
		replacements  atomic.Uint64
		eventCount    atomic.Uint64
		wakes         atomic.Uint64
	}

	registration struct {
		waker    park.Waker
		fd       int
		interest Interest
		active   bool
	}
)

// New creates an epoll instance, and an eventfd used to interrupt Run on
// Close.
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: epoll_ctl add eventfd: %w", err)
	}

	return &Reactor{
		logger: cfg.logger,
		events: make([]unix.EpollEvent, cfg.eventBufferSize),
		epfd:   epfd,
		wakefd: wakefd,
	}, nil
}

// Register stores w as the waker to notify, and arms the epoll interest for
// src, replacing any previous registration.
//
// If the slot already holds src's descriptor it is re-armed, otherwise the
// previous descriptor (if any) is removed from the epoll set before src is
// added. Arming is edge-triggered and one-shot, so each call yields at most
// one readiness event, and re-arming reports readiness that is already
// present.
func (r *Reactor) Register(src Source, interest Interest, w park.Waker) error {
	if !interest.valid() {
		return ErrInvalidInterest
	}
	if src == nil {
		return ErrInvalidSource
	}
	fd := src.FD()
	if fd < 0 {
		return ErrInvalidSource
	}
	if w == nil {
		w = park.Noop
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrClosed
	}

	// the waker is replaced before arming, so an event that fires
	// immediately always observes it
	prev := r.slot
	r.slot = registration{
		waker:    w,
		fd:       fd,
		interest: interest,
		active:   true,
	}

	ev := unix.EpollEvent{
		Events: interestToEpoll(interest),
		Fd:     int32(fd),
	}

	if prev.active && prev.fd == fd {
		err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		if err == nil {
			r.rearms.Add(1)
			r.logger.Trace().
				Int(`fd`, fd).
				Str(`interest`, interest.String()).
				Log(`reactor: re-armed`)
			return nil
		}
		if !errors.Is(err, unix.ENOENT) {
			r.slot = registration{}
			return fmt.Errorf("reactor: epoll_ctl mod fd %d: %w", fd, err)
		}
		// the descriptor was closed (dropping it from the set) and the
		// number reused, fall through to add
	} else if prev.active {
		// the previous descriptor may already be closed, which removes it
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, prev.fd, nil); err != nil &&
			!errors.Is(err, unix.ENOENT) &&
			!errors.Is(err, unix.EBADF) {
			r.logger.Warning().
				Int(`fd`, prev.fd).
				Err(err).
				Log(`reactor: failed to remove replaced registration`)
		}
		r.replacements.Add(1)
	}

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.slot = registration{}
		return fmt.Errorf("reactor: epoll_ctl add fd %d: %w", fd, err)
	}

	r.registrations.Add(1)
	r.logger.Debug().
		Int(`fd`, fd).
		Str(`interest`, interest.String()).
		Log(`reactor: registered`)

	return nil
}

// Registered returns the descriptor and interest currently in the slot.
func (r *Reactor) Registered() (fd int, interest Interest, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot.fd, r.slot.interest, r.slot.active
}

// Run blocks the calling goroutine, locked to its OS thread, waiting for
// readiness with no timeout, and waking the registered waker on every event.
// It returns only on error, or with ErrClosed once Close is called.
func (r *Reactor) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.logger.Debug().Log(`reactor: running`)

	for {
		if _, err := r.Poll(-1); err != nil {
			if errors.Is(err, ErrClosed) {
				r.logger.Debug().Log(`reactor: stopped`)
			} else {
				r.logger.Err().Err(err).Log(`reactor: poll failed`)
			}
			return err
		}
	}
}

// Poll performs one wait-and-dispatch round, returning the number of
// readiness events dispatched for the registered descriptor. A negative
// timeout blocks until an event arrives, or the reactor is closed.
// Concurrent calls are serialized.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	if r.closed.Load() {
		return 0, ErrClosed
	}

	n, err := unix.EpollWait(r.epfd, r.events, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	var dispatched int
	for i := 0; i < n; i++ {
		fd := int(r.events[i].Fd)

		if fd == r.wakefd {
			r.drainWakeFd()
			continue
		}

		r.eventCount.Add(1)
		dispatched++

		// only one registration exists, so whichever descriptor fired, the
		// stored waker is the one to notify
		r.mu.Lock()
		w := r.slot.waker
		r.mu.Unlock()

		r.logger.Trace().
			Int(`fd`, fd).
			Uint64(`events`, uint64(r.events[i].Events)).
			Limit().
			Log(`reactor: readiness`)

		if w != nil {
			r.wakes.Add(1)
			w.Wake()
		}
	}

	if r.closed.Load() {
		return dispatched, ErrClosed
	}

	return dispatched, nil
}

// Close interrupts any blocked Run or Poll, then releases the epoll instance.
// It is safe to call more than once.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(r.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		r.logger.Warning().Err(err).Log(`reactor: failed to signal eventfd`)
	}

	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slot = registration{}

	return errors.Join(unix.Close(r.wakefd), unix.Close(r.epfd))
}

// Stats returns a snapshot of the reactor's counters.
func (r *Reactor) Stats() Stats {
	return Stats{
		Registrations: r.registrations.Load(),
		Rearms:        r.rearms.Load(),
		Replacements:  r.replacements.Load(),
		Events:        r.eventCount.Load(),
		Wakes:         r.wakes.Load(),
	}
}

func (r *Reactor) drainWakeFd() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
	}
}

// interestToEpoll converts Interest to one-shot, edge-triggered epoll flags.
func interestToEpoll(interest Interest) uint32 {
	events := uint32(unix.EPOLLET | unix.EPOLLONESHOT)
	if interest&Readable != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

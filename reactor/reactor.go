// Package reactor implements a readiness-event reactor over epoll.
//
// A [Reactor] owns one epoll instance and a single registration slot: one
// (descriptor, interest, waker) tuple. Suspended operations register after
// observing "would block", then [Reactor.Run], on its own goroutine (locked
// to its OS thread), blocks in epoll_wait and wakes whichever waker is
// currently stored, for every readiness event it observes.
//
// The single slot means exactly one logical task may be outstanding at a
// time. Registering again replaces the slot, it never queues.
//
// # Usage
//
//	r, err := reactor.New()
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	go r.Run()
//
//	// inside a Future's Poll, after EAGAIN:
//	if err := r.Register(sock, reactor.Readable, w); err != nil {
//	    return err
//	}
package reactor

import (
	"errors"
	"strings"
)

type (
	// Interest is the readiness direction(s) a registration waits for.
	Interest uint8

	// Source is anything backed by a file descriptor, e.g. a socket.
	Source interface {
		FD() int
	}

	// Stats is a snapshot of reactor counters.
	Stats struct {
		// Registrations counts descriptors added to the epoll set.
		Registrations uint64
		// Rearms counts re-registrations of the descriptor already in the slot.
		Rearms uint64
		// Replacements counts registrations that evicted a different descriptor.
		Replacements uint64
		// Events counts readiness events observed for registered descriptors.
		Events uint64
		// Wakes counts wakers woken.
		Wakes uint64
	}
)

const (
	// Readable waits until a read would not block (including peer close).
	Readable Interest = 1 << iota
	// Writable waits until a write would not block.
	Writable
)

var (
	ErrClosed          = errors.New("reactor: closed")
	ErrInvalidInterest = errors.New("reactor: invalid interest")
	ErrInvalidSource   = errors.New("reactor: invalid source")
	ErrUnsupported     = errors.New("reactor: platform not supported")
)

func (x Interest) String() string {
	if x == 0 {
		return "none"
	}
	var b strings.Builder
	if x&Readable != 0 {
		b.WriteString("readable")
	}
	if x&Writable != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString("writable")
	}
	if x&^(Readable|Writable) != 0 {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString("invalid")
	}
	return b.String()
}

func (x Interest) valid() bool {
	return x != 0 && x&^(Readable|Writable) == 0
}

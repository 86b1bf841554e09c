package netio

import (
	"errors"

	"github.com/joeycumines/go-taskio/future"
	"github.com/joeycumines/go-taskio/park"
	"github.com/joeycumines/go-taskio/reactor"
)

type (
	sendState uint8

	sendFuture struct {
		reactor *reactor.Reactor
		sock    *Socket
		err     error
		buf     []byte
		sent    int
		state   sendState
	}
)

const (
	sending sendState = iota
	sendDone
)

// Send returns a future that writes all of buf to sock, which it borrows.
// Each poll attempts one write of the unsent suffix; a partial write, or
// would-block, registers writable interest and suspends. The result is the
// total number of bytes sent, which is always len(buf).
func Send(r *reactor.Reactor, sock *Socket, buf []byte) future.Future[int] {
	if r == nil {
		return future.Fail[int](ErrNilReactor)
	}
	if sock == nil {
		return future.Fail[int](ErrNilSocket)
	}
	return &sendFuture{
		reactor: r,
		sock:    sock,
		buf:     buf,
	}
}

func (x *sendFuture) Poll(w park.Waker) (int, bool, error) {
	if x.state == sendDone {
		if x.err != nil {
			return 0, false, x.err
		}
		return x.sent, true, nil
	}

	if x.sent >= len(x.buf) {
		x.state = sendDone
		return x.sent, true, nil
	}

	n, err := x.sock.Write(x.buf[x.sent:])
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return x.suspend(w)
		}
		return x.fail(err)
	}

	x.sent += n
	if x.sent >= len(x.buf) {
		x.state = sendDone
		return x.sent, true, nil
	}

	return x.suspend(w)
}

func (x *sendFuture) suspend(w park.Waker) (int, bool, error) {
	if err := x.reactor.Register(x.sock, reactor.Writable, w); err != nil {
		return x.fail(&IOError{Op: "register", Err: err})
	}
	return 0, false, nil
}

func (x *sendFuture) fail(err error) (int, bool, error) {
	x.err = err
	x.state = sendDone
	return 0, false, err
}

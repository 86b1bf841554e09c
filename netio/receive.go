package netio

import (
	"errors"

	"github.com/joeycumines/go-taskio/future"
	"github.com/joeycumines/go-taskio/park"
	"github.com/joeycumines/go-taskio/reactor"
)

type (
	receiveState uint8

	receiveFuture struct {
		reactor  *reactor.Reactor
		sock     *Socket
		err      error
		scratch  []byte
		response []byte
		state    receiveState
	}
)

const (
	receiving receiveState = iota
	receiveDone
)

// Receive returns a future that reads from sock until the peer closes the
// connection, resolving to every byte received. It takes ownership of sock,
// closing it once done, or on failure.
//
// A read that returns data does not complete the future, since more may
// follow before the close, so readable interest is registered again.
func Receive(r *reactor.Reactor, sock *Socket, opts ...Option) future.Future[[]byte] {
	if sock == nil {
		return future.Fail[[]byte](ErrNilSocket)
	}
	cfg, err := resolveOptions(opts)
	if err == nil && r == nil {
		err = ErrNilReactor
	}
	if err != nil {
		_ = sock.Close()
		return future.Fail[[]byte](err)
	}
	return &receiveFuture{
		reactor: r,
		sock:    sock,
		scratch: make([]byte, cfg.scratchSize),
	}
}

func (x *receiveFuture) Poll(w park.Waker) ([]byte, bool, error) {
	if x.state == receiveDone {
		if x.err != nil {
			return nil, false, x.err
		}
		return x.response, true, nil
	}

	n, err := x.sock.Read(x.scratch)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return x.suspend(w)
		}
		return x.fail(err)
	}

	if n == 0 {
		x.state = receiveDone
		x.scratch = nil
		if err := x.sock.Close(); err != nil {
			return x.fail(&IOError{Op: "close", Err: err})
		}
		return x.response, true, nil
	}

	x.response = append(x.response, x.scratch[:n]...)

	return x.suspend(w)
}

func (x *receiveFuture) suspend(w park.Waker) ([]byte, bool, error) {
	if err := x.reactor.Register(x.sock, reactor.Readable, w); err != nil {
		return x.fail(&IOError{Op: "register", Err: err})
	}
	return nil, false, nil
}

func (x *receiveFuture) fail(err error) ([]byte, bool, error) {
	_ = x.sock.Close()
	x.err = err
	x.state = receiveDone
	x.scratch = nil
	return nil, false, err
}

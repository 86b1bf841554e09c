package netio

import (
	"github.com/joeycumines/go-taskio/future"
	"github.com/joeycumines/go-taskio/park"
	"github.com/joeycumines/go-taskio/reactor"
)

type (
	connectState uint8

	connectFuture struct {
		reactor  *reactor.Reactor
		sock     *Socket
		err      error
		address  string
		state    connectState
		verified bool
	}
)

const (
	connectStart connectState = iota
	connectPending
	connectDone
)

// Connect returns a future that opens a non-blocking TCP connection to
// address, a literal "ip:port".
//
// The connect call is issued on the first poll. The future then suspends
// until the socket is writable, and completes once the connection is
// established, or fails with a *ConnectError if it was refused (SO_ERROR).
// See [WithUnverifiedConnect] to complete immediately instead.
//
// The caller owns the resulting socket.
func Connect(r *reactor.Reactor, address string, opts ...Option) future.Future[*Socket] {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return future.Fail[*Socket](err)
	}
	if r == nil && !cfg.unverifiedConnect {
		return future.Fail[*Socket](ErrNilReactor)
	}
	return &connectFuture{
		reactor:  r,
		address:  address,
		verified: !cfg.unverifiedConnect,
	}
}

func (x *connectFuture) Poll(w park.Waker) (*Socket, bool, error) {
	switch x.state {
	case connectStart:
		sock, err := Dial(x.address)
		if err != nil {
			return x.fail(err)
		}
		x.sock = sock
		if !x.verified {
			x.state = connectDone
			return x.sock, true, nil
		}
		x.state = connectPending
		return x.suspend(w)

	case connectPending:
		ok, err := x.sock.connected()
		if err != nil {
			return x.fail(&ConnectError{Addr: x.address, Err: err})
		}
		if !ok {
			// woken without the connection completing, e.g. a policy that
			// re-polls on a timer
			return x.suspend(w)
		}
		x.state = connectDone
		return x.sock, true, nil

	default:
		if x.err != nil {
			return nil, false, x.err
		}
		return x.sock, true, nil
	}
}

func (x *connectFuture) suspend(w park.Waker) (*Socket, bool, error) {
	if err := x.reactor.Register(x.sock, reactor.Writable, w); err != nil {
		return x.fail(&IOError{Op: "register", Err: err})
	}
	return nil, false, nil
}

func (x *connectFuture) fail(err error) (*Socket, bool, error) {
	if x.sock != nil {
		_ = x.sock.Close()
		x.sock = nil
	}
	x.err = err
	x.state = connectDone
	return nil, false, err
}

package netio

import (
	"github.com/joeycumines/go-taskio/executor"
	"github.com/joeycumines/go-taskio/future"
	"github.com/joeycumines/go-taskio/park"
	"github.com/joeycumines/go-taskio/reactor"
)

// Request composes Connect, Send and Receive: it connects to address, writes
// request in full, then reads until the peer closes, returning everything
// read. The socket is closed on completion and on any failure.
func Request(r *reactor.Reactor, address string, request []byte, opts ...Option) future.Future[[]byte] {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return future.Fail[[]byte](err)
	}
	logger := cfg.logger

	return future.AndThen(Connect(r, address, opts...), func(sock *Socket) future.Future[[]byte] {
		logger.Debug().
			Str(`address`, address).
			Int(`fd`, sock.FD()).
			Log(`netio: connected`)

		sent := closeOnFailure(Send(r, sock, request), sock)

		return future.AndThen(sent, func(n int) future.Future[[]byte] {
			logger.Debug().
				Str(`address`, address).
				Int(`bytes`, n).
				Log(`netio: request sent`)

			return future.Map(Receive(r, sock, opts...), func(b []byte) []byte {
				logger.Debug().
					Str(`address`, address).
					Int(`bytes`, len(b)).
					Log(`netio: response received`)
				return b
			})
		})
	})
}

// RunRequest runs Request to completion on e.
func RunRequest(e *executor.Executor, r *reactor.Reactor, address string, request []byte, opts ...Option) ([]byte, error) {
	return executor.Run(e, Request(r, address, request, opts...))
}

// closeOnFailure closes sock if f fails.
func closeOnFailure[T any](f future.Future[T], sock *Socket) future.Future[T] {
	return future.Func[T](func(w park.Waker) (T, bool, error) {
		v, ok, err := f.Poll(w)
		if err != nil {
			_ = sock.Close()
		}
		return v, ok, err
	})
}

package netio

import (
	"errors"
)

var (
	// ErrWouldBlock is returned by [Socket.Read] and [Socket.Write] when the
	// operation cannot make progress without blocking. It is a retry signal,
	// and never escapes an operation.
	ErrWouldBlock = errors.New("netio: operation would block")

	ErrUnsupported = errors.New("netio: platform not supported")
	ErrNilReactor  = errors.New("netio: nil reactor")
	ErrNilSocket   = errors.New("netio: nil socket")
)

type (
	// ConnectError indicates a connection could not be established.
	ConnectError struct {
		Err  error
		Addr string
	}

	// IOError is any other fatal failure reading, writing, or registering a
	// socket. Op is one of "read", "write", "register", or "close".
	IOError struct {
		Err error
		Op  string
	}
)

func (e *ConnectError) Error() string {
	return "netio: connect " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *IOError) Error() string {
	return "netio: " + e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

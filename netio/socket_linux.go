//go:build linux

package netio

import (
	"errors"
	"net"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Socket is an owned, non-blocking TCP stream. It is closed exactly once,
// by whichever operation owns it last.
type Socket struct {
	fd     int
	closed atomic.Bool
}

// Dial creates a non-blocking TCP socket, and starts connecting it to
// address, a literal "ip:port". A connection that is still in progress is
// not an error, see [Connect] for waiting on it.
func Dial(address string) (*Socket, error) {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, &ConnectError{Addr: address, Err: err}
	}

	domain, sa, err := sockaddr(ap)
	if err != nil {
		return nil, &ConnectError{Addr: address, Err: err}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, &ConnectError{Addr: address, Err: err}
	}

	// EINTR on a non-blocking connect leaves it in progress
	if err := unix.Connect(fd, sa); err != nil &&
		!errors.Is(err, unix.EINPROGRESS) &&
		!errors.Is(err, unix.EINTR) {
		_ = unix.Close(fd)
		return nil, &ConnectError{Addr: address, Err: err}
	}

	return &Socket{fd: fd}, nil
}

func sockaddr(ap netip.AddrPort) (int, unix.Sockaddr, error) {
	addr := ap.Addr()
	if !ap.IsValid() || ap.Port() == 0 {
		return 0, nil, errors.New("invalid address")
	}
	if addr.Is4() || addr.Is4In6() {
		return unix.AF_INET, &unix.SockaddrInet4{
			Port: int(ap.Port()),
			Addr: addr.Unmap().As4(),
		}, nil
	}
	sa := &unix.SockaddrInet6{
		Port: int(ap.Port()),
		Addr: addr.As16(),
	}
	if zone := addr.Zone(); zone != "" {
		ifi, err := net.InterfaceByName(zone)
		if err != nil {
			return 0, nil, err
		}
		sa.ZoneId = uint32(ifi.Index)
	}
	return unix.AF_INET6, sa, nil
}

// FD returns the underlying descriptor.
func (x *Socket) FD() int { return x.fd }

// Read reads into p, returning 0 with a nil error if the peer closed the
// connection, or ErrWouldBlock if no data is available.
func (x *Socket) Read(p []byte) (int, error) {
	if x.closed.Load() {
		return 0, &IOError{Op: "read", Err: net.ErrClosed}
	}
	for {
		n, err := unix.Read(x.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, &IOError{Op: "read", Err: err}
		}
	}
}

// Write writes as much of p as the socket accepts, returning ErrWouldBlock
// if it accepts nothing. Writing to a reset connection fails with EPIPE,
// rather than raising SIGPIPE.
func (x *Socket) Write(p []byte) (int, error) {
	if x.closed.Load() {
		return 0, &IOError{Op: "write", Err: net.ErrClosed}
	}
	for {
		n, err := unix.SendmsgN(x.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, ErrWouldBlock
		default:
			return 0, &IOError{Op: "write", Err: err}
		}
	}
}

// Err returns the pending socket error (SO_ERROR), clearing it.
func (x *Socket) Err() error {
	v, err := unix.GetsockoptInt(x.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// connected reports whether the socket has a peer, failing with any pending
// socket error.
func (x *Socket) connected() (bool, error) {
	if err := x.Err(); err != nil {
		return false, err
	}
	if _, err := unix.Getpeername(x.fd); err != nil {
		if errors.Is(err, unix.ENOTCONN) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close closes the descriptor. Only the first call has any effect.
func (x *Socket) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(x.fd)
}

// Closed reports whether Close has been called.
func (x *Socket) Closed() bool { return x.closed.Load() }

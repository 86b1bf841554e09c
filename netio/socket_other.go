//go:build !linux

package netio

// Socket is only implemented on Linux.
type Socket struct{}

// Dial returns a *ConnectError wrapping ErrUnsupported.
func Dial(address string) (*Socket, error) {
	return nil, &ConnectError{Addr: address, Err: ErrUnsupported}
}

func (x *Socket) FD() int { return -1 }

func (x *Socket) Read([]byte) (int, error) { return 0, &IOError{Op: "read", Err: ErrUnsupported} }

func (x *Socket) Write([]byte) (int, error) { return 0, &IOError{Op: "write", Err: ErrUnsupported} }

func (x *Socket) Err() error { return ErrUnsupported }

func (x *Socket) connected() (bool, error) { return false, ErrUnsupported }

func (x *Socket) Close() error { return nil }

func (x *Socket) Closed() bool { return true }

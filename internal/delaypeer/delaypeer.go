// Package delaypeer implements a TCP peer that, for each accepted
// connection, waits a fixed delay, writes a fixed payload, then closes the
// connection. It is the slow collaborator the runtime is exercised against.
package delaypeer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultDelay is the delay before the payload is written.
	DefaultDelay = 100 * time.Millisecond

	// maxRequestHeader bounds how much is read by WithReadRequest.
	maxRequestHeader = 64 << 10

	// drainTimeout bounds how long a connection is read after the payload.
	// Closing with unread bytes would reset the connection.
	drainTimeout = time.Second
)

// DefaultPayload is written if WithPayload is not used.
var DefaultPayload = []byte("hello")

type (
	// Peer is a listening delay peer, see Listen.
	Peer struct {
		ln       net.Listener
		logger   *logiface.Logger[logiface.Event]
		done     chan struct{}
		conns    map[net.Conn]struct{}
		payload  []byte
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted atomic.Uint64
		served   atomic.Uint64
		delay    time.Duration
		once     sync.Once
		request  bool
	}

	peerOptions struct {
		logger  *logiface.Logger[logiface.Event]
		payload []byte
		delay   time.Duration
		request bool
	}

	// Option configures a Peer.
	Option interface {
		applyPeer(*peerOptions) error
	}

	optionImpl struct {
		applyPeerFunc func(*peerOptions) error
	}
)

func (o *optionImpl) applyPeer(opts *peerOptions) error {
	return o.applyPeerFunc(opts)
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *peerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithDelay sets the delay between accepting a connection and writing the
// payload. Zero writes immediately.
func WithDelay(d time.Duration) Option {
	return &optionImpl{func(opts *peerOptions) error {
		if d < 0 {
			return errors.New("delaypeer: negative delay")
		}
		opts.delay = d
		return nil
	}}
}

// WithPayload sets the bytes written to each connection.
func WithPayload(payload []byte) Option {
	return &optionImpl{func(opts *peerOptions) error {
		opts.payload = payload
		return nil
	}}
}

// WithReadRequest makes the peer read a request header, terminated by an
// empty line (or EOF), before starting the delay.
func WithReadRequest(enabled bool) Option {
	return &optionImpl{func(opts *peerOptions) error {
		opts.request = enabled
		return nil
	}}
}

// HTTPResponse wraps body in a minimal HTTP/1.1 200 response, that closes
// the connection.
func HTTPResponse(body []byte) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

// Listen starts a Peer on address (e.g. "127.0.0.1:0"), serving connections
// in the background until Close.
func Listen(address string, opts ...Option) (*Peer, error) {
	cfg := &peerOptions{
		delay:   DefaultDelay,
		payload: DefaultPayload,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPeer(cfg); err != nil {
			return nil, err
		}
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("delaypeer: listen: %w", err)
	}

	p := &Peer{
		ln:      ln,
		logger:  cfg.logger,
		done:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
		payload: cfg.payload,
		delay:   cfg.delay,
		request: cfg.request,
	}

	p.logger.Info().
		Str(`address`, p.Addr()).
		Dur(`delay`, p.delay).
		Int(`payload`, len(p.payload)).
		Log(`delaypeer: listening`)

	p.wg.Add(1)
	go p.serve()

	return p, nil
}

// Addr returns the listening address, as "ip:port".
func (p *Peer) Addr() string { return p.ln.Addr().String() }

// Accepted returns the number of connections accepted so far.
func (p *Peer) Accepted() uint64 { return p.accepted.Load() }

// Served returns the number of connections the payload was fully written to.
func (p *Peer) Served() uint64 { return p.served.Load() }

// Close stops the listener, aborts connections in progress, and waits for
// all background goroutines to exit.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.ln.Close()
		p.mu.Lock()
		for conn := range p.conns {
			_ = conn.Close()
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
	return err
}

func (p *Peer) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.done:
			default:
				p.logger.Err().
					Err(err).
					Log(`delaypeer: accept failed`)
			}
			return
		}
		if !p.track(conn) {
			_ = conn.Close()
			return
		}
		p.accepted.Add(1)
		p.wg.Add(1)
		go p.handle(conn)
	}
}

func (p *Peer) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return false
	default:
	}
	p.conns[conn] = struct{}{}
	return true
}

func (p *Peer) handle(conn net.Conn) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
		_ = conn.Close()
	}()

	remote := conn.RemoteAddr().String()

	if p.request {
		n, err := readHeader(conn)
		if err != nil {
			p.logger.Debug().
				Str(`remote`, remote).
				Err(err).
				Log(`delaypeer: read request failed`)
			return
		}
		p.logger.Debug().
			Str(`remote`, remote).
			Int(`bytes`, n).
			Log(`delaypeer: request read`)
	}

	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		select {
		case <-p.done:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if _, err := conn.Write(p.payload); err != nil {
		p.logger.Debug().
			Str(`remote`, remote).
			Err(err).
			Log(`delaypeer: write failed`)
		return
	}
	p.served.Add(1)

	p.logger.Debug().
		Str(`remote`, remote).
		Int(`bytes`, len(p.payload)).
		Log(`delaypeer: served`)

	drain(conn)
}

// drain half-closes conn, then discards anything the client sent, until it
// closes its side or drainTimeout elapses.
func drain(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(drainTimeout))
	_, _ = io.Copy(io.Discard, conn)
}

// readHeader consumes lines up to and including the first empty line, or
// EOF, returning the number of bytes read.
func readHeader(conn net.Conn) (int, error) {
	r := bufio.NewReader(io.LimitReader(conn, maxRequestHeader))
	var n int
	for {
		line, err := r.ReadString('\n')
		n += len(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if n >= maxRequestHeader {
					return n, errors.New("delaypeer: request header too large")
				}
				return n, nil
			}
			return n, err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return n, nil
		}
	}
}

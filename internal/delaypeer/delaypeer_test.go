package delaypeer

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func newTestPeer(t *testing.T, opts ...Option) *Peer {
	t.Helper()
	p, err := Listen("127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPeer_delaysThenWritesAndCloses(t *testing.T) {
	var logs syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&logs), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()

	p := newTestPeer(t, WithLogger(logger), WithDelay(50*time.Millisecond))

	start := time.Now()
	conn, err := net.Dial("tcp", p.Addr())
	require.NoError(t, err)
	defer conn.Close()

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, p.Close())
	assert.Equal(t, uint64(1), p.Accepted())
	assert.Equal(t, uint64(1), p.Served())
	assert.Contains(t, logs.String(), `"msg":"delaypeer: listening"`)
	assert.Contains(t, logs.String(), `"msg":"delaypeer: served"`)
}

func TestPeer_unreadRequestDoesNotReset(t *testing.T) {
	p := newTestPeer(t, WithDelay(20*time.Millisecond))

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", p.Addr())
		require.NoError(t, err)

		_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"))
		require.NoError(t, err)

		b, err := io.ReadAll(conn)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(b))
		require.NoError(t, conn.Close())
	}

	require.Eventually(t, func() bool { return p.Served() == 5 }, time.Second, time.Millisecond)
}

func TestPeer_readRequest(t *testing.T) {
	body := []byte("hi there")
	p := newTestPeer(t,
		WithDelay(0),
		WithPayload(HTTPResponse(body)),
		WithReadRequest(true),
	)

	conn, err := net.Dial("tcp", p.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// nothing is written until the request header is complete
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	var one [1]byte
	_, err = conn.Read(one[:])
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())

	require.NoError(t, conn.SetReadDeadline(time.Time{}))
	_, err = conn.Write([]byte("\r\n"))
	require.NoError(t, err)

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, string(HTTPResponse(body)), string(b))
}

func TestPeer_closeAbortsPending(t *testing.T) {
	p, err := Listen("127.0.0.1:0", WithDelay(time.Hour))
	require.NoError(t, err)

	conn, err := net.Dial("tcp", p.Addr())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.Accepted() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), time.Second)

	b, _ := io.ReadAll(conn)
	assert.Empty(t, b)
	assert.Equal(t, uint64(0), p.Served())

	// idempotent
	assert.NoError(t, p.Close())
}

func TestHTTPResponse(t *testing.T) {
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\n"+
			"Content-Length: 5\r\n"+
			"Connection: close\r\n"+
			"\r\n"+
			"hello",
		string(HTTPResponse([]byte("hello"))),
	)
}

func TestListen_invalid(t *testing.T) {
	_, err := Listen("127.0.0.1:0", WithDelay(-1))
	assert.Error(t, err)

	_, err = Listen("not an address")
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-taskio/internal/delaypeer"
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

// startServe runs the serve command until cleanup, returning its address.
func startServe(t *testing.T, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var stdout, stderr syncBuffer
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, append([]string{`serve`, `-listen`, `127.0.0.1:0`}, args...), &stdout, &stderr)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case code := <-done:
			assert.Equal(t, 0, code, stderr.String())
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	})
	var address string
	require.Eventually(t, func() bool {
		address = strings.TrimSpace(stdout.String())
		return address != ``
	}, 5*time.Second, time.Millisecond)
	return address
}

func TestRun_requestAgainstServe(t *testing.T) {
	address := startServe(t, `-delay`, `100ms`)

	for _, policy := range []string{`park`, `sleep`, `poll`} {
		t.Run(policy, func(t *testing.T) {
			var stdout, stderr syncBuffer
			start := time.Now()
			code := run(context.Background(), []string{
				`run`,
				`-address`, address,
				`-executor`, policy,
				`-sleep`, `5ms`,
				`-log-level`, `info`,
			}, &stdout, &stderr)
			require.Equal(t, 0, code, stderr.String())
			assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
			assert.Equal(t, string(delaypeer.HTTPResponse([]byte(`hello`))), stdout.String())
			assert.Contains(t, stderr.String(), `"msg":"request done"`)
		})
	}
}

func TestRun_rawServe(t *testing.T) {
	address := startServe(t, `-delay`, `0s`, `-raw`, `-body`, `pong`)

	var stdout, stderr syncBuffer
	code := run(context.Background(), []string{`run`, `-address`, address, `-request`, ``}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, `pong`, stdout.String())
}

func TestRun_configFile(t *testing.T) {
	address := startServe(t, `-delay`, `0s`, `-raw`)

	path := filepath.Join(t.TempDir(), `taskio.yaml`)
	require.NoError(t, os.WriteFile(path, []byte("address: "+address+"\nexecutor: sleep\nsleep: 1ms\nlog_level: disabled\n"), 0o600))

	var stdout, stderr syncBuffer
	code := run(context.Background(), []string{`run`, `-config`, path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, `hello`, stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRun_connectRefused(t *testing.T) {
	var stdout, stderr syncBuffer
	code := run(context.Background(), []string{`run`, `-address`, `127.0.0.1:1`, `-log-level`, `disabled`}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), `taskio: netio: connect 127.0.0.1:1`)
}

func TestRun_usage(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		args []string
		code int
	}{
		{`no command`, nil, 2},
		{`unknown command`, []string{`nope`}, 2},
		{`help`, []string{`help`}, 0},
		{`subcommand help`, []string{`run`, `-h`}, 0},
		{`bad flag`, []string{`run`, `-bogus`}, 2},
		{`extra args`, []string{`serve`, `extra`}, 2},
		{`bad executor`, []string{`run`, `-executor`, `spin`}, 1},
		{`bad level`, []string{`serve`, `-log-level`, `loud`}, 1},
		{`missing config`, []string{`run`, `-config`, `/nonexistent/taskio.yaml`}, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr syncBuffer
			assert.Equal(t, tc.code, run(context.Background(), tc.args, &stdout, &stderr))
		})
	}
}

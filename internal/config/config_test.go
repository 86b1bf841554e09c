package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_valid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, ExecutorPark, c.Executor)
	assert.Equal(t, logiface.LevelInformational, c.Level())
	assert.Equal(t, 100*time.Millisecond, c.Serve.Delay)
}

func TestLoad_emptyPath(t *testing.T) {
	c, err := Load(``)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), `taskio.yaml`)
	require.NoError(t, os.WriteFile(path, []byte(`
address: 127.0.0.1:8080
executor: sleep
sleep: 5ms
poll_limit: 200
log_level: debug
serve:
  listen: "[::1]:9000"
  delay: 250ms
  body: hi
  raw: true
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Address = `127.0.0.1:8080`
	want.Executor = ExecutorSleep
	want.Sleep = 5 * time.Millisecond
	want.PollLimit = 200
	want.LogLevel = `debug`
	want.Serve = ServeConfig{
		Listen: `[::1]:9000`,
		Delay:  250 * time.Millisecond,
		Body:   `hi`,
		Raw:    true,
	}
	assert.Equal(t, want, c)
	assert.Equal(t, logiface.LevelDebug, c.Level())
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), `nope.yaml`))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecode_empty(t *testing.T) {
	c, err := Decode(strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestDecode_invalid(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		yaml string
	}{
		{`unknown field`, `bogus: 1`},
		{`bad address`, `address: localhost:80`},
		{`bad executor`, `executor: spin`},
		{`zero sleep`, `sleep: 0s`},
		{`negative poll limit`, `poll_limit: -1`},
		{`bad level`, `log_level: loud`},
		{`negative log rate`, `log_rate_limit: -5`},
		{`bad listen`, "serve:\n  listen: nope"},
		{`negative delay`, "serve:\n  delay: -1s"},
		{`bad duration`, `sleep: soon`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]logiface.Level{
		`disabled`: logiface.LevelDisabled,
		`emerg`:    logiface.LevelEmergency,
		`err`:      logiface.LevelError,
		`error`:    logiface.LevelError,
		`warn`:     logiface.LevelWarning,
		`warning`:  logiface.LevelWarning,
		`info`:     logiface.LevelInformational,
		`trace`:    logiface.LevelTrace,
	} {
		lvl, err := ParseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, lvl, s)
	}

	_, err := ParseLevel(`INFO`)
	assert.Error(t, err)
}

func TestValidate_nil(t *testing.T) {
	var c *Config
	assert.Error(t, c.Validate())
}

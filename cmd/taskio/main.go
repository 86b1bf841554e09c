// Command taskio issues a single request through the cooperative runtime, or
// serves a slow peer to issue it against.
//
// Usage:
//
//	taskio serve [-config file] [-listen addr] [-delay d] [-body s] [-raw]
//	taskio run [-config file] [-address addr] [-executor park|sleep|poll] ...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-taskio/executor"
	"github.com/joeycumines/go-taskio/internal/config"
	"github.com/joeycumines/go-taskio/internal/delaypeer"
	"github.com/joeycumines/go-taskio/netio"
	"github.com/joeycumines/go-taskio/reactor"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

const usage = `usage: taskio <command> [flags]

commands:
  run    connect, send the request, print the response
  serve  accept connections, wait, write the body, close
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = io.WriteString(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case `run`:
		err = runCommand(args[1:], stdout, stderr)
	case `serve`:
		err = serveCommand(ctx, args[1:], stdout, stderr)
	case `help`, `-h`, `-help`, `--help`:
		_, _ = io.WriteString(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "taskio: unknown command %q\n%s", args[0], usage)
		return 2
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "taskio: %v\n", err)
		return 1
	}
}

var errUsage = errors.New("usage")

// commonFlags are registered on every command.
type commonFlags struct {
	path     string
	logLevel string
}

func (x *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&x.path, `config`, ``, `YAML configuration file`)
	fs.StringVar(&x.logLevel, `log-level`, ``, `log level (emerg ... debug, trace)`)
}

// load reads the config file, then applies only the flags that were set.
func (x *commonFlags) load(fs *flag.FlagSet, apply func(c *config.Config, name string)) (*config.Config, error) {
	c, err := config.Load(x.path)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == `log-level` {
			c.LogLevel = x.logLevel
			return
		}
		apply(c, f.Name)
	})
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	if fs.NArg() != 0 {
		_, _ = fmt.Fprintf(fs.Output(), "unexpected arguments: %q\n", fs.Args())
		return errUsage
	}
	return nil
}

func newLogger(w io.Writer, c *config.Config) *logiface.Logger[logiface.Event] {
	opts := []logiface.Option[*stumpy.Event]{
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(c.Level()),
	}
	if c.LogRateLimit > 0 {
		opts = append(opts, stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second: c.LogRateLimit,
		}))
	}
	return stumpy.L.New(opts...).Logger()
}

func runCommand(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(`taskio run`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		common     commonFlags
		address    string
		request    string
		policy     string
		sleep      time.Duration
		pollLimit  int
		unverified bool
	)
	common.register(fs)
	fs.StringVar(&address, `address`, ``, `peer "ip:port"`)
	fs.StringVar(&request, `request`, ``, `request bytes, written in full before reading`)
	fs.StringVar(&policy, `executor`, ``, `executor policy: park, sleep, or poll`)
	fs.DurationVar(&sleep, `sleep`, 0, `retry interval of the sleep executor`)
	fs.IntVar(&pollLimit, `poll-limit`, 0, `maximum polls per second, zero disables`)
	fs.BoolVar(&unverified, `unverified-connect`, false, `do not wait for connect to complete`)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, err := common.load(fs, func(c *config.Config, name string) {
		switch name {
		case `address`:
			c.Address = address
		case `request`:
			c.Request = request
		case `executor`:
			c.Executor = policy
		case `sleep`:
			c.Sleep = sleep
		case `poll-limit`:
			c.PollLimit = pollLimit
		}
	})
	if err != nil {
		return err
	}

	logger := newLogger(stderr, c)

	r, err := reactor.New(reactor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer r.Close()

	var p executor.Policy
	switch c.Executor {
	case config.ExecutorPark:
		p = executor.ParkPolicy()
		done := make(chan error, 1)
		go func() { done <- r.Run() }()
		defer func() {
			_ = r.Close()
			if err := <-done; err != nil && !errors.Is(err, reactor.ErrClosed) {
				logger.Err().Err(err).Log(`reactor failed`)
			}
		}()
	case config.ExecutorSleep:
		p = executor.SleepPolicy(c.Sleep)
	case config.ExecutorPoll:
		p = executor.PollPolicy(r)
	}

	execOpts := []executor.Option{
		executor.WithPolicy(p),
		executor.WithLogger(logger),
	}
	if c.PollLimit > 0 {
		execOpts = append(execOpts, executor.WithPollLimit(map[time.Duration]int{time.Second: c.PollLimit}))
	}
	e, err := executor.New(execOpts...)
	if err != nil {
		return err
	}

	opOpts := []netio.Option{netio.WithLogger(logger)}
	if unverified {
		opOpts = append(opOpts, netio.WithUnverifiedConnect())
	}

	logger.Info().
		Str(`address`, c.Address).
		Str(`executor`, c.Executor).
		Log(`request starting`)

	start := time.Now()
	response, err := netio.RunRequest(e, r, c.Address, []byte(c.Request), opOpts...)
	if err != nil {
		return err
	}

	stats := e.Stats()
	logger.Info().
		Str(`address`, c.Address).
		Str(`executor`, c.Executor).
		Dur(`elapsed`, time.Since(start)).
		Uint64(`polls`, stats.Polls).
		Uint64(`waits`, stats.Waits).
		Int(`bytes`, len(response)).
		Log(`request done`)

	_, err = stdout.Write(response)
	return err
}

func serveCommand(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(`taskio serve`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		common commonFlags
		listen string
		delay  time.Duration
		body   string
		raw    bool
	)
	common.register(fs)
	fs.StringVar(&listen, `listen`, ``, `listen "ip:port"`)
	fs.DurationVar(&delay, `delay`, 0, `delay before writing the body`)
	fs.StringVar(&body, `body`, ``, `response body`)
	fs.BoolVar(&raw, `raw`, false, `write the body as-is, instead of an HTTP response`)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	c, err := common.load(fs, func(c *config.Config, name string) {
		switch name {
		case `listen`:
			c.Serve.Listen = listen
		case `delay`:
			c.Serve.Delay = delay
		case `body`:
			c.Serve.Body = body
		case `raw`:
			c.Serve.Raw = raw
		}
	})
	if err != nil {
		return err
	}

	logger := newLogger(stderr, c)

	payload := []byte(c.Serve.Body)
	if !c.Serve.Raw {
		payload = delaypeer.HTTPResponse(payload)
	}

	p, err := delaypeer.Listen(c.Serve.Listen,
		delaypeer.WithLogger(logger),
		delaypeer.WithDelay(c.Serve.Delay),
		delaypeer.WithPayload(payload),
		delaypeer.WithReadRequest(!c.Serve.Raw),
	)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(stdout, p.Addr())

	<-ctx.Done()

	err = p.Close()
	logger.Info().
		Uint64(`accepted`, p.Accepted()).
		Uint64(`served`, p.Served()).
		Log(`stopped`)
	return err
}

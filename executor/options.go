// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// executorOptions holds configuration options for Executor creation.
type executorOptions struct {
	policy  Policy
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

// Option configures an Executor instance.
type Option interface {
	applyExecutor(*executorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (o *optionImpl) applyExecutor(opts *executorOptions) error {
	return o.applyExecutorFunc(opts)
}

// WithPolicy sets how the executor waits between polls. Defaults to
// ParkPolicy.
func WithPolicy(policy Policy) Option {
	return &optionImpl{func(opts *executorOptions) error {
		if policy == nil {
			return errors.New("executor: nil policy")
		}
		opts.policy = policy
		return nil
	}}
}

// WithLogger sets the logger used for diagnostics. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollLimit bounds how many times a single run may poll its task, within
// sliding windows, e.g. {time.Second: 100}. A run that exceeds the limit
// fails with ErrBusyPoll, rather than continuing to spin. Rates follow the
// rules of [catrate.NewLimiter].
func WithPollLimit(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *executorOptions) (err error) {
		if len(rates) == 0 {
			opts.limiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("executor: invalid poll limit: %v", r)
			}
		}()
		opts.limiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// resolveOptions applies Option instances to executorOptions.
func resolveOptions(opts []Option) (*executorOptions, error) {
	cfg := &executorOptions{
		policy: ParkPolicy(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

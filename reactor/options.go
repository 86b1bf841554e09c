// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// reactorOptions holds configuration options for Reactor creation.
type reactorOptions struct {
	logger          *logiface.Logger[logiface.Event]
	eventBufferSize int
}

// Option configures a Reactor instance.
type Option interface {
	applyReactor(*reactorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyReactorFunc func(*reactorOptions) error
}

func (o *optionImpl) applyReactor(opts *reactorOptions) error {
	return o.applyReactorFunc(opts)
}

// WithLogger sets the logger used for diagnostics. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithEventBufferSize sets the maximum number of events returned by a single
// epoll_wait. Defaults to 16.
func WithEventBufferSize(n int) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		if n <= 0 {
			return errors.New("reactor: event buffer size must be positive")
		}
		opts.eventBufferSize = n
		return nil
	}}
}

// resolveOptions applies Option instances to reactorOptions.
func resolveOptions(opts []Option) (*reactorOptions, error) {
	cfg := &reactorOptions{
		eventBufferSize: 16,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

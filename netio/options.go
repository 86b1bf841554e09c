// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package netio

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// DefaultScratchSize is the size of the buffer Receive reads into.
const DefaultScratchSize = 1024

type opOptions struct {
	logger            *logiface.Logger[logiface.Event]
	scratchSize       int
	unverifiedConnect bool
}

// Option configures the operations in this package. Options that do not
// apply to an operation are ignored by it.
type Option interface {
	applyOp(*opOptions) error
}

type optionImpl struct {
	applyOpFunc func(*opOptions) error
}

func (o *optionImpl) applyOp(opts *opOptions) error {
	return o.applyOpFunc(opts)
}

// WithLogger sets the logger used by [Request]. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *opOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithScratchSize sets the size of the buffer used by each [Receive] read.
func WithScratchSize(n int) Option {
	return &optionImpl{func(opts *opOptions) error {
		if n <= 0 {
			return errors.New("netio: scratch size must be positive")
		}
		opts.scratchSize = n
		return nil
	}}
}

// WithUnverifiedConnect makes [Connect] complete as soon as the connect call
// has been issued, without waiting for the socket to become writable, or
// checking whether the connection succeeded. Any failure then surfaces from
// the first read or write.
func WithUnverifiedConnect() Option {
	return &optionImpl{func(opts *opOptions) error {
		opts.unverifiedConnect = true
		return nil
	}}
}

func resolveOptions(opts []Option) (*opOptions, error) {
	cfg := &opOptions{
		scratchSize: DefaultScratchSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOp(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

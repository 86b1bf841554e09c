//go:build !linux

package reactor

import (
	"time"

	"github.com/joeycumines/go-taskio/park"
)

// Reactor is only implemented on Linux (epoll).
type Reactor struct{}

// New returns ErrUnsupported.
func New(opts ...Option) (*Reactor, error) {
	if _, err := resolveOptions(opts); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func (r *Reactor) Register(Source, Interest, park.Waker) error { return ErrUnsupported }

func (r *Reactor) Registered() (int, Interest, bool) { return -1, 0, false }

func (r *Reactor) Run() error { return ErrUnsupported }

func (r *Reactor) Poll(time.Duration) (int, error) { return 0, ErrUnsupported }

func (r *Reactor) Close() error { return nil }

func (r *Reactor) Stats() Stats { return Stats{} }

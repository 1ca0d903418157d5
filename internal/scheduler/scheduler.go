// Package scheduler drives periodic refreshes. Ticks run concurrently and
// are applied last-write-wins by sequence number.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults used when the caller passes zero values.
const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 5 * time.Second
)

var errPanic = errors.New("tick panicked")

// Mode selects how much work a tick does.
type Mode int

const (
	// ModePresence re-checks presence only.
	ModePresence Mode = iota
	// ModeFull re-checks presence and, if online, refreshes data.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "presence"
}

// Target is the thing being polled.
type Target[R any] interface {
	// Online reports the presence as last applied.
	Online() bool
	// Poll performs one tick. It must always return an applicable result;
	// the error is only logged.
	Poll(ctx context.Context, mode Mode) (R, error)
	// Apply installs a result. Called with results in sequence order only.
	Apply(result R)
}

// Observer receives tick outcomes, typically for metrics.
type Observer interface {
	TickDone(mode Mode, err error)
	StaleDiscarded()
}

// Poller runs a Target on an interval.
type Poller[R any] struct {
	target   Target[R]
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	obs      Observer

	seq     atomic.Uint64
	trigger chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	applied uint64
	stopped bool
}

// Option configures a Poller.
type Option func(*options)

type options struct {
	logger *slog.Logger
	obs    Observer
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver attaches an Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}

// New creates a Poller. Zero interval or timeout select the defaults.
func New[R any](target Target[R], interval, timeout time.Duration, opts ...Option) *Poller[R] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Poller[R]{
		target:   target,
		interval: interval,
		timeout:  timeout,
		logger:   o.logger,
		obs:      o.obs,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an out-of-band full refresh. Never blocks; requests made
// while one is already pending are merged.
func (p *Poller[R]) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is done. A full tick runs immediately. After Run
// returns, ticks still in flight complete but their results are dropped.
func (p *Poller[R]) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.launch(ctx, ModeFull)
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.stopped = true
			p.mu.Unlock()
			return
		case <-ticker.C:
			if p.target.Online() {
				p.launch(ctx, ModeFull)
			} else {
				p.launch(ctx, ModePresence)
			}
		case <-p.trigger:
			p.launch(ctx, ModeFull)
		}
	}
}

// Wait blocks until all launched ticks have finished.
func (p *Poller[R]) Wait() {
	p.wg.Wait()
}

// launch starts a tick unless ctx is already done; select may pick a ready
// ticker over a ready ctx.Done.
func (p *Poller[R]) launch(ctx context.Context, mode Mode) {
	if ctx.Err() != nil {
		return
	}
	seq := p.seq.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("poll tick panicked", "seq", seq, "mode", mode.String(), "panic", r)
				if p.obs != nil {
					p.obs.TickDone(mode, errPanic)
				}
			}
		}()

		// In-flight I/O outlives Run's cancellation but not the timeout.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		res, err := p.target.Poll(tctx, mode)
		if err != nil {
			p.logger.Warn("poll tick failed", "seq", seq, "mode", mode.String(), "error", err)
		} else {
			p.logger.Debug("poll tick done", "seq", seq, "mode", mode.String())
		}
		if p.obs != nil {
			p.obs.TickDone(mode, err)
		}
		p.apply(seq, res)
	}()
}

func (p *Poller[R]) apply(seq uint64, res R) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if seq <= p.applied {
		p.logger.Debug("discarding stale tick", "seq", seq, "applied", p.applied)
		if p.obs != nil {
			p.obs.StaleDiscarded()
		}
		return false
	}
	p.applied = seq
	p.target.Apply(res)
	return true
}

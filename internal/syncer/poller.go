package syncer

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultVisibilityDebounce = 3 * time.Second
	DefaultCheckTimeout       = 10 * time.Second
)

// Checker is the part of the orchestrator the poller drives.
type Checker interface {
	Online() bool
	Writing() bool
	CheckRemote(ctx context.Context) (bool, error)
	LastSync() time.Time
}

type PollerOptions struct {
	Interval     time.Duration
	JitterRatio  float64
	Debounce     time.Duration
	CheckTimeout time.Duration
	Logger       Logger
	Now          func() time.Time
}

// Poller runs remote-change checks on a timer. Overlapping ticks are
// dropped, not deferred, and nothing runs while the app is in the
// background.
type Poller struct {
	checker      Checker
	interval     time.Duration
	jitterRatio  float64
	debounce     time.Duration
	checkTimeout time.Duration
	logger       Logger
	now          func() time.Time

	visible  atomic.Bool
	checking atomic.Bool
}

func NewPoller(checker Checker, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultVisibilityDebounce
	}
	checkTimeout := opts.CheckTimeout
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := &Poller{
		checker:      checker,
		interval:     interval,
		jitterRatio:  clampJitterRatio(opts.JitterRatio),
		debounce:     debounce,
		checkTimeout: checkTimeout,
		logger:       opts.Logger,
		now:          now,
	}
	p.visible.Store(true)
	return p
}

// Tick runs one check unless a gate is closed. It reports whether a check
// actually ran.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.visible.Load() || !p.checker.Online() || p.checker.Writing() {
		return false
	}
	if !p.checking.CompareAndSwap(false, true) {
		return false
	}
	defer p.checking.Store(false)

	ctx, cancel := context.WithTimeout(ctx, p.checkTimeout)
	defer cancel()
	changed, err := p.checker.CheckRemote(ctx)
	if err != nil {
		p.logf("remote check failed: %v", err)
		return true
	}
	if changed {
		p.logf("remote change adopted")
	}
	return true
}

// SetVisible records foreground state. Coming back to the foreground runs
// an immediate check when the last sync is older than the debounce window.
func (p *Poller) SetVisible(ctx context.Context, visible bool) bool {
	was := p.visible.Swap(visible)
	if !visible || was {
		return false
	}
	if last := p.checker.LastSync(); !last.IsZero() && p.now().Sub(last) <= p.debounce {
		return false
	}
	return p.Tick(ctx)
}

func (p *Poller) Visible() bool {
	return p.visible.Load()
}

// Trigger runs an out-of-band check, e.g. on a push notification.
func (p *Poller) Trigger(ctx context.Context) bool {
	return p.Tick(ctx)
}

// Run ticks until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(p.interval, p.jitterRatio, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			p.Tick(ctx)
			timer.Reset(jitteredIntervalWithSample(p.interval, p.jitterRatio, rng.Float64()))
		}
	}
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}

package syncer

import (
	"context"
	"time"
)

const DefaultConnectivityInterval = 15 * time.Second

// Connectivity is what the monitor probes and reports to.
type Connectivity interface {
	Probe(ctx context.Context) bool
	SetOnline(ctx context.Context, online bool)
}

// Monitor stands in for a platform online/offline signal: it probes the
// active backend on an interval and reports transitions.
type Monitor struct {
	target   Connectivity
	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(target Connectivity, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultConnectivityInterval
	}
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Monitor{target: target, interval: interval, timeout: timeout}
}

// Check probes once and forwards the result.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	online := m.target.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return online
	}
	m.target.SetOnline(ctx, online)
	return online
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

package worker

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Connectivity backoff bounds.
const (
	DefaultProbeDelay = 10 * time.Second
	MaxProbeDelay     = 10 * time.Minute
	probeGrowth       = 1.5
)

// Prober performs one liveness check.
type Prober interface {
	Probe(ctx context.Context) error
}

// ConnectivityMonitor estimates whether the server is reachable. A change of
// state resets the probe delay to its base; a repeated result stretches it by
// half up to MaxProbeDelay. The estimate is advisory.
type ConnectivityMonitor struct {
	prober Prober
	base   time.Duration

	mu        sync.Mutex
	online    bool
	delay     time.Duration
	backoff   retry.Backoff
	listeners []func(bool)
	wake      chan struct{}
}

// NewConnectivityMonitor returns a monitor that starts out online.
func NewConnectivityMonitor(p Prober, base time.Duration) *ConnectivityMonitor {
	if base <= 0 {
		base = DefaultProbeDelay
	}
	return &ConnectivityMonitor{
		prober:  p,
		base:    base,
		online:  true,
		delay:   base,
		backoff: newProbeBackoff(base),
		wake:    make(chan struct{}, 1),
	}
}

// newProbeBackoff yields base*1.5, base*2.25, ... capped at MaxProbeDelay.
func newProbeBackoff(base time.Duration) retry.Backoff {
	next := base
	grow := retry.BackoffFunc(func() (time.Duration, bool) {
		if next < MaxProbeDelay {
			next = time.Duration(float64(next) * probeGrowth)
		}
		return next, false
	})
	return retry.WithCappedDuration(MaxProbeDelay, grow)
}

// Online returns the current estimate.
func (m *ConnectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Delay returns the wait before the next probe.
func (m *ConnectivityMonitor) Delay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

// OnChange registers fn to run on every online/offline transition.
func (m *ConnectivityMonitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// MarkOffline records a failure observed outside the probe loop, such as a
// failed sync transmit, and reschedules probing at the base delay.
func (m *ConnectivityMonitor) MarkOffline() {
	m.report(false)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Check probes once and records the result.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	ok := m.prober.Probe(ctx) == nil
	m.report(ok)
	return ok
}

func (m *ConnectivityMonitor) report(ok bool) {
	m.mu.Lock()
	changed := ok != m.online
	if changed {
		m.online = ok
		m.delay = m.base
		m.backoff = newProbeBackoff(m.base)
	} else {
		m.delay, _ = m.backoff.Next()
	}
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("connectivity changed",
		"component", "worker",
		"worker", "connectivity-monitor",
		"online", ok,
	)
	for _, fn := range listeners {
		fn(ok)
	}
}

// Run probes on a self-rescheduling timer until ctx is cancelled.
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "connectivity-monitor",
		"action", "worker_started",
		"base_delay", m.base.String(),
	)

	timer := time.NewTimer(m.Delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "connectivity-monitor",
				"reason", "context_cancelled",
			)
			return
		case <-m.wake:
		case <-timer.C:
			m.Check(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.Delay())
	}
}

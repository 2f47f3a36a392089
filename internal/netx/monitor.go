// Package netx watches reachability of the remote endpoint and reports
// offline-to-online transitions.
package netx

import (
	"context"
	"sync"
	"time"

	"github.com/nexusfield/uploadq/internal/logging"
)

// Prober answers whether the remote endpoint is reachable right now. Any
// HTTP response counts as reachable; only transport failures do not.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor polls a Prober and invokes a callback on every transition from
// offline to online. The callback fires at most once per transition, so a
// long stretch of connectivity does not re-trigger it.
//
// The initial state is offline: the first successful probe after startup
// counts as a transition. That is what kicks the queue drain for items
// left over from the previous run.
type Monitor struct {
	prober   Prober
	interval time.Duration
	onOnline func()
	log      logging.Logger

	mu     sync.Mutex
	online bool
}

func NewMonitor(prober Prober, interval time.Duration, onOnline func(), log logging.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		onOnline: onOnline,
		log:      log,
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Run probes immediately and then on every interval tick until ctx is
// cancelled. Blocks; run it on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.probe(ctx)
		}
	}
}

// probeTimeout bounds a single reachability check; the prober's own client
// timeout is sized for uploads, not probes.
const probeTimeout = 3 * time.Second

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.prober.Ping(pctx)
	cancel()
	nowOnline := err == nil

	m.mu.Lock()
	wasOnline := m.online
	m.online = nowOnline
	m.mu.Unlock()

	if nowOnline && !wasOnline {
		m.log.Info(ctx, "connection restored")
		if m.onOnline != nil {
			m.onOnline()
		}
		return
	}
	if !nowOnline && wasOnline {
		m.log.Warn(ctx, "connection lost", "error", err)
	}
}

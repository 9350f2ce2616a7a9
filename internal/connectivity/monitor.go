// Package connectivity tracks whether the backing document store is
// reachable. The engines consult it before every write and refuse to
// attempt one while offline.
package connectivity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"vainalista-api/internal/reactive"
)

// Pinger is anything that can check reachability of the store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor holds the online state
type Monitor struct {
	state *reactive.Value[bool]
	log   *logrus.Entry
}

// NewMonitor creates a monitor starting in the given state
func NewMonitor(online bool, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Monitor{state: reactive.NewValue(online), log: log}
}

// Online reports the current state
func (m *Monitor) Online() bool {
	return m.state.Get()
}

// Set changes the state, logging transitions. Repeating the current state
// is a no-op.
func (m *Monitor) Set(online bool) {
	if m.state.Get() == online {
		return
	}
	if online {
		m.log.Info("Connection restored")
	} else {
		m.log.Warn("Connection lost - working offline")
	}
	m.state.Set(online)
}

// Watch streams the state, starting with the current one
func (m *Monitor) Watch() (<-chan bool, func()) {
	return m.state.Subscribe()
}

// Run pings p every interval until ctx is done and updates the state
func (m *Monitor) Run(ctx context.Context, p Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Probe(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx, p)
		}
	}
}

// Probe pings once and updates the state
func (m *Monitor) Probe(ctx context.Context, p Pinger) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := p.Ping(pingCtx)
	if err != nil && ctx.Err() == nil {
		m.log.WithError(err).Debug("Store ping failed")
	}
	if ctx.Err() != nil {
		return
	}
	m.Set(err == nil)
}

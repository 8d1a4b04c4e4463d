// Package connectivity tracks whether the remote service is reachable and
// notifies interested components on transitions.
package connectivity

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Probe reports whether the remote is reachable right now. A nil error means
// online.
type Probe func(ctx context.Context) error

// Monitor polls a probe on an interval and publishes online/offline
// transitions. Consecutive identical results are deduplicated; subscribers
// only hear about changes.
type Monitor struct {
	mu     sync.Mutex
	online bool

	probe    Probe
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	subs   map[int]chan bool
	nextID int

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a monitor. The monitor starts offline until the first
// successful probe or an explicit SetOnline. If logger is nil, a default
// logger writing to stderr is used.
func NewMonitor(probe Probe, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger,
		subs:     make(map[int]chan bool),
	}
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so startup state settles quickly.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.runProbe(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.runProbe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Monitor) runProbe(ctx context.Context) {
	if m.probe == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	m.SetOnline(m.probe(probeCtx) == nil)
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity observation. Transitions are published to
// subscribers; repeated identical observations are dropped. Components that
// learn about connectivity out of band (a failed remote write, a change-feed
// reconnect) report through here.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	if online {
		m.logger.Printf("remote reachable")
	} else {
		m.logger.Printf("remote unreachable")
	}
	for _, ch := range subs {
		// Drop the stale value if the subscriber has not drained yet; only
		// the latest state matters. The send does not block either, so a
		// concurrent publisher racing the same channel cannot stall us.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe returns a channel receiving each transition, and a cancel
// function. The channel holds at most the latest state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	ch := make(chan bool, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
	return ch, cancel
}

package sync

import stdsync "sync"

// Readiness aggregates busy flags from the moving parts of the sync machinery
// (per-collection initial pulls, pending drains). The aggregate is busy while
// any source is busy; UI layers watch the aggregate to show a single spinner.
// Routine passes after a collection's initial pull never flag it again.
type Readiness struct {
	mu    stdsync.Mutex
	flags map[string]bool

	subs   map[int]chan bool
	nextID int
}

// NewReadiness creates an idle aggregator.
func NewReadiness() *Readiness {
	return &Readiness{
		flags: make(map[string]bool),
		subs:  make(map[int]chan bool),
	}
}

// Set records a source's busy flag and publishes the aggregate when it
// changes.
func (r *Readiness) Set(source string, busy bool) {
	r.mu.Lock()
	before := r.busyLocked()
	if busy {
		r.flags[source] = true
	} else {
		delete(r.flags, source)
	}
	after := r.busyLocked()
	if before == after {
		r.mu.Unlock()
		return
	}
	subs := make([]chan bool, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		// Drop the stale value, then send without blocking; losing the race
		// to a concurrent publish just means the channel already holds a
		// fresher aggregate.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- after:
		default:
		}
	}
}

// Busy reports whether any source is busy.
func (r *Readiness) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyLocked()
}

func (r *Readiness) busyLocked() bool {
	return len(r.flags) > 0
}

// Subscribe returns a channel receiving aggregate transitions and a cancel
// function. The channel holds at most the latest aggregate.
func (r *Readiness) Subscribe() (<-chan bool, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	ch := make(chan bool, 1)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
	return ch, cancel
}

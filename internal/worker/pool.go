// Package worker implements the fixed-size callback pools that give each
// operation family its own isolated executor.
//
// A single caller goroutine drives the whole client, so a completion
// callback must never end up queued behind another callback that is itself
// waiting on the first one's operation family. Giving create/open, append,
// and fetch callbacks separate pools is the deadlock mitigation: a slow
// append callback can starve other append callbacks, but never a fetch
// completion or a stream-creation retry.
package worker

import "sync"

// Pool runs submitted callbacks on a fixed set of worker goroutines.
// Submission order is preserved per pool; callbacks on different pools are
// unordered relative to each other.
type Pool struct {
	name  string
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool with the given number of workers and a bounded
// task queue. workers and queueDepth below 1 are clamped to 1.
func NewPool(name string, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{
		name:  name,
		tasks: make(chan func(), queueDepth),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Submit enqueues fn, blocking while the queue is full.
// Reports whether the task was accepted; after Close it returns false and
// the task is dropped.
func (p *Pool) Submit(fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	// Enqueue under the lock so Close cannot close the channel between the
	// closed check and the send.
	p.tasks <- fn
	p.mu.Unlock()
	return true
}

// Name returns the pool's concern label, used in log fields.
func (p *Pool) Name() string { return p.name }

// Close stops accepting tasks, runs everything already queued, and waits
// for the workers to exit. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

package retry

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

// Scheduler fires scheduled re-attempts at or after their due time.
//
// Usage:
//
//	s := retry.NewScheduler(limiter)
//	s.Start(ctx)
//	defer s.Stop()
//
//	s.After(3*time.Second, func() { /* reissue the operation */ })
//
// Tasks run on the scheduler goroutine and must not block for long; retry
// loops hand their real work to a callback pool and only use the task to
// reissue the substrate call.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	h    minHeap
	byID map[string]*task // task id → task for O(1) Cancel lookup

	// limiter, when non-nil, caps the global rate at which due tasks fire.
	// A substrate outage turns every pending operation into a retry at the
	// same instant; the limiter spreads the reissue burst out.
	limiter *rate.Limiter

	// notify is a buffered channel of capacity 1. After() sends a signal
	// whenever a new task might be due earlier than the current timer
	// deadline, prompting the goroutine to re-evaluate its sleep.
	notify chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler. limiter may be nil for no rate cap.
// Call Start to begin firing tasks.
func NewScheduler(limiter *rate.Limiter) *Scheduler {
	h := make(minHeap, 0, 64)
	heap.Init(&h)
	return &Scheduler{
		h:       h,
		byID:    make(map[string]*task),
		limiter: limiter,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// After schedules fn to run once d has elapsed and returns the task id,
// usable with Cancel. A non-positive d fires on the next scheduler tick.
//
// After must not be called after Stop.
func (s *Scheduler) After(d time.Duration, fn func()) string {
	id := ulid.Make().String()

	t := &task{
		id:     id,
		fireAt: time.Now().Add(d).UnixMilli(),
		fn:     fn,
	}

	s.mu.Lock()
	heap.Push(&s.h, t)
	s.byID[id] = t
	s.mu.Unlock()

	// Signal the run loop to re-evaluate. Non-blocking: if a signal is
	// already pending the loop will wake soon anyway.
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return id
}

// Cancel drops a scheduled task so it never fires.
// It is a no-op if the task already fired or was cancelled.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return
	}
	t.cancelled = true
	s.h.remove(t.heapIdx)
	delete(s.byID, id)
}

// Len returns the number of currently pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Start launches the background firing goroutine. Tasks stop firing when
// ctx is cancelled or Stop is called. Start must be called exactly once.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop shuts down the firing goroutine and waits for it to exit.
// Pending tasks are silently abandoned; the owning client resolves their
// futures with its closed error.
func (s *Scheduler) Stop() {
	select {
	case <-s.done:
		// already stopped
	default:
		close(s.done)
	}
	s.wg.Wait()
}

// ─── firing goroutine ────────────────────────────────────────────────────────

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		s.mu.Lock()
		next := s.peek() // nil if heap is empty
		s.mu.Unlock()

		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.notify:
				// A task was scheduled; re-evaluate.
			}
			continue
		}

		delay := time.Until(time.UnixMilli(next.fireAt))
		if delay <= 0 {
			s.fireRoot(ctx)
			continue
		}

		// Sleep until the root is due, but stay responsive to newly added
		// tasks and shutdown.
		if t == nil {
			t = time.NewTimer(delay)
		} else {
			t.Reset(delay)
		}

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.done:
			t.Stop()
			return
		case <-s.notify:
			// A new task may be due sooner — re-evaluate from the top.
			t.Stop()
			// Drain the timer channel if it fired between Reset and Stop.
			select {
			case <-t.C:
			default:
			}
			t = nil
		case <-t.C:
			t = nil
			s.fireRoot(ctx)
		}
	}
}

// fireRoot pops the due root task and runs it, honouring the rate limiter.
func (s *Scheduler) fireRoot(ctx context.Context) {
	s.mu.Lock()
	t := s.pop()
	s.mu.Unlock()
	if t == nil {
		return
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return // shutting down
		}
	}
	select {
	case <-s.done:
		return
	default:
	}
	t.fn()
}

// peek returns the root task without removing it, skipping lazily
// cancelled entries. MUST be called with s.mu held.
func (s *Scheduler) peek() *task {
	for s.h.Len() > 0 {
		root := s.h[0]
		if root.cancelled {
			heap.Pop(&s.h)
			delete(s.byID, root.id)
			continue
		}
		return root
	}
	return nil
}

// pop removes and returns the root task, or nil if the heap is empty.
// MUST be called with s.mu held.
func (s *Scheduler) pop() *task {
	for s.h.Len() > 0 {
		t := heap.Pop(&s.h).(*task)
		delete(s.byID, t.id)
		if t.cancelled {
			continue
		}
		return t
	}
	return nil
}

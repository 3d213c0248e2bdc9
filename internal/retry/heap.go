// Package retry implements the Min-Heap timer behind every retry loop in
// the resilient client.
//
// Why a heap and not one goroutine per pending retry:
//   - peek at the soonest-due task  → O(1) regardless of backlog
//   - insert                        → O(log N)
//   - a substrate outage can leave thousands of retries pending; they must
//     not each pin a goroutine for their whole backoff window.
//
// The scheduler goroutine peeks at the heap root, sleeps until it is due,
// then pops and fires the task. A buffered notify channel lets After()
// interrupt the sleep whenever a newly added task is due sooner than the
// current root.
package retry

import "container/heap"

// task is one entry in the scheduler Min-Heap.
type task struct {
	id     string // ULID — uniquely identifies the scheduled attempt
	fireAt int64  // UTC milliseconds — sort key
	fn     func() // the re-attempt to run

	// heapIdx is the task's current position in the heap slice.
	// Maintained by minHeap.Swap so Cancel can heap.Remove in O(log N).
	heapIdx int

	// cancelled marks a task for lazy deletion: the run loop discards it
	// instead of firing.
	cancelled bool
}

// minHeap orders tasks by fireAt, soonest at index 0.
type minHeap []*task

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	return h[i].fireAt < h[j].fireAt
}

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *minHeap) Push(x any) {
	n := len(*h)
	t := x.(*task)
	t.heapIdx = n
	*h = append(*h, t)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil  // allow GC
	t.heapIdx = -1  // mark as not in heap
	*h = old[:n-1]
	return t
}

// remove removes the task at position idx and re-heapifies in O(log N).
func (h *minHeap) remove(idx int) *task {
	return heap.Remove(h, idx).(*task)
}

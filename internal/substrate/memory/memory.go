// Package memory is an in-memory elastic-stream substrate implementing
// api.Client.
//
// It backs the test suite and the soak harness: streams are append-only
// slices with monotonic offsets, and a fault-injection surface (Faults)
// makes the substrate fail or stall on demand so the resilient client's
// retry and slow-path behaviour can be driven deterministically.
//
// It is not a durability layer — everything lives in process memory.
package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/future"
)

var (
	// ErrInjected is the failure returned when an injected fault fires.
	ErrInjected = errors.New("memory: injected fault")

	// ErrStreamNotFound is returned by OpenStream for an unknown id.
	ErrStreamNotFound = errors.New("memory: stream not found")

	// ErrStreamDestroyed is returned by operations on a destroyed stream.
	ErrStreamDestroyed = errors.New("memory: stream destroyed")
)

// ─── Faults ──────────────────────────────────────────────────────────────────

// Faults is the injection surface. Each FailX(n) call arms the next n
// operations of that family to fail with ErrInjected; SetFetchDelay stalls
// every fetch by d before it resolves. All methods are safe for concurrent
// use.
type Faults struct {
	creates atomic.Int32
	opens   atomic.Int32
	appends atomic.Int32
	fetches atomic.Int32
	trims   atomic.Int32

	fetchDelay atomic.Int64 // nanoseconds
}

func (f *Faults) FailCreates(n int32) { f.creates.Store(n) }
func (f *Faults) FailOpens(n int32)   { f.opens.Store(n) }
func (f *Faults) FailAppends(n int32) { f.appends.Store(n) }
func (f *Faults) FailFetches(n int32) { f.fetches.Store(n) }
func (f *Faults) FailTrims(n int32)   { f.trims.Store(n) }

// SetFetchDelay stalls every subsequent fetch by d. Zero removes the stall.
func (f *Faults) SetFetchDelay(d time.Duration) { f.fetchDelay.Store(int64(d)) }

// take consumes one armed failure, reporting whether the operation should fail.
func take(c *atomic.Int32) bool {
	for {
		n := c.Load()
		if n <= 0 {
			return false
		}
		if c.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// ─── Client ──────────────────────────────────────────────────────────────────

// Client is the in-memory substrate entry point.
type Client struct {
	mu      sync.Mutex
	streams map[int64]*Stream
	nextID  int64

	faults Faults
	kv     *memKV
}

var _ api.Client = (*Client)(nil)
var _ api.StreamClient = (*Client)(nil)

// NewClient creates an empty substrate.
func NewClient() *Client {
	return &Client{
		streams: make(map[int64]*Stream),
		nextID:  1,
		kv:      newMemKV(),
	}
}

// Faults returns the injection surface.
func (c *Client) Faults() *Faults { return &c.faults }

func (c *Client) StreamClient() api.StreamClient { return c }
func (c *Client) KVClient() api.KVClient         { return c.kv }

// CreateAndOpenStream allocates a fresh stream id.
func (c *Client) CreateAndOpenStream(opts api.CreateStreamOptions) *future.Future[api.Stream] {
	if take(&c.faults.creates) {
		return future.Failed[api.Stream](fmt.Errorf("create stream: %w", ErrInjected))
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	s := &Stream{id: id, owner: c, epoch: opts.Epoch}
	c.streams[id] = s
	c.mu.Unlock()

	return future.Completed[api.Stream](s)
}

// OpenStream reopens an existing stream, fencing it to the new epoch.
func (c *Client) OpenStream(streamID int64, opts api.OpenStreamOptions) *future.Future[api.Stream] {
	if take(&c.faults.opens) {
		return future.Failed[api.Stream](fmt.Errorf("open stream %d: %w", streamID, ErrInjected))
	}

	c.mu.Lock()
	s, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return future.Failed[api.Stream](fmt.Errorf("open stream %d: %w", streamID, ErrStreamNotFound))
	}

	s.mu.Lock()
	s.closed = false
	s.epoch = opts.Epoch
	s.mu.Unlock()
	return future.Completed[api.Stream](s)
}

// StreamCount reports the number of live streams (harness observability).
func (c *Client) StreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// ─── Stream ──────────────────────────────────────────────────────────────────

type storedBatch struct {
	base  int64
	batch api.RecordBatch
}

// Stream is one in-memory append-only stream.
type Stream struct {
	id    int64
	owner *Client

	mu        sync.Mutex
	epoch     int64
	start     int64
	next      int64
	batches   []storedBatch
	closed    bool
	destroyed bool
}

var _ api.Stream = (*Stream)(nil)

func (s *Stream) ID() int64 { return s.id }

func (s *Stream) StartOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

func (s *Stream) NextOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Append assigns the batch a base offset and advances next by its record
// count (a batch always carries at least one record).
func (s *Stream) Append(batch api.RecordBatch) *future.Future[api.AppendResult] {
	if take(&s.owner.faults.appends) {
		return future.Failed[api.AppendResult](fmt.Errorf("append stream %d: %w", s.id, ErrInjected))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return future.Failed[api.AppendResult](ErrStreamDestroyed)
	}
	if s.closed {
		return future.Failed[api.AppendResult](fmt.Errorf("append stream %d: stream closed", s.id))
	}

	count := int64(batch.Count)
	if count < 1 {
		count = 1
	}
	base := s.next
	s.next += count
	s.batches = append(s.batches, storedBatch{base: base, batch: batch})
	return future.Completed(api.AppendResult{BaseOffset: base})
}

// Fetch returns the batches overlapping [startOffset, endOffset), honouring
// the injected delay and fault counters.
func (s *Stream) Fetch(startOffset, endOffset int64, maxBytesHint int) *future.Future[api.FetchResult] {
	delay := time.Duration(s.owner.faults.fetchDelay.Load())

	if take(&s.owner.faults.fetches) {
		f := future.New[api.FetchResult]()
		fail := func() { f.Fail(fmt.Errorf("fetch stream %d [%d,%d): %w", s.id, startOffset, endOffset, ErrInjected)) }
		if delay > 0 {
			time.AfterFunc(delay, fail)
		} else {
			fail()
		}
		return f
	}

	resolve := func(f *future.Future[api.FetchResult]) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.destroyed {
			f.Fail(ErrStreamDestroyed)
			return
		}
		var out api.FetchResult
		var bytes int
		for _, sb := range s.batches {
			count := int64(sb.batch.Count)
			if count < 1 {
				count = 1
			}
			if sb.base+count <= startOffset || sb.base >= endOffset {
				continue
			}
			out.Batches = append(out.Batches, sb.batch)
			bytes += len(sb.batch.Payload)
			if maxBytesHint > 0 && bytes >= maxBytesHint {
				break
			}
		}
		f.Complete(out)
	}

	f := future.New[api.FetchResult]()
	if delay > 0 {
		time.AfterFunc(delay, func() { resolve(f) })
	} else {
		resolve(f)
	}
	return f
}

// Trim advances the start offset and drops batches that fall entirely
// before it.
func (s *Stream) Trim(newStartOffset int64) *future.Future[api.Void] {
	if take(&s.owner.faults.trims) {
		return future.Failed[api.Void](fmt.Errorf("trim stream %d: %w", s.id, ErrInjected))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return future.Failed[api.Void](ErrStreamDestroyed)
	}
	if newStartOffset > s.start {
		s.start = newStartOffset
	}
	if s.start > s.next {
		s.next = s.start
	}
	kept := s.batches[:0]
	for _, sb := range s.batches {
		count := int64(sb.batch.Count)
		if count < 1 {
			count = 1
		}
		if sb.base+count > s.start {
			kept = append(kept, sb)
		}
	}
	s.batches = kept
	return future.Completed(api.Void{})
}

// Close releases the writer's claim. The stream stays readable via a later
// OpenStream.
func (s *Stream) Close() *future.Future[api.Void] {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return future.Completed(api.Void{})
}

// Destroy removes the stream from the substrate.
func (s *Stream) Destroy() *future.Future[api.Void] {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()

	s.owner.mu.Lock()
	delete(s.owner.streams, s.id)
	s.owner.mu.Unlock()
	return future.Completed(api.Void{})
}

// ─── in-memory KV ────────────────────────────────────────────────────────────

type memKV struct {
	mu   sync.RWMutex
	vals map[string][]byte
}

var _ api.KVClient = (*memKV)(nil)

func newMemKV() *memKV {
	return &memKV{vals: make(map[string][]byte)}
}

func (kv *memKV) PutKV(kvs []api.KeyValue) *future.Future[api.Void] {
	kv.mu.Lock()
	for _, e := range kvs {
		val := make([]byte, len(e.Value))
		copy(val, e.Value)
		kv.vals[e.Key] = val
	}
	kv.mu.Unlock()
	return future.Completed(api.Void{})
}

func (kv *memKV) GetKV(keys []string) *future.Future[[]api.KeyValue] {
	out := make([]api.KeyValue, len(keys))
	kv.mu.RLock()
	for i, key := range keys {
		out[i] = api.KeyValue{Key: key}
		if v, ok := kv.vals[key]; ok {
			val := make([]byte, len(v))
			copy(val, v)
			out[i].Value = val
		}
	}
	kv.mu.RUnlock()
	return future.Completed(out)
}

func (kv *memKV) DelKV(keys []string) *future.Future[api.Void] {
	kv.mu.Lock()
	for _, key := range keys {
		delete(kv.vals, key)
	}
	kv.mu.Unlock()
	return future.Completed(api.Void{})
}

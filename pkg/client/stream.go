package client

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/future"
)

// slowKey identifies a fetch range in the slow-range set. Keying per range
// means one chronically slow range never forces other ranges off the fast
// path.
type slowKey struct {
	start, end int64
}

// streamHandle wraps one physical stream with the two-tier fetch strategy
// and the closed-state bookkeeping. It owns no stream data — the substrate
// does — only the resilience state for this writer's session.
type streamHandle struct {
	c     *Client
	inner api.Stream

	// closed is visible immediately to in-flight slow-path retries so they
	// fail fast with api.ErrStreamClosed instead of retrying forever.
	closed atomic.Bool

	// slow marks ranges whose fast-path attempt missed the latency budget.
	// Membership bypasses the deadline race for identical ranges until the
	// range is successfully satisfied, at which point the key is evicted.
	slow sync.Map // slowKey → struct{}
}

var _ api.Stream = (*streamHandle)(nil)

func newStreamHandle(c *Client, inner api.Stream) *streamHandle {
	return &streamHandle{c: c, inner: inner}
}

func (h *streamHandle) ID() int64          { return h.inner.ID() }
func (h *streamHandle) StartOffset() int64 { return h.inner.StartOffset() }
func (h *streamHandle) NextOffset() int64  { return h.inner.NextOffset() }

// Append is a single attempt: the substrate's failure or success is
// surfaced verbatim. Retrying here could duplicate visible side effects
// upstream, so the caller owns append error handling.
func (h *streamHandle) Append(batch api.RecordBatch) *future.Future[api.AppendResult] {
	f := future.New[api.AppendResult]()
	h.inner.Append(batch).WhenComplete(h.c.appendCallbacks, func(v api.AppendResult, err error) {
		future.Suppress(h.c.log, func() {
			if err != nil {
				h.c.reg.RecordAppendError(h.ID())
				f.Fail(err)
				return
			}
			f.Complete(v)
		})
	})
	return f
}

// Fetch reads [startOffset, endOffset) with the two-tier strategy:
//
// Fast path (range not marked slow): the fetch races the latency budget.
// Completing in time clears any slow marking and returns the result;
// missing the budget marks the range slow and fails this call with
// api.ErrSlowFetch so the caller can react immediately. A handle closed
// during the race wins over the timeout signal.
//
// Slow path (range marked slow): the fetch is issued without a deadline
// and retried on the fetch-retry scheduler until it succeeds or the
// handle closes. Success evicts the slow marking.
func (h *streamHandle) Fetch(startOffset, endOffset int64, maxBytesHint int) *future.Future[api.FetchResult] {
	key := slowKey{start: startOffset, end: endOffset}
	f := future.New[api.FetchResult]()

	if _, marked := h.slow.Load(key); marked {
		untrack := h.c.track(func(err error) { f.Fail(err) })
		f.WhenComplete(nil, func(api.FetchResult, error) { untrack() })
		h.fetchSlow(startOffset, endOffset, maxBytesHint, key, f)
		return f
	}

	attempt := h.inner.Fetch(startOffset, endOffset, maxBytesHint)
	go func() {
		timer := time.NewTimer(h.c.cfg.SlowFetchTimeout)
		defer timer.Stop()

		select {
		case <-attempt.Done():
			attempt.WhenComplete(h.c.fetchCallbacks, func(v api.FetchResult, err error) {
				future.Suppress(h.c.log, func() {
					if err != nil {
						if h.closed.Load() {
							f.Fail(api.ErrStreamClosed)
							return
						}
						f.Fail(err)
						return
					}
					h.clearSlow(key)
					f.Complete(v)
				})
			})
		case <-timer.C:
			if h.closed.Load() {
				f.Fail(api.ErrStreamClosed)
				return
			}
			h.slow.Store(key, struct{}{})
			h.c.reg.RecordSlowFetch(h.ID())
			h.c.log.Info("fetch missed latency budget, range marked slow",
				zap.Int64("stream", h.ID()),
				zap.Int64("start", startOffset),
				zap.Int64("end", endOffset),
				zap.Duration("budget", h.c.cfg.SlowFetchTimeout),
			)
			// The in-flight attempt is abandoned; its eventual outcome is
			// dropped and the next call for this range takes the slow path.
			f.Fail(api.ErrSlowFetch)
		}
	}()
	return f
}

func (h *streamHandle) fetchSlow(startOffset, endOffset int64, maxBytesHint int, key slowKey, f *future.Future[api.FetchResult]) {
	if h.closed.Load() {
		f.Fail(api.ErrStreamClosed)
		return
	}
	h.inner.Fetch(startOffset, endOffset, maxBytesHint).WhenComplete(h.c.fetchCallbacks, func(v api.FetchResult, err error) {
		future.Suppress(h.c.log, func() {
			if err == nil {
				h.clearSlow(key)
				f.Complete(v)
				return
			}
			if h.closed.Load() {
				f.Fail(api.ErrStreamClosed)
				return
			}
			if h.c.closing() {
				f.Fail(api.ErrClientClosed)
				return
			}
			h.c.log.Error("fetch failed, retrying",
				zap.Int64("stream", h.ID()),
				zap.Int64("start", startOffset),
				zap.Int64("end", endOffset),
				zap.Error(err),
			)
			h.c.reg.RecordFetchRetry(h.ID())
			h.c.fetchRetry.After(h.c.cfg.RetryDelay, func() {
				h.fetchSlow(startOffset, endOffset, maxBytesHint, key, f)
			})
		})
	})
}

func (h *streamHandle) clearSlow(key slowKey) {
	if _, marked := h.slow.LoadAndDelete(key); marked {
		h.c.reg.RecordSlowCleared(h.ID())
	}
}

// Trim is a single attempt, surfaced verbatim.
func (h *streamHandle) Trim(newStartOffset int64) *future.Future[api.Void] {
	f := future.New[api.Void]()
	h.inner.Trim(newStartOffset).WhenComplete(h.c.appendCallbacks, func(v api.Void, err error) {
		future.Suppress(h.c.log, func() {
			if err != nil {
				h.c.reg.RecordTrimError(h.ID())
				f.Fail(err)
				return
			}
			f.Complete(v)
		})
	})
	return f
}

// Close marks the handle closed — visible immediately to in-flight fetch
// retries — then delegates to the substrate verbatim.
func (h *streamHandle) Close() *future.Future[api.Void] {
	h.closed.Store(true)
	f := future.New[api.Void]()
	h.inner.Close().WhenComplete(h.c.appendCallbacks, func(v api.Void, err error) {
		future.Suppress(h.c.log, func() {
			if err != nil {
				f.Fail(err)
				return
			}
			f.Complete(v)
		})
	})
	return f
}

// Destroy is an intentional stub: the substrate does not support stream
// destruction through this layer yet, so it always succeeds immediately.
func (h *streamHandle) Destroy() *future.Future[api.Void] {
	return future.Completed(api.Void{})
}

// Package client wraps a fallible elastic-stream substrate in a resilient
// facade the log-segment layer can treat as always-eventually-successful.
//
// The wrapper upgrades the substrate contract in three ways:
//
//   - CreateAndOpenStream / OpenStream never resolve with a substrate
//     failure: failed attempts are logged and rescheduled on a fixed
//     backoff until the substrate succeeds or the client is closed.
//   - Fetch bounds perceived latency: a first attempt races a short
//     deadline and, on a miss, fails once with api.ErrSlowFetch so the
//     caller can degrade gracefully while the range is retried internally
//     without a deadline until it succeeds.
//   - Append and Trim stay verbatim single attempts — masking their
//     failures could hide data-visibility problems the caller must handle.
//
// # Executor isolation
//
// A single caller goroutine drives all of this, so a completion callback
// must never wait behind another operation family's callback or the two
// deadlock. Each concern therefore owns a dedicated resource, constructed
// with the client and shut down by Close (never process-wide globals):
// a create/open retry scheduler, a create/open callback pool, an
// append/trim/close callback pool, a fetch callback pool, and a fetch
// retry scheduler.
package client

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/snehjoshi/estream/internal/metrics"
	"github.com/snehjoshi/estream/internal/retry"
	"github.com/snehjoshi/estream/internal/worker"
	"github.com/snehjoshi/estream/pkg/api"
)

// ─── Config ──────────────────────────────────────────────────────────────────

// Config tunes the resilient client. The zero value is usable: every field
// falls back to its default.
type Config struct {
	// RetryDelay is the fixed backoff between re-attempts of a failed
	// create/open or slow-path fetch.
	RetryDelay time.Duration

	// SlowFetchTimeout is the fast-path fetch latency budget. A fetch that
	// misses it fails once with api.ErrSlowFetch and its range is retried
	// internally without a deadline.
	SlowFetchTimeout time.Duration

	// StreamCallbackWorkers sizes the create/open completion pool. One
	// worker keeps completions serial, matching the single-threaded
	// substrate frontend this wrapper was designed against.
	StreamCallbackWorkers int
	// AppendCallbackWorkers sizes the append/trim/close completion pool.
	AppendCallbackWorkers int
	// FetchCallbackWorkers sizes the fetch completion pool.
	FetchCallbackWorkers int
	// CallbackQueueDepth bounds each pool's task queue.
	CallbackQueueDepth int

	// RetryRate caps the global rate at which due retries fire, spreading
	// the reissue burst after a substrate outage. Zero means no cap.
	RetryRate rate.Limit
	// RetryBurst is the limiter's burst size when RetryRate is set.
	RetryBurst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RetryDelay:            3 * time.Second,
		SlowFetchTimeout:      10 * time.Millisecond,
		StreamCallbackWorkers: 1,
		AppendCallbackWorkers: 4,
		FetchCallbackWorkers:  4,
		CallbackQueueDepth:    1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.SlowFetchTimeout <= 0 {
		c.SlowFetchTimeout = def.SlowFetchTimeout
	}
	if c.StreamCallbackWorkers < 1 {
		c.StreamCallbackWorkers = def.StreamCallbackWorkers
	}
	if c.AppendCallbackWorkers < 1 {
		c.AppendCallbackWorkers = def.AppendCallbackWorkers
	}
	if c.FetchCallbackWorkers < 1 {
		c.FetchCallbackWorkers = def.FetchCallbackWorkers
	}
	if c.CallbackQueueDepth < 1 {
		c.CallbackQueueDepth = def.CallbackQueueDepth
	}
	return c
}

// ─── Options ─────────────────────────────────────────────────────────────────

// Option is a functional option for the Client.
type Option func(*Client)

// WithLogger attaches a zap logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithConfig replaces the default Config.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg.withDefaults() }
}

// ─── Client ──────────────────────────────────────────────────────────────────

// Client is the resilient root client: a drop-in api.Client whose stream
// side retries forever and whose key-value side is passed through
// unmodified.
//
// All methods are safe for concurrent use.
type Client struct {
	inner api.Client
	cfg   Config
	log   *zap.Logger
	reg   metrics.Registry

	streams *streamClient
	kv      api.KVClient

	// ctx is the client lifetime; Close cancels it and every rescheduled
	// attempt checks it before reissuing.
	ctx    context.Context
	cancel context.CancelFunc

	streamRetry     *retry.Scheduler
	fetchRetry      *retry.Scheduler
	streamCallbacks *worker.Pool
	appendCallbacks *worker.Pool
	fetchCallbacks  *worker.Pool

	// pending maps a tracking id to the fail func of an unresolved future
	// whose retry loop this client owns; Close drains it with
	// api.ErrClientClosed so no caller is left waiting forever.
	pending    sync.Map // uint64 → func(error)
	pendingSeq atomic.Uint64

	closeOnce sync.Once
}

var _ api.Client = (*Client)(nil)

// New wraps inner in a resilient client and starts its worker resources.
// Call Close to release them.
func New(inner api.Client, opts ...Option) *Client {
	c := &Client{
		inner: inner,
		cfg:   DefaultConfig(),
		log:   zap.NewNop(),
		kv:    inner.KVClient(),
	}
	for _, o := range opts {
		o(c)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if c.cfg.RetryRate > 0 {
		burst := c.cfg.RetryBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(c.cfg.RetryRate, burst)
	}

	c.streamRetry = retry.NewScheduler(limiter)
	c.fetchRetry = retry.NewScheduler(limiter)
	c.streamRetry.Start(c.ctx)
	c.fetchRetry.Start(c.ctx)

	d := c.cfg.CallbackQueueDepth
	c.streamCallbacks = worker.NewPool("stream-callback", c.cfg.StreamCallbackWorkers, d)
	c.appendCallbacks = worker.NewPool("append-callback", c.cfg.AppendCallbackWorkers, d)
	c.fetchCallbacks = worker.NewPool("fetch-callback", c.cfg.FetchCallbackWorkers, d)

	c.streams = &streamClient{c: c, inner: inner.StreamClient()}
	return c
}

// StreamClient returns the retry-resilient stream client.
func (c *Client) StreamClient() api.StreamClient { return c.streams }

// KVClient returns the wrapped substrate's key-value client, unmodified.
func (c *Client) KVClient() api.KVClient { return c.kv }

// Metrics returns the client's counter registry.
func (c *Client) Metrics() *metrics.Registry { return &c.reg }

// MetricsHandler returns a Prometheus text endpoint for the client's
// counters.
func (c *Client) MetricsHandler() http.Handler { return c.reg.Handler() }

// Close stops the retry schedulers and callback pools and resolves every
// pending create/open or slow-path fetch with api.ErrClientClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.streamRetry.Stop()
		c.fetchRetry.Stop()

		c.pending.Range(func(k, v any) bool {
			v.(func(error))(api.ErrClientClosed)
			c.pending.Delete(k)
			return true
		})

		c.streamCallbacks.Close()
		c.appendCallbacks.Close()
		c.fetchCallbacks.Close()
	})
	return nil
}

// closing reports whether Close has begun.
func (c *Client) closing() bool {
	return c.ctx.Err() != nil
}

// track registers fail to be invoked with api.ErrClientClosed if the
// client closes while the operation is still pending. The returned func
// unregisters it; the operation's future resolving makes the registration
// a harmless no-op either way (futures resolve once).
func (c *Client) track(fail func(error)) (untrack func()) {
	id := c.pendingSeq.Add(1)
	c.pending.Store(id, fail)
	return func() { c.pending.Delete(id) }
}

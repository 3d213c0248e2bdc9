package api

import "errors"

// ─── Error sentinels ─────────────────────────────────────────────────────────

var (
	// ErrSlowFetch signals that a fast-path fetch missed its latency budget.
	// The range is now marked slow and the same logical read will be retried
	// internally without a deadline; the caller should take its degraded-path
	// strategy (serve from another replica, backfill later) instead of waiting.
	ErrSlowFetch = errors.New("estream: fetch exceeded latency budget, retrying on slow path")

	// ErrStreamClosed is the terminal error delivered to any in-flight or
	// newly issued operation once a stream handle has been closed.
	ErrStreamClosed = errors.New("estream: stream already closed")

	// ErrClientClosed resolves create/open futures whose retry loop was cut
	// short by closing the resilient client.
	ErrClientClosed = errors.New("estream: client closed")
)

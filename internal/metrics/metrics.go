// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for estream. It deliberately avoids the prometheus/client_golang
// package so embedding the client adds no further dependencies.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	CreateRetries / OpenRetries              →  key = "operation"
//	FetchRetries / SlowFetches / SlowCleared →  key = "streamID"
//	AppendErrors / TrimErrors                →  key = "streamID"
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all counters
// in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Value returns the current count for key (0 if never incremented).
func (lc *labelCounter) Value(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Total sums all label values.
func (lc *labelCounter) Total() int64 {
	var n int64
	lc.vals.Range(func(_, v any) bool {
		n += v.(*atomic.Int64).Load()
		return true
	})
	return n
}

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all estream client metrics. The zero value is ready to use;
// the resilient client owns one and increments it from its retry loops.
type Registry struct {
	// Stream bootstrap counters.  key = "create" | "open"
	CreateRetries labelCounter

	// Per-stream fetch path counters.  key = streamID (decimal)
	FetchRetries labelCounter
	SlowFetches  labelCounter // fast path missed its deadline; range marked slow
	SlowCleared  labelCounter // slow range satisfied; marking evicted

	// Per-stream single-attempt failure counters.  key = streamID (decimal)
	AppendErrors labelCounter
	TrimErrors   labelCounter
}

// ─── Recording helpers ────────────────────────────────────────────────────────

// StreamKey builds the label key used by the per-stream counters.
func StreamKey(streamID int64) string { return strconv.FormatInt(streamID, 10) }

// RecordCreateRetry counts one rescheduled create/open attempt.
// op is "create" or "open".
func (r *Registry) RecordCreateRetry(op string) { r.CreateRetries.Inc(op) }

// RecordFetchRetry counts one rescheduled slow-path fetch attempt.
func (r *Registry) RecordFetchRetry(streamID int64) { r.FetchRetries.Inc(StreamKey(streamID)) }

// RecordSlowFetch counts one fast-path deadline miss.
func (r *Registry) RecordSlowFetch(streamID int64) { r.SlowFetches.Inc(StreamKey(streamID)) }

// RecordSlowCleared counts one slow-range eviction after a successful fetch.
func (r *Registry) RecordSlowCleared(streamID int64) { r.SlowCleared.Inc(StreamKey(streamID)) }

// RecordAppendError counts one verbatim-surfaced append failure.
func (r *Registry) RecordAppendError(streamID int64) { r.AppendErrors.Inc(StreamKey(streamID)) }

// RecordTrimError counts one verbatim-surfaced trim failure.
func (r *Registry) RecordTrimError(streamID int64) { r.TrimErrors.Inc(StreamKey(streamID)) }

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder

		writeFamily(&b, "estream_stream_bootstrap_retries_total",
			"Total rescheduled create/open attempts", "counter",
			func(fn func(labels, val string)) {
				r.CreateRetries.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`operation=%q`, key), strconv.FormatInt(val, 10))
				})
			})

		writeFamily(&b, "estream_fetch_retries_total",
			"Total rescheduled slow-path fetch attempts", "counter",
			func(fn func(labels, val string)) {
				r.FetchRetries.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`stream=%q`, key), strconv.FormatInt(val, 10))
				})
			})

		writeFamily(&b, "estream_slow_fetches_total",
			"Total fast-path fetches that missed the latency budget", "counter",
			func(fn func(labels, val string)) {
				r.SlowFetches.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`stream=%q`, key), strconv.FormatInt(val, 10))
				})
			})

		writeFamily(&b, "estream_slow_ranges_cleared_total",
			"Total slow-range markings evicted after a successful fetch", "counter",
			func(fn func(labels, val string)) {
				r.SlowCleared.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`stream=%q`, key), strconv.FormatInt(val, 10))
				})
			})

		writeFamily(&b, "estream_append_errors_total",
			"Total append failures surfaced verbatim to callers", "counter",
			func(fn func(labels, val string)) {
				r.AppendErrors.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`stream=%q`, key), strconv.FormatInt(val, 10))
				})
			})

		writeFamily(&b, "estream_trim_errors_total",
			"Total trim failures surfaced verbatim to callers", "counter",
			func(fn func(labels, val string)) {
				r.TrimErrors.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`stream=%q`, key), strconv.FormatInt(val, 10))
				})
			})

		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

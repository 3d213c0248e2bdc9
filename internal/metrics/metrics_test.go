package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snehjoshi/estream/internal/metrics"
)

// ─── counters ────────────────────────────────────────────────────────────────

func TestRegistry_RetryCounters(t *testing.T) {
	var reg metrics.Registry

	reg.RecordCreateRetry("create")
	reg.RecordCreateRetry("create")
	reg.RecordCreateRetry("open")

	if got := reg.CreateRetries.Value("create"); got != 2 {
		t.Fatalf("create retries = %d, want 2", got)
	}
	if got := reg.CreateRetries.Value("open"); got != 1 {
		t.Fatalf("open retries = %d, want 1", got)
	}
	if got := reg.CreateRetries.Total(); got != 3 {
		t.Fatalf("total retries = %d, want 3", got)
	}
}

func TestRegistry_PerStreamCounters(t *testing.T) {
	var reg metrics.Registry

	reg.RecordSlowFetch(42)
	reg.RecordSlowFetch(42)
	reg.RecordSlowCleared(42)
	reg.RecordFetchRetry(42)
	reg.RecordAppendError(7)

	key := metrics.StreamKey(42)
	if got := reg.SlowFetches.Value(key); got != 2 {
		t.Fatalf("slow fetches = %d, want 2", got)
	}
	if got := reg.SlowCleared.Value(key); got != 1 {
		t.Fatalf("slow cleared = %d, want 1", got)
	}
	if got := reg.FetchRetries.Value(key); got != 1 {
		t.Fatalf("fetch retries = %d, want 1", got)
	}
	if got := reg.AppendErrors.Value(metrics.StreamKey(7)); got != 1 {
		t.Fatalf("append errors = %d, want 1", got)
	}
}

// ─── Prometheus output format ─────────────────────────────────────────────────

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestHandler_RendersFamilies(t *testing.T) {
	var reg metrics.Registry
	reg.RecordCreateRetry("create")
	reg.RecordSlowFetch(42)

	out := scrape(t, &reg)

	wantLines := []string{
		"# TYPE estream_stream_bootstrap_retries_total counter",
		`estream_stream_bootstrap_retries_total{operation="create"} 1`,
		"# TYPE estream_slow_fetches_total counter",
		`estream_slow_fetches_total{stream="42"} 1`,
	}
	for _, w := range wantLines {
		if !strings.Contains(out, w) {
			t.Errorf("scrape output missing %q\n---\n%s", w, out)
		}
	}
}

func TestHandler_SkipsEmptyFamilies(t *testing.T) {
	var reg metrics.Registry
	out := scrape(t, &reg)

	if strings.Contains(out, "# HELP") {
		t.Errorf("empty registry should render no families, got:\n%s", out)
	}
}

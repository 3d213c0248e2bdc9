package logstream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/estream/internal/substrate/memory"
	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/client"
	"github.com/snehjoshi/estream/pkg/logstream"
)

func newManager(t *testing.T, initial map[string]int64) (*logstream.Manager, *memory.Client) {
	t.Helper()
	substrate := memory.NewClient()
	cfg := client.DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.SlowFetchTimeout = 50 * time.Millisecond
	c := client.New(substrate, client.WithConfig(cfg))
	t.Cleanup(func() { _ = c.Close() })

	m := logstream.NewManager(c, 1, 1, initial, nil)
	return m, substrate
}

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitForID polls until the lazy stream binds a physical id.
func waitForID(t *testing.T, s *logstream.LazyStream) int64 {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if id := s.ID(); id != logstream.NoopStreamID {
			return id
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("stream never bound a physical id")
	return 0
}

// recorder is a test listener capturing every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []logstream.MetaEvent
}

func (r *recorder) OnEvent(_ int64, ev logstream.MetaEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []logstream.MetaEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logstream.MetaEvent(nil), r.events...)
}

// ─── lookup and lazy binding ─────────────────────────────────────────────────

func TestGetStream_UnseenNameIsUnbound(t *testing.T) {
	m, substrate := newManager(t, nil)

	s, err := m.GetStream("segment-0")
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if s.ID() != logstream.NoopStreamID {
		t.Errorf("unused stream id: want sentinel %d, got %d", logstream.NoopStreamID, s.ID())
	}
	if s.Name() != "segment-0" {
		t.Errorf("name: want segment-0, got %q", s.Name())
	}
	// Lookup alone must not create a physical stream.
	if n := substrate.StreamCount(); n != 0 {
		t.Errorf("physical streams after lookup: want 0, got %d", n)
	}
}

func TestGetStream_SameInstancePerName(t *testing.T) {
	m, _ := newManager(t, nil)

	a, _ := m.GetStream("segment-0")
	b, _ := m.GetStream("segment-0")
	if a != b {
		t.Fatal("repeated GetStream must return the same instance")
	}
}

func TestGetStream_ConcurrentCallersShareOneInstance(t *testing.T) {
	m, _ := newManager(t, nil)

	const n = 32
	results := make([]*logstream.LazyStream, n)
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			s, err := m.GetStream("shared")
			if err != nil {
				t.Errorf("GetStream: %v", err)
			}
			results[i] = s
		}(i)
	}
	start.Done()
	done.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestFirstUse_CreatesAndBindsOnce(t *testing.T) {
	m, substrate := newManager(t, nil)
	s, _ := m.GetStream("segment-0")

	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	id := s.ID()
	if id == logstream.NoopStreamID {
		t.Fatal("append must bind a physical id")
	}
	if n := substrate.StreamCount(); n != 1 {
		t.Errorf("physical streams: want 1, got %d", n)
	}

	// Further use never rebinds.
	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("y")}).Get(ctx(t)); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if s.ID() != id {
		t.Errorf("id changed after bind: %d → %d", id, s.ID())
	}
	if n := substrate.StreamCount(); n != 1 {
		t.Errorf("physical streams after reuse: want 1, got %d", n)
	}
}

func TestFirstUse_ConcurrentOpsShareOneCreate(t *testing.T) {
	m, substrate := newManager(t, nil)
	s, _ := m.GetStream("segment-0")

	const n = 16
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	start.Done()
	done.Wait()

	if got := substrate.StreamCount(); got != 1 {
		t.Fatalf("racing first appends: want 1 physical stream, got %d", got)
	}
	if s.NextOffset() != n {
		t.Errorf("next offset: want %d, got %d", n, s.NextOffset())
	}
}

func TestFirstUse_SurvivesTransientCreateFailures(t *testing.T) {
	m, substrate := newManager(t, nil)
	substrate.Faults().FailCreates(2)
	s, _ := m.GetStream("segment-0")

	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
		t.Fatalf("append across transient create faults: %v", err)
	}
	if s.ID() == logstream.NoopStreamID {
		t.Error("expected a bound id after retries succeeded")
	}
}

// ─── seeded reopen ───────────────────────────────────────────────────────────

func TestNewManager_ReopensSeededStreams(t *testing.T) {
	substrate := memory.NewClient()
	seeded, err := substrate.CreateAndOpenStream(api.CreateStreamOptions{}).Get(context.Background())
	if err != nil {
		t.Fatalf("seed stream: %v", err)
	}

	cfg := client.DefaultConfig()
	cfg.RetryDelay = 10 * time.Millisecond
	c := client.New(substrate, client.WithConfig(cfg))
	t.Cleanup(func() { _ = c.Close() })

	m := logstream.NewManager(c, 1, 2, map[string]int64{"segment-0": seeded.ID()}, nil)

	s, err := m.GetStream("segment-0")
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if got := waitForID(t, s); got != seeded.ID() {
		t.Errorf("seeded id: want %d, got %d", seeded.ID(), got)
	}
	if got := len(m.Streams()); got != 1 {
		t.Errorf("managed streams: want 1, got %d", got)
	}
}

// ─── listener fan-out ────────────────────────────────────────────────────────

func TestListener_ReceivesCreateEvent(t *testing.T) {
	m, _ := newManager(t, nil)
	rec := &recorder{}
	m.SetListener(rec)

	s, _ := m.GetStream("segment-0")
	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
		t.Fatalf("append: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("events: want 1, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != logstream.EventStreamCreated {
		t.Errorf("event type: want created, got %v", ev.Type)
	}
	if ev.Name != "segment-0" {
		t.Errorf("event name: want segment-0, got %q", ev.Name)
	}
	if ev.StreamID != s.ID() {
		t.Errorf("event stream id: want %d, got %d", s.ID(), ev.StreamID)
	}
}

func TestListener_SingleSlotReplace(t *testing.T) {
	m, _ := newManager(t, nil)
	first := &recorder{}
	second := &recorder{}

	m.SetListener(first)
	m.SetListener(second) // replaces, no fan-out to both

	s, _ := m.GetStream("segment-0")
	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
		t.Fatalf("append: %v", err)
	}

	if got := len(first.snapshot()); got != 0 {
		t.Errorf("replaced listener received %d events, want 0", got)
	}
	if got := len(second.snapshot()); got != 1 {
		t.Errorf("active listener received %d events, want 1", got)
	}
}

func TestListener_RemovedReceivesNothing(t *testing.T) {
	m, _ := newManager(t, nil)
	rec := &recorder{}
	m.SetListener(rec)
	m.SetListener(nil)

	s, _ := m.GetStream("segment-0")
	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := len(rec.snapshot()); got != 0 {
		t.Errorf("removed listener received %d events, want 0", got)
	}
}

// ─── close ───────────────────────────────────────────────────────────────────

func TestClose_RejectsFurtherLookups(t *testing.T) {
	m, _ := newManager(t, nil)

	if err := m.Close(ctx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.GetStream("late"); !errors.Is(err, logstream.ErrManagerClosed) {
		t.Fatalf("GetStream after Close: want ErrManagerClosed, got %v", err)
	}
	// Existing lookups of already-managed names also refuse.
	if err := m.Close(ctx(t)); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
}

func TestClose_ClosesManagedStreams(t *testing.T) {
	m, _ := newManager(t, nil)
	s, _ := m.GetStream("segment-0")
	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("x")}).Get(ctx(t)); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := m.Close(ctx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The physical stream is closed: the substrate rejects further appends.
	if _, err := s.Append(api.RecordBatch{Count: 1, Payload: []byte("y")}).Get(ctx(t)); err == nil {
		t.Fatal("append after manager close: want an error, got success")
	}
}

func TestClose_UnusedStreamNeedsNoPhysicalStream(t *testing.T) {
	m, substrate := newManager(t, nil)
	if _, err := m.GetStream("never-used"); err != nil {
		t.Fatalf("GetStream: %v", err)
	}

	if err := m.Close(ctx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := substrate.StreamCount(); n != 0 {
		t.Errorf("closing an unused stream must not create one, got %d", n)
	}
}

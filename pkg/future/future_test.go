package future_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/snehjoshi/estream/pkg/future"
)

func TestComplete_FirstWins(t *testing.T) {
	f := future.New[int]()

	if !f.Complete(7) {
		t.Fatal("first Complete should win")
	}
	if f.Complete(9) {
		t.Error("second Complete should lose")
	}
	if f.Fail(errors.New("late")) {
		t.Error("Fail after Complete should lose")
	}

	v, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 7 {
		t.Errorf("Get value: want 7, got %d", v)
	}
}

func TestFailed_ResolvesImmediately(t *testing.T) {
	want := errors.New("boom")
	f := future.Failed[string](want)

	if !f.IsDone() {
		t.Fatal("Failed future should be done")
	}
	_, err := f.Get(context.Background())
	if !errors.Is(err, want) {
		t.Errorf("Get err: want %v, got %v", want, err)
	}
}

func TestGet_ContextCancel(t *testing.T) {
	f := future.New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get: want DeadlineExceeded, got %v", err)
	}
	// The future itself must stay unresolved.
	if f.IsDone() {
		t.Error("future resolved by a cancelled waiter")
	}
}

func TestWhenComplete_RunsOnce(t *testing.T) {
	f := future.New[int]()
	got := make(chan int, 1)
	f.WhenComplete(nil, func(v int, err error) { got <- v })

	f.Complete(42)

	select {
	case v := <-got:
		if v != 42 {
			t.Errorf("callback value: want 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

// rejectingExecutor models a callback pool that has already been closed.
type rejectingExecutor struct{}

func (rejectingExecutor) Submit(func()) bool { return false }

func TestWhenComplete_RejectedExecutorRunsInline(t *testing.T) {
	f := future.New[int]()
	got := make(chan int, 1)
	f.WhenComplete(rejectingExecutor{}, func(v int, err error) { got <- v })

	f.Complete(11)

	select {
	case v := <-got:
		if v != 11 {
			t.Errorf("callback value: want 11, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("callback dropped by a closed executor")
	}
}

func TestPipe(t *testing.T) {
	src := future.New[string]()
	dst := future.New[string]()
	future.Pipe(src, dst)

	src.Complete("ok")

	v, err := dst.Get(context.Background())
	if err != nil || v != "ok" {
		t.Fatalf("dst: want (ok, nil), got (%q, %v)", v, err)
	}
}

func TestSuppress_ContainsPanic(t *testing.T) {
	// Must not panic the test goroutine.
	future.Suppress(zap.NewNop(), func() { panic("broken callback") })

	ran := false
	future.Suppress(nil, func() { ran = true })
	if !ran {
		t.Error("Suppress should run fn")
	}
}

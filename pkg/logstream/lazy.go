package logstream

import (
	"sync"

	"go.uber.org/zap"

	"github.com/snehjoshi/estream/pkg/api"
	"github.com/snehjoshi/estream/pkg/future"
)

// NoopStreamID is the sentinel id of a logical stream that has no backing
// physical stream yet.
const NoopStreamID int64 = -1

// LazyStream is a named logical stream whose physical stream is created on
// first use. Until then ID reports NoopStreamID and the offset accessors
// report zero. Once a physical id is bound it never changes for this name
// within the manager's lifetime.
type LazyStream struct {
	name string
	m    *Manager

	mu    sync.Mutex
	ready *future.Future[api.Stream] // non-nil once create/open has been issued
	inner api.Stream                 // non-nil once bound
}

var _ api.Stream = (*LazyStream)(nil)

// Name returns the logical stream name.
func (s *LazyStream) Name() string { return s.name }

// ID returns the bound physical stream id, or NoopStreamID before binding.
func (s *LazyStream) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		return NoopStreamID
	}
	return s.inner.ID()
}

func (s *LazyStream) StartOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		return 0
	}
	return s.inner.StartOffset()
}

func (s *LazyStream) NextOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner == nil {
		return 0
	}
	return s.inner.NextOffset()
}

// ensure returns the future for this stream's physical stream, issuing the
// create on first call. Issue-and-register is atomic per stream, so
// concurrent first uses share one create.
func (s *LazyStream) ensure() *future.Future[api.Stream] {
	s.mu.Lock()
	if s.ready != nil {
		f := s.ready
		s.mu.Unlock()
		return f
	}
	f := future.New[api.Stream]()
	s.ready = f
	s.mu.Unlock()

	opts := api.CreateStreamOptions{ReplicaCount: s.m.replicaCount, Epoch: s.m.epoch}
	s.m.client.StreamClient().CreateAndOpenStream(opts).WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			// Only client shutdown produces this; the create itself
			// retries until it succeeds.
			f.Fail(err)
			return
		}
		s.bind(st)
		s.m.log.Info("lazy stream bound",
			zap.String("name", s.name),
			zap.Int64("stream", st.ID()),
		)
		s.m.emit(MetaEvent{Type: EventStreamCreated, StreamID: st.ID(), Name: s.name, Epoch: s.m.epoch})
		f.Complete(st)
	})
	return f
}

// bind attaches the physical stream. The first bind wins; a duplicate is
// dropped so the id stays stable for the manager's lifetime.
func (s *LazyStream) bind(st api.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner != nil {
		return
	}
	s.inner = st
}

// Append lazily creates the physical stream on first use, then delegates.
func (s *LazyStream) Append(batch api.RecordBatch) *future.Future[api.AppendResult] {
	f := future.New[api.AppendResult]()
	s.ensure().WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			f.Fail(err)
			return
		}
		future.Pipe(st.Append(batch), f)
	})
	return f
}

// Fetch lazily creates the physical stream on first use, then delegates.
func (s *LazyStream) Fetch(startOffset, endOffset int64, maxBytesHint int) *future.Future[api.FetchResult] {
	f := future.New[api.FetchResult]()
	s.ensure().WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			f.Fail(err)
			return
		}
		future.Pipe(st.Fetch(startOffset, endOffset, maxBytesHint), f)
	})
	return f
}

// Trim lazily creates the physical stream on first use, then delegates.
func (s *LazyStream) Trim(newStartOffset int64) *future.Future[api.Void] {
	f := future.New[api.Void]()
	s.ensure().WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			f.Fail(err)
			return
		}
		future.Pipe(st.Trim(newStartOffset), f)
	})
	return f
}

// Close closes the physical stream if one was ever requested. Closing a
// stream that was never used succeeds immediately without creating one.
func (s *LazyStream) Close() *future.Future[api.Void] {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready == nil {
		return future.Completed(api.Void{})
	}

	f := future.New[api.Void]()
	ready.WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			f.Fail(err)
			return
		}
		future.Pipe(st.Close(), f)
	})
	return f
}

// Destroy destroys the physical stream if one was ever requested.
func (s *LazyStream) Destroy() *future.Future[api.Void] {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready == nil {
		return future.Completed(api.Void{})
	}

	f := future.New[api.Void]()
	ready.WhenComplete(nil, func(st api.Stream, err error) {
		if err != nil {
			f.Fail(err)
			return
		}
		future.Pipe(st.Destroy(), f)
	})
	return f
}
